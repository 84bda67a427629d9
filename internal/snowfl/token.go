package snowfl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
)

var tokenPattern = regexp.MustCompile(`\b(\w{33,47})\b`)

// Token returns the request-signing token, discovering it if needed.
//
// Lookup order is memory, then cache, then discovery. Concurrent callers
// share a single discovery. When discovery finds nothing the result is an
// empty token and a nil error, unless the client is strict.
func (c *Client) Token(ctx context.Context) (string, error) {
	if tok := c.memoized(); tok != "" {
		return tok, nil
	}

	if tok, ok := c.cachedToken(ctx); ok {
		c.adopt(tok)
		return tok, nil
	}

	// The flight outlives any single caller: it runs detached from ctx and
	// is bounded by flightTimeout, while each caller stops waiting when its
	// own ctx ends.
	ch := c.discover.DoChan(c.cacheKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		// A previous flight may have finished between our checks and now.
		if tok := c.memoized(); tok != "" {
			return Found(tok), nil
		}

		res, err := c.DiscoverToken(fctx)
		if err != nil {
			return nil, err
		}
		if res.Found {
			c.adopt(res.Token)
			c.storeToken(fctx, res.Token)
		}
		return res, nil
	})

	var v any
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		if r.Shared {
			c.log.Debug().Msg("Joined in-flight token discovery")
		}
		v = r.Val
	}

	res := v.(TokenResult)
	if !res.Found {
		if c.strict {
			return "", ErrTokenNotFound
		}
		c.log.Warn().Msg("No token found, continuing with empty token")
		return "", nil
	}
	return res.Token, nil
}

// DiscoverToken runs the discovery sequence against the site without
// consulting or updating memory or the cache.
func (c *Client) DiscoverToken(ctx context.Context) (TokenResult, error) {
	resp, err := c.get(ctx, c.base)
	if err != nil {
		return NotFound(), err
	}
	src, ok, err := c.locator.ScriptSrc(resp.Body)
	resp.Body.Close()
	if err != nil {
		return NotFound(), fmt.Errorf("snowfl: parse front page: %w", err)
	}
	if !ok {
		c.log.Warn().Err(ErrScriptNotFound).Msg("Token discovery failed")
		return NotFound(), nil
	}

	ref, err := url.Parse(src)
	if err != nil {
		return NotFound(), fmt.Errorf("snowfl: bad script src %q: %w", src, err)
	}
	scriptURL := c.baseURL.ResolveReference(ref).String()

	resp, err = c.get(ctx, scriptURL)
	if err != nil {
		return NotFound(), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NotFound(), err
	}

	m := tokenPattern.FindSubmatch(body)
	if m == nil {
		c.log.Warn().Str("script", scriptURL).Msg("Script contains no token")
		return NotFound(), nil
	}

	c.log.Debug().Str("script", scriptURL).Msg("Discovered token")
	return Found(string(m[1])), nil
}

// Invalidate drops the memoized token and blanks the cached copy so the
// next call performs discovery.
func (c *Client) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if c.cache == nil {
		return nil
	}
	return c.cache.Set(ctx, c.cacheKey, `""`, c.cacheTTL)
}

func (c *Client) memoized() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) adopt(tok string) {
	if tok == "" {
		return
	}
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

// cachedToken reads the JSON-encoded token from the cache. Errors and
// blank entries count as misses.
func (c *Client) cachedToken(ctx context.Context) (string, bool) {
	if c.cache == nil {
		return "", false
	}

	raw, ok, err := c.cache.Get(ctx, c.cacheKey)
	if err != nil {
		c.log.Warn().Err(err).Str("key", c.cacheKey).Msg("Token cache read failed")
		return "", false
	}
	if !ok {
		return "", false
	}

	var tok string
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		c.log.Warn().Err(err).Str("key", c.cacheKey).Msg("Ignoring malformed cached token")
		return "", false
	}
	return tok, tok != ""
}

func (c *Client) storeToken(ctx context.Context, tok string) {
	if c.cache == nil {
		return
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey, string(raw), c.cacheTTL); err != nil {
		c.log.Warn().Err(err).Str("key", c.cacheKey).Msg("Token cache write failed")
	}
}
