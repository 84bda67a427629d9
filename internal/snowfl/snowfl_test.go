package snowfl

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/litescript/snowfl-tui/internal/cache"
)

const testToken = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLM"

const frontPage = `<!DOCTYPE html>
<html><head><title>snowfl</title>
<script src="/jquery.min.js"></script>
</head>
<body>
<div id="app"></div>
<script src="/s.js?v=2"></script>
<script src="/other.js?v=9"></script>
</body></html>`

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeSite mimics the handful of snowfl endpoints the client touches.
type fakeSite struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	page       string
	script     string
	rootHits   int
	scriptHits int
	apiPaths   []string
	apiQueries []url.Values
	rootDelay  time.Duration
	rootStatus int
	rootHit    chan struct{}
}

func newFakeSite(t *testing.T) *fakeSite {
	t.Helper()
	s := &fakeSite{
		t:      t,
		page:   frontPage,
		script: `!function(){var a=1;var k="` + testToken + `";window.x=function(b){return b+a}}();`,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeSite) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	switch r.URL.Path {
	case "/":
		s.rootHits++
		status, delay, page := s.rootStatus, s.rootDelay, s.page
		if s.rootHit != nil {
			select {
			case s.rootHit <- struct{}{}:
			default:
			}
		}
		s.mu.Unlock()
		time.Sleep(delay)
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		fmt.Fprint(w, page)
		return
	case "/s.js":
		s.scriptHits++
		script := s.script
		s.mu.Unlock()
		if r.URL.Query().Get("v") != "2" {
			s.t.Errorf("script requested without version: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, script)
		return
	}
	s.apiPaths = append(s.apiPaths, r.URL.EscapedPath())
	s.apiQueries = append(s.apiQueries, r.URL.Query())
	s.mu.Unlock()

	segs := strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/"), "/")
	switch {
	case len(segs) == 7:
		if segs[1] == "garbage" {
			fmt.Fprint(w, "<html>not json</html>")
			return
		}
		fmt.Fprint(w, `[
			{"age":"2 days","name":"Foo 1080p","size":"1.4 GB","seeder":120,"leecher":8,"type":"Movies","site":"siteA","url":"http://example.com/x","trusted":true,"nsfw":false},
			{"age":"1 year","name":"Foo 720p","size":"700 MB","seeder":3,"leecher":0,"type":"Movies","site":"siteB","url":"/t/99","trusted":false,"nsfw":false}
		]`)
	case len(segs) == 3:
		if segs[1] == "broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		raw, err := url.QueryUnescape(segs[2])
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"url":"magnet:?xt=urn:btih:%s&dn=%s"}`, segs[1], url.QueryEscape(string(decoded)))
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeSite) hits() (root, script int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rootHits, s.scriptHits
}

func (s *fakeSite) lastAPI() (string, url.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.apiPaths, "no API request recorded")
	n := len(s.apiPaths) - 1
	return s.apiPaths[n], s.apiQueries[n]
}

func (s *fakeSite) client(t *testing.T, mutate ...func(*Options)) *Client {
	t.Helper()
	opts := Options{
		BaseURL: s.srv.URL,
		Nonce:   NonceFunc(func() string { return "n0nce123" }),
		Now:     func() time.Time { return fixedNow },
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestTokenDiscovery(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)
}

func TestTokenMemoized(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tok, err := c.Token(ctx)
		require.NoError(t, err)
		require.Equal(t, testToken, tok)
	}

	root, script := site.hits()
	assert.Equal(t, 1, root)
	assert.Equal(t, 1, script)
}

func TestTokenCacheRoundTrip(t *testing.T) {
	site := newFakeSite(t)
	store := cache.NewMemory()
	ctx := context.Background()

	first := site.client(t, func(o *Options) { o.Cache = store })
	_, err := first.Token(ctx)
	require.NoError(t, err)

	raw, ok, err := store.Get(ctx, DefaultCacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `"`+testToken+`"`, raw)

	second := site.client(t, func(o *Options) { o.Cache = store })
	tok, err := second.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)

	root, _ := site.hits()
	assert.Equal(t, 1, root, "second client should reuse the cached token")
}

func TestTokenCacheExpired(t *testing.T) {
	site := newFakeSite(t)
	ctx := context.Background()

	now := fixedNow
	store := cache.NewMemoryWithClock(func() time.Time { return now })

	first := site.client(t, func(o *Options) { o.Cache = store })
	_, err := first.Token(ctx)
	require.NoError(t, err)

	now = now.Add(DefaultCacheTTL + time.Second)

	second := site.client(t, func(o *Options) { o.Cache = store })
	tok, err := second.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)

	root, script := site.hits()
	assert.Equal(t, 2, root)
	assert.Equal(t, 2, script)
}

func TestTokenCustomCacheKeyAndTTL(t *testing.T) {
	site := newFakeSite(t)
	ctx := context.Background()

	now := fixedNow
	store := cache.NewMemoryWithClock(func() time.Time { return now })
	c := site.client(t, func(o *Options) {
		o.Cache = store
		o.CacheKey = "test:isolated"
		o.CacheTTL = time.Minute
	})
	_, err := c.Token(ctx)
	require.NoError(t, err)

	_, ok, _ := store.Get(ctx, DefaultCacheKey)
	assert.False(t, ok)
	_, ok, _ = store.Get(ctx, "test:isolated")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = store.Get(ctx, "test:isolated")
	assert.False(t, ok)
}

func TestTokenNotFound(t *testing.T) {
	site := newFakeSite(t)
	site.script = `var short = 1; function f(a, b) { return a + b }`
	store := cache.NewMemory()
	c := site.client(t, func(o *Options) { o.Cache = store })
	ctx := context.Background()

	tok, err := c.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, tok)

	assert.Equal(t, 0, store.Len(), "a missing token must not be cached")

	// An empty token is not memoized, so the next call tries again.
	_, err = c.Token(ctx)
	require.NoError(t, err)
	root, _ := site.hits()
	assert.Equal(t, 2, root)
}

func TestTokenNotFoundStrict(t *testing.T) {
	site := newFakeSite(t)
	site.script = `var nothing_to_see = true;`
	c := site.client(t, func(o *Options) { o.StrictToken = true })

	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenNoScriptElement(t *testing.T) {
	site := newFakeSite(t)
	site.page = `<html><body><script src="/app.js"></script></body></html>`
	c := site.client(t)

	res, err := c.DiscoverToken(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Found)

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)

	_, script := site.hits()
	assert.Equal(t, 0, script)
}

func TestTokenRejectsOverlongRun(t *testing.T) {
	site := newFakeSite(t)
	site.script = `var a="` + strings.Repeat("x", 60) + `";`
	c := site.client(t)

	res, err := c.DiscoverToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NotFound(), res)
}

func TestTokenRootStatusError(t *testing.T) {
	site := newFakeSite(t)
	site.rootStatus = http.StatusServiceUnavailable
	c := site.client(t)

	_, err := c.Token(context.Background())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestTokenNetworkError(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)
	site.srv.Close()

	_, err := c.Token(context.Background())
	var urlErr *url.Error
	assert.ErrorAs(t, err, &urlErr)
}

func TestTokenConcurrentSingleDiscovery(t *testing.T) {
	site := newFakeSite(t)
	site.rootDelay = 50 * time.Millisecond
	c := site.client(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Token(context.Background())
			if err == nil && tok != testToken {
				err = fmt.Errorf("unexpected token %q", tok)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	root, script := site.hits()
	assert.Equal(t, 1, root)
	assert.Equal(t, 1, script)
}

func TestTokenDiscoverySurvivesCancelledCaller(t *testing.T) {
	site := newFakeSite(t)
	site.rootDelay = 200 * time.Millisecond
	site.rootHit = make(chan struct{}, 1)
	c := site.client(t)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Token(first)
		firstErr <- err
	}()

	select {
	case <-site.rootHit:
	case <-time.After(5 * time.Second):
		t.Fatal("discovery never reached the site")
	}

	second := make(chan error, 1)
	var secondTok string
	go func() {
		tok, err := c.Token(context.Background())
		secondTok = tok
		second <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	require.NoError(t, <-second)
	assert.Equal(t, testToken, secondTok)

	// The detached flight still memoized the token.
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testToken, tok)
	root, _ := site.hits()
	assert.Equal(t, 1, root)
}

func TestTokenCallerDeadline(t *testing.T) {
	site := newFakeSite(t)
	site.rootDelay = 200 * time.Millisecond
	c := site.client(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Token(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvalidate(t *testing.T) {
	site := newFakeSite(t)
	store := cache.NewMemory()
	c := site.client(t, func(o *Options) { o.Cache = store })
	ctx := context.Background()

	_, err := c.Token(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx))

	_, err = c.Token(ctx)
	require.NoError(t, err)
	root, _ := site.hits()
	assert.Equal(t, 2, root)
}

func TestSearchURL(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	items, err := c.Search(context.Background(), "foo", SortSeed, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)

	path, query := site.lastAPI()
	assert.Equal(t, "/"+testToken+"/foo/n0nce123/2/SEED/NONE/1", path)
	assert.Equal(t, fmt.Sprint(fixedNow.UnixMilli()), query.Get("_"))

	assert.Equal(t, Item{
		Age: "2 days", Name: "Foo 1080p", Size: "1.4 GB", Seeders: 120, Leechers: 8,
		Type: "Movies", Site: "siteA", URL: "http://example.com/x", Trusted: true,
	}, items[0])
	assert.Empty(t, items[0].Magnet)
}

func TestSearchDefaultsAndEscaping(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	_, err := c.Search(context.Background(), "big buck bunny", "", 0)
	require.NoError(t, err)

	path, _ := site.lastAPI()
	assert.Equal(t, "/"+testToken+"/big%20buck%20bunny/n0nce123/0/SEED/NONE/1", path)
}

func TestSearchParseError(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	_, err := c.Search(context.Background(), "garbage", SortSize, 0)
	assert.ErrorContains(t, err, "decode response")
}

func TestResolveMagnetURL(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	item := Item{Name: "x", Site: "siteA", URL: "http://example.com/x"}
	magnet, err := c.ResolveMagnet(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, "magnet:?xt=urn:btih:siteA&dn=http%3A%2F%2Fexample.com%2Fx", magnet)

	encoded := url.QueryEscape(base64.StdEncoding.EncodeToString([]byte("http://example.com/x")))
	path, query := site.lastAPI()
	assert.Equal(t, "/"+testToken+"/siteA/"+encoded, path)
	assert.True(t, query.Has("_"))
	assert.Empty(t, item.Magnet, "ResolveMagnet must not mutate the item")
}

func TestResolveMagnetEscapesBase64(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	// Encodes to L3Q/YT0+Pj4mYj0/Pz8= which carries '+', '/' and '='.
	target := "/t?a=>>>&b=???"
	magnet, err := c.ResolveMagnet(context.Background(), Item{Site: "siteA", URL: target})
	require.NoError(t, err)
	assert.Equal(t, "magnet:?xt=urn:btih:siteA&dn="+url.QueryEscape(target), magnet)

	path, _ := site.lastAPI()
	assert.Equal(t, "/"+testToken+"/siteA/L3Q%2FYT0%2BPj4mYj0%2FPz8%3D", path)
}

func TestResolveMagnetStatusError(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	_, err := c.ResolveMagnet(context.Background(), Item{Site: "broken", URL: "/x"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestResolveAll(t *testing.T) {
	site := newFakeSite(t)
	c := site.client(t)

	items := []Item{
		{Name: "a", Site: "siteA", URL: "/a"},
		{Name: "b", Site: "broken", URL: "/b"},
		{Name: "c", Site: "siteC", URL: "/c", Magnet: "magnet:?xt=urn:btih:known"},
	}
	out, err := c.ResolveAll(context.Background(), items, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"b"`)

	require.Len(t, out, 3)
	assert.True(t, strings.HasPrefix(out[0].Magnet, "magnet:?xt=urn:btih:siteA"))
	assert.Empty(t, out[1].Magnet)
	assert.Equal(t, "magnet:?xt=urn:btih:known", out[2].Magnet)
	assert.Empty(t, items[0].Magnet, "input slice must be left untouched")
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(Options{BaseURL: "ftp://snowfl.com"})
	assert.Error(t, err)

	c, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
}

func TestParseSortFilter(t *testing.T) {
	tests := []struct {
		in   string
		want SortFilter
		err  bool
	}{
		{"", SortSeed, false},
		{"seed", SortSeed, false},
		{" size_asc ", SortSizeAsc, false},
		{"DATE", SortDate, false},
		{"popularity", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSortFilter(tt.in)
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	assert.Equal(t, SortSize, SortSeed.Next())
	assert.Equal(t, SortSeed, SortNone.Next())
}

func TestRandomNonce(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		n := RandomNonce.Nonce()
		require.Len(t, n, NonceLength)
		for _, r := range n {
			require.True(t, (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'), "unexpected rune %q in %q", r, n)
		}
		seen[n] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestItemHealth(t *testing.T) {
	assert.Equal(t, 0, Item{}.Health())
	assert.Equal(t, 100, Item{Seeders: 5}.Health())
	assert.Equal(t, 75, Item{Seeders: 3, Leechers: 1}.Health())
}

func TestItemHealthRoundsDown(t *testing.T) {
	assert.Equal(t, 29, Item{Seeders: 29, Leechers: 71}.Health())
	assert.Equal(t, 33, Item{Seeders: 1, Leechers: 2}.Health())
}
