package snowfl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL  = "https://snowfl.com"
	DefaultCacheKey = "snowfl:hash"
	DefaultCacheTTL = time.Hour
	DefaultTimeout  = 15 * time.Second
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0"

// Cache is the key/value store used to persist the token between clients.
// A read of an expired entry must report a miss.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Options configures a Client. The zero value talks to the public site
// without a cache, in compatibility mode.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client

	// Cache is optional. Without it the token is only memoized in memory.
	Cache    Cache
	CacheKey string
	CacheTTL time.Duration

	Nonce   NonceSource
	Now     func() time.Time
	Locator ScriptLocator

	// StrictToken makes Token fail with ErrTokenNotFound instead of
	// returning an empty token when discovery finds nothing.
	StrictToken bool

	Logger *zerolog.Logger
}

// Client talks to snowfl. It is safe for concurrent use.
type Client struct {
	base       string
	baseURL    *url.URL
	httpClient *http.Client
	cache      Cache
	cacheKey   string
	cacheTTL   time.Duration
	nonce      NonceSource
	now        func() time.Time
	locator    ScriptLocator
	strict     bool
	log        zerolog.Logger

	mu            sync.RWMutex
	token         string
	discover      singleflight.Group
	flightTimeout time.Duration
}

// New creates a client from opts, filling in defaults.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base URL must be http or https, got %q", base)
	}

	c := &Client{
		base:       base,
		baseURL:    parsed,
		httpClient: opts.HTTPClient,
		cache:      opts.Cache,
		cacheKey:   opts.CacheKey,
		cacheTTL:   opts.CacheTTL,
		nonce:      opts.Nonce,
		now:        opts.Now,
		locator:    opts.Locator,
		strict:     opts.StrictToken,
		log:        zerolog.Nop(),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	// Discovery makes two requests.
	c.flightTimeout = 2 * c.httpClient.Timeout
	if c.flightTimeout <= 0 {
		c.flightTimeout = 2 * DefaultTimeout
	}
	if c.cacheKey == "" {
		c.cacheKey = DefaultCacheKey
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultCacheTTL
	}
	if c.nonce == nil {
		c.nonce = RandomNonce
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.locator == nil {
		c.locator = GoqueryLocator{}
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("component", "snowfl").Logger()
	}
	return c, nil
}

// BaseURL returns the site root the client signs requests against.
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// signedURL joins path onto the site root and appends the cache-busting
// timestamp parameter.
func (c *Client) signedURL(path string) (string, error) {
	u, err := url.Parse(c.base + "/" + path)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("_", strconv.FormatInt(c.now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	signed, err := c.signedURL(path)
	if err != nil {
		return err
	}

	resp, err := c.get(ctx, signed)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("snowfl: decode response: %w", err)
	}
	return nil
}
