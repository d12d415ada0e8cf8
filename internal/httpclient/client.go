// Package httpclient provides the shared HTTP client used for the Prusa Link
// status probe and the Prusa Connect camera API, with per-request timeouts,
// a tuned connection pool and observability hooks.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests if not specified.
	DefaultTimeout = 30 * time.Second

	// A handful of enclosures on a LAN and one upstream host
	defaultMaxIdleConns        = 16
	defaultMaxIdleConnsPerHost = 4
	defaultIdleConnTimeout     = 90 * time.Second

	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 5 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "enclosure-cam"
)

// Client wraps http.Client with context-bound timeouts and hooks.
// Thread-safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string

	// wrap decorates the transport per request; nil means none
	wrap func(http.RoundTripper) http.RoundTripper

	hooks *hooks
}

type hooks struct {
	mu            sync.RWMutex
	beforeRequest func(*http.Request)
	afterResponse func(*http.Request, *http.Response, error)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is the timeout applied if request context has no deadline
	DefaultTimeout time.Duration

	// UserAgent is added to all requests
	UserAgent string

	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns a Config with defaults suited to a small edge host.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        DefaultTimeout,
		UserAgent:             defaultUserAgent,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
	}
}

// New creates a new HTTP client with the given configuration.
// Accepts nil cfg (falls back to DefaultConfig) and does not mutate the caller's config.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
		if cfg.MaxIdleConns > 0 {
			c.MaxIdleConns = cfg.MaxIdleConns
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if cfg.IdleConnTimeout > 0 {
			c.IdleConnTimeout = cfg.IdleConnTimeout
		}
		if cfg.TLSHandshakeTimeout > 0 {
			c.TLSHandshakeTimeout = cfg.TLSHandshakeTimeout
		}
		if cfg.ResponseHeaderTimeout > 0 {
			c.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
		}
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultDialKeepAlive,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   c.TLSHandshakeTimeout,
		ResponseHeaderTimeout: c.ResponseHeaderTimeout,
	}

	return &Client{
		// No client-level timeout; deadlines come from the request context
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
		hooks:          &hooks{},
	}
}

// StandardClient exposes the underlying *http.Client, e.g. for httpmock.
func (c *Client) StandardClient() *http.Client {
	return c.client
}

// WithTransport returns a client sharing c's pool and hooks whose requests go
// through wrap(base transport). The base transport is resolved per request so
// later replacements of the shared transport are honoured.
func (c *Client) WithTransport(wrap func(http.RoundTripper) http.RoundTripper) *Client {
	derived := *c
	prev := c.wrap
	derived.wrap = func(rt http.RoundTripper) http.RoundTripper {
		if prev != nil {
			rt = prev(rt)
		}
		return wrap(rt)
	}
	return &derived
}

// Do executes an HTTP request, applying the default timeout when ctx has no
// deadline. The response body must be closed by the caller if err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		// cancel once the body is closed, not when Do returns
		req = req.WithContext(ctx)
		resp, err := c.do(req)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return c.do(req.WithContext(ctx))
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.hooks.mu.RLock()
	before, after := c.hooks.beforeRequest, c.hooks.afterResponse
	c.hooks.mu.RUnlock()

	if before != nil {
		before(req)
	}

	hc := c.client
	if c.wrap != nil {
		base := c.client.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc = &http.Client{
			Transport:     c.wrap(base),
			CheckRedirect: c.client.CheckRedirect,
			Jar:           c.client.Jar,
		}
	}

	resp, err := hc.Do(req)

	if after != nil {
		after(req, resp, err)
	}

	return resp, err
}

// Get performs a GET request with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.Do(ctx, req)
}

// Put performs a PUT request with the given headers and raw body.
func (c *Client) Put(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create PUT request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return c.Do(ctx, req)
}

// SetBeforeRequestHook sets a function to be called before each request.
func (c *Client) SetBeforeRequestHook(fn func(*http.Request)) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.beforeRequest = fn
}

// SetAfterResponseHook sets a function to be called after each request.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error)) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.afterResponse = fn
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// cancelOnClose releases the request context when the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
