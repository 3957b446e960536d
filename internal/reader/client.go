package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/SoYuCry/dex-funding-hub/config"
	"github.com/SoYuCry/dex-funding-hub/internal/model"
)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 32 << 20

// userAgentTransport sets a fixed User-Agent on every outgoing request.
type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent != "" && req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.agent)
	}
	if t.base != nil {
		return t.base.RoundTrip(req)
	}
	return http.DefaultTransport.RoundTrip(req)
}

// NewHTTPClient builds a pooled client with the configured timeout and
// User-Agent. One client is shared by all adapters.
func NewHTTPClient(cfg config.HTTPConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxConnsPerHost,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &http.Client{
		Transport: userAgentTransport{agent: cfg.UserAgent, base: transport},
		Timeout:   cfg.Timeout,
	}
}

// Client issues JSON requests against one venue and maps failures onto the
// typed adapter errors.
type Client struct {
	exchange model.ExchangeID
	baseURL  string
	http     *http.Client
	headers  http.Header
	cookies  []*http.Cookie
	limiter  *rate.Limiter
}

// Option customises a Client.
type Option func(*Client)

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

// WithCookies attaches cookies to every request.
func WithCookies(cookies []*http.Cookie) Option {
	return func(c *Client) { c.cookies = cookies }
}

// WithLimiter paces requests through l.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func NewClient(exchange model.ExchangeID, baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		exchange: exchange,
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		headers:  make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) HTTP() *http.Client { return c.http }

// Header returns the headers sent with every request.
func (c *Client) Header() http.Header { return c.headers.Clone() }

// Cookies returns the cookies sent with every request.
func (c *Client) Cookies() []*http.Cookie { return c.cookies }

// GetJSON issues GET baseURL+path?query and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &UpstreamError{Exchange: c.exchange, Op: "GET " + path, Err: err}
	}
	return c.do(req, "GET "+path, out)
}

// PostJSON sends body as JSON to baseURL+path and decodes the reply into out.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &UpstreamError{Exchange: c.exchange, Op: "POST " + path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "POST "+path, out)
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return &UpstreamError{Exchange: c.exchange, Op: op, Err: err}
		}
	}

	for k, vals := range c.headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Exchange: c.exchange, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &UpstreamError{Exchange: c.exchange, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			Exchange:   c.exchange,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Exchange: c.exchange, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(body))}
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return &UpstreamError{Exchange: c.exchange, Op: op, StatusCode: resp.StatusCode, Err: ErrBlocked}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{Exchange: c.exchange, Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty body"
	}
	return s
}

// ParseCookies turns a "k=v; k2=v2" header value into cookies. Malformed
// input yields no cookies.
func ParseCookies(raw string) []*http.Cookie {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return nil
	}
	return cookies
}

// NewLimiter returns a token bucket allowing rps requests per second with
// the given burst, or nil when rps is not positive.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
