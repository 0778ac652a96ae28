// Package rest is the REST boundary of the client.
//
// Every call goes through Execute, which waits on the route bucket and the
// global limiter, keeps the buckets in sync with the rate limit headers of
// each response and retries rate limited and failed requests. Lookups of a
// single entity report "not found" as an absent result, not an error.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasgate/internal/metrics"
	"github.com/luciancaetano/kephasgate/internal/ratelimit"
	"github.com/luciancaetano/kephasgate/internal/retry"
)

const (
	DefaultBaseURL    = "https://discord.com/api/v10"
	DefaultGlobalRate = 50 // requests per second
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second

	userAgent = "DiscordBot (https://github.com/luciancaetano/kephasgate, 1)"
)

var ErrInvalidConfig = errors.New("invalid rest config")

// HTTPError is a non-2xx response that was not retried.
type HTTPError struct {
	Status  int
	Code    int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s (code %d)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// RateLimitedError is returned once a request stays rate limited after all
// retries.
type RateLimitedError struct {
	RetryAfter time.Duration
	Global     bool
	Bucket     string
}

func (e *RateLimitedError) Error() string {
	scope := e.Bucket
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("rate limited on %s, retry after %s", scope, e.RetryAfter)
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

// Config configures a Client.
type Config struct {
	Token      string
	BaseURL    string       // defaults to DefaultBaseURL
	HTTPClient *http.Client // defaults to a client with DefaultTimeout

	// Limiter holds the route buckets. A new one is created when nil.
	Limiter *ratelimit.Limiter
	// Global caps requests across routes. Defaults to DefaultGlobalRate per second.
	Global *rate.Limiter

	// MaxRetries bounds retries of 429 and 5xx responses. Zero means
	// DefaultMaxRetries.
	MaxRetries int
	// Retry is the backoff between 5xx retries.
	Retry retry.Config

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client sends REST requests.
type Client struct {
	token      string
	baseURL    string
	http       *http.Client
	limiter    *ratelimit.Limiter
	global     *rate.Limiter
	maxRetries int
	retry      retry.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics

	mu          sync.Mutex
	globalUntil time.Time
}

// NewClient creates a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidConfig)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: negative max retries", ErrInvalidConfig)
	}

	c := &Client{
		token:      cfg.Token,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       cfg.HTTPClient,
		limiter:    cfg.Limiter,
		global:     cfg.Global,
		maxRetries: cfg.MaxRetries,
		retry:      cfg.Retry,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if c.maxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.limiter == nil {
		l, err := ratelimit.New(ratelimit.WithWaitObserver(c.metrics.Wait))
		if err != nil {
			return nil, err
		}
		c.limiter = l
	}
	if c.global == nil {
		c.global = rate.NewLimiter(rate.Limit(DefaultGlobalRate), DefaultGlobalRate)
	}
	if c.retry == (retry.Config{}) {
		c.retry = retry.DefaultConfig()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "rest")
	return c, nil
}

// Limiter returns the route buckets.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// Request is one REST call. Path is relative to the base url with every id
// filled in.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Reason string // audit log reason
}

// Response is a 2xx response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Execute sends req, waiting on its rate limit buckets first.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", req.Method, req.Path, err)
		}
		body = data
	}

	key := ratelimit.RouteKey(req.Method, req.Path)
	logger := c.logger.With("route", key)

	cfg := c.retry
	cfg.MaxAttempts = 0
	backoff, err := retry.NewBackoff(cfg)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if err := c.wait(ctx, key); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, req, body)
		if err != nil {
			if ctx.Err() != nil || attempt >= c.maxRetries {
				return nil, err
			}
			logger.Warn("Request failed, retrying", "attempt", attempt+1, "error", err)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			continue
		}

		c.metrics.Request(key, resp.Status)
		c.limiter.Update(key, limitsFrom(resp.Header))

		switch {
		case resp.Status >= 200 && resp.Status < 300:
			return resp, nil

		case resp.Status == http.StatusTooManyRequests:
			limited := rateLimited(key, resp)
			if attempt >= c.maxRetries {
				return nil, limited
			}
			until := time.Now().Add(limited.RetryAfter)
			if limited.Global {
				c.lockGlobal(until)
			} else {
				c.limiter.Lock(key, until)
			}
			logger.Warn("Rate limited",
				"retry_after", limited.RetryAfter,
				"global", limited.Global,
				"attempt", attempt+1)

		case resp.Status >= 500:
			if attempt >= c.maxRetries {
				return nil, httpError(resp)
			}
			logger.Warn("Server error, retrying", "status", resp.Status, "attempt", attempt+1)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}

		default:
			return nil, httpError(resp)
		}
	}
}

func (c *Client) sleep(ctx context.Context, b *retry.Backoff) error {
	d, _ := b.Next()
	return retry.Sleep(ctx, d)
}

// wait blocks on a global lockout, the route bucket and the global limiter.
func (c *Client) wait(ctx context.Context, key string) error {
	c.mu.Lock()
	until := c.globalUntil
	c.mu.Unlock()

	if d := time.Until(until); d > 0 {
		c.metrics.Wait(ratelimit.GlobalKey)
		if err := retry.Sleep(ctx, d); err != nil {
			return err
		}
	}
	if err := c.limiter.Acquire(ctx, key); err != nil {
		return err
	}
	return c.global.Wait(ctx)
}

func (c *Client) lockGlobal(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.globalUntil) {
		c.globalUntil = until
	}
}

func (c *Client) send(ctx context.Context, req Request, body []byte) (*Response, error) {
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	httpReq.Header.Set("Authorization", "Bot "+c.token)
	httpReq.Header.Set("User-Agent", userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Reason != "" {
		httpReq.Header.Set("X-Audit-Log-Reason", url.PathEscape(req.Reason))
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", req.Method, req.Path, err)
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// limitsFrom reads the X-RateLimit headers. Missing headers leave the
// corresponding field unknown.
func limitsFrom(h http.Header) ratelimit.Limits {
	l := ratelimit.Limits{Remaining: -1}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Limit")); err == nil {
		l.Limit = v
	}
	if v, err := strconv.Atoi(h.Get("X-RateLimit-Remaining")); err == nil {
		l.Remaining = v
	}
	if v, err := strconv.ParseFloat(h.Get("X-RateLimit-Reset-After"), 64); err == nil {
		l.ResetAfter = seconds(v)
	}
	return l
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func rateLimited(key string, resp *Response) *RateLimitedError {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
		Global     bool    `json:"global"`
	}
	_ = json.Unmarshal(resp.Body, &payload)

	e := &RateLimitedError{
		RetryAfter: seconds(payload.RetryAfter),
		Global:     payload.Global || resp.Header.Get("X-RateLimit-Global") == "true",
		Bucket:     key,
	}
	if e.RetryAfter <= 0 {
		if v, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil {
			e.RetryAfter = seconds(v)
		}
	}
	return e
}

func httpError(resp *Response) *HTTPError {
	e := &HTTPError{Status: resp.Status}
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body, &payload) == nil {
		e.Code = payload.Code
		e.Message = payload.Message
	}
	return e
}
