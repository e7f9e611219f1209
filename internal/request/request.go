package request

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
)

// Client wraps http.Client with per-client pacing, retries on retryable
// status codes and optional request logging.
type Client struct {
	client          *http.Client
	headers         map[string]string
	rateLimiter     ratelimit.Limiter
	logger          zerolog.Logger
	maxRetries      int
	retryableStatus map[int]struct{}
	retryBackoff    time.Duration
}

type Option func(*Client)

func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = headers
	}
}

func WithRateLimiter(rl ratelimit.Limiter) Option {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

func WithRetryableStatus(statuses ...int) Option {
	return func(c *Client) {
		for _, s := range statuses {
			c.retryableStatus[s] = struct{}{}
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = timeout
	}
}

func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.client.Transport = transport
	}
}

// WithProxy routes requests through the given proxy URL. Invalid or empty
// values leave the default transport untouched.
func WithProxy(proxy string) Option {
	return func(c *Client) {
		if proxy == "" {
			return
		}
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return
		}
		c.client.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
}

func New(options ...Option) *Client {
	c := &Client{
		client:          &http.Client{Timeout: 30 * time.Second},
		retryableStatus: make(map[int]struct{}),
		retryBackoff:    500 * time.Millisecond,
		logger:          zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Do executes the request, honoring the client's rate limiter and retrying
// retryable status codes with capped exponential backoff plus jitter.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for k, v := range c.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}

	var resp *http.Response
	var err error
	backoff := c.retryBackoff

	for attempt := 0; ; attempt++ {
		if c.rateLimiter != nil {
			c.rateLimiter.Take()
		}
		resp, err = c.client.Do(req)
		if err != nil {
			if attempt >= c.maxRetries {
				return nil, err
			}
		} else {
			if _, retryable := c.retryableStatus[resp.StatusCode]; !retryable || attempt >= c.maxRetries {
				return resp, nil
			}
			if err := resp.Body.Close(); err != nil {
				c.logger.Debug().Err(err).Msg("closing response body before retry")
			}
		}

		// requests with a consumed one-shot body cannot be replayed
		if req.Body != nil && req.GetBody == nil {
			if err != nil {
				return nil, err
			}
			return resp, nil
		}
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return resp, bodyErr
			}
			req.Body = body
		}

		// jittered exponential backoff, capped at 10s
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2)+1))
		if sleep > 10*time.Second {
			sleep = 10 * time.Second
		}
		c.logger.Debug().
			Int("attempt", attempt+1).
			Dur("sleep", sleep).
			Str("url", req.URL.String()).
			Msg("retrying request")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
}

// MakeRequest executes the request and returns the response body. Non-2xx
// statuses are returned as errors carrying the status code.
func (c *Client) MakeRequest(req *http.Request) ([]byte, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("closing response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// StatusError is returned by MakeRequest for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// JSONResponse writes v as a JSON response with the given status code.
func JSONResponse(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// JoinURL joins a base URL with additional path segments. A query string
// on the last segment is carried over as the URL's RawQuery instead of
// being escaped into the path.
func JoinURL(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	segments := append([]string{u.Path}, paths...)
	if n := len(segments); n > 1 {
		if path, query, ok := strings.Cut(segments[n-1], "?"); ok {
			segments[n-1] = path
			u.RawQuery = query
		}
	}
	u.Path = strings.Join(segments, "/")
	u.Path = strings.ReplaceAll(u.Path, "//", "/")
	return u.String(), nil
}

// ParseRateLimit parses specs like "250/minute" or "5/second" into a
// rate limiter. Empty or invalid specs return an unlimited limiter.
func ParseRateLimit(spec string) ratelimit.Limiter {
	parts := strings.SplitN(strings.TrimSpace(spec), "/", 2)
	if len(parts) != 2 {
		return ratelimit.NewUnlimited()
	}
	n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || n <= 0 {
		return ratelimit.NewUnlimited()
	}
	var per time.Duration
	switch strings.ToLower(strings.TrimSpace(parts[1])) {
	case "second", "sec", "s":
		per = time.Second
	case "minute", "min", "m":
		per = time.Minute
	case "hour", "hr", "h":
		per = time.Hour
	default:
		return ratelimit.NewUnlimited()
	}
	return ratelimit.New(n, ratelimit.Per(per))
}

// Doer is the minimal request-execution interface shared by Client and
// raw http.Client values.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Doer = (*Client)(nil)

// NewRequest builds a request with a context; small convenience used by the
// provider and indexer clients.
func NewRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, url, body)
}
