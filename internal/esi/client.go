package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"eve-arbitrage/internal/config"
)

const (
	defaultBaseURL   = "https://esi.evetech.net/latest"
	defaultUserAgent = "eve-arbitrage/1.0 (github.com)"
	maxBodyBytes     = 32 << 20
)

// RequestObserver is notified after every HTTP attempt. status is 0 when the
// request never got a response.
type RequestObserver interface {
	ObserveRequest(endpoint string, status int, elapsed time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL             string
	UserAgent           string
	MaxConnections      int
	RequestTimeout      time.Duration
	RetryAttempts       int
	RetryInitialBackoff time.Duration
	RateLimitPerSecond  float64
	RateLimitBurst      int
	HTTPClient          *http.Client
	Observer            RequestObserver
}

// OptionsFromConfig maps engine configuration onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:             cfg.ESIBaseURL,
		UserAgent:           cfg.UserAgent,
		MaxConnections:      cfg.MaxConnections,
		RequestTimeout:      cfg.RequestTimeout,
		RetryAttempts:       cfg.RetryAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	}
}

// Client is a rate-limited ESI HTTP client.
type Client struct {
	http      *http.Client
	baseURL   string
	userAgent string
	sem       chan struct{}
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[*page]
	timeout   time.Duration
	attempts  int
	backoff   time.Duration
	observer  RequestObserver
}

// page is one successful response body plus the X-Pages count.
type page struct {
	body  []byte
	pages int
}

// NewClient creates an ESI client. Zero option values fall back to defaults.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryInitialBackoff <= 0 {
		opts.RetryInitialBackoff = 500 * time.Millisecond
	}
	if opts.RateLimitPerSecond <= 0 {
		opts.RateLimitPerSecond = 100
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 20
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	c := &Client{
		http:      hc,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		sem:       make(chan struct{}, opts.MaxConnections),
		limiter:   rate.NewLimiter(rate.Limit(opts.RateLimitPerSecond), opts.RateLimitBurst),
		timeout:   opts.RequestTimeout,
		attempts:  opts.RetryAttempts,
		backoff:   opts.RetryInitialBackoff,
		observer:  opts.Observer,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*page](gobreaker.Settings{
		Name:        "esi",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		// Client errors say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || !retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[ESI] circuit %s: %s -> %s", name, from, to)
		},
	})
	return c
}

// HealthCheck pings ESI to verify connectivity.
func (c *Client) HealthCheck(ctx context.Context) bool {
	var status struct {
		Players int `json:"players"`
	}
	return c.GetJSON(ctx, "/status/", &status) == nil
}

// GetJSON fetches path (relative to the base URL) and decodes JSON into dst.
func (c *Client) GetJSON(ctx context.Context, path string, dst any) error {
	p, err := c.get(ctx, withQuery(path, "datasource", "tranquility"))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(p.body, dst); err != nil {
		return &ParseError{Endpoint: endpointLabel(path), Err: err}
	}
	return nil
}

// getPages fetches every page of a paginated endpoint. Page 1 reports
// the page count in X-Pages; the rest are fetched concurrently. Any failed
// page fails the whole call so callers never see a partial book.
func getPages[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	path = withQuery(path, "datasource", "tranquility")
	first, err := c.get(ctx, withQuery(path, "page", "1"))
	if err != nil {
		return nil, err
	}
	page1, err := decodeArray[T](path, first.body)
	if err != nil {
		return nil, err
	}
	if first.pages <= 1 {
		return page1, nil
	}

	rest := make([][]T, first.pages-1)
	g, gctx := errgroup.WithContext(ctx)
	for n := 2; n <= first.pages; n++ {
		g.Go(func() error {
			p, err := c.get(gctx, withQuery(path, "page", strconv.Itoa(n)))
			if err != nil {
				return fmt.Errorf("page %d: %w", n, err)
			}
			data, err := decodeArray[T](path, p.body)
			if err != nil {
				return fmt.Errorf("page %d: %w", n, err)
			}
			rest[n-2] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make([]T, 0, len(page1)*first.pages)
	all = append(all, page1...)
	for _, data := range rest {
		all = append(all, data...)
	}
	return all, nil
}

func decodeArray[T any](path string, body []byte) ([]T, error) {
	var out []T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &ParseError{Endpoint: endpointLabel(path), Err: err}
	}
	return out, nil
}

// get performs one logical request with retries and the circuit breaker.
func (c *Client) get(ctx context.Context, path string) (*page, error) {
	op := func() (*page, error) {
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		p, err := c.breaker.Execute(func() (*page, error) {
			return c.attempt(ctx, path)
		})
		if err == nil {
			return p, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(fmt.Errorf("ESI %s: %w", endpointLabel(path), err))
		}
		if ctx.Err() != nil || !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.MaxInterval = 10 * c.backoff
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Printf("[ESI] retrying %s in %v: %v", endpointLabel(path), wait.Round(time.Millisecond), err)
		}),
	)
}

// attempt is a single HTTP round trip under the rate limiter, the connection
// semaphore and the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, path string) (*page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(path, 0, time.Since(start))
		return nil, fmt.Errorf("GET %s: %w", endpointLabel(path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	c.observe(path, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpointLabel(path), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url, Body: truncate(string(body), 256)}
	}

	pages := 1
	if v := resp.Header.Get("X-Pages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pages = n
		}
	}
	return &page{body: body, pages: pages}, nil
}

func (c *Client) observe(path string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(endpointLabel(path), status, elapsed)
	}
}

// retryable reports whether err is worth another attempt: transport
// failures, timeouts, 5xx and ESI's error-limit / rate-limit statuses.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func withQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + key + "=" + value
}

var idSegment = regexp.MustCompile(`/\d+/`)

// endpointLabel turns "/markets/10000002/orders/?type_id=34" into
// "/markets/{id}/orders/" for logs and metric labels.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for idSegment.MatchString(path) {
		path = idSegment.ReplaceAllString(path, "/{id}/")
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
