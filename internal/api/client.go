package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/kalshi-trade/internal/metrics"
	"github.com/rickgao/kalshi-trade/internal/session"
)

// Default request policy. The rate figures are the exchange's basic-tier
// limits (reads and writes per second).
const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryBackoff      = 500 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second
	DefaultRetryAfter        = time.Second
	DefaultReadRate          = 20
	DefaultWriteRate         = 10
	DefaultPaginationTimeout = 10 * time.Minute
)

// Client executes signed REST calls. It is safe for concurrent use: the
// session is read-only apart from its state flag and the HTTP transport
// pools connections.
type Client struct {
	session    *session.Session
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Recorder

	maxRetries   int
	retryBackoff time.Duration
	maxBackoff   time.Duration

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a dispatcher bound to sess.
func NewClient(sess *session.Session, opts ...ClientOption) *Client {
	c := &Client{
		session: sess,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: newTransport(),
		},
		logger:       slog.Default(),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		maxBackoff:   DefaultMaxBackoff,
		readLimiter:  rate.NewLimiter(rate.Limit(DefaultReadRate), DefaultReadRate),
		writeLimiter: rate.NewLimiter(rate.Limit(DefaultWriteRate), DefaultWriteRate),
		sleep:        sleepCtx,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("component", "api")
	return c
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the transient-failure retry bound and base backoff for
// GET requests. max = 0 disables transient retries.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithMaxBackoff caps the exponential backoff between GET retries.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxBackoff = d
	}
}

// WithRateLimits sets client-side throttles in requests per second.
// A value <= 0 disables that throttle.
func WithRateLimits(readPerSec, writePerSec float64) ClientOption {
	return func(c *Client) {
		c.readLimiter = newLimiter(readPerSec)
		c.writeLimiter = newLimiter(writePerSec)
	}
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) ClientOption {
	return func(c *Client) {
		c.metrics = r
	}
}

// Session returns the session this client signs with.
func (c *Client) Session() *session.Session {
	return c.session
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
