package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/rickgao/kalshi-trade/internal/errs"
)

// maxErrorBody bounds how much of an error response is kept on the error.
const maxErrorBody = 4 << 10

// errThrottled marks a RateLimited error raised by the local limiter rather
// than the exchange. Those are not retried: the deadline is already too short.
var errThrottled = errors.New("client-side rate limit")

// errorEnvelope is the exchange's error body: {"error":{"code":..,"message":..}}.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
}

// Do executes one signed call. path is relative to the REST base, e.g.
// "/portfolio/orders". body, if non-nil, is JSON encoded; out, if non-nil,
// receives the decoded 2xx body.
//
// GET requests are retried: once after a 429 (honouring Retry-After), and up
// to the configured bound with exponential backoff after transient failures.
// Other methods are sent exactly once.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errs.New(errs.KindInvalidRequest, errs.WithMessage("encode request body"), errs.WithCause(err))
		}
	}

	respBody, err := c.execute(ctx, method, path, query, payload)
	if err != nil {
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errs.New(errs.KindDecode,
			errs.WithMessage("unmarshal response"),
			errs.WithBody(truncate(respBody)),
			errs.WithCause(err),
		)
	}
	return nil
}

// execute applies the retry policy around doRequest.
func (c *Client) execute(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	if method != http.MethodGet {
		return c.doRequest(ctx, method, path, query, payload)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBackoff
	bo.MaxInterval = c.maxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.Reset()

	transientRetries := 0
	for {
		body, err := c.doRequest(ctx, method, path, query, payload)
		if err == nil {
			return body, nil
		}

		var wait time.Duration
		switch errs.KindOf(err) {
		case errs.KindRateLimited:
			if errors.Is(err, errThrottled) {
				return nil, err
			}
			// One retry after the server's delay; whatever comes next surfaces.
			wait, _ = errs.RetryAfter(err)
			if wait <= 0 {
				wait = DefaultRetryAfter
			}
			c.logger.Debug("rate limited, retrying once", "path", path, "retry_after", wait)
			c.metrics.Retry(ctx, string(errs.KindRateLimited))
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, cancelled(serr)
			}
			return c.doRequest(ctx, method, path, query, payload)

		case errs.KindTransient:
			if transientRetries >= c.maxRetries {
				if transientRetries > 0 {
					return nil, fmt.Errorf("max retries exceeded: %w", err)
				}
				return nil, err
			}
			transientRetries++
			wait = bo.NextBackOff()
			c.logger.Debug("retrying request",
				"attempt", transientRetries,
				"backoff", wait,
				"path", path,
				"error", err,
			)
			c.metrics.Retry(ctx, string(errs.KindTransient))
			if serr := c.sleep(ctx, wait); serr != nil {
				return nil, cancelled(serr)
			}

		default:
			return nil, err
		}
	}
}

// doRequest performs a single signed HTTP exchange and classifies the result.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload []byte) (body []byte, err error) {
	start := time.Now()
	defer func() {
		c.metrics.Request(ctx, method, kindLabel(err), time.Since(start))
	}()

	limiter := c.writeLimiter
	if method == http.MethodGet {
		limiter = c.readLimiter
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, cancelled(err)
			}
			return nil, throttled(err)
		}
	}

	fullURL := c.session.RESTBaseURL() + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, errs.New(errs.KindInvalidRequest, errs.WithMessage("create request"), errs.WithCause(err))
	}

	authHeaders, err := c.session.Authorize(method, req.URL.Path)
	if err != nil {
		return nil, err
	}
	for k, v := range authHeaders {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, errs.New(errs.KindTransient, errs.WithMessage("do request"), errs.WithCause(err))
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, errs.New(errs.KindTransient,
			errs.WithHTTP(resp.StatusCode),
			errs.WithMessage("read response"),
			errs.WithCause(err),
		)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.session.MarkAuthenticated()
		return body, nil
	}

	return nil, c.classify(resp, body)
}

// classify maps a non-2xx response onto the error taxonomy.
func (c *Client) classify(resp *http.Response, body []byte) error {
	status := resp.StatusCode

	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	msg := env.Error.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	if env.Error.Details != "" {
		msg += ": " + env.Error.Details
	}

	opts := []errs.Option{
		errs.WithHTTP(status),
		errs.WithCode(env.Error.Code),
		errs.WithMessage(msg),
		errs.WithBody(truncate(body)),
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		c.session.MarkExpired()
		return errs.New(errs.KindAuthentication, opts...)
	case status == http.StatusTooManyRequests:
		opts = append(opts, errs.WithRetryAfter(parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())))
		return errs.New(errs.KindRateLimited, opts...)
	case status >= 500:
		return errs.New(errs.KindTransient, opts...)
	default:
		return errs.New(errs.KindInvalidRequest, opts...)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Unparseable or
// missing values yield 0 and the caller falls back to a default.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func cancelled(err error) error {
	return errs.New(errs.KindCancelled, errs.WithMessage("request abandoned by caller"), errs.WithCause(err))
}

// throttled reports a limiter wait that cannot finish before the deadline.
func throttled(err error) error {
	return errs.New(errs.KindRateLimited,
		errs.WithMessage("rate limit wait exceeds deadline"),
		errs.WithCause(fmt.Errorf("%w: %v", errThrottled, err)),
	)
}

func kindLabel(err error) string {
	if err == nil {
		return ""
	}
	return string(errs.KindOf(err))
}

func truncate(b []byte) []byte {
	if len(b) <= maxErrorBody {
		return b
	}
	return b[:maxErrorBody]
}

// get performs a GET request with the read retry policy.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, result)
}

// IsNotFound reports whether err is a 404 from the exchange.
func IsNotFound(err error) bool {
	var e *errs.E
	return errors.As(err, &e) && e.HTTP == http.StatusNotFound
}
