// Package errs provides the error taxonomy surfaced by every public operation.
//
// Callers branch on Kind to decide whether retrying is safe. A nil error is
// the success case; there is no separate success variant.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a failure category.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindAuthentication Kind = "authentication"
	KindConfiguration  Kind = "configuration"
	KindSigning        Kind = "signing"
	KindRateLimited    Kind = "rate_limited"
	KindTransient      Kind = "transient"
	KindInvalidRequest Kind = "invalid_request"
	KindNotCancelable  Kind = "not_cancelable"
	// KindCancelled means the caller abandoned the call. The remote side
	// may still have applied it.
	KindCancelled Kind = "cancelled"
	KindDecode    Kind = "decode"
)

// E is the structured error envelope.
type E struct {
	Kind       Kind
	HTTP       int           // HTTP status, 0 when no response was received
	Code       string        // exchange error code, e.g. "market_closed"
	Message    string        // human-readable message
	RetryAfter time.Duration // only set for KindRateLimited
	Body       []byte        // raw response body, if any

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error of the given kind.
func New(kind Kind, opts ...Option) *E {
	e := &E{Kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message.
func WithMessage(msg string) Option {
	trimmed := strings.TrimSpace(msg)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithCode records the exchange error code.
func WithCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.Code = trimmed
	}
}

// WithRetryAfter records the server-requested delay.
func WithRetryAfter(d time.Duration) Option {
	return func(e *E) {
		e.RetryAfter = d
	}
}

// WithBody keeps the raw response body.
func WithBody(body []byte) Option {
	return func(e *E) {
		e.Body = body
	}
}

// WithCause sets the underlying error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}

	kind := string(e.Kind)
	if kind == "" {
		kind = string(KindUnknown)
	}
	parts := []string{"kalshi: " + kind}

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Code != "" {
		parts = append(parts, "code="+strconv.Quote(e.Code))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RetryAfter > 0 {
		parts = append(parts, "retry_after="+e.RetryAfter.String())
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// KindOf returns the Kind of the first *E in err's chain. Context
// cancellation that never reached the envelope maps to KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// RetryAfter returns the server-requested delay for rate-limited errors.
func RetryAfter(err error) (time.Duration, bool) {
	var e *E
	if errors.As(err, &e) && e.Kind == KindRateLimited {
		return e.RetryAfter, true
	}
	return 0, false
}

// SafeToRetry reports whether a caller may resend the same request.
// Mutating requests are only safe to resend when the request carries an
// idempotency key the exchange deduplicates on.
func SafeToRetry(err error, idempotent bool) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransient:
		return idempotent
	case KindCancelled:
		return idempotent
	default:
		return false
	}
}

// Configuration builds a KindConfiguration error.
func Configuration(format string, args ...any) *E {
	return New(KindConfiguration, WithMessage(fmt.Sprintf(format, args...)))
}

// InvalidRequest builds a KindInvalidRequest error for local validation failures.
func InvalidRequest(format string, args ...any) *E {
	return New(KindInvalidRequest, WithMessage(fmt.Sprintf(format, args...)))
}
