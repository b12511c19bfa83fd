// Package session binds credentials to one exchange environment and produces
// the authentication headers for each outgoing request.
//
// Base URLs come from a fixed table keyed by environment. Callers cannot pass
// an arbitrary production URL; the endpoint override exists for tests and is
// refused for production credentials.
package session

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rickgao/kalshi-trade/internal/auth"
	"github.com/rickgao/kalshi-trade/internal/errs"
)

// Endpoints for each environment.
const (
	DemoRESTURL       = "https://demo-api.kalshi.co/trade-api/v2"
	DemoWSURL         = "wss://demo-api.kalshi.co/trade-api/ws/v2"
	ProductionRESTURL = "https://api.elections.kalshi.com/trade-api/v2"
	ProductionWSURL   = "wss://api.elections.kalshi.com/trade-api/ws/v2"
)

// Endpoints is a resolved REST/WebSocket URL pair.
type Endpoints struct {
	REST string
	WS   string
}

// ResolveEndpoints maps an environment to its endpoint pair.
func ResolveEndpoints(env auth.Environment) (Endpoints, error) {
	switch env {
	case auth.EnvDemo:
		return Endpoints{REST: DemoRESTURL, WS: DemoWSURL}, nil
	case auth.EnvProduction:
		return Endpoints{REST: ProductionRESTURL, WS: ProductionWSURL}, nil
	case "":
		return Endpoints{}, errs.Configuration("environment is not set")
	default:
		return Endpoints{}, errs.Configuration("environment %q is not recognized", env)
	}
}

// State is the logical authentication state observed from the exchange.
type State int

const (
	// Unauthenticated means no signed call has succeeded yet.
	Unauthenticated State = iota
	// Authenticated means the last signed call was accepted.
	Authenticated
	// Expired means the exchange rejected a signature (stale timestamp,
	// revoked key). The next call is re-signed from scratch.
	Expired
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Session attaches fresh signatures to requests for one environment.
// The endpoints are fixed at construction. Safe for concurrent use.
type Session struct {
	env       auth.Environment
	endpoints Endpoints
	signer    *auth.Signer
	now       func() time.Time
	logger    *slog.Logger

	mu                  sync.RWMutex
	state               State
	lastAuthenticatedAt time.Time
}

// Option configures a Session.
type Option func(*options)

type options struct {
	override Endpoints
	now      func() time.Time
	logger   *slog.Logger
}

// WithEndpointOverride points the session at a test server. Either field may
// be empty to keep the environment default. Production sessions reject it.
func WithEndpointOverride(restURL, wsURL string) Option {
	return func(o *options) {
		o.override = Endpoints{REST: restURL, WS: wsURL}
	}
}

// WithClock replaces time.Now for timestamp generation.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New validates the environment and key material and returns a Session.
// Configuration and signing failures surface here, before any network call.
func New(creds *auth.Credentials, opts ...Option) (*Session, error) {
	if creds == nil {
		return nil, errs.Configuration("credentials are required")
	}

	o := options{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	endpoints, err := ResolveEndpoints(creds.Environment)
	if err != nil {
		return nil, err
	}

	if o.override.REST != "" || o.override.WS != "" {
		if creds.Environment == auth.EnvProduction {
			return nil, errs.Configuration("endpoint override is not allowed for production")
		}
		if o.override.REST != "" {
			if err := checkURL(o.override.REST, "http", "https"); err != nil {
				return nil, err
			}
			endpoints.REST = strings.TrimRight(o.override.REST, "/")
		}
		if o.override.WS != "" {
			if err := checkURL(o.override.WS, "ws", "wss"); err != nil {
				return nil, err
			}
			endpoints.WS = o.override.WS
		}
	}

	signer, err := auth.NewSigner(creds)
	if err != nil {
		return nil, err
	}

	return &Session{
		env:       creds.Environment,
		endpoints: endpoints,
		signer:    signer,
		now:       o.now,
		logger:    o.logger.With("component", "session", "environment", string(creds.Environment)),
	}, nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errs.Configuration("endpoint override %q is not a valid URL", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return errs.Configuration("endpoint override %q must use one of %v", raw, schemes)
}

// Environment returns the environment this session is bound to.
func (s *Session) Environment() auth.Environment { return s.env }

// RESTBaseURL returns the REST base, e.g. https://demo-api.kalshi.co/trade-api/v2.
func (s *Session) RESTBaseURL() string { return s.endpoints.REST }

// WSURL returns the streaming endpoint.
func (s *Session) WSURL() string { return s.endpoints.WS }

// KeyID returns the account key identifier.
func (s *Session) KeyID() string { return s.signer.KeyID() }

// Authorize signs method and path with the current time and returns the
// three authentication headers. path must be the full URL path, including
// the /trade-api/v2 prefix. Nothing is cached between calls.
func (s *Session) Authorize(method, path string) (http.Header, error) {
	ts := s.now().UnixMilli()

	signature, err := s.signer.Sign(method, path, ts)
	if err != nil {
		return nil, err
	}

	h := make(http.Header, 3)
	h.Set(auth.HeaderKeyID, s.signer.KeyID())
	h.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(auth.HeaderSignature, signature)
	return h, nil
}

// AuthorizeURL is Authorize for a full URL; only its path is signed.
func (s *Session) AuthorizeURL(method, rawURL string) (http.Header, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.New(errs.KindInvalidRequest, errs.WithMessage("parse url"), errs.WithCause(err))
	}
	return s.Authorize(method, u.Path)
}

// State returns the last observed authentication state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastAuthenticatedAt returns when a signed call last succeeded.
func (s *Session) LastAuthenticatedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAuthenticatedAt, !s.lastAuthenticatedAt.IsZero()
}

// MarkAuthenticated records an accepted signature.
func (s *Session) MarkAuthenticated() {
	s.mu.Lock()
	prev := s.state
	s.state = Authenticated
	s.lastAuthenticatedAt = s.now()
	s.mu.Unlock()

	if prev != Authenticated {
		s.logger.Info("session authenticated", "key_id", s.signer.KeyID())
	}
}

// MarkExpired records a rejected signature.
func (s *Session) MarkExpired() {
	s.mu.Lock()
	prev := s.state
	s.state = Expired
	s.mu.Unlock()

	if prev != Expired {
		s.logger.Warn("session signature rejected", "key_id", s.signer.KeyID(), "previous", prev.String())
	}
}
