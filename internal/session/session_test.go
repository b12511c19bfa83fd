package session

import (
	"crypto/rand"
	"crypto/rsa"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/kalshi-trade/internal/auth"
	"github.com/rickgao/kalshi-trade/internal/errs"
)

var (
	keyOnce sync.Once
	key     *rsa.PrivateKey
)

func testCreds(t *testing.T, env auth.Environment) *auth.Credentials {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate test key: %v", err)
		}
		key = k
	})
	return &auth.Credentials{KeyID: "sess-key", PrivateKey: key, Environment: env}
}

func TestResolveEndpoints(t *testing.T) {
	tests := []struct {
		env     auth.Environment
		want    Endpoints
		wantErr bool
	}{
		{auth.EnvDemo, Endpoints{REST: DemoRESTURL, WS: DemoWSURL}, false},
		{auth.EnvProduction, Endpoints{REST: ProductionRESTURL, WS: ProductionWSURL}, false},
		{"", Endpoints{}, true},
		{"sandbox", Endpoints{}, true},
	}

	for _, tt := range tests {
		got, err := ResolveEndpoints(tt.env)
		if tt.wantErr {
			if !errs.Is(err, errs.KindConfiguration) {
				t.Errorf("ResolveEndpoints(%q) error = %v, want configuration error", tt.env, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ResolveEndpoints(%q) unexpected error: %v", tt.env, err)
		}
		if got != tt.want {
			t.Errorf("ResolveEndpoints(%q) = %+v, want %+v", tt.env, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("demo", func(t *testing.T) {
		s, err := New(testCreds(t, auth.EnvDemo))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if s.RESTBaseURL() != DemoRESTURL {
			t.Errorf("RESTBaseURL = %q, want %q", s.RESTBaseURL(), DemoRESTURL)
		}
		if s.WSURL() != DemoWSURL {
			t.Errorf("WSURL = %q, want %q", s.WSURL(), DemoWSURL)
		}
		if s.State() != Unauthenticated {
			t.Errorf("State = %v, want unauthenticated", s.State())
		}
	})

	t.Run("nil credentials", func(t *testing.T) {
		if _, err := New(nil); !errs.Is(err, errs.KindConfiguration) {
			t.Errorf("error = %v, want configuration error", err)
		}
	})

	t.Run("unset environment", func(t *testing.T) {
		if _, err := New(testCreds(t, "")); !errs.Is(err, errs.KindConfiguration) {
			t.Errorf("error = %v, want configuration error", err)
		}
	})

	t.Run("missing key is a signing error", func(t *testing.T) {
		creds := &auth.Credentials{KeyID: "k", Environment: auth.EnvDemo}
		if _, err := New(creds); !errs.Is(err, errs.KindSigning) {
			t.Errorf("error = %v, want signing error", err)
		}
	})

	t.Run("override on demo", func(t *testing.T) {
		s, err := New(testCreds(t, auth.EnvDemo), WithEndpointOverride("http://127.0.0.1:8080/trade-api/v2/", "ws://127.0.0.1:8080/trade-api/ws/v2"))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if s.RESTBaseURL() != "http://127.0.0.1:8080/trade-api/v2" {
			t.Errorf("RESTBaseURL = %q", s.RESTBaseURL())
		}
		if s.WSURL() != "ws://127.0.0.1:8080/trade-api/ws/v2" {
			t.Errorf("WSURL = %q", s.WSURL())
		}
	})

	t.Run("partial override keeps default", func(t *testing.T) {
		s, err := New(testCreds(t, auth.EnvDemo), WithEndpointOverride("http://127.0.0.1:9/x", ""))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if s.WSURL() != DemoWSURL {
			t.Errorf("WSURL = %q, want %q", s.WSURL(), DemoWSURL)
		}
	})

	t.Run("override on production rejected", func(t *testing.T) {
		_, err := New(testCreds(t, auth.EnvProduction), WithEndpointOverride("http://127.0.0.1:8080", ""))
		if !errs.Is(err, errs.KindConfiguration) {
			t.Errorf("error = %v, want configuration error", err)
		}
	})

	t.Run("override with wrong scheme", func(t *testing.T) {
		_, err := New(testCreds(t, auth.EnvDemo), WithEndpointOverride("", "http://127.0.0.1:8080"))
		if !errs.Is(err, errs.KindConfiguration) {
			t.Errorf("error = %v, want configuration error", err)
		}
	})
}

func TestSession_Authorize(t *testing.T) {
	fixed := time.UnixMilli(1703123456789)
	s, err := New(testCreds(t, auth.EnvDemo), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h, err := s.Authorize("POST", "/trade-api/v2/portfolio/orders")
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}

	if got := h.Get(auth.HeaderKeyID); got != "sess-key" {
		t.Errorf("%s = %q, want %q", auth.HeaderKeyID, got, "sess-key")
	}
	if got := h.Get(auth.HeaderTimestamp); got != "1703123456789" {
		t.Errorf("%s = %q, want %q", auth.HeaderTimestamp, got, "1703123456789")
	}

	sig := h.Get(auth.HeaderSignature)
	if err := auth.Verify(&key.PublicKey, "POST", "/trade-api/v2/portfolio/orders", 1703123456789, sig); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestSession_AuthorizeFreshTimestampEachCall(t *testing.T) {
	var mu sync.Mutex
	now := time.UnixMilli(1700000000000)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}

	s, err := New(testCreds(t, auth.EnvDemo), WithClock(clock))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		h, err := s.Authorize("GET", "/trade-api/v2/portfolio/balance")
		if err != nil {
			t.Fatalf("Authorize failed: %v", err)
		}
		ts := h.Get(auth.HeaderTimestamp)
		if seen[ts] {
			t.Errorf("timestamp %s reused", ts)
		}
		seen[ts] = true

		ms, _ := strconv.ParseInt(ts, 10, 64)
		if err := auth.Verify(&key.PublicKey, "GET", "/trade-api/v2/portfolio/balance", ms, h.Get(auth.HeaderSignature)); err != nil {
			t.Errorf("call %d: signature does not verify: %v", i, err)
		}
	}
}

func TestSession_AuthorizeURLSignsPathOnly(t *testing.T) {
	fixed := time.UnixMilli(42)
	s, err := New(testCreds(t, auth.EnvDemo), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h, err := s.AuthorizeURL("GET", DemoRESTURL+"/portfolio/orders?status=resting")
	if err != nil {
		t.Fatalf("AuthorizeURL failed: %v", err)
	}
	if err := auth.Verify(&key.PublicKey, "GET", "/trade-api/v2/portfolio/orders", 42, h.Get(auth.HeaderSignature)); err != nil {
		t.Errorf("signature does not verify over the bare path: %v", err)
	}
}

func TestSession_StateTransitions(t *testing.T) {
	s, err := New(testCreds(t, auth.EnvDemo))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, ok := s.LastAuthenticatedAt(); ok {
		t.Error("LastAuthenticatedAt should be unset initially")
	}

	s.MarkAuthenticated()
	if s.State() != Authenticated {
		t.Errorf("State = %v, want authenticated", s.State())
	}
	if _, ok := s.LastAuthenticatedAt(); !ok {
		t.Error("LastAuthenticatedAt should be set after MarkAuthenticated")
	}

	s.MarkExpired()
	if s.State() != Expired {
		t.Errorf("State = %v, want expired", s.State())
	}

	s.MarkAuthenticated()
	if s.State() != Authenticated {
		t.Errorf("State = %v, want authenticated after recovery", s.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Unauthenticated: "unauthenticated",
		Authenticated:   "authenticated",
		Expired:         "expired",
		State(9):        "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
