package stream

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kalshi-trade/internal/auth"
	"github.com/rickgao/kalshi-trade/internal/errs"
	"github.com/rickgao/kalshi-trade/internal/session"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func testSession(t *testing.T, server *httptest.Server) *session.Session {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate test key: %v", err)
		}
		testKey = k
	})

	creds := &auth.Credentials{KeyID: "ws-key", PrivateKey: testKey, Environment: auth.EnvDemo}
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/trade-api/ws/v2"
	sess, err := session.New(creds, session.WithEndpointOverride("", wsURL))
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}
	return sess
}

// verifyHandshake checks the signed headers on an upgrade request.
func verifyHandshake(r *http.Request) error {
	ts, err := strconv.ParseInt(r.Header.Get(auth.HeaderTimestamp), 10, 64)
	if err != nil {
		return err
	}
	if r.Header.Get(auth.HeaderKeyID) != "ws-key" {
		return errors.New("wrong key id")
	}
	return auth.Verify(&testKey.PublicKey, http.MethodGet, r.URL.Path, ts, r.Header.Get(auth.HeaderSignature))
}

func TestWebSocketDialer_SignedHandshake(t *testing.T) {
	upgrader := websocket.Upgrader{}
	handshake := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trade-api/ws/v2" {
			http.NotFound(w, r)
			return
		}
		handshake <- verifyHandshake(r)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
	defer server.Close()

	sess := testSession(t, server)
	d := NewWebSocketDialer(sess, nil)

	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if handshakeErr := <-handshake; handshakeErr != nil {
		t.Fatalf("handshake signature rejected: %v", handshakeErr)
	}
	if sess.State() != session.Authenticated {
		t.Errorf("session state = %v, want authenticated", sess.State())
	}

	if err := conn.Write([]byte(`{"id":1,"cmd":"subscribe"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	data, err := conn.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != `{"id":1,"cmd":"subscribe"}` {
		t.Errorf("echo = %s", data)
	}
}

func TestWebSocketDialer_HandshakeRejected(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   errs.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, errs.KindAuthentication},
		{"forbidden", http.StatusForbidden, errs.KindAuthentication},
		{"unavailable", http.StatusServiceUnavailable, errs.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			sess := testSession(t, server)
			_, err := NewWebSocketDialer(sess, nil).Dial(context.Background())
			if !errs.Is(err, tt.want) {
				t.Fatalf("error = %v, want %s", err, tt.want)
			}
			if tt.want == errs.KindAuthentication && sess.State() != session.Expired {
				t.Errorf("session state = %v, want expired", sess.State())
			}
		})
	}
}

func TestWebSocketDialer_StaleWithoutPings(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer server.Close()
	defer close(release)

	d := NewWebSocketDialer(testSession(t, server), nil)
	d.PingTimeout = 100 * time.Millisecond

	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Read(); !errors.Is(err, ErrStaleConnection) {
		t.Errorf("Read error = %v, want ErrStaleConnection", err)
	}
}

func TestWebSocketDialer_PingsKeepConnectionFresh(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Drain pongs so control frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for i := 0; i < 6; i++ {
			time.Sleep(40 * time.Millisecond)
			if err := conn.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(time.Second)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ticker","sid":1,"msg":{}}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	d := NewWebSocketDialer(testSession(t, server), nil)
	d.PingTimeout = 150 * time.Millisecond

	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	data, err := conn.Read()
	if err != nil {
		t.Fatalf("Read failed after pings: %v", err)
	}
	if !strings.Contains(string(data), `"ticker"`) {
		t.Errorf("message = %s", data)
	}
}

// The subscriber runs end to end over a real WebSocket: the server answers
// the subscribe command and pushes one data frame.
func TestSubscriber_OverWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if verifyHandshake(r) != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd struct {
				ID  int64  `json:"id"`
				Cmd string `json:"cmd"`
			}
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd.Cmd != "subscribe" {
				continue
			}
			conn.WriteMessage(websocket.TextMessage, []byte(`{"id":`+strconv.FormatInt(cmd.ID, 10)+`,"type":"subscribed","msg":{"channel":"ticker","sid":3}}`))
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ticker","sid":3,"seq":1,"msg":{"market_ticker":"TICKER1","price":52}}`))
		}
	}))
	defer server.Close()

	s := NewSubscriber(NewWebSocketDialer(testSession(t, server), nil))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sub, err := s.Subscribe(ctx, ChannelTicker, Params{MarketTicker: "TICKER1"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.SID() != 3 {
		t.Errorf("SID = %d, want 3", sub.SID())
	}

	msg := nextMessage(t, s)
	if msg.Type != "ticker" || msg.Subscription != sub {
		t.Errorf("message = %+v", msg)
	}
}
