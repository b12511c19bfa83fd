package stream

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/kalshi-trade/internal/errs"
	"github.com/rickgao/kalshi-trade/internal/session"
)

// Conn is one live connection. Read is called from a single goroutine;
// Write and Close may be called concurrently with Read.
type Conn interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Dialer opens authenticated connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the session's WebSocket endpoint. Each dial is
// signed fresh, so a reconnect never reuses a stale timestamp.
type WebSocketDialer struct {
	Session          *session.Session
	HandshakeTimeout time.Duration
	PingTimeout      time.Duration // max silence before the connection is stale
	WriteTimeout     time.Duration
	Logger           *slog.Logger
}

// Default transport timings.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

// NewWebSocketDialer creates a dialer with default timings.
func NewWebSocketDialer(sess *session.Session, logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketDialer{
		Session:          sess,
		HandshakeTimeout: DefaultHandshakeTimeout,
		PingTimeout:      DefaultPingTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		Logger:           logger,
	}
}

// Dial signs "GET <ws path>" and performs the handshake. A 401/403
// handshake is KindAuthentication and marks the session expired; other
// failures are KindTransient.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	wsURL := d.Session.WSURL()
	header, err := d.Session.AuthorizeURL(http.MethodGet, wsURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	d.Logger.Debug("connecting", "url", wsURL, "key_id", d.Session.KeyID())
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.New(errs.KindCancelled, errs.WithMessage("dial abandoned"), errs.WithCause(ctx.Err()))
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			d.Session.MarkExpired()
			return nil, errs.New(errs.KindAuthentication,
				errs.WithHTTP(resp.StatusCode),
				errs.WithMessage("websocket handshake rejected"),
				errs.WithCause(err),
			)
		}
		opts := []errs.Option{errs.WithMessage("websocket dial"), errs.WithCause(err)}
		if resp != nil {
			opts = append(opts, errs.WithHTTP(resp.StatusCode))
		}
		return nil, errs.New(errs.KindTransient, opts...)
	}
	d.Session.MarkAuthenticated()

	c := &wsConn{
		conn:         conn,
		pingTimeout:  d.PingTimeout,
		writeTimeout: d.WriteTimeout,
	}
	c.extendDeadline()

	// Server sends ping, we respond with pong. Any ping or frame keeps the
	// connection fresh.
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	return c, nil
}

// wsConn adapts a gorilla connection to Conn.
type wsConn struct {
	conn         *websocket.Conn
	pingTimeout  time.Duration
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) extendDeadline() {
	if c.pingTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.pingTimeout))
	}
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrStaleConnection
		}
		return nil, err
	}
	c.extendDeadline()
	return data, nil
}

func (c *wsConn) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}
