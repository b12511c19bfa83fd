package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rickgao/kalshi-trade/internal/errs"
)

const testTimeout = 2 * time.Second

// fakeConn is an in-memory connection. Frames pushed with deliver are
// returned by Read; Close unblocks a pending Read with io.EOF.
type fakeConn struct {
	mu      sync.Mutex
	writes  []command
	nextSID int64
	reject  map[string]bool // channels answered with an error frame

	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan []byte, 256),
		closed: make(chan struct{}),
		reject: make(map[string]bool),
	}
}

func (c *fakeConn) Read() ([]byte, error) {
	select {
	case data := <-c.reads:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

// Write records the command and answers subscribe and unsubscribe commands
// the way the exchange does.
func (c *fakeConn) Write(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	var cmd struct {
		ID     int64           `json:"id"`
		Cmd    string          `json:"cmd"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recorded := command{ID: cmd.ID, Cmd: cmd.Cmd}
	switch cmd.Cmd {
	case "subscribe":
		var p subscribeParams
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return err
		}
		recorded.Params = p
		if c.reject[p.Channels[0]] {
			c.deliver(fmt.Sprintf(`{"id":%d,"type":"error","msg":{"code":8,"msg":"Unknown channel name"}}`, cmd.ID))
			break
		}
		c.nextSID++
		c.deliver(fmt.Sprintf(`{"id":%d,"type":"subscribed","msg":{"channel":%q,"sid":%d}}`, cmd.ID, p.Channels[0], c.nextSID))
	case "unsubscribe":
		var p unsubscribeParams
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return err
		}
		recorded.Params = p
		c.deliver(fmt.Sprintf(`{"id":%d,"type":"unsubscribed","sid":%d}`, cmd.ID, p.SIDs[0]))
	}
	c.writes = append(c.writes, recorded)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) deliver(frame string) {
	c.reads <- []byte(frame)
}

func (c *fakeConn) commands() []command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]command(nil), c.writes...)
}

// fakeDialer hands out queued dial results; Dial blocks until one is
// queued.
type fakeDialer struct {
	next chan dialResult

	mu    sync.Mutex
	dials int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{next: make(chan dialResult, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	select {
	case r := <-d.next:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) queue(conn *fakeConn) {
	d.next <- dialResult{conn: conn}
}

func (d *fakeDialer) fail(err error) {
	d.next <- dialResult{err: err}
}

func newTestSubscriber(t *testing.T, d Dialer) *Subscriber {
	t.Helper()
	s := NewSubscriber(d, WithConfig(Config{
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  5 * time.Millisecond,
		SubscribeTimeout:   testTimeout,
		BufferSize:         64,
	}))
	t.Cleanup(func() { s.Close() })
	return s
}

func waitState(t *testing.T, s *Subscriber, want State) StateChange {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case sc, ok := <-s.States():
			if !ok {
				t.Fatalf("states closed while waiting for %v", want)
			}
			if sc.State == want {
				return sc
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func nextMessage(t *testing.T, s *Subscriber) Message {
	t.Helper()
	select {
	case msg, ok := <-s.Messages():
		if !ok {
			t.Fatal("messages closed")
		}
		return msg
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestSubscriber_SubscribeBeforeConnect(t *testing.T) {
	s := newTestSubscriber(t, newFakeDialer())

	if _, err := s.Subscribe(context.Background(), ChannelFill, Params{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestSubscriber_ConnectFailure(t *testing.T) {
	d := newFakeDialer()
	d.fail(errs.New(errs.KindAuthentication, errs.WithHTTP(401)))
	s := newTestSubscriber(t, d)

	err := s.Connect(context.Background())
	if !errs.Is(err, errs.KindAuthentication) {
		t.Fatalf("Connect error = %v, want authentication error", err)
	}
	if state, _ := s.State(); state != Disconnected {
		t.Errorf("State = %v, want disconnected", state)
	}
}

func TestSubscriber_SubscribeConfirmed(t *testing.T) {
	d := newFakeDialer()
	conn := newFakeConn()
	d.queue(conn)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	sc := waitState(t, s, Connected)
	if sc.Epoch != 1 {
		t.Errorf("Epoch = %d, want 1", sc.Epoch)
	}

	sub, err := s.Subscribe(context.Background(), ChannelOrderbookDelta, Params{MarketTicker: "TICKER1"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if sub.SID() != 1 {
		t.Errorf("SID = %d, want 1", sub.SID())
	}

	cmds := conn.commands()
	if len(cmds) != 1 || cmds[0].Cmd != "subscribe" {
		t.Fatalf("commands = %+v, want one subscribe", cmds)
	}
	p := cmds[0].Params.(subscribeParams)
	if p.Channels[0] != ChannelOrderbookDelta || p.MarketTicker != "TICKER1" {
		t.Errorf("subscribe params = %+v", p)
	}

	conn.deliver(`{"type":"orderbook_snapshot","sid":1,"seq":1,"msg":{"market_ticker":"TICKER1","yes":[[40,10]]}}`)
	msg := nextMessage(t, s)
	if msg.Type != "orderbook_snapshot" {
		t.Errorf("Type = %q, want orderbook_snapshot", msg.Type)
	}
	if msg.Subscription != sub {
		t.Errorf("Subscription = %v, want %v", msg.Subscription, sub)
	}
	if msg.Epoch != 1 {
		t.Errorf("Epoch = %d, want 1", msg.Epoch)
	}
}

func TestSubscriber_SubscribeRejected(t *testing.T) {
	d := newFakeDialer()
	conn := newFakeConn()
	conn.reject["bogus"] = true
	d.queue(conn)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, err := s.Subscribe(context.Background(), "bogus", Params{})
	if !errs.Is(err, errs.KindInvalidRequest) {
		t.Fatalf("error = %v, want invalid request", err)
	}
	var e *errs.E
	if errors.As(err, &e) && e.Code != "8" {
		t.Errorf("Code = %q, want 8", e.Code)
	}
	if subs := s.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions = %v, want none", subs)
	}
}

// After a drop every subscription is reissued in its original order on the
// new connection before anything from that connection is delivered.
func TestSubscriber_ReplaysSubscriptionsInOrder(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ctx := context.Background()
	if _, err := s.Subscribe(ctx, ChannelOrderbookDelta, Params{MarketTicker: "TICKER1"}); err != nil {
		t.Fatalf("Subscribe orderbook failed: %v", err)
	}
	if _, err := s.Subscribe(ctx, ChannelFill, Params{}); err != nil {
		t.Fatalf("Subscribe fill failed: %v", err)
	}

	conn2 := newFakeConn()
	conn2.deliver(`{"type":"orderbook_delta","sid":1,"seq":1,"msg":{"price":40,"delta":5,"side":"yes"}}`)
	d.queue(conn2)

	conn1.Close()

	var msg Message
	for msg.Epoch != 2 {
		msg = nextMessage(t, s)
	}

	cmds := conn2.commands()
	if len(cmds) < 2 {
		t.Fatalf("got %d commands on the new connection before delivery, want 2", len(cmds))
	}
	first := cmds[0].Params.(subscribeParams)
	second := cmds[1].Params.(subscribeParams)
	if first.Channels[0] != ChannelOrderbookDelta || first.MarketTicker != "TICKER1" {
		t.Errorf("first replayed subscription = %+v, want orderbook_delta:TICKER1", first)
	}
	if second.Channels[0] != ChannelFill || second.MarketTicker != "" {
		t.Errorf("second replayed subscription = %+v, want fill", second)
	}
	if cmds[0].ID >= cmds[1].ID {
		t.Errorf("command ids not increasing: %d, %d", cmds[0].ID, cmds[1].ID)
	}
}

// A subscription the server refuses on replay is dropped, and the refusal
// reaches the caller on both the message and state streams.
func TestSubscriber_ReplayRejectedIsReported(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	ctx := context.Background()
	book, err := s.Subscribe(ctx, ChannelOrderbookDelta, Params{MarketTicker: "TICKER1"})
	if err != nil {
		t.Fatalf("Subscribe orderbook failed: %v", err)
	}
	fill, err := s.Subscribe(ctx, ChannelFill, Params{})
	if err != nil {
		t.Fatalf("Subscribe fill failed: %v", err)
	}

	conn2 := newFakeConn()
	conn2.reject[ChannelFill] = true
	d.queue(conn2)
	conn1.Close()

	var msg Message
	for msg.Type != "error" {
		msg = nextMessage(t, s)
	}
	if msg.Subscription != fill {
		t.Errorf("Subscription = %v, want %v", msg.Subscription, fill)
	}
	if msg.Epoch != 2 {
		t.Errorf("Epoch = %d, want 2", msg.Epoch)
	}

	deadline := time.After(testTimeout)
	for {
		var sc StateChange
		select {
		case sc = <-s.States():
		case <-deadline:
			t.Fatal("timed out waiting for a state change carrying the refusal")
		}
		if sc.Err == nil || sc.State != Connected {
			continue
		}
		if sc.Epoch != 2 {
			t.Errorf("Epoch = %d, want 2", sc.Epoch)
		}
		if !errs.Is(sc.Err, errs.KindInvalidRequest) {
			t.Errorf("Err = %v, want invalid request", sc.Err)
		}
		break
	}

	subs := s.Subscriptions()
	if len(subs) != 1 || subs[0] != book {
		t.Errorf("Subscriptions = %v, want only %v", subs, book)
	}
}

func TestSubscriber_StateTransitions(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitState(t, s, Connecting)
	waitState(t, s, Connected)

	d.fail(errs.New(errs.KindTransient, errs.WithMessage("refused")))
	conn1.Close()

	sc := waitState(t, s, Reconnecting)
	if sc.Attempt != 1 {
		t.Errorf("first Reconnecting attempt = %d, want 1", sc.Attempt)
	}
	sc = waitState(t, s, Reconnecting)
	if sc.Attempt != 2 {
		t.Errorf("second Reconnecting attempt = %d, want 2", sc.Attempt)
	}
	if !errs.Is(sc.Err, errs.KindTransient) {
		t.Errorf("Reconnecting cause = %v, want transient", sc.Err)
	}

	d.queue(newFakeConn())
	sc = waitState(t, s, Connected)
	if sc.Epoch != 2 {
		t.Errorf("Epoch = %d, want 2", sc.Epoch)
	}
	if state, attempt := s.State(); state != Connected || attempt != 0 {
		t.Errorf("State = %v/%d, want connected/0", state, attempt)
	}

	s.Close()
	waitState(t, s, Disconnected)
	if _, ok := <-s.Messages(); ok {
		t.Error("Messages not closed after Close")
	}
}

func TestSubscriber_SubscribeWhileReconnecting(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitState(t, s, Connected)

	conn1.Close()
	waitState(t, s, Reconnecting)

	sub, err := s.Subscribe(context.Background(), ChannelTicker, Params{MarketTickers: []string{"A", "B"}})
	if err != nil {
		t.Fatalf("Subscribe while reconnecting failed: %v", err)
	}
	if sub.SID() != 0 {
		t.Errorf("SID = %d before confirmation, want 0", sub.SID())
	}

	conn2 := newFakeConn()
	d.queue(conn2)
	waitState(t, s, Connected)

	cmds := conn2.commands()
	if len(cmds) != 1 {
		t.Fatalf("commands = %+v, want the queued subscribe", cmds)
	}
	if p := cmds[0].Params.(subscribeParams); len(p.MarketTickers) != 2 {
		t.Errorf("market_tickers = %v, want [A B]", p.MarketTickers)
	}
}

func TestSubscriber_Unsubscribe(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	keep, err := s.Subscribe(ctx, ChannelFill, Params{})
	if err != nil {
		t.Fatalf("Subscribe fill failed: %v", err)
	}
	drop, err := s.Subscribe(ctx, ChannelTrade, Params{MarketTicker: "TICKER1"})
	if err != nil {
		t.Fatalf("Subscribe trade failed: %v", err)
	}

	if err := s.Unsubscribe(ctx, drop); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	cmds := conn1.commands()
	last := cmds[len(cmds)-1]
	if last.Cmd != "unsubscribe" {
		t.Fatalf("last command = %q, want unsubscribe", last.Cmd)
	}
	if p := last.Params.(unsubscribeParams); len(p.SIDs) != 1 || p.SIDs[0] != 2 {
		t.Errorf("unsubscribe sids = %v, want [2]", p.SIDs)
	}

	if err := s.Unsubscribe(ctx, drop); !errors.Is(err, ErrUnknownSub) {
		t.Errorf("second Unsubscribe error = %v, want ErrUnknownSub", err)
	}

	subs := s.Subscriptions()
	if len(subs) != 1 || subs[0] != keep {
		t.Errorf("Subscriptions = %v, want [fill]", subs)
	}

	conn2 := newFakeConn()
	d.queue(conn2)
	conn1.Close()
	waitState(t, s, Reconnecting)
	waitState(t, s, Connected)

	cmds = conn2.commands()
	if len(cmds) != 1 || cmds[0].Params.(subscribeParams).Channels[0] != ChannelFill {
		t.Errorf("replayed commands = %+v, want only fill", cmds)
	}
}

func TestSubscriber_SequenceGaps(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := s.Subscribe(context.Background(), ChannelOrderbookDelta, Params{MarketTicker: "TICKER1"}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	for _, seq := range []int{1, 2, 5, 6} {
		conn1.deliver(fmt.Sprintf(`{"type":"orderbook_delta","sid":1,"seq":%d,"msg":{}}`, seq))
	}

	tests := []struct {
		seq     int64
		gap     bool
		gapSize int
	}{
		{1, false, 0},
		{2, false, 0},
		{5, true, 2},
		{6, false, 0},
	}
	for _, tt := range tests {
		msg := nextMessage(t, s)
		if msg.Seq != tt.seq || msg.SeqGap != tt.gap || msg.GapSize != tt.gapSize {
			t.Errorf("seq %d: got seq=%d gap=%v size=%d, want gap=%v size=%d",
				tt.seq, msg.Seq, msg.SeqGap, msg.GapSize, tt.gap, tt.gapSize)
		}
	}

	// Numbering restarts on a new connection without reporting a gap.
	conn2 := newFakeConn()
	d.queue(conn2)
	conn1.Close()
	waitState(t, s, Reconnecting)
	waitState(t, s, Connected)
	conn2.deliver(`{"type":"orderbook_delta","sid":1,"seq":1,"msg":{}}`)

	msg := nextMessage(t, s)
	if msg.Epoch != 2 || msg.SeqGap {
		t.Errorf("after reconnect: epoch=%d gap=%v, want epoch 2 without gap", msg.Epoch, msg.SeqGap)
	}
}

func TestSubscriber_StopsOnAuthenticationFailure(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitState(t, s, Connected)

	d.fail(errs.New(errs.KindAuthentication, errs.WithHTTP(401), errs.WithMessage("websocket handshake rejected")))
	conn1.Close()

	select {
	case _, ok := <-s.Messages():
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(testTimeout):
		t.Fatal("Messages not closed after authentication failure")
	}

	if !errs.Is(s.Err(), errs.KindAuthentication) {
		t.Errorf("Err = %v, want authentication error", s.Err())
	}
	if state, _ := s.State(); state != Disconnected {
		t.Errorf("State = %v, want disconnected", state)
	}
	if _, err := s.Subscribe(context.Background(), ChannelFill, Params{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after stop error = %v, want ErrClosed", err)
	}
}

func TestSubscriber_StaleFramesIgnored(t *testing.T) {
	d := newFakeDialer()
	conn1 := newFakeConn()
	d.queue(conn1)
	s := newTestSubscriber(t, d)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	waitState(t, s, Connected)

	conn2 := newFakeConn()
	d.queue(conn2)
	conn1.Close()
	waitState(t, s, Connected)

	conn2.deliver(`{"type":"trade","sid":7,"msg":{}}`)
	msg := nextMessage(t, s)
	if msg.Epoch != 2 {
		t.Errorf("Epoch = %d, want 2", msg.Epoch)
	}
}

func TestSubscriber_CloseIdempotent(t *testing.T) {
	s := newTestSubscriber(t, newFakeDialer())
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, ok := <-s.Messages(); ok {
		t.Error("Messages not closed")
	}
	if err := s.Connect(context.Background()); err == nil {
		t.Error("Connect after Close should fail")
	}
}

func TestSeqTracker(t *testing.T) {
	tr := newSeqTracker()
	if gap, _ := tr.check(1, 10); gap {
		t.Error("first message reported a gap")
	}
	if gap, size := tr.check(1, 13); !gap || size != 2 {
		t.Errorf("check(13) = %v/%d, want true/2", gap, size)
	}
	if gap, size := tr.check(1, 3); !gap || size != 0 {
		t.Errorf("backwards check = %v/%d, want true/0", gap, size)
	}
	if gap, _ := tr.check(2, 100); gap {
		t.Error("independent sid reported a gap")
	}
	tr.reset()
	if gap, _ := tr.check(1, 1); gap {
		t.Error("gap reported after reset")
	}
}
