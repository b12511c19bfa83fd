package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/rickgao/kalshi-trade/internal/errs"
	"github.com/rickgao/kalshi-trade/internal/metrics"
)

// Config tunes reconnection and delivery.
type Config struct {
	ReconnectBaseDelay time.Duration // first reconnect delay
	ReconnectMaxDelay  time.Duration // cap on any single delay
	ReconnectJitter    float64       // randomization factor in [0, 1)
	SubscribeTimeout   time.Duration // wait for the server's confirmation
	BufferSize         int           // Messages channel capacity
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		ReconnectJitter:    0.2,
		SubscribeTimeout:   10 * time.Second,
		BufferSize:         10000,
	}
}

// Subscriber delivers messages from one authenticated connection at a time
// and survives disconnects transparently.
type Subscriber struct {
	cfg     Config
	dialer  Dialer
	logger  *slog.Logger
	metrics *metrics.Recorder

	cmds   chan request
	events chan event
	out    chan Message
	states chan StateChange
	done   chan struct{}

	mu       sync.RWMutex
	state    State
	attempt  int
	epoch    uint64
	err      error
	started  bool
	closed   bool
	finished bool
	active   []*Subscription
	cancel   context.CancelFunc

	wg         conc.WaitGroup
	closeOnce  sync.Once
	finishOnce sync.Once
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithConfig replaces the default configuration. Zero fields keep their
// defaults.
func WithConfig(cfg Config) Option {
	return func(s *Subscriber) {
		if cfg.ReconnectBaseDelay > 0 {
			s.cfg.ReconnectBaseDelay = cfg.ReconnectBaseDelay
		}
		if cfg.ReconnectMaxDelay > 0 {
			s.cfg.ReconnectMaxDelay = cfg.ReconnectMaxDelay
		}
		if cfg.ReconnectJitter > 0 && cfg.ReconnectJitter < 1 {
			s.cfg.ReconnectJitter = cfg.ReconnectJitter
		}
		if cfg.SubscribeTimeout > 0 {
			s.cfg.SubscribeTimeout = cfg.SubscribeTimeout
		}
		if cfg.BufferSize > 0 {
			s.cfg.BufferSize = cfg.BufferSize
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subscriber) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Subscriber) {
		s.metrics = r
	}
}

// NewSubscriber creates a subscriber that connects through d.
func NewSubscriber(d Dialer, opts ...Option) *Subscriber {
	s := &Subscriber{
		cfg:    DefaultConfig(),
		dialer: d,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ReconnectMaxDelay < s.cfg.ReconnectBaseDelay {
		s.cfg.ReconnectMaxDelay = s.cfg.ReconnectBaseDelay
	}

	s.logger = s.logger.With("component", "stream")
	s.cmds = make(chan request)
	s.events = make(chan event)
	s.out = make(chan Message, s.cfg.BufferSize)
	s.states = make(chan StateChange, 64)
	s.done = make(chan struct{})
	return s
}

// Connect performs the first dial and starts the run loop. The subscriber
// runs until ctx is cancelled, Close is called, or a reconnect is refused
// for authentication reasons.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("stream: already started")
	}
	s.started = true
	s.mu.Unlock()

	s.setState(Connecting, 0, 0, nil)
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = s.closed
		s.mu.Unlock()
		s.setState(Disconnected, 0, 0, err)
		return fmt.Errorf("connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return ErrClosed
	}
	s.cancel = cancel
	s.mu.Unlock()

	r := &runner{
		s:       s,
		pending: make(map[int64]pendingCmd),
		bySID:   make(map[int64]*Subscription),
		seq:     newSeqTracker(),
		bo:      s.newBackOff(),
	}
	s.wg.Go(func() {
		r.run(runCtx, conn)
	})
	return nil
}

func (s *Subscriber) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectBaseDelay
	bo.MaxInterval = s.cfg.ReconnectMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = s.cfg.ReconnectJitter
	bo.Reset()
	return bo
}

// Subscribe registers a channel subscription. While connected it waits for
// the server's confirmation; while reconnecting the subscription is queued
// and issued with the replay. On ErrTimeout the subscription is still
// registered and is returned alongside the error.
func (s *Subscriber) Subscribe(ctx context.Context, channel string, params Params) (*Subscription, error) {
	if channel == "" {
		return nil, errs.InvalidRequest("channel is required")
	}
	sub := &Subscription{Channel: channel, Params: params}
	if err := s.request(ctx, request{op: opSubscribe, sub: sub}); err != nil {
		if errors.Is(err, ErrTimeout) {
			return sub, err
		}
		return nil, fmt.Errorf("subscribe %s: %w", sub, err)
	}
	return sub, nil
}

// Unsubscribe removes a subscription so it is no longer replayed, and
// tells the server when the subscription is live.
func (s *Subscriber) Unsubscribe(ctx context.Context, sub *Subscription) error {
	if sub == nil {
		return ErrUnknownSub
	}
	if err := s.request(ctx, request{op: opUnsubscribe, sub: sub}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub, err)
	}
	return nil
}

func (s *Subscriber) request(ctx context.Context, req request) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotConnected
	}

	req.reply = make(chan error, 1)
	select {
	case s.cmds <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}

	timeout := time.NewTimer(s.cfg.SubscribeTimeout)
	defer timeout.Stop()

	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ErrTimeout
	case <-s.done:
		return ErrClosed
	}
}

// Messages returns the ordered message sequence. It is closed when the
// subscriber stops. A subscription refused while being reissued after a
// reconnect arrives here as an "error" message naming that subscription.
func (s *Subscriber) Messages() <-chan Message {
	return s.out
}

// States returns state transitions. Transitions are dropped if the channel
// is not drained.
func (s *Subscriber) States() <-chan StateChange {
	return s.states
}

// State returns the current state and, while Reconnecting, the attempt
// number.
func (s *Subscriber) State() (State, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.attempt
}

// Epoch returns the number of connections established so far.
func (s *Subscriber) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Subscriptions returns the active subscriptions in replay order.
func (s *Subscriber) Subscriptions() []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Subscription(nil), s.active...)
}

// Err returns the error that stopped the subscriber, if any.
func (s *Subscriber) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close stops the subscriber and waits for its goroutines.
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		running := cancel != nil
		s.started = true
		s.closed = true
		s.mu.Unlock()

		if running {
			cancel()
		}
		s.wg.Wait()
		if !running {
			s.finish(nil)
		}
	})
	return nil
}

func (s *Subscriber) setState(state State, attempt int, epoch uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(StateChange{State: state, Attempt: attempt, Epoch: epoch, Err: err})
}

func (s *Subscriber) publishLocked(sc StateChange) {
	if s.finished {
		return
	}
	s.state = sc.State
	s.attempt = sc.Attempt
	if sc.Epoch > 0 {
		s.epoch = sc.Epoch
	}

	select {
	case s.states <- sc:
	default:
		s.logger.Debug("state change dropped", "state", sc.State.String())
	}
}

// finish publishes the terminal state and closes the output channels.
func (s *Subscriber) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.err = err
		s.active = nil
		s.publishLocked(StateChange{State: Disconnected, Err: err})
		s.finished = true

		close(s.done)
		close(s.out)
		close(s.states)
	})
}

type requestOp int

const (
	opSubscribe requestOp = iota
	opUnsubscribe
)

type request struct {
	op    requestOp
	sub   *Subscription
	reply chan error
}

type eventKind int

const (
	evFrame eventKind = iota
	evLost
	evDialed
)

type event struct {
	kind  eventKind
	epoch uint64
	data  []byte
	at    time.Time
	conn  Conn
	err   error
}

type pendingCmd struct {
	sub   *Subscription
	unsub bool
	reply chan error
}

// runner is the state owned by the run loop goroutine.
type runner struct {
	s *Subscriber

	conn    Conn
	epoch   uint64
	attempt int
	subs    []*Subscription
	bySID   map[int64]*Subscription
	pending map[int64]pendingCmd
	nextID  int64
	seq     *seqTracker
	bo      *backoff.ExponentialBackOff
	retry   <-chan time.Time
}

func (r *runner) run(ctx context.Context, conn Conn) {
	var stopErr error
	defer func() {
		r.shutdown(stopErr)
	}()

	r.attach(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-r.s.cmds:
			r.handleRequest(req)

		case ev := <-r.s.events:
			switch ev.kind {
			case evFrame:
				if ev.epoch == r.epoch && r.conn != nil {
					r.handleFrame(ctx, ev)
				}
			case evLost:
				if ev.epoch == r.epoch && r.conn != nil {
					r.connectionLost(ev.err)
				}
			case evDialed:
				if err := r.dialed(ctx, ev); err != nil {
					stopErr = err
					return
				}
			}

		case <-r.retry:
			r.retry = nil
			r.dial(ctx)
		}
	}
}

// attach makes conn current, replays every active subscription in its
// original order and only then starts reading from it.
func (r *runner) attach(ctx context.Context, conn Conn) {
	r.epoch++
	r.conn = conn
	r.attempt = 0
	r.bo.Reset()
	clear(r.bySID)
	r.seq.reset()

	for _, sub := range r.subs {
		sub.sid.Store(0)
		if err := r.sendSubscribe(sub, nil); err != nil {
			r.s.logger.Warn("replay failed", "subscription", sub.String(), "error", err)
			break
		}
	}

	r.s.setState(Connected, 0, r.epoch, nil)
	r.s.logger.Info("connected", "epoch", r.epoch, "subscriptions", len(r.subs))

	epoch := r.epoch
	r.s.wg.Go(func() {
		r.s.read(ctx, epoch, conn)
	})
}

// read pumps frames from one connection into the run loop.
func (s *Subscriber) read(ctx context.Context, epoch uint64, conn Conn) {
	for {
		data, err := conn.Read()
		receivedAt := time.Now()

		ev := event{kind: evFrame, epoch: epoch, data: data, at: receivedAt}
		if err != nil {
			ev = event{kind: evLost, epoch: epoch, err: err}
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (r *runner) connectionLost(err error) {
	r.s.logger.Warn("connection lost", "epoch", r.epoch, "error", err)

	r.conn.Close()
	r.conn = nil

	// Callers waiting on a confirmation get nil: their subscription is
	// still registered and will be replayed.
	for id, p := range r.pending {
		p.respond(nil)
		delete(r.pending, id)
	}

	r.scheduleReconnect(err)
}

func (r *runner) scheduleReconnect(cause error) {
	r.attempt++
	wait := r.bo.NextBackOff()
	if wait < 0 || wait > r.s.cfg.ReconnectMaxDelay {
		wait = r.s.cfg.ReconnectMaxDelay
	}
	r.s.setState(Reconnecting, r.attempt, 0, cause)
	r.s.logger.Info("reconnecting", "attempt", r.attempt, "backoff", wait)
	r.retry = time.After(wait)
}

func (r *runner) dial(ctx context.Context) {
	r.s.wg.Go(func() {
		conn, err := r.s.dialer.Dial(ctx)
		select {
		case r.s.events <- event{kind: evDialed, conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	})
}

// dialed handles a reconnect result. A non-nil return stops the loop.
func (r *runner) dialed(ctx context.Context, ev event) error {
	if ev.err != nil {
		r.s.metrics.Reconnect(ctx, false)
		switch {
		case errs.Is(ev.err, errs.KindAuthentication):
			r.s.logger.Warn("reconnect refused, giving up", "attempt", r.attempt, "error", ev.err)
			return ev.err
		case ctx.Err() != nil:
			return nil
		}
		r.s.logger.Warn("reconnection failed", "attempt", r.attempt, "error", ev.err)
		r.scheduleReconnect(ev.err)
		return nil
	}

	r.s.metrics.Reconnect(ctx, true)
	r.s.logger.Info("reconnected", "attempts", r.attempt)
	r.attach(ctx, ev.conn)
	return nil
}

func (r *runner) shutdown(err error) {
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
	for id, p := range r.pending {
		p.respond(ErrClosed)
		delete(r.pending, id)
	}
	r.s.mu.RLock()
	cancel := r.s.cancel
	r.s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	r.s.logger.Info("stream stopped", "epoch", r.epoch)
	r.s.finish(err)
}

func (r *runner) handleRequest(req request) {
	switch req.op {
	case opSubscribe:
		r.subs = append(r.subs, req.sub)
		r.publishActive()
		if r.conn == nil {
			req.respond(nil)
			return
		}
		if err := r.sendSubscribe(req.sub, req.reply); err != nil {
			// The reader will report the broken connection; the replay
			// issues this subscription.
			req.respond(nil)
		}

	case opUnsubscribe:
		if !r.remove(req.sub) {
			req.respond(ErrUnknownSub)
			return
		}
		sid := req.sub.SID()
		if r.conn == nil || sid == 0 {
			req.respond(nil)
			return
		}
		if err := r.sendUnsubscribe(sid, req.sub, req.reply); err != nil {
			req.respond(nil)
		}
	}
}

func (r *runner) sendSubscribe(sub *Subscription, reply chan error) error {
	return r.send("subscribe", subscribeParams{
		Channels:      []string{sub.Channel},
		MarketTicker:  sub.Params.MarketTicker,
		MarketTickers: sub.Params.MarketTickers,
	}, pendingCmd{sub: sub, reply: reply})
}

func (r *runner) sendUnsubscribe(sid int64, sub *Subscription, reply chan error) error {
	delete(r.bySID, sid)
	r.seq.forget(sid)
	return r.send("unsubscribe", unsubscribeParams{SIDs: []int64{sid}}, pendingCmd{sub: sub, unsub: true, reply: reply})
}

func (r *runner) send(cmd string, params any, p pendingCmd) error {
	r.nextID++
	id := r.nextID

	data, err := json.Marshal(command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return err
	}
	if err := r.conn.Write(data); err != nil {
		return err
	}
	r.pending[id] = p
	return nil
}

func (r *runner) remove(sub *Subscription) bool {
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			r.publishActive()
			return true
		}
	}
	return false
}

func (r *runner) isActive(sub *Subscription) bool {
	for _, s := range r.subs {
		if s == sub {
			return true
		}
	}
	return false
}

func (r *runner) publishActive() {
	r.s.mu.Lock()
	r.s.active = append([]*Subscription(nil), r.subs...)
	r.s.mu.Unlock()
}

func (r *runner) handleFrame(ctx context.Context, ev event) {
	var f frame
	if err := json.Unmarshal(ev.data, &f); err != nil {
		r.s.logger.Warn("undecodable frame", "epoch", r.epoch, "error", err)
		return
	}

	var rejected *Subscription
	if f.isResponse() {
		var consumed bool
		if consumed, rejected = r.handleResponse(&f); consumed {
			return
		}
	}

	msg := Message{
		Type:       f.Type,
		SID:        f.SID,
		Seq:        f.Seq,
		Msg:        f.Msg,
		Raw:        ev.data,
		Epoch:      r.epoch,
		ReceivedAt: ev.at,
	}
	channel := f.Type
	if sub, ok := r.bySID[f.SID]; ok {
		msg.Subscription = sub
		channel = sub.Channel
	} else if rejected != nil {
		msg.Subscription = rejected
	}
	if f.Seq != 0 {
		msg.SeqGap, msg.GapSize = r.seq.check(f.SID, f.Seq)
		if msg.SeqGap {
			r.s.logger.Warn("sequence gap detected",
				"sid", f.SID,
				"channel", channel,
				"got", f.Seq,
				"gap", msg.GapSize,
			)
			r.s.metrics.SequenceGap(ctx, channel, msg.GapSize)
		}
	}

	select {
	case r.s.out <- msg:
	case <-ctx.Done():
	}
}

// handleResponse consumes a command response. Unsolicited error frames are
// left for the caller, as is the refusal of a replayed subscription, which
// nobody is waiting on; that subscription is returned.
func (r *runner) handleResponse(f *frame) (bool, *Subscription) {
	p, ok := r.pending[f.ID]
	if !ok {
		return f.Type != "error", nil
	}
	delete(r.pending, f.ID)

	switch f.Type {
	case "subscribed":
		var m subscribedMsg
		if err := json.Unmarshal(f.Msg, &m); err != nil {
			p.respond(errs.New(errs.KindDecode, errs.WithMessage("subscribed response"), errs.WithCause(err)))
			return true, nil
		}
		if !r.isActive(p.sub) {
			// Unsubscribed while the confirmation was in flight.
			if r.conn != nil {
				r.sendUnsubscribe(m.SID, p.sub, nil)
			}
			p.respond(nil)
			return true, nil
		}
		p.sub.sid.Store(m.SID)
		r.bySID[m.SID] = p.sub
		r.s.logger.Debug("subscribed", "subscription", p.sub.String(), "sid", m.SID, "epoch", r.epoch)
		p.respond(nil)

	case "error":
		var m errorMsg
		_ = json.Unmarshal(f.Msg, &m)
		err := errs.New(errs.KindInvalidRequest,
			errs.WithCode(strconv.Itoa(m.Code)),
			errs.WithMessage(m.Message),
		)
		if p.sub != nil && !p.unsub {
			r.remove(p.sub)
		}
		r.s.logger.Warn("command rejected", "id", f.ID, "error", err)
		if p.reply == nil && p.sub != nil && !p.unsub {
			r.s.setState(Connected, 0, r.epoch, fmt.Errorf("resubscribe %s: %w", p.sub, err))
			return false, p.sub
		}
		p.respond(err)

	default:
		p.respond(nil)
	}
	return true, nil
}

func (p pendingCmd) respond(err error) {
	if p.reply != nil {
		select {
		case p.reply <- err:
		default:
		}
	}
}

func (req request) respond(err error) {
	select {
	case req.reply <- err:
	default:
	}
}
