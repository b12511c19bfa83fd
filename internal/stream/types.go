package stream

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Errors
var (
	ErrNotConnected    = errors.New("stream: not connected")
	ErrStaleConnection = errors.New("stream: connection stale (no ping)")
	ErrTimeout         = errors.New("stream: operation timeout")
	ErrClosed          = errors.New("stream: closed")
	ErrUnknownSub      = errors.New("stream: unknown subscription")
)

// Well-known channel names.
const (
	ChannelOrderbookDelta  = "orderbook_delta"
	ChannelTicker          = "ticker"
	ChannelTrade           = "trade"
	ChannelFill            = "fill"
	ChannelMarketLifecycle = "market_lifecycle_v2"
)

// State is the connection state of a Subscriber.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange is published on every transition. Attempt counts reconnect
// attempts and is only non-zero while Reconnecting.
type StateChange struct {
	State   State
	Attempt int
	Epoch   uint64
	Err     error
}

// Params narrows a subscription to markets. Both empty means all markets,
// which some channels (fill, market lifecycle) require.
type Params struct {
	MarketTicker  string
	MarketTickers []string
}

// Subscription is an active channel subscription. It is reissued verbatim
// after every reconnect.
type Subscription struct {
	Channel string
	Params  Params

	sid atomic.Int64
}

// SID returns the server-assigned id from the current connection, or 0 if
// the subscription has not been confirmed yet.
func (s *Subscription) SID() int64 {
	return s.sid.Load()
}

func (s *Subscription) String() string {
	switch {
	case s.Params.MarketTicker != "":
		return s.Channel + ":" + s.Params.MarketTicker
	case len(s.Params.MarketTickers) > 0:
		return fmt.Sprintf("%s:%v", s.Channel, s.Params.MarketTickers)
	default:
		return s.Channel
	}
}

// Message is one inbound data frame.
type Message struct {
	Type         string          // "orderbook_snapshot", "orderbook_delta", "fill", ...
	SID          int64           // server subscription id, 0 for unsolicited frames
	Seq          int64           // per-subscription sequence number, 0 if absent
	Subscription *Subscription   // nil if the sid is unknown
	Msg          json.RawMessage // channel payload
	Raw          []byte          // full frame
	Epoch        uint64          // connection epoch the frame arrived on
	ReceivedAt   time.Time       // local timestamp when the frame was read
	SeqGap       bool            // true if a sequence gap preceded this message
	GapSize      int             // number of missed messages (0 if no gap)
}

// command is a control frame sent to the server.
type command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"`
	Params any    `json:"params"`
}

type subscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTicker  string   `json:"market_ticker,omitempty"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

type unsubscribeParams struct {
	SIDs []int64 `json:"sids"`
}

// frame is the common envelope of every inbound message.
type frame struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Seq  int64           `json:"seq"`
	Msg  json.RawMessage `json:"msg"`
}

type subscribedMsg struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

type errorMsg struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// isResponse reports whether f answers a command.
func (f *frame) isResponse() bool {
	switch f.Type {
	case "subscribed", "unsubscribed", "ok", "error":
		return f.ID != 0 || f.Type == "error"
	}
	return false
}
