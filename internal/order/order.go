// Package order builds, validates and submits orders and mirrors their
// last-known exchange status.
//
// Every order carries a client-generated UUID that the exchange deduplicates
// on, so a caller that resubmits after an ambiguous failure cannot create a
// second resting order. Mutating calls are never retried automatically.
package order

import (
	"github.com/google/uuid"
)

// Side is the contract side of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Action is buy or sell.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// Type is the order type.
type Type string

const (
	TypeLimit  Type = "limit"
	TypeMarket Type = "market"
)

// TimeInForce governs how long an order may rest. The zero value means
// good-till-canceled and is omitted on the wire.
type TimeInForce string

const (
	GoodTillCanceled  TimeInForce = ""
	FillOrKill        TimeInForce = "fill_or_kill"
	ImmediateOrCancel TimeInForce = "immediate_or_cancel"
)

// Legal limit prices in cents for a binary contract.
const (
	MinPrice = 1
	MaxPrice = 99
)

// MaxBatchSize is the most orders the exchange accepts in one batched call.
const MaxBatchSize = 20

// Order is a caller-owned order description. Price is in cents on Side's
// quote (yes_price for SideYes, no_price for SideNo).
type Order struct {
	ClientOrderID string
	Ticker        string
	Side          Side
	Action        Action
	Type          Type
	Price         int
	Count         int
	TimeInForce   TimeInForce

	ExpirationTS int64 // unix seconds, 0 for none
	BuyMaxCost   int   // cents, 0 for none
	PostOnly     bool
	ReduceOnly   bool
}

// NewClientOrderID returns a fresh idempotency key.
func NewClientOrderID() string {
	return uuid.NewString()
}

// NewLimitOrder builds a good-till-canceled limit order with a fresh
// client order id.
func NewLimitOrder(ticker string, side Side, action Action, price, count int) Order {
	return Order{
		ClientOrderID: NewClientOrderID(),
		Ticker:        ticker,
		Side:          side,
		Action:        action,
		Type:          TypeLimit,
		Price:         price,
		Count:         count,
	}
}

// NewMarketOrder builds a market order with a fresh client order id.
// maxCost bounds the total spend of a buy in cents; 0 leaves it unset.
func NewMarketOrder(ticker string, side Side, action Action, count, maxCost int) Order {
	return Order{
		ClientOrderID: NewClientOrderID(),
		Ticker:        ticker,
		Side:          side,
		Action:        action,
		Type:          TypeMarket,
		Count:         count,
		BuyMaxCost:    maxCost,
	}
}

// Ack is the exchange's acknowledgement of an order.
type Ack struct {
	OrderID        string
	ClientOrderID  string
	Ticker         string
	Status         Status
	FillCount      int
	RemainingCount int
}

// Outcome classifies one element of a batch submission.
type Outcome int

const (
	// OutcomeUnknown means the call carrying the element failed as a whole;
	// the order may or may not exist and must be reconciled.
	OutcomeUnknown Outcome = iota
	OutcomeAccepted
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ElementResult is the outcome for one input order. Ack is set when
// Accepted; Err carries the reason when Rejected or the call failure when
// Unknown.
type ElementResult struct {
	ClientOrderID string
	Outcome       Outcome
	Ack           *Ack
	Err           error
}

// BatchResult holds one ElementResult per input order, in input order.
type BatchResult struct {
	Results []ElementResult
}

// Accepted returns the accepted elements.
func (b *BatchResult) Accepted() []ElementResult {
	return b.filter(OutcomeAccepted)
}

// Rejected returns the rejected elements.
func (b *BatchResult) Rejected() []ElementResult {
	return b.filter(OutcomeRejected)
}

// Unknown returns the elements whose fate is unknown.
func (b *BatchResult) Unknown() []ElementResult {
	return b.filter(OutcomeUnknown)
}

func (b *BatchResult) filter(o Outcome) []ElementResult {
	var out []ElementResult
	for _, r := range b.Results {
		if r.Outcome == o {
			out = append(out, r)
		}
	}
	return out
}
