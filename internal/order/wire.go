package order

import (
	"github.com/rickgao/kalshi-trade/internal/api"
)

// createRequest is the POST /portfolio/orders body.
type createRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
	ExpirationTS  int64  `json:"expiration_ts,omitempty"`
	BuyMaxCost    int    `json:"buy_max_cost,omitempty"`
	PostOnly      bool   `json:"post_only,omitempty"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
	TimeInForce   string `json:"time_in_force,omitempty"`
}

func toCreateRequest(o Order) createRequest {
	req := createRequest{
		Ticker:        o.Ticker,
		ClientOrderID: o.ClientOrderID,
		Side:          string(o.Side),
		Action:        string(o.Action),
		Count:         o.Count,
		Type:          string(o.Type),
		ExpirationTS:  o.ExpirationTS,
		BuyMaxCost:    o.BuyMaxCost,
		PostOnly:      o.PostOnly,
		ReduceOnly:    o.ReduceOnly,
		TimeInForce:   string(o.TimeInForce),
	}
	if o.Side == SideYes {
		req.YesPrice = o.Price
	} else {
		req.NoPrice = o.Price
	}
	return req
}

type batchRequest struct {
	Orders []createRequest `json:"orders"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

type batchElement struct {
	ClientOrderID string        `json:"client_order_id"`
	Order         *api.APIOrder `json:"order"`
	Error         *wireError    `json:"error"`
}

type batchResponse struct {
	Orders []batchElement `json:"orders"`
}

type cancelResponse struct {
	Order     api.APIOrder `json:"order"`
	ReducedBy int          `json:"reduced_by"`
}

// amendRequest is the POST /portfolio/orders/{id}/amend body.
type amendRequest struct {
	Ticker               string `json:"ticker"`
	Side                 string `json:"side"`
	Action               string `json:"action"`
	ClientOrderID        string `json:"client_order_id"`
	UpdatedClientOrderID string `json:"updated_client_order_id"`
	YesPrice             int    `json:"yes_price,omitempty"`
	NoPrice              int    `json:"no_price,omitempty"`
	Count                int    `json:"count"`
}

type amendResponse struct {
	OldOrder api.APIOrder `json:"old_order"`
	Order    api.APIOrder `json:"order"`
}

type decreaseRequest struct {
	ReduceBy int `json:"reduce_by"`
}

func ackFromAPI(o *api.APIOrder) Ack {
	return Ack{
		OrderID:        o.OrderID,
		ClientOrderID:  o.ClientOrderID,
		Ticker:         o.Ticker,
		Status:         ParseStatus(o.Status, o.FillCount),
		FillCount:      o.FillCount,
		RemainingCount: o.RemainingCount,
	}
}
