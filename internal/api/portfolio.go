package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetBalance fetches the account balance in cents.
func (c *Client) GetBalance(ctx context.Context) (*BalanceResponse, error) {
	var resp BalanceResponse
	if err := c.get(ctx, "/portfolio/balance", nil, &resp); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &resp, nil
}

// GetPositions fetches a page of market and event positions.
func (c *Client) GetPositions(ctx context.Context, opts GetPositionsOptions) (*PositionsResponse, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.Ticker != "" {
		query.Set("ticker", opts.Ticker)
	}
	if opts.EventTicker != "" {
		query.Set("event_ticker", opts.EventTicker)
	}

	var resp PositionsResponse
	if err := c.get(ctx, "/portfolio/positions", query, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return &resp, nil
}

// GetFills fetches a page of the account's executions.
func (c *Client) GetFills(ctx context.Context, opts GetFillsOptions) (*FillsResponse, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.Ticker != "" {
		query.Set("ticker", opts.Ticker)
	}
	if opts.OrderID != "" {
		query.Set("order_id", opts.OrderID)
	}
	if opts.MinTS > 0 {
		query.Set("min_ts", strconv.FormatInt(opts.MinTS, 10))
	}
	if opts.MaxTS > 0 {
		query.Set("max_ts", strconv.FormatInt(opts.MaxTS, 10))
	}

	var resp FillsResponse
	if err := c.get(ctx, "/portfolio/fills", query, &resp); err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	return &resp, nil
}

// GetOrders fetches a page of the account's orders.
func (c *Client) GetOrders(ctx context.Context, opts GetOrdersOptions) (*OrdersResponse, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.Ticker != "" {
		query.Set("ticker", opts.Ticker)
	}
	if opts.EventTicker != "" {
		query.Set("event_ticker", opts.EventTicker)
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.MinTS > 0 {
		query.Set("min_ts", strconv.FormatInt(opts.MinTS, 10))
	}
	if opts.MaxTS > 0 {
		query.Set("max_ts", strconv.FormatInt(opts.MaxTS, 10))
	}

	var resp OrdersResponse
	if err := c.get(ctx, "/portfolio/orders", query, &resp); err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	return &resp, nil
}

// GetOrder fetches one order by exchange id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*APIOrder, error) {
	var resp SingleOrderResponse
	if err := c.get(ctx, "/portfolio/orders/"+url.PathEscape(orderID), nil, &resp); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &resp.Order, nil
}
