package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetTrades fetches a page of public trades.
func (c *Client) GetTrades(ctx context.Context, opts GetTradesOptions) (*TradesResponse, error) {
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
	if opts.MinTS > 0 {
		query.Set("min_ts", strconv.FormatInt(opts.MinTS, 10))
	}
	if opts.MaxTS > 0 {
		query.Set("max_ts", strconv.FormatInt(opts.MaxTS, 10))
	}

	var resp TradesResponse
	if err := c.get(ctx, "/markets/trades", query, &resp); err != nil {
		return nil, fmt.Errorf("get trades: %w", err)
	}
	return &resp, nil
}
