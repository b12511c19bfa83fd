package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// maxPageSize is the largest page the list endpoints accept.
const maxPageSize = 1000

// GetMarkets fetches a page of markets.
func (c *Client) GetMarkets(ctx context.Context, opts GetMarketsOptions) (*MarketsResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.EventTicker != "" {
		query.Set("event_ticker", opts.EventTicker)
	}
	if opts.SeriesTicker != "" {
		query.Set("series_ticker", opts.SeriesTicker)
	}
	if len(opts.Tickers) > 0 {
		query.Set("tickers", strings.Join(opts.Tickers, ","))
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.MinCloseTS > 0 {
		query.Set("min_close_ts", strconv.FormatInt(opts.MinCloseTS, 10))
	}
	if opts.MaxCloseTS > 0 {
		query.Set("max_close_ts", strconv.FormatInt(opts.MaxCloseTS, 10))
	}

	var resp MarketsResponse
	if err := c.get(ctx, "/markets", query, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}

	return &resp, nil
}

// GetAllMarkets fetches every market matching opts by following cursors.
// Uses DefaultPaginationTimeout if the context has no deadline.
func (c *Client) GetAllMarkets(ctx context.Context, opts GetMarketsOptions) ([]APIMarket, error) {
	ctx, cancel := paginationContext(ctx)
	defer cancel()

	var allMarkets []APIMarket
	opts.Limit = maxPageSize
	opts.Cursor = ""

	for {
		resp, err := c.GetMarkets(ctx, opts)
		if err != nil {
			return nil, err
		}

		allMarkets = append(allMarkets, resp.Markets...)

		if resp.Cursor == "" {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return allMarkets, nil
}

// GetMarket fetches a single market by ticker.
func (c *Client) GetMarket(ctx context.Context, ticker string) (*APIMarket, error) {
	var resp SingleMarketResponse
	if err := c.get(ctx, "/markets/"+url.PathEscape(ticker), nil, &resp); err != nil {
		return nil, fmt.Errorf("get market %s: %w", ticker, err)
	}
	return &resp.Market, nil
}

// GetOrderbook fetches the orderbook for a market. depth <= 0 returns all levels.
func (c *Client) GetOrderbook(ctx context.Context, ticker string, depth int) (*OrderbookResponse, error) {
	query := url.Values{}
	if depth > 0 {
		query.Set("depth", strconv.Itoa(depth))
	}

	var resp OrderbookResponse
	if err := c.get(ctx, "/markets/"+url.PathEscape(ticker)+"/orderbook", query, &resp); err != nil {
		return nil, fmt.Errorf("get orderbook %s: %w", ticker, err)
	}

	return &resp, nil
}

// paginationContext bounds a multi-page walk when the caller set no deadline.
func paginationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultPaginationTimeout)
}
