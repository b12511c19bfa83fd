package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/kalshi-trade/internal/errs"
)

// Candle widths accepted by the candlesticks endpoint, in minutes.
const (
	PeriodMinute = 1
	PeriodHour   = 60
	PeriodDay    = 1440
)

// GetMarketCandlesticks fetches OHLC buckets for one market. The request is
// rejected locally unless PeriodInterval is 1, 60 or 1440 and the time range
// is well formed.
func (c *Client) GetMarketCandlesticks(ctx context.Context, seriesTicker, ticker string, opts GetCandlesticksOptions) (*CandlesticksResponse, error) {
	switch opts.PeriodInterval {
	case PeriodMinute, PeriodHour, PeriodDay:
	default:
		return nil, errs.InvalidRequest("period_interval must be 1, 60 or 1440, got %d", opts.PeriodInterval)
	}
	if seriesTicker == "" || ticker == "" {
		return nil, errs.InvalidRequest("series and market ticker are required")
	}
	if opts.StartTS <= 0 || opts.EndTS <= 0 || opts.EndTS < opts.StartTS {
		return nil, errs.InvalidRequest("invalid time range [%d, %d]", opts.StartTS, opts.EndTS)
	}

	query := url.Values{}
	query.Set("start_ts", strconv.FormatInt(opts.StartTS, 10))
	query.Set("end_ts", strconv.FormatInt(opts.EndTS, 10))
	query.Set("period_interval", strconv.Itoa(opts.PeriodInterval))

	path := "/series/" + url.PathEscape(seriesTicker) + "/markets/" + url.PathEscape(ticker) + "/candlesticks"
	var resp CandlesticksResponse
	if err := c.get(ctx, path, query, &resp); err != nil {
		return nil, fmt.Errorf("get candlesticks %s: %w", ticker, err)
	}
	return &resp, nil
}
