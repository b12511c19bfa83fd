package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GetSeries fetches a series by ticker.
func (c *Client) GetSeries(ctx context.Context, seriesTicker string) (*APISeries, error) {
	var resp SeriesResponse
	if err := c.get(ctx, "/series/"+url.PathEscape(seriesTicker), nil, &resp); err != nil {
		return nil, fmt.Errorf("get series %s: %w", seriesTicker, err)
	}
	return &resp.Series, nil
}

// GetSeriesList fetches a page of series, optionally filtered by category or tags.
func (c *Client) GetSeriesList(ctx context.Context, opts GetSeriesListOptions) (*SeriesListResponse, error) {
	query := url.Values{}
	if opts.Category != "" {
		query.Set("category", opts.Category)
	}
	if len(opts.Tags) > 0 {
		query.Set("tags", strings.Join(opts.Tags, ","))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp SeriesListResponse
	if err := c.get(ctx, "/series", query, &resp); err != nil {
		return nil, fmt.Errorf("get series list: %w", err)
	}
	return &resp, nil
}
