package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// GetEvents fetches a page of events.
func (c *Client) GetEvents(ctx context.Context, opts GetEventsOptions) (*EventsResponse, error) {
	query := url.Values{}

	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		query.Set("cursor", opts.Cursor)
	}
	if opts.SeriesTicker != "" {
		query.Set("series_ticker", opts.SeriesTicker)
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.WithNestedMarkets {
		query.Set("with_nested_markets", "true")
	}

	var resp EventsResponse
	if err := c.get(ctx, "/events", query, &resp); err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}

	return &resp, nil
}

// GetAllEvents fetches all events by paginating through results.
// Uses DefaultPaginationTimeout (10m) if the context has no deadline.
func (c *Client) GetAllEvents(ctx context.Context, opts GetEventsOptions) ([]APIEvent, error) {
	ctx, cancel := paginationContext(ctx)
	defer cancel()

	var allEvents []APIEvent
	opts.Limit = 200
	opts.Cursor = ""

	for {
		resp, err := c.GetEvents(ctx, opts)
		if err != nil {
			return nil, err
		}

		allEvents = append(allEvents, resp.Events...)

		if resp.Cursor == "" {
			break
		}
		opts.Cursor = resp.Cursor
	}

	return allEvents, nil
}

// GetEvent fetches a single event by ticker. With nested markets the
// event's markets are attached to the returned event.
func (c *Client) GetEvent(ctx context.Context, eventTicker string, withNestedMarkets bool) (*APIEvent, error) {
	var query url.Values
	if withNestedMarkets {
		query = url.Values{"with_nested_markets": {"true"}}
	}

	var resp SingleEventResponse
	if err := c.get(ctx, "/events/"+url.PathEscape(eventTicker), query, &resp); err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventTicker, err)
	}

	event := resp.Event
	if len(event.Markets) == 0 && len(resp.Markets) > 0 {
		event.Markets = resp.Markets
	}
	return &event, nil
}
