package api

import (
	"context"
	"fmt"
)

// GetExchangeStatus fetches the current exchange status.
func (c *Client) GetExchangeStatus(ctx context.Context) (*ExchangeStatusResponse, error) {
	var resp ExchangeStatusResponse
	if err := c.get(ctx, "/exchange/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get exchange status: %w", err)
	}
	return &resp, nil
}

// GetExchangeSchedule fetches trading hours and maintenance windows.
func (c *Client) GetExchangeSchedule(ctx context.Context) (*ExchangeSchedule, error) {
	var resp ExchangeScheduleResponse
	if err := c.get(ctx, "/exchange/schedule", nil, &resp); err != nil {
		return nil, fmt.Errorf("get exchange schedule: %w", err)
	}
	return &resp.Schedule, nil
}
