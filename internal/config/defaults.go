package config

import (
	"github.com/rickgao/kalshi-trade/internal/api"
	"github.com/rickgao/kalshi-trade/internal/order"
	"github.com/rickgao/kalshi-trade/internal/stream"
)

// Default values for optional configuration fields.
const (
	DefaultBufferSize = 10000
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = api.DefaultTimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = api.DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = api.DefaultRetryBackoff
	}
	if c.API.MaxBackoff == 0 {
		c.API.MaxBackoff = api.DefaultMaxBackoff
	}
	if c.API.ReadRate == 0 {
		c.API.ReadRate = api.DefaultReadRate
	}
	if c.API.WriteRate == 0 {
		c.API.WriteRate = api.DefaultWriteRate
	}

	// Orders defaults
	if c.Orders.ReconcileConcurrency == 0 {
		c.Orders.ReconcileConcurrency = order.DefaultReconcileConcurrency
	}

	// Stream defaults
	sd := stream.DefaultConfig()
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = sd.ReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = sd.ReconnectMaxDelay
	}
	if c.Stream.HandshakeTimeout == 0 {
		c.Stream.HandshakeTimeout = stream.DefaultHandshakeTimeout
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = stream.DefaultWriteTimeout
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = stream.DefaultPingTimeout
	}
	if c.Stream.SubscribeTimeout == 0 {
		c.Stream.SubscribeTimeout = sd.SubscribeTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultBufferSize
	}
}
