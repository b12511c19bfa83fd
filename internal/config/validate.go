package config

import (
	"github.com/rickgao/kalshi-trade/internal/auth"
	"github.com/rickgao/kalshi-trade/internal/errs"
)

// Validate checks that all required fields are set and values are valid.
// Every failure is a configuration error.
func (c *Config) Validate() error {
	env, err := auth.ParseEnvironment(c.Environment)
	if err != nil {
		return err
	}

	if c.Credentials.KeyID == "" {
		return errs.Configuration("credentials.key_id is required")
	}
	if c.Credentials.PrivateKeyPath == "" {
		return errs.Configuration("credentials.private_key_path is required")
	}

	if env == auth.EnvProduction && (c.EndpointOverride.RestURL != "" || c.EndpointOverride.WSURL != "") {
		return errs.Configuration("endpoint_override is not allowed in production")
	}

	if c.API.Timeout < 0 {
		return errs.Configuration("api.timeout must be >= 0, got %v", c.API.Timeout)
	}
	if c.API.RetryBackoff < 0 {
		return errs.Configuration("api.retry_backoff must be >= 0, got %v", c.API.RetryBackoff)
	}
	if c.API.MaxBackoff > 0 && c.API.MaxBackoff < c.API.RetryBackoff {
		return errs.Configuration("api.max_backoff (%v) cannot be less than retry_backoff (%v)", c.API.MaxBackoff, c.API.RetryBackoff)
	}

	if c.Orders.ReconcileConcurrency < 1 {
		return errs.Configuration("orders.reconcile_concurrency must be >= 1")
	}

	if c.Stream.ReconnectBaseDelay <= 0 {
		return errs.Configuration("stream.reconnect_base_delay must be > 0")
	}
	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return errs.Configuration("stream.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			c.Stream.ReconnectMaxDelay, c.Stream.ReconnectBaseDelay)
	}
	if c.Stream.PingTimeout < 0 {
		return errs.Configuration("stream.ping_timeout must be >= 0")
	}
	if c.Stream.BufferSize < 1 {
		return errs.Configuration("stream.buffer_size must be >= 1")
	}

	return nil
}
