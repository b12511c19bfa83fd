package config

import (
	"log/slog"

	"github.com/rickgao/kalshi-trade/internal/api"
	"github.com/rickgao/kalshi-trade/internal/auth"
	"github.com/rickgao/kalshi-trade/internal/metrics"
	"github.com/rickgao/kalshi-trade/internal/order"
	"github.com/rickgao/kalshi-trade/internal/session"
	"github.com/rickgao/kalshi-trade/internal/stream"
)

// LoadCredentials reads the configured private key.
func (c *Config) LoadCredentials() (*auth.Credentials, error) {
	env, err := auth.ParseEnvironment(c.Environment)
	if err != nil {
		return nil, err
	}
	return auth.LoadCredentials(c.Credentials.KeyID, c.Credentials.PrivateKeyPath, env)
}

// NewSession builds a session for creds, applying any endpoint override.
func (c *Config) NewSession(creds *auth.Credentials, logger *slog.Logger) (*session.Session, error) {
	logger = orDefault(logger)
	opts := []session.Option{session.WithLogger(logger)}
	if c.EndpointOverride.RestURL != "" || c.EndpointOverride.WSURL != "" {
		opts = append(opts, session.WithEndpointOverride(c.EndpointOverride.RestURL, c.EndpointOverride.WSURL))
	}
	return session.New(creds, opts...)
}

// NewClient builds the REST dispatcher.
func (c *Config) NewClient(sess *session.Session, logger *slog.Logger, rec *metrics.Recorder) *api.Client {
	logger = orDefault(logger)
	maxRetries := c.API.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	opts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithMetrics(rec),
		api.WithRetries(maxRetries, c.API.RetryBackoff),
		api.WithRateLimits(c.API.ReadRate, c.API.WriteRate),
	}
	if c.API.Timeout > 0 {
		opts = append(opts, api.WithTimeout(c.API.Timeout))
	}
	if c.API.MaxBackoff > 0 {
		opts = append(opts, api.WithMaxBackoff(c.API.MaxBackoff))
	}
	return api.NewClient(sess, opts...)
}

// NewOrderManager builds the order manager on top of client.
func (c *Config) NewOrderManager(client *api.Client, logger *slog.Logger, rec *metrics.Recorder) *order.Manager {
	logger = orDefault(logger)
	return order.NewManager(client,
		order.WithLogger(logger),
		order.WithMetrics(rec),
		order.WithReconcileConcurrency(c.Orders.ReconcileConcurrency),
	)
}

// NewSubscriber builds a stream subscriber that dials sess's endpoint.
func (c *Config) NewSubscriber(sess *session.Session, logger *slog.Logger, rec *metrics.Recorder) *stream.Subscriber {
	logger = orDefault(logger)
	dialer := stream.NewWebSocketDialer(sess, logger)
	dialer.HandshakeTimeout = c.Stream.HandshakeTimeout
	dialer.WriteTimeout = c.Stream.WriteTimeout
	dialer.PingTimeout = c.Stream.PingTimeout

	return stream.NewSubscriber(dialer,
		stream.WithLogger(logger),
		stream.WithMetrics(rec),
		stream.WithConfig(stream.Config{
			ReconnectBaseDelay: c.Stream.ReconnectBaseDelay,
			ReconnectMaxDelay:  c.Stream.ReconnectMaxDelay,
			SubscribeTimeout:   c.Stream.SubscribeTimeout,
			BufferSize:         c.Stream.BufferSize,
		}),
	)
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
