package config

import "time"

// Config is the root configuration for a trading client.
type Config struct {
	Environment      string            `yaml:"environment"`
	Credentials      CredentialsConfig `yaml:"credentials"`
	EndpointOverride EndpointConfig    `yaml:"endpoint_override"`
	API              APIConfig         `yaml:"api"`
	Orders           OrdersConfig      `yaml:"orders"`
	Stream           StreamConfig      `yaml:"stream"`
}

// CredentialsConfig points at the API key material.
type CredentialsConfig struct {
	KeyID          string `yaml:"key_id"`           // API key ID (for KALSHI-ACCESS-KEY header)
	PrivateKeyPath string `yaml:"private_key_path"` // Path to RSA private key PEM file
}

// EndpointConfig replaces the demo endpoints, for local test servers.
// It is rejected in production.
type EndpointConfig struct {
	RestURL string `yaml:"rest_url"`
	WSURL   string `yaml:"ws_url"`
}

// APIConfig holds REST dispatcher settings.
type APIConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"` // transient GET retries; negative disables
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	ReadRate     float64       `yaml:"read_rate"`  // requests/s; negative disables
	WriteRate    float64       `yaml:"write_rate"` // requests/s; negative disables
}

// OrdersConfig holds order manager settings.
type OrdersConfig struct {
	ReconcileConcurrency int `yaml:"reconcile_concurrency"`
}

// StreamConfig holds WebSocket subscriber settings.
type StreamConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	SubscribeTimeout   time.Duration `yaml:"subscribe_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}
