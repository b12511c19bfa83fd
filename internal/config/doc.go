// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which is how credentials are normally supplied:
//
//	environment: demo
//	credentials:
//	  key_id: ${KALSHI_KEY_ID}
//	  private_key_path: ${KALSHI_PRIVATE_KEY_PATH}
//
// The builders in this package turn a validated Config into the session, REST
// client, order manager and stream subscriber.
package config
