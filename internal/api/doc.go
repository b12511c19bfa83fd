// Package api is the signed REST dispatcher and the read-only endpoint
// wrappers built on it.
//
// REST endpoints:
//   - Production: https://api.elections.kalshi.com/trade-api/v2
//   - Demo: https://demo-api.kalshi.co/trade-api/v2
//
// Every call is signed fresh by the session. Failures are classified into
// the errs taxonomy: 401/403 authentication, 429 rate limited, 5xx and
// transport failures transient, other 4xx invalid request. Only GET requests
// are retried automatically; mutating calls surface their first failure.
package api
