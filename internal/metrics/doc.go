// Package metrics provides OpenTelemetry instruments for the client.
//
// Key metrics:
//   - REST request counts and latency by method and outcome kind
//   - automatic retries of idempotent reads
//   - order submissions, batch element outcomes and cancels
//   - stream reconnects and sequence gaps
//
// Instruments come from the global MeterProvider unless one is supplied, so
// they are no-ops until the host process installs an SDK provider.
package metrics
