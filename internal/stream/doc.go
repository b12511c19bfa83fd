// Package stream maintains an authenticated WebSocket subscription session.
//
// A Subscriber owns one connection at a time. Its run loop is a state
// machine driven by events (dial results, inbound frames, connection loss,
// caller commands) rather than nested retry loops:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Reconnecting(1) -> Connected
//	Reconnecting(n) -> Reconnecting(n+1)   (dial failed, capped backoff)
//	Reconnecting(n) -> Disconnected        (authentication refused)
//
// After every reconnect the active subscriptions are reissued in their
// original order before any message from the new connection is delivered.
// Delivery is ordered within one connection epoch. Messages sent while
// disconnected are lost; Message.Epoch tells connections apart and
// Message.SeqGap reports gaps inside one.
//
// WebSocket endpoints:
//   - Production: wss://api.elections.kalshi.com/trade-api/ws/v2
//   - Demo: wss://demo-api.kalshi.co/trade-api/ws/v2
package stream
