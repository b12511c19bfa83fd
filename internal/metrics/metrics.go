package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope for every instrument here.
const ScopeName = "github.com/rickgao/kalshi-trade"

// Recorder holds the instruments. A nil *Recorder records nothing.
type Recorder struct {
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	retries         metric.Int64Counter
	orders          metric.Int64Counter
	reconnects      metric.Int64Counter
	seqGaps         metric.Int64Counter
}

// New builds a Recorder from mp, or from the global provider when mp is nil.
// Instruments that fail to register are left nil and skipped.
func New(mp metric.MeterProvider) *Recorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(ScopeName)
	r := &Recorder{}

	if c, err := meter.Int64Counter("kalshi.requests",
		metric.WithDescription("REST requests by method and outcome kind"),
		metric.WithUnit("{request}")); err == nil {
		r.requests = c
	}
	if h, err := meter.Float64Histogram("kalshi.request.duration",
		metric.WithDescription("REST request latency including signing"),
		metric.WithUnit("s")); err == nil {
		r.requestDuration = h
	}
	if c, err := meter.Int64Counter("kalshi.retries",
		metric.WithDescription("Automatic retries of idempotent reads"),
		metric.WithUnit("{retry}")); err == nil {
		r.retries = c
	}
	if c, err := meter.Int64Counter("kalshi.orders",
		metric.WithDescription("Order operations by op and outcome"),
		metric.WithUnit("{order}")); err == nil {
		r.orders = c
	}
	if c, err := meter.Int64Counter("kalshi.stream.reconnects",
		metric.WithDescription("Stream reconnect attempts"),
		metric.WithUnit("{attempt}")); err == nil {
		r.reconnects = c
	}
	if c, err := meter.Int64Counter("kalshi.stream.sequence_gaps",
		metric.WithDescription("Sequence gaps observed on stream subscriptions"),
		metric.WithUnit("{gap}")); err == nil {
		r.seqGaps = c
	}

	return r
}

// Request records one completed REST call. kind is empty on success.
func (r *Recorder) Request(ctx context.Context, method, kind string, d time.Duration) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("kind", kind),
	)
	if r.requests != nil {
		r.requests.Add(ctx, 1, attrs)
	}
	if r.requestDuration != nil {
		r.requestDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// Retry records an automatic retry with its triggering kind.
func (r *Recorder) Retry(ctx context.Context, kind string) {
	if r == nil || r.retries == nil {
		return
	}
	r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Order records an order operation outcome, e.g. ("submit", "accepted").
func (r *Recorder) Order(ctx context.Context, op, outcome string) {
	if r == nil || r.orders == nil {
		return
	}
	r.orders.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// Reconnect records a stream reconnect attempt.
func (r *Recorder) Reconnect(ctx context.Context, success bool) {
	if r == nil || r.reconnects == nil {
		return
	}
	r.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// SequenceGap records missed stream messages on a channel.
func (r *Recorder) SequenceGap(ctx context.Context, channel string, missed int) {
	if r == nil || r.seqGaps == nil || missed <= 0 {
		return
	}
	r.seqGaps.Add(ctx, int64(missed), metric.WithAttributes(attribute.String("channel", channel)))
}
