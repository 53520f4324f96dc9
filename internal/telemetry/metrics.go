// ABOUTME: Metric instruments for tool calls, auth rejections, and tunnel transitions.
// ABOUTME: Records through an OpenTelemetry meter; a nil *Metrics records nothing.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName identifies beacon's meter.
const InstrumentationName = "github.com/2389/beacon"

// durationBuckets are the histogram bounds, in seconds, used for tool durations.
var durationBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

// Metrics records beacon's operational metrics. A nil *Metrics is a no-op.
type Metrics struct {
	toolCalls         metric.Int64Counter
	toolDuration      metric.Float64Histogram
	authRejections    metric.Int64Counter
	tunnelTransitions metric.Int64Counter
}

// New creates Metrics on the given meter. Pass nil to use the global meter provider.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error
	m.toolCalls, err = meter.Int64Counter("beacon.tool.calls",
		metric.WithDescription("Number of tools/call requests by tool and outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating tool call counter: %w", err)
	}
	m.toolDuration, err = meter.Float64Histogram("beacon.tool.duration",
		metric.WithDescription("Tool execution time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	if err != nil {
		return nil, fmt.Errorf("creating tool duration histogram: %w", err)
	}
	m.authRejections, err = meter.Int64Counter("beacon.auth.rejections",
		metric.WithDescription("Requests rejected by bearer authentication"))
	if err != nil {
		return nil, fmt.Errorf("creating auth rejection counter: %w", err)
	}
	m.tunnelTransitions, err = meter.Int64Counter("beacon.tunnel.transitions",
		metric.WithDescription("Tunnel status transitions by state and provider"))
	if err != nil {
		return nil, fmt.Errorf("creating tunnel transition counter: %w", err)
	}

	return m, nil
}

// RecordToolCall records one tools/call outcome and its duration.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome)))
	m.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordAuthRejection counts a rejected request. reason is never sent to the client.
func (m *Metrics) RecordAuthRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.authRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTunnelTransition counts a published tunnel status.
func (m *Metrics) RecordTunnelTransition(ctx context.Context, state, provider string) {
	if m == nil {
		return
	}
	m.tunnelTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("provider", provider)))
}
