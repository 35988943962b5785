package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Outcome labels for query metrics
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// GatewayInstruments are the instruments recorded by the tenant query gateway.
// Tenant identifiers are never used as metric attributes.
type GatewayInstruments struct {
	queries       metric.Int64Counter
	duration      metric.Float64Histogram
	activeClients metric.Int64UpDownCounter
	rejections    metric.Int64Counter
}

// NewGatewayInstruments registers the gateway instruments on m
func NewGatewayInstruments(m *Meter) (*GatewayInstruments, error) {
	queries, err := m.CreateCounter("gateway.queries", "Statements executed through the tenant gateway")
	if err != nil {
		return nil, err
	}
	duration, err := m.CreateHistogram("gateway.query.duration", "Statement execution time", "ms")
	if err != nil {
		return nil, err
	}
	active, err := m.CreateUpDownCounter("gateway.clients.active", "Tenant clients currently holding a pooled connection")
	if err != nil {
		return nil, err
	}
	rejections, err := m.CreateCounter("gateway.tenant.rejections", "Calls refused because no tenant identifier was supplied")
	if err != nil {
		return nil, err
	}

	return &GatewayInstruments{
		queries:       queries,
		duration:      duration,
		activeClients: active,
		rejections:    rejections,
	}, nil
}

// NoopGatewayInstruments returns instruments that record nothing
func NoopGatewayInstruments() *GatewayInstruments {
	gi, _ := NewGatewayInstruments(NewFromProvider(noop.NewMeterProvider(), "noop"))
	return gi
}

// RecordQuery counts one statement and its latency
func (g *GatewayInstruments) RecordQuery(ctx context.Context, operation, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	g.queries.Add(ctx, 1, attrs)
	g.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// ClientAcquired marks a tenant client as holding a connection
func (g *GatewayInstruments) ClientAcquired(ctx context.Context) {
	g.activeClients.Add(ctx, 1)
}

// ClientReleased marks a tenant client as having returned its connection
func (g *GatewayInstruments) ClientReleased(ctx context.Context) {
	g.activeClients.Add(ctx, -1)
}

// TenantRejected counts a fail-closed refusal
func (g *GatewayInstruments) TenantRejected(ctx context.Context) {
	g.rejections.Add(ctx, 1)
}
