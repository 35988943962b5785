package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestGatewayInstruments_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	gi, err := NewGatewayInstruments(NewFromProvider(provider, "thundertext-test"))
	require.NoError(t, err)

	ctx := context.Background()
	gi.ClientAcquired(ctx)
	gi.RecordQuery(ctx, "SELECT", OutcomeSuccess, 3*time.Millisecond)
	gi.RecordQuery(ctx, "INSERT", OutcomeError, time.Millisecond)
	gi.ClientReleased(ctx)
	gi.TenantRejected(ctx)

	data := collect(t, reader)

	queries, ok := data["gateway.queries"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range queries.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, queries.DataPoints, 2, "one series per operation/outcome pair")

	active, ok := data["gateway.clients.active"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	assert.Equal(t, int64(0), active.DataPoints[0].Value)

	rejections, ok := data["gateway.tenant.rejections"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, rejections.DataPoints, 1)
	assert.Equal(t, int64(1), rejections.DataPoints[0].Value)

	_, ok = data["gateway.query.duration"].(metricdata.Histogram[float64])
	assert.True(t, ok)
}

func TestNoopGatewayInstruments(t *testing.T) {
	gi := NoopGatewayInstruments()
	require.NotNil(t, gi)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		gi.ClientAcquired(ctx)
		gi.RecordQuery(ctx, "SELECT", OutcomeSuccess, time.Millisecond)
		gi.ClientReleased(ctx)
		gi.TenantRejected(ctx)
	})
}

func TestNew_DisabledUsesNoop(t *testing.T) {
	m, err := New(context.Background(), Config{Enabled: false}, "thundertext")
	require.NoError(t, err)

	counter, err := m.CreateCounter("test.counter", "test")
	require.NoError(t, err)
	assert.NotPanics(t, func() { counter.Add(context.Background(), 1) })
}

// TestPurpose: Validates that an enabled meter exports gateway instruments on the Prometheus registry.
// Scope: Unit Test
// Expected: After recording, the registry gathers gateway query, duration, active client and rejection families.
// Test Case ID: MET-01
func TestNew_EnabledExportsToRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(context.Background(), Config{Enabled: true, ServiceVersion: "test", Registerer: reg}, "thundertext-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	gi, err := NewGatewayInstruments(m)
	require.NoError(t, err)

	ctx := context.Background()
	gi.ClientAcquired(ctx)
	gi.RecordQuery(ctx, "SELECT", OutcomeSuccess, 2*time.Millisecond)
	gi.RecordQuery(ctx, "SELECT", OutcomeSuccess, 4*time.Millisecond)
	gi.TenantRejected(ctx)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := func(prefix string) float64 {
		for _, mf := range families {
			if !strings.HasPrefix(mf.GetName(), prefix) {
				continue
			}
			var v float64
			for _, metric := range mf.GetMetric() {
				switch {
				case metric.GetCounter() != nil:
					v += metric.GetCounter().GetValue()
				case metric.GetGauge() != nil:
					v += metric.GetGauge().GetValue()
				case metric.GetHistogram() != nil:
					v += float64(metric.GetHistogram().GetSampleCount())
				}
			}
			return v
		}
		t.Fatalf("no metric family with prefix %q", prefix)
		return 0
	}

	assert.Equal(t, 2.0, found("gateway_queries"))
	assert.Equal(t, 2.0, found("gateway_query_duration"))
	assert.Equal(t, 1.0, found("gateway_clients_active"))
	assert.Equal(t, 1.0, found("gateway_tenant_rejections"))
}

func TestMeter_ShutdownWithoutProvider(t *testing.T) {
	m, err := New(context.Background(), Config{}, "thundertext")
	require.NoError(t, err)
	assert.NoError(t, m.Shutdown(context.Background()))
}
