package otel

import (
	"context"
	"sync"
	"testing"

	healthauth "github.com/ppulimamidy/PersonalHealthAssistant-sub005"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot healthauth.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() healthauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := healthauth.MetricsSnapshot{
		Counters:      make(map[healthauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[healthauth.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[healthauth.MetricID]float64, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findInt64(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			case metricdata.Gauge[int64]:
				if len(data.DataPoints) > 0 {
					return data.DataPoints[0].Value, true
				}
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("healthauth-test")

	src := &fakeSource{
		snapshot: healthauth.MetricsSnapshot{
			Counters: map[healthauth.MetricID]uint64{
				healthauth.MetricLoginSuccess: 3,
			},
			Histograms: map[healthauth.MetricID][]uint64{
				healthauth.MetricCredentialVerifyLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[healthauth.MetricID]float64{
				healthauth.MetricCredentialVerifyLatency: 1.25,
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v, ok := findInt64(rm, "healthauth_login_success_total"); !ok || v != 3 {
		t.Fatalf("login success = %d (found %v), want 3", v, ok)
	}
	if v, ok := findInt64(rm, "healthauth_credential_verify_latency_seconds_bucket_le_0_025"); !ok || v != 3 {
		t.Fatalf("bucket le 0.025 = %d (found %v), want 3", v, ok)
	}
	if v, ok := findInt64(rm, "healthauth_credential_verify_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("count = %d (found %v), want 8", v, ok)
	}
	if v, ok := findInt64(rm, "healthauth_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("audit dropped = %d (found %v), want 1", v, ok)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	meter := provider.Meter("healthauth-test")

	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	meter := provider.Meter("healthauth-test")

	src := &fakeSource{
		snapshot: healthauth.MetricsSnapshot{
			Counters: map[healthauth.MetricID]uint64{
				healthauth.MetricLoginSuccess: 1,
			},
			Histograms: map[healthauth.MetricID][]uint64{
				healthauth.MetricCredentialVerifyLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[healthauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
