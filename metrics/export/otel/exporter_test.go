package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authsession"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authsession.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authsession.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authsession.MetricsSnapshot{
		Counters:   make(map[authsession.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authsession.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				return sum.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("authsession-test")

	src := &fakeSource{
		snapshot: authsession.MetricsSnapshot{
			Counters: map[authsession.MetricID]uint64{
				authsession.MetricLoginSuccess:      3,
				authsession.MetricFamilyCompromised: 1,
			},
			Histograms: map[authsession.MetricID][]uint64{
				authsession.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
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
	if v, ok := findSum(rm, "authsession_login_success_total"); !ok || v != 3 {
		t.Fatalf("login success = %d (found=%v), want 3", v, ok)
	}
	if v, ok := findSum(rm, "authsession_family_compromised_total"); !ok || v != 1 {
		t.Fatalf("family compromised = %d (found=%v), want 1", v, ok)
	}
	if v, ok := findSum(rm, "authsession_audit_dropped_total"); !ok || v != 1 {
		t.Fatalf("audit dropped = %d (found=%v), want 1", v, ok)
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	_, provider := newMeter()
	meter := provider.Meter("authsession-test")

	if _, err := NewExporter(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
	var engine *authsession.Engine
	if _, err := NewExporter(meter, engine); err == nil {
		t.Fatal("expected error for nil engine")
	}
	if _, err := NewExporter(nil, &fakeSource{}); err == nil {
		t.Fatal("expected error for nil meter")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newMeter()
	meter := provider.Meter("authsession-test")

	src := &fakeSource{
		snapshot: authsession.MetricsSnapshot{
			Counters: map[authsession.MetricID]uint64{
				authsession.MetricLoginSuccess: 1,
			},
			Histograms: map[authsession.MetricID][]uint64{},
		},
	}

	exp, err := NewExporter(meter, src)
	if err != nil {
		t.Fatalf("NewExporter failed: %v", err)
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
			src.snapshot.Counters[authsession.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
