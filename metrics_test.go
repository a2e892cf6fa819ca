package issueguard

import (
	"sync"
	"testing"
)

func TestMetricsCountsConcurrently(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricLoginSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricLoginSuccess); got != 8000 {
		t.Fatalf("counter = %d, want 8000", got)
	}
	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 8000 {
		t.Fatalf("snapshot = %d, want 8000", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 0 {
		t.Fatalf("untouched counter = %d, want 0", snap.Counters[MetricLoginFailure])
	}
}

func TestMetricsDisabledIsInert(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLogout)
	if m.Value(MetricLogout) != 0 {
		t.Fatal("disabled metrics should not count")
	}
	if len(m.Snapshot().Counters) != 0 {
		t.Fatal("disabled metrics should snapshot empty")
	}
}

func TestMetricNamesComplete(t *testing.T) {
	for id := MetricID(0); id < metricIDCount; id++ {
		if id.Name() == "" {
			t.Fatalf("metric %d has no exposition name", id)
		}
	}
}
