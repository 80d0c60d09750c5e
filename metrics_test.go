package authcore

import (
	"strings"
	"sync"
	"testing"
)

func TestMetricsSnapshot(t *testing.T) {
	m := newMetrics(true)
	m.inc(MetricLoginSuccess)
	m.inc(MetricLoginSuccess)
	m.inc(MetricRefreshReuseDetected)

	snap := m.Snapshot()
	if got := snap.Counters["authcore_login_success_total"]; got != 2 {
		t.Fatalf("login success = %d, want 2", got)
	}
	if got := snap.Counters["authcore_refresh_reuse_detected_total"]; got != 1 {
		t.Fatalf("reuse detected = %d, want 1", got)
	}
	if got := snap.Counters["authcore_session_created_total"]; got != 0 {
		t.Fatalf("session created = %d, want 0", got)
	}
}

func TestMetricsDisabledAndNil(t *testing.T) {
	m := newMetrics(false)
	m.inc(MetricLoginSuccess)
	if got := m.Snapshot().Counters["authcore_login_success_total"]; got != 0 {
		t.Fatalf("disabled metrics counted: %d", got)
	}

	var nilM *Metrics
	nilM.inc(MetricLoginSuccess)
	if snap := nilM.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("nil snapshot not empty: %+v", snap)
	}
	if out := nilM.RenderPrometheus(); out != "" {
		t.Fatalf("nil render not empty: %q", out)
	}
}

func TestMetricsConcurrentIncrement(t *testing.T) {
	m := newMetrics(true)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.inc(MetricSessionCreated)
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().Counters["authcore_session_created_total"]; got != 800 {
		t.Fatalf("session created = %d, want 800", got)
	}
}

func TestRenderPrometheus(t *testing.T) {
	m := newMetrics(true)
	m.inc(MetricRefreshSuccess)

	out := m.RenderPrometheus()
	for _, want := range []string{
		"# HELP authcore_refresh_success_total Completed refresh rotations.\n",
		"# TYPE authcore_refresh_success_total counter\n",
		"authcore_refresh_success_total 1\n",
		"authcore_login_failure_total 0\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}
