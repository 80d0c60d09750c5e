package authcore

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// MetricID identifies one engine counter.
type MetricID uint8

const (
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins (bad input or credentials).
	MetricLoginFailure
	// MetricLoginRateLimited counts throttled login attempts.
	MetricLoginRateLimited
	// MetricRefreshSuccess counts completed rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected rotations.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts rotations that hit an
	// already-revoked session: a replayed refresh key.
	MetricRefreshReuseDetected
	// MetricTokenDecodeFailure counts stored access tokens that failed
	// signature or structural verification during rotation.
	MetricTokenDecodeFailure
	// MetricSessionCreated counts persisted session records.
	MetricSessionCreated
	// MetricSessionRevoked counts revocations (rotation and explicit).
	MetricSessionRevoked

	metricCount
)

var counterDefs = [metricCount]struct {
	Name string
	Help string
}{
	MetricLoginSuccess:         {"authcore_login_success_total", "Successful logins."},
	MetricLoginFailure:         {"authcore_login_failure_total", "Rejected logins."},
	MetricLoginRateLimited:     {"authcore_login_rate_limited_total", "Throttled login attempts."},
	MetricRefreshSuccess:       {"authcore_refresh_success_total", "Completed refresh rotations."},
	MetricRefreshFailure:       {"authcore_refresh_failure_total", "Rejected refresh rotations."},
	MetricRefreshReuseDetected: {"authcore_refresh_reuse_detected_total", "Replayed refresh keys hitting revoked sessions."},
	MetricTokenDecodeFailure:   {"authcore_token_decode_failure_total", "Stored access tokens failing verification during rotation."},
	MetricSessionCreated:       {"authcore_session_created_total", "Persisted session records."},
	MetricSessionRevoked:       {"authcore_session_revoked_total", "Session revocations."},
}

// Metrics is a fixed set of atomic counters. A nil or disabled Metrics
// accepts increments and drops them.
type Metrics struct {
	enabled  bool
	counters [metricCount]atomic.Uint64
}

func newMetrics(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

func (m *Metrics) inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters, keyed by
// exposition name.
type MetricsSnapshot struct {
	Counters map[string]uint64
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	out := MetricsSnapshot{Counters: make(map[string]uint64, metricCount)}
	if m == nil {
		return out
	}
	for id := MetricID(0); id < metricCount; id++ {
		out.Counters[counterDefs[id].Name] = m.counters[id].Load()
	}
	return out
}

// RenderPrometheus writes all counters in Prometheus text exposition
// format.
func (m *Metrics) RenderPrometheus() string {
	if m == nil {
		return ""
	}

	var b strings.Builder
	b.Grow(2048)
	for id := MetricID(0); id < metricCount; id++ {
		def := counterDefs[id]
		b.WriteString("# HELP ")
		b.WriteString(def.Name)
		b.WriteByte(' ')
		b.WriteString(def.Help)
		b.WriteByte('\n')
		b.WriteString("# TYPE ")
		b.WriteString(def.Name)
		b.WriteString(" counter\n")
		b.WriteString(def.Name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(m.counters[id].Load(), 10))
		b.WriteByte('\n')
	}
	return b.String()
}
