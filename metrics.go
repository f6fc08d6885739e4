package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint8

const (
	// MetricLoginSuccess counts terminal successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins of any cause.
	MetricLoginFailure
	// MetricLoginLocked counts logins refused by an active lockout and
	// attempts that triggered one.
	MetricLoginLocked
	// MetricMFARequired counts logins parked on a pending MFA session.
	MetricMFARequired
	// MetricMFASuccess counts completed second-factor verifications.
	MetricMFASuccess
	// MetricMFAFailure counts rejected second-factor codes.
	MetricMFAFailure
	// MetricMFALocked counts verifications refused by the MFA lockout.
	MetricMFALocked
	// MetricBackupCodeUsed counts consumed single-use recovery codes.
	MetricBackupCodeUsed
	// MetricTrustedDeviceBypass counts MFA gates skipped by a trusted
	// device.
	MetricTrustedDeviceBypass
	// MetricRefreshSuccess counts successful rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts replays of rotated-out tokens,
	// each of which revoked a chain.
	MetricRefreshReuseDetected
	// MetricLogout counts logout calls.
	MetricLogout
	// MetricForceLogout counts single-session force-logout notifications.
	MetricForceLogout
	// MetricPasswordChanged counts completed credential changes.
	MetricPasswordChanged
	// MetricPasswordRejected counts policy or reuse rejections.
	MetricPasswordRejected

	metricIDCount
)

// Metrics is a fixed set of atomic counters. All methods are safe for
// concurrent use; a nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// NewMetrics creates the counter set. When cfg.Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
