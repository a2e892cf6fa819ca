package issueguard

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful authentications.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected credentials, including unknown
	// accounts.
	MetricLoginFailure
	// MetricLoginLocked counts logins refused due to account lockout.
	MetricLoginLocked
	// MetricLoginRateLimited counts logins refused by the login throttle.
	MetricLoginRateLimited
	// MetricRequestRateLimited counts requests refused by the per-principal
	// budget.
	MetricRequestRateLimited
	// MetricRefreshSuccess counts successful token rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts replayed refresh tokens, each of
	// which revoked a session family.
	MetricRefreshReuseDetected
	// MetricLogout counts single-session logouts.
	MetricLogout
	// MetricLogoutAll counts all-session revocations.
	MetricLogoutAll
	// MetricAccessVerified counts access tokens accepted by VerifyAccess.
	MetricAccessVerified
	// MetricAccessRejected counts access tokens rejected by VerifyAccess.
	MetricAccessRejected
	// MetricAuthzAllowed counts allowed authorization decisions.
	MetricAuthzAllowed
	// MetricAuthzDenied counts denied authorization decisions.
	MetricAuthzDenied
	// MetricTransitionApplied counts accepted issue status transitions.
	MetricTransitionApplied
	// MetricTransitionRejected counts refused issue status transitions.
	MetricTransitionRejected
	metricIDCount
)

const cacheLineSize = 64

// paddedCounter keeps each counter on its own cache line so hot-path
// increments on different IDs do not contend.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// accepts increments and reports zeros.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a counter set, inert unless cfg.Enabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether increments are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Counters are read individually, so the
// snapshot is not a single atomic cut across IDs.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

// metricNames maps IDs to stable exposition names.
var metricNames = map[MetricID]string{
	MetricLoginSuccess:         "login_success",
	MetricLoginFailure:         "login_failure",
	MetricLoginLocked:          "login_locked",
	MetricLoginRateLimited:     "login_rate_limited",
	MetricRequestRateLimited:   "request_rate_limited",
	MetricRefreshSuccess:       "refresh_success",
	MetricRefreshFailure:       "refresh_failure",
	MetricRefreshReuseDetected: "refresh_reuse_detected",
	MetricLogout:               "logout",
	MetricLogoutAll:            "logout_all",
	MetricAccessVerified:       "access_verified",
	MetricAccessRejected:       "access_rejected",
	MetricAuthzAllowed:         "authz_allowed",
	MetricAuthzDenied:          "authz_denied",
	MetricTransitionApplied:    "transition_applied",
	MetricTransitionRejected:   "transition_rejected",
}

// Name returns the stable exposition name for a metric ID.
func (id MetricID) Name() string {
	return metricNames[id]
}
