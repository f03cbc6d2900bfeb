package authsession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	// MetricLoginLocked counts logins rejected because the account was already locked.
	MetricLoginLocked
	// MetricAccountLocked counts lock transitions.
	MetricAccountLocked
	// MetricLockoutDegraded counts failed-attempt writes that did not reach the store.
	// While it grows the lockout threshold is not enforced.
	MetricLockoutDegraded
	MetricMFALoginRequired
	MetricMFALoginSuccess
	MetricMFALoginFailure
	MetricMFAAttemptsExceeded
	MetricRecoveryCodeUsed
	MetricMFAEnabled
	MetricMFADisabled
	MetricRecoveryCodesRegenerated
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricFamilyCompromised
	MetricLogout
	MetricLogoutAll
	MetricPasswordResetRequest
	MetricPasswordResetVerifyFailure
	MetricPasswordResetConfirmSuccess
	MetricPasswordResetConfirmFailure
	// MetricPasswordResetRateLimited counts reset requests refused by the per-email window.
	MetricPasswordResetRateLimited
	MetricPasswordUpgraded
	MetricAccountCreationSuccess
	MetricAccountCreationDuplicate
	MetricAccountDeactivated
	MetricAccountUnlocked
	MetricStoreUnavailable
	MetricValidateFailure
	MetricValidateLatency
	MetricLoginLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBounds are the inclusive upper bounds of the latency buckets. The
// last bucket is unbounded.
var HistogramBounds = [histBucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters. A nil or disabled Metrics ignores writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// IsHistogram reports whether id is recorded with Observe rather than Inc.
func (id MetricID) IsHistogram() bool {
	return id == MetricValidateLatency || id == MetricLoginLatency
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount || id.IsHistogram() {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram id.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id >= metricIDCount || !id.IsHistogram() {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

// Value returns the current value of the counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and every histogram when latency is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id.IsHistogram() {
			if m.enableLatency {
				buckets := make([]uint64, histBucketCount)
				for i := range buckets {
					buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
				}
				s.Histograms[id] = buckets
			}
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, bound := range HistogramBounds {
		if d <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
