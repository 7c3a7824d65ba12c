package usecase

import (
	"sync"
	"time"

	"a3sist/internal/domain"
)

// Metrics tracks dispatch counters for one handler. All mutation happens
// under the internal lock; concurrent dispatches to the same handler must
// not lose updates.
type Metrics struct {
	handler string

	mu           sync.Mutex
	processed    uint64
	succeeded    uint64
	failed       uint64
	avgLatency   time.Duration
	lastActivity time.Time
}

// NewMetrics creates a zeroed metrics holder for the named handler.
func NewMetrics(handler string) *Metrics {
	return &Metrics{handler: handler}
}

// RecordSuccess counts one successful dispatch and folds its latency into
// the running average.
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.succeeded++
	m.updateLatency(latency)
}

// RecordFailure counts one failed or cancelled dispatch.
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.failed++
	m.updateLatency(latency)
}

// updateLatency folds one latency sample into the running average.
// Caller holds mu.
func (m *Metrics) updateLatency(latency time.Duration) {
	// avg_n = avg_{n-1} + (x - avg_{n-1}) / n
	m.avgLatency += (latency - m.avgLatency) / time.Duration(m.processed)
	m.lastActivity = time.Now().UTC()
}

// Snapshot returns a consistent read-only view. Rates are derived here and
// are zero when nothing has been processed.
func (m *Metrics) Snapshot() domain.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := domain.MetricsSnapshot{
		Handler:      m.handler,
		Processed:    m.processed,
		Succeeded:    m.succeeded,
		Failed:       m.failed,
		AvgLatency:   m.avgLatency,
		LastActivity: m.lastActivity,
	}
	if m.processed > 0 {
		snap.SuccessRate = float64(m.succeeded) / float64(m.processed)
		snap.FailureRate = float64(m.failed) / float64(m.processed)
	}
	return snap
}
