package domain

import "time"

// MetricsSnapshot is a read-only view of one handler's dispatch counters.
// Rates are derived at snapshot time and are zero when nothing has been
// processed.
type MetricsSnapshot struct {
	Handler      string        `json:"handler"`
	Processed    uint64        `json:"processed"`
	Succeeded    uint64        `json:"succeeded"`
	Failed       uint64        `json:"failed"`
	SuccessRate  float64       `json:"success_rate"`
	FailureRate  float64       `json:"failure_rate"`
	AvgLatency   time.Duration `json:"avg_latency"`
	LastActivity time.Time     `json:"last_activity"`
}
