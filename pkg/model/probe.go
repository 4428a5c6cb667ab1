package model

import "time"

// ProbeResult 单次健康探测的结论，探测失败也是结论的一种
type ProbeResult struct {
	Service    string       `json:"service"`
	Status     HealthStatus `json:"status"`
	LatencyMs  float64      `json:"latency_ms"`
	StatusCode int          `json:"status_code,omitempty"`
	Error      string       `json:"error,omitempty"`
	Attempts   int          `json:"attempts"`
	CheckedAt  time.Time    `json:"checked_at"`
}

// Success 只有健康才算成功
func (r ProbeResult) Success() bool {
	return r.Status == HealthStatusHealthy
}
