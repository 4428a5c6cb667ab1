package registry

import (
	"math"

	"github.com/hewenyu/church-monitor/pkg/model"
)

// MetricsPolicy 定义探测结果如何折算进服务的滚动指标
type MetricsPolicy struct {
	Alpha             float64 // 延迟EMA平滑系数
	ErrorStep         float64 // 失败时错误率增量，成功时减去一半
	UptimeSuccessStep float64
	UptimeFailureStep float64
}

// DefaultMetricsPolicy 返回默认策略
func DefaultMetricsPolicy() MetricsPolicy {
	return MetricsPolicy{
		Alpha:             0.3,
		ErrorStep:         5,
		UptimeSuccessStep: 0.1,
		UptimeFailureStep: 1.0,
	}
}

// Apply 根据一次探测结果计算新的指标，first表示这是服务的第一次探测
func (p MetricsPolicy) Apply(m model.ServiceMetrics, r model.ProbeResult, first bool) model.ServiceMetrics {
	if first {
		m.LatencyMs = r.LatencyMs
	} else {
		m.LatencyMs = p.Alpha*r.LatencyMs + (1-p.Alpha)*m.LatencyMs
	}

	if r.Success() {
		m.ErrorRate = clamp(m.ErrorRate - p.ErrorStep/2)
		m.Uptime = clamp(m.Uptime + p.UptimeSuccessStep)
		m.ConsecutiveFailures = 0
	} else {
		m.ErrorRate = clamp(m.ErrorRate + p.ErrorStep)
		m.Uptime = clamp(m.Uptime - p.UptimeFailureStep)
		m.ConsecutiveFailures++
	}

	if r.Status == model.HealthStatusDegraded {
		m.ConsecutiveDegraded++
	} else {
		m.ConsecutiveDegraded = 0
	}

	if r.CheckedAt.After(m.LastUpdated) {
		m.LastUpdated = r.CheckedAt
	}
	return m
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
