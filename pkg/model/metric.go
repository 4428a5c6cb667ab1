package model

import "time"

// 常用指标名称
const (
	MetricLatency     = "latency_ms"
	MetricError       = "error"
	MetricCPUUsage    = "cpu_usage"
	MetricMemoryUsage = "memory_usage"
	MetricDiskUsage   = "disk_usage"

	// SystemService 主机资源指标所属的服务名
	SystemService = "system"
)

// MetricSample 表示一个不可变的时序数据点
type MetricSample struct {
	Service   string            `json:"service"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// TrendDirection 指标趋势方向
type TrendDirection string

const (
	TrendIncreasing TrendDirection = "increasing"
	TrendDecreasing TrendDirection = "decreasing"
	TrendStable     TrendDirection = "stable"
)

// Trend 指标趋势，Slope为每分钟变化量
type Trend struct {
	Direction TrendDirection `json:"direction"`
	Slope     float64        `json:"slope"`
}

// MetricAggregate 指标在时间窗口内的聚合结果
type MetricAggregate struct {
	Service string        `json:"service"`
	Name    string        `json:"name"`
	Window  time.Duration `json:"window"`
	From    time.Time     `json:"from"`
	To      time.Time     `json:"to"`
	Count   int           `json:"count"`
	Avg     float64       `json:"avg"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
	P50     float64       `json:"p50"`
	P95     float64       `json:"p95"`
	P99     float64       `json:"p99"`
	Trend   Trend         `json:"trend"`
}

// ResourceUsage 主机资源使用率(百分比)
type ResourceUsage struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	Disk   float64 `json:"disk"`
}
