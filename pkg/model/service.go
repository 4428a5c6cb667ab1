package model

import "time"

// HealthStatus 表示服务健康状态
type HealthStatus string

const (
	// HealthStatusHealthy 健康状态
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded 服务有响应但响应异常
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusUnhealthy 不健康状态
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	// HealthStatusStopped 已停止监控
	HealthStatusStopped HealthStatus = "stopped"
	// HealthStatusUnknown 未知状态
	HealthStatusUnknown HealthStatus = "unknown"
)

// Valid 判断健康状态是否属于已知取值
func (s HealthStatus) Valid() bool {
	switch s {
	case HealthStatusHealthy, HealthStatusDegraded, HealthStatusUnhealthy, HealthStatusStopped, HealthStatusUnknown:
		return true
	}
	return false
}

// ServiceType 表示探测方式
type ServiceType string

const (
	// ServiceTypeHTTP 通过HTTP(S)请求探测
	ServiceTypeHTTP ServiceType = "http"
	// ServiceTypeDNS 通过DNS查询探测
	ServiceTypeDNS ServiceType = "dns"
)

// ServiceMetrics 表示服务的滚动指标
type ServiceMetrics struct {
	LatencyMs           float64   `json:"latency_ms"`           // 延迟的指数移动平均
	ErrorRate           float64   `json:"error_rate"`           // 错误率，范围[0,100]
	Uptime              float64   `json:"uptime"`               // 可用率，范围[0,100]
	ConsecutiveFailures int       `json:"consecutive_failures"` // 连续失败次数
	ConsecutiveDegraded int       `json:"consecutive_degraded"` // 连续降级次数
	LastUpdated         time.Time `json:"last_updated"`         // 单调不减
}

// Service 表示一个被监控的服务
type Service struct {
	Name           string            `json:"name"`                  // 服务名称，唯一标识
	URL            string            `json:"url"`                   // 服务地址
	HealthPath     string            `json:"health_path,omitempty"` // 健康检查路径
	Type           ServiceType       `json:"type"`                  // 探测方式
	Category       string            `json:"category,omitempty"`    // 服务分类
	Environment    string            `json:"environment,omitempty"` // 运行环境
	Critical       bool              `json:"critical"`              // 是否为关键服务
	Interval       time.Duration     `json:"interval"`              // 轮询间隔
	Timeout        time.Duration     `json:"timeout"`               // 探测超时
	Retries        int               `json:"retries"`               // 传输失败重试次数
	Tags           []string          `json:"tags,omitempty"`        // 服务标签
	Metadata       map[string]string `json:"metadata,omitempty"`    // 服务元数据
	Status         HealthStatus      `json:"status"`                // 当前健康状态
	Metrics        ServiceMetrics    `json:"metrics"`               // 滚动指标
	LastChecked    *time.Time        `json:"last_checked,omitempty"`
	LastStatusCode int               `json:"last_status_code,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	RegisteredAt   time.Time         `json:"registered_at"` // 注册时间
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Clone 返回服务的深拷贝
func (s *Service) Clone() *Service {
	if s == nil {
		return nil
	}
	c := *s
	if s.Tags != nil {
		c.Tags = append([]string(nil), s.Tags...)
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.LastChecked != nil {
		t := *s.LastChecked
		c.LastChecked = &t
	}
	return &c
}

// ServiceSummary 表示注册表汇总信息
type ServiceSummary struct {
	Total             int                  `json:"total"`
	ByStatus          map[HealthStatus]int `json:"by_status"`
	Critical          int                  `json:"critical"`
	CriticalUnhealthy int                  `json:"critical_unhealthy"`
	AverageUptime     float64              `json:"average_uptime"`
	AverageLatencyMs  float64              `json:"average_latency_ms"`
}
