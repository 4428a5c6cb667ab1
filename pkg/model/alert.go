package model

import "time"

// AlertSeverity 告警级别
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
	SeverityLow      AlertSeverity = "low"
	SeverityInfo     AlertSeverity = "info"
)

// Valid 判断告警级别是否合法
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Rank 返回级别的严重程度，数值越大越严重，未知级别为0
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// AlertStatus 告警状态
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
	AlertStatusMuted        AlertStatus = "muted"
)

// Valid 判断告警状态是否合法
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusMuted:
		return true
	}
	return false
}

// AlertMetadata 告警元数据，已知字段之外的内容放在Extra中
type AlertMetadata struct {
	StatusCode     int               `json:"status_code,omitempty"`
	LatencyMs      float64           `json:"latency_ms,omitempty"`
	PreviousStatus HealthStatus      `json:"previous_status,omitempty"`
	CurrentStatus  HealthStatus      `json:"current_status,omitempty"`
	Threshold      float64           `json:"threshold,omitempty"`
	Value          float64           `json:"value,omitempty"`
	Error          string            `json:"error,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Alert 表示一条需要人工处理的告警
type Alert struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Severity        AlertSeverity `json:"severity"`
	Service         string        `json:"service"`
	Source          string        `json:"source"`
	Metadata        AlertMetadata `json:"metadata"`
	Status          AlertStatus   `json:"status"`
	EscalationLevel int           `json:"escalation_level"`
	AcknowledgedBy  string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedBy      string        `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	MutedBy         string        `json:"muted_by,omitempty"`
	MutedUntil      *time.Time    `json:"muted_until,omitempty"`
	EscalatedAt     *time.Time    `json:"escalated_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int64         `json:"version"` // 条件更新使用的版本号
}

// Clone 返回告警的深拷贝
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	c := *a
	c.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	c.ResolvedAt = cloneTime(a.ResolvedAt)
	c.MutedUntil = cloneTime(a.MutedUntil)
	c.EscalatedAt = cloneTime(a.EscalatedAt)
	if a.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(a.Metadata.Extra))
		for k, v := range a.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}

// MuteExpired 判断静默是否已经到期
func (a *Alert) MuteExpired(now time.Time) bool {
	return a.Status == AlertStatusMuted && a.MutedUntil != nil && !now.Before(*a.MutedUntil)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AlertCounts 各状态的告警数量
type AlertCounts struct {
	Open         int `json:"open"`
	Acknowledged int `json:"acknowledged"`
	Muted        int `json:"muted"`
	Resolved     int `json:"resolved"`
}

// Total 返回告警总数
func (c AlertCounts) Total() int {
	return c.Open + c.Acknowledged + c.Muted + c.Resolved
}
