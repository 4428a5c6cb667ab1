// Package health 根据服务状态、告警数量和主机资源计算系统综合评分
package health

import (
	"fmt"

	"github.com/hewenyu/church-monitor/pkg/model"
)

const (
	baseScore         = 100
	servicePenalty    = 10
	alertPenalty      = 5
	resourcePenalty   = 10
	resourceThreshold = 90.0
	healthyThreshold  = 90
	degradedThreshold = 70
)

// Input 评分输入，全部为调用前取得的快照
type Input struct {
	ServiceStatuses map[string]model.HealthStatus
	Alerts          model.AlertCounts
	Resources       model.ResourceUsage
}

// Classify 根据评分判断系统状态
func Classify(score int) model.HealthStatus {
	switch {
	case score >= healthyThreshold:
		return model.HealthStatusHealthy
	case score >= degradedThreshold:
		return model.HealthStatusDegraded
	default:
		return model.HealthStatusUnhealthy
	}
}

// Compute 计算系统综合状态；评分不做下限截断，可以为负数
func Compute(in Input) model.SystemStatus {
	status := model.SystemStatus{
		Score:         baseScore,
		Factors:       make([]model.ScoreFactor, 0),
		TotalServices: len(in.ServiceStatuses),
		OpenAlerts:    in.Alerts.Open,
		Resources:     in.Resources,
	}

	unhealthy := 0
	for _, s := range in.ServiceStatuses {
		if s == model.HealthStatusHealthy {
			status.HealthyCount++
		} else {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		addFactor(&status, "services", -servicePenalty*unhealthy, fmt.Sprintf("%d个服务不健康", unhealthy))
	}

	if in.Alerts.Open > 0 {
		addFactor(&status, "alerts", -alertPenalty*in.Alerts.Open, fmt.Sprintf("%d个未处理告警", in.Alerts.Open))
	}

	for _, r := range []struct {
		name  string
		value float64
	}{
		{"cpu", in.Resources.CPU},
		{"memory", in.Resources.Memory},
		{"disk", in.Resources.Disk},
	} {
		if r.value > resourceThreshold {
			addFactor(&status, r.name, -resourcePenalty, fmt.Sprintf("%s使用率%.1f%%", r.name, r.value))
		}
	}

	status.Status = Classify(status.Score)
	return status
}

func addFactor(status *model.SystemStatus, name string, impact int, detail string) {
	status.Score += impact
	status.Factors = append(status.Factors, model.ScoreFactor{Name: name, Impact: impact, Detail: detail})
}
