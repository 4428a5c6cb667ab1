package alert

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// EscalationJob 定期升级长时间未处理的open告警
type EscalationJob struct {
	manager *Manager
	after   time.Duration
	logger  config.Logger
}

// NewEscalationJob 创建升级任务，after为上次升级(或创建)后多久再次升级
func NewEscalationJob(manager *Manager, after time.Duration, logger config.Logger) *EscalationJob {
	if after <= 0 {
		after = 15 * time.Minute
	}
	return &EscalationJob{manager: manager, after: after, logger: logger}
}

// Run 执行一轮升级，返回升级的告警数量
func (j *EscalationJob) Run(ctx context.Context) int {
	now := j.manager.now()
	escalated := 0

	for page := 1; ; page++ {
		result, err := j.manager.List(ctx, Query{Status: model.AlertStatusOpen, Page: page, Limit: maxPageSize})
		if err != nil {
			j.logger.Error("查询待升级告警失败", zap.Error(err))
			return escalated
		}

		for _, a := range result.Alerts {
			if !j.due(a, now) {
				continue
			}
			if _, err := j.manager.Escalate(ctx, a.ID); err != nil {
				j.logger.Warn("告警升级失败", zap.String("alert_id", a.ID), zap.Error(err))
				continue
			}
			escalated++
		}

		if page*result.Limit >= result.Total || len(result.Alerts) == 0 {
			break
		}
	}

	if escalated > 0 {
		j.logger.Info("告警自动升级完成", zap.Int("escalated", escalated))
	}
	return escalated
}

func (j *EscalationJob) due(a *model.Alert, now time.Time) bool {
	if a.EscalationLevel >= j.manager.MaxEscalation() {
		return false
	}
	last := a.CreatedAt
	if a.EscalatedAt != nil {
		last = *a.EscalatedAt
	}
	return now.Sub(last) >= j.after
}
