package alert

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/internal/prober"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// SourceHealthCheck 健康探测触发的告警来源
const SourceHealthCheck = "health_check"

// Detector 把探测器的状态转换事件转换为告警
type Detector struct {
	manager *Manager
	logger  config.Logger
}

// NewDetector 创建告警检测器
func NewDetector(manager *Manager, logger config.Logger) *Detector {
	return &Detector{manager: manager, logger: logger}
}

// HandleTransition 实现prober.TransitionHandler；恢复事件不创建告警，
// 同一服务已有级别不低于本次的未解决探测告警时不重复创建
func (d *Detector) HandleTransition(ctx context.Context, event prober.TransitionEvent) {
	req, ok := alertFor(event)
	if !ok {
		return
	}

	active, err := d.manager.Active(ctx, req.Service, SourceHealthCheck)
	if err != nil {
		d.logger.Error("查询服务告警失败", zap.String("service", req.Service), zap.Error(err))
		return
	}
	for _, a := range active {
		if a.Severity.Rank() >= req.Severity.Rank() {
			d.logger.Debug("服务已有未解决的告警，跳过",
				zap.String("service", req.Service),
				zap.String("alert_id", a.ID),
				zap.String("severity", string(a.Severity)))
			return
		}
	}

	if _, err := d.manager.Create(ctx, req); err != nil {
		d.logger.Error("创建探测告警失败", zap.String("service", req.Service), zap.Error(err))
	}
}

// alertFor 根据转换事件生成告警请求
func alertFor(event prober.TransitionEvent) (CreateRequest, bool) {
	svc := event.Service
	if svc == nil {
		return CreateRequest{}, false
	}

	meta := model.AlertMetadata{
		StatusCode:     event.Result.StatusCode,
		LatencyMs:      event.Result.LatencyMs,
		PreviousStatus: event.From,
		CurrentStatus:  event.To,
		Error:          event.Result.Error,
	}

	switch event.Kind {
	case prober.TransitionUnhealthy:
		severity := model.SeverityHigh
		if svc.Critical {
			severity = model.SeverityCritical
		}
		return CreateRequest{
			Title:       fmt.Sprintf("服务不可用: %s", svc.Name),
			Description: fmt.Sprintf("服务%s健康检查失败，状态由%s变为%s", svc.Name, event.From, event.To),
			Severity:    severity,
			Service:     svc.Name,
			Source:      SourceHealthCheck,
			Metadata:    meta,
		}, true
	case prober.TransitionDegraded:
		meta.Value = float64(svc.Metrics.ConsecutiveDegraded)
		return CreateRequest{
			Title:       fmt.Sprintf("服务响应异常: %s", svc.Name),
			Description: fmt.Sprintf("服务%s连续%d次探测处于降级状态", svc.Name, svc.Metrics.ConsecutiveDegraded),
			Severity:    model.SeverityMedium,
			Service:     svc.Name,
			Source:      SourceHealthCheck,
			Metadata:    meta,
		}, true
	}
	return CreateRequest{}, false
}
