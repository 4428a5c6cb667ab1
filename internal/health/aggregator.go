package health

import (
	"context"

	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// ServiceSource 提供服务列表快照
type ServiceSource interface {
	List(ctx context.Context, filter registry.Filter) ([]*model.Service, error)
}

// AlertSource 提供告警统计快照
type AlertSource interface {
	Counts(ctx context.Context) (model.AlertCounts, error)
}

// ResourceSource 提供主机资源快照
type ResourceSource interface {
	Resources(ctx context.Context) (model.ResourceUsage, error)
}

// Aggregator 收集快照后计算系统状态，不做任何写入
type Aggregator struct {
	services  ServiceSource
	alerts    AlertSource
	resources ResourceSource
}

// NewAggregator 创建系统状态聚合器
func NewAggregator(services ServiceSource, alerts AlertSource, resources ResourceSource) *Aggregator {
	return &Aggregator{services: services, alerts: alerts, resources: resources}
}

// Status 返回当前系统综合状态
func (a *Aggregator) Status(ctx context.Context) (model.SystemStatus, error) {
	in, err := a.Snapshot(ctx)
	if err != nil {
		return model.SystemStatus{}, err
	}
	return Compute(in), nil
}

// Snapshot 读取三个数据源的快照
func (a *Aggregator) Snapshot(ctx context.Context) (Input, error) {
	services, err := a.services.List(ctx, registry.Filter{})
	if err != nil {
		return Input{}, err
	}
	statuses := make(map[string]model.HealthStatus, len(services))
	for _, s := range services {
		statuses[s.Name] = s.Status
	}

	counts, err := a.alerts.Counts(ctx)
	if err != nil {
		return Input{}, err
	}

	usage, err := a.resources.Resources(ctx)
	if err != nil {
		return Input{}, err
	}

	return Input{ServiceStatuses: statuses, Alerts: counts, Resources: usage}, nil
}
