package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

// AlertStorage 是基于内存的告警存储实现
type AlertStorage struct {
	alerts map[string]*model.Alert
	mutex  sync.RWMutex
}

// NewAlertStorage 创建新的内存告警存储
func NewAlertStorage() *AlertStorage {
	return &AlertStorage{
		alerts: make(map[string]*model.Alert),
	}
}

// CreateAlert 新建告警
func (m *AlertStorage) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if alert == nil || alert.ID == "" {
		return storage.NewInvalidArgumentError("告警ID不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.alerts[alert.ID]; exists {
		return storage.NewAlreadyExistsError("告警已存在: " + alert.ID)
	}

	m.alerts[alert.ID] = alert.Clone()
	return nil
}

// GetAlert 获取告警详情
func (m *AlertStorage) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	if id == "" {
		return nil, storage.NewInvalidArgumentError("告警ID不能为空")
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	alert, exists := m.alerts[id]
	if !exists {
		return nil, storage.NewNotFoundError("告警不存在: " + id)
	}
	return alert.Clone(), nil
}

// UpdateAlert 条件更新告警
func (m *AlertStorage) UpdateAlert(ctx context.Context, alert *model.Alert, expected model.AlertStatus) error {
	if alert == nil || alert.ID == "" {
		return storage.NewInvalidArgumentError("告警ID不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	current, exists := m.alerts[alert.ID]
	if !exists {
		return storage.NewNotFoundError("告警不存在: " + alert.ID)
	}
	if current.Status != expected || current.Version != alert.Version {
		return storage.NewConflictError("告警已被并发修改: " + alert.ID)
	}

	alert.Version++
	m.alerts[alert.ID] = alert.Clone()
	return nil
}

// DeleteAlert 删除告警
func (m *AlertStorage) DeleteAlert(ctx context.Context, id string) error {
	if id == "" {
		return storage.NewInvalidArgumentError("告警ID不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.alerts[id]; !exists {
		return storage.NewNotFoundError("告警不存在: " + id)
	}
	delete(m.alerts, id)
	return nil
}

// ListAlerts 按条件查询告警
func (m *AlertStorage) ListAlerts(ctx context.Context, filter storage.AlertFilter) ([]*model.Alert, int, error) {
	m.mutex.RLock()
	matched := make([]*model.Alert, 0)
	for _, alert := range m.alerts {
		if filter.Match(alert) {
			matched = append(matched, alert.Clone())
		}
	}
	m.mutex.RUnlock()

	storage.SortAlerts(matched)
	return filter.Page(matched), len(matched), nil
}

// ListExpiredMutes 获取静默已到期的告警
func (m *AlertStorage) ListExpiredMutes(ctx context.Context, now time.Time) ([]*model.Alert, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	expired := make([]*model.Alert, 0)
	for _, alert := range m.alerts {
		if alert.MuteExpired(now) {
			expired = append(expired, alert.Clone())
		}
	}
	return expired, nil
}

// CountAlerts 按状态统计告警数量
func (m *AlertStorage) CountAlerts(ctx context.Context) (map[model.AlertStatus]int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	counts := make(map[model.AlertStatus]int)
	for _, alert := range m.alerts {
		counts[alert.Status]++
	}
	return counts, nil
}
