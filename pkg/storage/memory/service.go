package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

// ServiceStorage 是基于内存的服务存储实现，用于测试和开发模式
type ServiceStorage struct {
	services map[string]*model.Service
	mutex    sync.RWMutex
}

// NewServiceStorage 创建新的内存服务存储
func NewServiceStorage() *ServiceStorage {
	return &ServiceStorage{
		services: make(map[string]*model.Service),
	}
}

// CreateService 新建服务
func (m *ServiceStorage) CreateService(ctx context.Context, service *model.Service) error {
	if service == nil || service.Name == "" {
		return storage.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.services[service.Name]; exists {
		return storage.NewAlreadyExistsError("服务已存在: " + service.Name)
	}

	m.services[service.Name] = service.Clone()
	return nil
}

// GetService 获取服务详情
func (m *ServiceStorage) GetService(ctx context.Context, name string) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	service, exists := m.services[name]
	if !exists {
		return nil, storage.NewNotFoundError("服务不存在: " + name)
	}

	return service.Clone(), nil
}

// ListServices 获取所有服务
func (m *ServiceStorage) ListServices(ctx context.Context) ([]*model.Service, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	services := make([]*model.Service, 0, len(m.services))
	for _, service := range m.services {
		services = append(services, service.Clone())
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })

	return services, nil
}

// UpdateService 在写锁内完成读改写
func (m *ServiceStorage) UpdateService(ctx context.Context, name string, mutate storage.ServiceMutator) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	current, exists := m.services[name]
	if !exists {
		return nil, storage.NewNotFoundError("服务不存在: " + name)
	}

	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.Name = name

	m.services[name] = updated
	return updated.Clone(), nil
}

// DeleteService 删除服务
func (m *ServiceStorage) DeleteService(ctx context.Context, name string) error {
	if name == "" {
		return storage.NewInvalidArgumentError("服务名称不能为空")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.services[name]; !exists {
		return storage.NewNotFoundError("服务不存在: " + name)
	}

	delete(m.services, name)
	return nil
}
