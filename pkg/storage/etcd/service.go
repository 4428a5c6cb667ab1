package etcd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// 条件写入失败后的最大重试次数
const maxUpdateAttempts = 10

// ServiceStorage 实现基于etcd的服务存储
type ServiceStorage struct {
	client *Client
}

// NewServiceStorage 创建etcd服务存储
func NewServiceStorage(client *Client) *ServiceStorage {
	return &ServiceStorage{
		client: client,
	}
}

// CreateService 新建服务，仅当键不存在时写入
func (s *ServiceStorage) CreateService(ctx context.Context, service *model.Service) error {
	if service == nil || service.Name == "" {
		return storage.NewInvalidArgumentError("服务名称不能为空")
	}

	// 序列化服务数据
	data, err := json.Marshal(service)
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("序列化服务数据失败: %v", err))
	}

	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	key := s.client.GetServiceKey(service.Name)
	resp, err := s.client.GetClient().Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(data))).
		Commit()
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("写入etcd失败: %v", err))
	}
	if !resp.Succeeded {
		return storage.NewAlreadyExistsError(fmt.Sprintf("服务已存在: %s", service.Name))
	}

	return nil
}

// GetService 获取服务详情
func (s *ServiceStorage) GetService(ctx context.Context, name string) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}

	service, _, err := s.get(ctx, name)
	return service, err
}

// get 读取服务及其修订号
func (s *ServiceStorage) get(ctx context.Context, name string) (*model.Service, int64, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.GetClient().Get(ctx, s.client.GetServiceKey(name))
	if err != nil {
		return nil, 0, storage.NewInternalError(fmt.Sprintf("从etcd读取失败: %v", err))
	}
	if len(resp.Kvs) == 0 {
		return nil, 0, storage.NewNotFoundError(fmt.Sprintf("服务不存在: %s", name))
	}

	var service model.Service
	if err := json.Unmarshal(resp.Kvs[0].Value, &service); err != nil {
		return nil, 0, storage.NewInternalError(fmt.Sprintf("解析服务数据失败: %v", err))
	}

	return &service, resp.Kvs[0].ModRevision, nil
}

// ListServices 获取所有服务，etcd按键排序返回
func (s *ServiceStorage) ListServices(ctx context.Context) ([]*model.Service, error) {
	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.GetClient().Get(ctx, s.client.GetServicesPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, storage.NewInternalError(fmt.Sprintf("从etcd读取失败: %v", err))
	}

	services := make([]*model.Service, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var service model.Service
		if err := json.Unmarshal(kv.Value, &service); err != nil {
			// 忽略无法解析的数据，继续处理其他数据
			continue
		}
		services = append(services, &service)
	}

	return services, nil
}

// UpdateService 基于ModRevision的乐观并发读改写
func (s *ServiceStorage) UpdateService(ctx context.Context, name string, mutate storage.ServiceMutator) (*model.Service, error) {
	if name == "" {
		return nil, storage.NewInvalidArgumentError("服务名称不能为空")
	}

	key := s.client.GetServiceKey(name)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		service, revision, err := s.get(ctx, name)
		if err != nil {
			return nil, err
		}

		if err := mutate(service); err != nil {
			return nil, err
		}
		service.Name = name

		data, err := json.Marshal(service)
		if err != nil {
			return nil, storage.NewInternalError(fmt.Sprintf("序列化服务数据失败: %v", err))
		}

		txnCtx, cancel := s.client.withTimeout(ctx)
		resp, err := s.client.GetClient().Txn(txnCtx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", revision)).
			Then(clientv3.OpPut(key, string(data))).
			Commit()
		cancel()
		if err != nil {
			return nil, storage.NewInternalError(fmt.Sprintf("写入etcd失败: %v", err))
		}
		if resp.Succeeded {
			return service, nil
		}
	}

	return nil, storage.NewConflictError(fmt.Sprintf("服务更新冲突: %s", name))
}

// DeleteService 删除服务
func (s *ServiceStorage) DeleteService(ctx context.Context, name string) error {
	if name == "" {
		return storage.NewInvalidArgumentError("服务名称不能为空")
	}

	ctx, cancel := s.client.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.GetClient().Delete(ctx, s.client.GetServiceKey(name))
	if err != nil {
		return storage.NewInternalError(fmt.Sprintf("从etcd删除失败: %v", err))
	}
	if resp.Deleted == 0 {
		return storage.NewNotFoundError(fmt.Sprintf("服务不存在: %s", name))
	}

	return nil
}
