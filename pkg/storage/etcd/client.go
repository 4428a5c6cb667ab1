package etcd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hewenyu/church-monitor/internal/config"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const defaultPrefix = "/church-monitor/services/"

// Client 封装etcd客户端
type Client struct {
	client         *clientv3.Client
	prefix         string
	requestTimeout time.Duration
}

// NewClient 创建新的etcd客户端
func NewClient(cfg *config.EtcdConfig) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd地址不能为空")
	}
	if cfg.DialTimeout <= 0 {
		return nil, fmt.Errorf("etcd连接超时时间无效: %s", cfg.DialTimeout)
	}

	// 创建etcd客户端
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("连接etcd失败: %w", err)
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("etcd连接测试失败: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Client{
		client:         client,
		prefix:         prefix,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Close 关闭etcd客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}

// GetClient 获取原始etcd客户端
func (c *Client) GetClient() *clientv3.Client {
	return c.client
}

// GetServiceKey 获取服务的完整存储键值
func (c *Client) GetServiceKey(name string) string {
	return c.prefix + name
}

// GetServicesPrefix 获取服务列表的前缀
func (c *Client) GetServicesPrefix() string {
	return c.prefix
}

// withTimeout 为单次请求附加超时
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}
