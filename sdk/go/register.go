package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// RegisterRequest 服务注册请求
type RegisterRequest struct {
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	HealthPath string            `json:"health_path,omitempty"`
	Category   string            `json:"category,omitempty"`
	Critical   bool              `json:"critical"`
	Interval   string            `json:"interval,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Service 监控核心返回的服务信息
type Service struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
}

// Register 注册服务，服务已存在时视为成功
func (c *Client) Register(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 判断是否已注册
	if c.isRegistered {
		return fmt.Errorf("服务已注册: %s", c.config.ServiceName)
	}
	if c.config.ServiceURL == "" {
		return fmt.Errorf("服务地址不能为空")
	}

	req := RegisterRequest{
		Name:       c.config.ServiceName,
		URL:        c.config.ServiceURL,
		HealthPath: c.config.HealthPath,
		Category:   c.config.Category,
		Critical:   c.config.Critical,
		Tags:       c.config.Tags,
		Metadata:   c.config.Metadata,
	}

	_, err := c.doRequest(ctx, http.MethodPost, "/api/v1/services", req, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		c.logger.Info("服务已存在，沿用已有注册")
		err = nil
	}
	if err != nil {
		return fmt.Errorf("服务注册失败: %w", err)
	}

	c.isRegistered = true
	return nil
}

// Deregister 注销服务
func (c *Client) Deregister(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 判断是否已注册
	if !c.isRegistered {
		return fmt.Errorf("服务尚未注册")
	}

	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v1/services/"+url.PathEscape(c.config.ServiceName), nil, nil)
	if err != nil {
		return fmt.Errorf("服务注销失败: %w", err)
	}

	c.isRegistered = false
	return nil
}

// Status 查询本服务在监控核心中的状态
func (c *Client) Status(ctx context.Context) (*Service, error) {
	var svc Service
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/v1/services/"+url.PathEscape(c.config.ServiceName), nil, &svc); err != nil {
		return nil, fmt.Errorf("查询服务状态失败: %w", err)
	}
	return &svc, nil
}

// IsRegistered 检查服务是否已注册
func (c *Client) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRegistered
}
