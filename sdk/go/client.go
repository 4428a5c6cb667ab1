// Package sdk 是监控核心HTTP接口的Go客户端，供被监控服务自注册和上报指标
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config SDK客户端配置
type Config struct {
	// 监控服务器地址，如 localhost:8080
	ServerAddr string `json:"server_addr"`
	// 服务名称
	ServiceName string `json:"service_name"`
	// 健康检查使用的服务地址
	ServiceURL string `json:"service_url"`
	// 健康检查路径
	HealthPath string `json:"health_path"`
	Category   string `json:"category"`
	Critical   bool   `json:"critical"`
	// 标签列表
	Tags []string `json:"tags"`
	// 元数据
	Metadata map[string]string `json:"metadata"`
	// 指标上报间隔
	ReportInterval time.Duration `json:"report_interval"`
	// 操作超时时间
	Timeout time.Duration `json:"timeout"`
	// 写操作的操作人，通过X-Actor请求头传递
	Actor string `json:"actor"`
	// 是否使用HTTPS
	Secure bool `json:"secure"`
	// 为nil时不输出日志
	Logger *zap.Logger `json:"-"`
}

// Client SDK客户端
type Client struct {
	config       *Config
	httpClient   *http.Client
	logger       *zap.Logger
	mu           sync.Mutex
	isRegistered bool
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// Response 接口统一响应
type Response struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// APIError 接口返回的非2xx响应
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败: %s (状态码: %d)", e.Message, e.StatusCode)
}

// NewClient 创建SDK客户端
func NewClient(config *Config) (*Client, error) {
	// 验证必填配置
	if config.ServerAddr == "" {
		return nil, fmt.Errorf("服务器地址不能为空")
	}
	if config.ServiceName == "" {
		return nil, fmt.Errorf("服务名称不能为空")
	}

	// 设置默认值
	if config.ReportInterval == 0 {
		config.ReportInterval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Actor == "" {
		config.Actor = config.ServiceName
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger.With(zap.String("service", config.ServiceName)),
	}, nil
}

// 构建API地址
func (c *Client) buildURL(path string) string {
	protocol := "http"
	if c.config.Secure {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s%s", protocol, c.config.ServerAddr, path)
}

// 发送HTTP请求，out不为nil时解析data字段
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", c.config.Actor)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	var apiResp Response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiResp, &APIError{StatusCode: resp.StatusCode, Message: apiResp.Message}
	}

	if out != nil && len(apiResp.Data) > 0 {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return &apiResp, fmt.Errorf("解析响应数据失败: %w", err)
		}
	}
	return &apiResp, nil
}
