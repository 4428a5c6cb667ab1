package sdk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Sample 一个指标样本，Service为空时使用客户端的服务名称
type Sample struct {
	Service   string    `json:"service"`
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Collector 每个上报周期调用一次，返回本周期要上报的样本
type Collector func() []Sample

// Alert 监控核心返回的告警信息
type Alert struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

type ingestResponse struct {
	Accepted int `json:"accepted"`
}

// PushMetrics 批量上报指标，返回被接收的数量
func (c *Client) PushMetrics(ctx context.Context, samples ...Sample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	batch := make([]Sample, len(samples))
	for i, s := range samples {
		if s.Service == "" {
			s.Service = c.config.ServiceName
		}
		batch[i] = s
	}

	var out ingestResponse
	if _, err := c.doRequest(ctx, http.MethodPost, "/api/v1/metrics", batch, &out); err != nil {
		return 0, fmt.Errorf("上报指标失败: %w", err)
	}
	return out.Accepted, nil
}

// RaiseAlert 以本服务名义创建手动告警
func (c *Client) RaiseAlert(ctx context.Context, title, severity, description string) (*Alert, error) {
	req := map[string]string{
		"title":       title,
		"severity":    severity,
		"description": description,
		"service":     c.config.ServiceName,
		"source":      "sdk",
	}
	var a Alert
	if _, err := c.doRequest(ctx, http.MethodPost, "/api/v1/alerts", req, &a); err != nil {
		return nil, fmt.Errorf("创建告警失败: %w", err)
	}
	return &a, nil
}

// StartReporting 开始周期上报任务
func (c *Client) StartReporting(collect Collector) {
	// 停止已有上报任务
	c.StopReporting()

	c.mu.Lock()
	stop := make(chan struct{})
	c.stopChan = stop
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.ReportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
				if _, err := c.PushMetrics(ctx, collect()...); err != nil {
					c.logger.Warn("指标上报失败，将在下一个周期重试", zap.Error(err))
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
}

// StopReporting 停止上报任务并等待其退出
func (c *Client) StopReporting() {
	c.mu.Lock()
	if c.stopChan != nil {
		close(c.stopChan)
		c.stopChan = nil
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Close 关闭客户端
func (c *Client) Close(ctx context.Context) error {
	c.StopReporting()

	// 如果已注册，注销服务
	if c.IsRegistered() {
		if err := c.Deregister(ctx); err != nil {
			return fmt.Errorf("注销服务失败: %w", err)
		}
	}
	return nil
}
