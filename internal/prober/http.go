// Package prober 对被监控服务执行健康探测并把结论写回注册表
package prober

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hewenyu/church-monitor/pkg/model"
)

// Prober 对单个服务执行一次探测，失败也作为结论返回
type Prober interface {
	Probe(ctx context.Context, svc *model.Service) model.ProbeResult
}

// Classify 根据HTTP状态码判断健康状态
func Classify(statusCode int) model.HealthStatus {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return model.HealthStatusHealthy
	case statusCode >= 300 && statusCode < 500:
		return model.HealthStatusDegraded
	default:
		return model.HealthStatusUnhealthy
	}
}

// HTTPProber 通过HTTP请求探测服务
type HTTPProber struct {
	client         *http.Client
	defaultTimeout time.Duration
}

// NewHTTPProber 创建HTTP探测器，不跟随重定向
func NewHTTPProber(defaultTimeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		defaultTimeout: defaultTimeout,
	}
}

// Target 返回探测使用的方法和地址：没有健康检查路径时HEAD服务地址，否则GET健康检查地址
func Target(svc *model.Service) (method, url string) {
	if svc.HealthPath == "" {
		return http.MethodHead, svc.URL
	}
	return http.MethodGet, strings.TrimSuffix(svc.URL, "/") + "/" + strings.TrimPrefix(svc.HealthPath, "/")
}

// Probe 执行探测，只有传输层错误才会重试
func (p *HTTPProber) Probe(ctx context.Context, svc *model.Service) model.ProbeResult {
	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	method, url := Target(svc)

	result := model.ProbeResult{Service: svc.Name}
	for attempt := 0; attempt <= svc.Retries; attempt++ {
		result.Attempts = attempt + 1

		start := time.Now()
		code, err := p.do(ctx, method, url, timeout)
		result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
		result.CheckedAt = time.Now().UTC()

		if err == nil {
			result.StatusCode = code
			result.Status = Classify(code)
			result.Error = ""
			if result.Status != model.HealthStatusHealthy {
				result.Error = http.StatusText(code)
			}
			return result
		}

		result.Status = model.HealthStatusUnhealthy
		result.Error = err.Error()
		if ctx.Err() != nil {
			break
		}
	}
	return result
}

func (p *HTTPProber) do(ctx context.Context, method, url string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "church-monitor-prober")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, errors.New("探测超时")
		}
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	return resp.StatusCode, nil
}

// Dispatcher 按服务类型选择探测器
type Dispatcher struct {
	HTTP Prober
	DNS  Prober
}

// Probe 实现Prober接口
func (d *Dispatcher) Probe(ctx context.Context, svc *model.Service) model.ProbeResult {
	if svc.Type == model.ServiceTypeDNS && d.DNS != nil {
		return d.DNS.Probe(ctx, svc)
	}
	return d.HTTP.Probe(ctx, svc)
}
