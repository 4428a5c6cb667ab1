// Package registry 维护被监控服务的目录及其健康状态
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Defaults 注册时未指定的探测参数
type Defaults struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// RegisterRequest 注册服务请求，也是目录文件中的条目格式
type RegisterRequest struct {
	Name        string            `json:"name" yaml:"name" validate:"required"`
	URL         string            `json:"url" yaml:"url" validate:"required"`
	HealthPath  string            `json:"health_path" yaml:"health_path"`
	Type        model.ServiceType `json:"type" yaml:"type"`
	Category    string            `json:"category" yaml:"category"`
	Environment string            `json:"environment" yaml:"environment"`
	Critical    bool              `json:"critical" yaml:"critical"`
	Interval    string            `json:"interval" yaml:"interval"` // 如 30s
	Timeout     string            `json:"timeout" yaml:"timeout"`
	Retries     *int              `json:"retries" yaml:"retries"`
	Tags        []string          `json:"tags" yaml:"tags"`
	Metadata    map[string]string `json:"metadata" yaml:"metadata"`
}

// UpdateRequest 更新服务配置，nil字段保持不变
type UpdateRequest struct {
	URL         *string           `json:"url"`
	HealthPath  *string           `json:"health_path"`
	Category    *string           `json:"category"`
	Environment *string           `json:"environment"`
	Critical    *bool             `json:"critical"`
	Interval    *string           `json:"interval"`
	Timeout     *string           `json:"timeout"`
	Retries     *int              `json:"retries"`
	Tags        []string          `json:"tags"`
	Metadata    map[string]string `json:"metadata"`
}

// Filter 服务列表过滤条件
type Filter struct {
	Status      model.HealthStatus
	Category    string
	Environment string
	Tag         string
	Critical    *bool
}

func (f Filter) match(s *model.Service) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	if f.Environment != "" && s.Environment != f.Environment {
		return false
	}
	if f.Critical != nil && s.Critical != *f.Critical {
		return false
	}
	if f.Tag != "" {
		for _, tag := range s.Tags {
			if tag == f.Tag {
				return true
			}
		}
		return false
	}
	return true
}

// Registry 服务注册表
type Registry struct {
	store    storage.ServiceStorage
	policy   MetricsPolicy
	defaults Defaults
	logger   config.Logger
	now      func() time.Time
}

// New 创建服务注册表
func New(store storage.ServiceStorage, policy MetricsPolicy, defaults Defaults, logger config.Logger) *Registry {
	return &Registry{
		store:    store,
		policy:   policy,
		defaults: defaults,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register 注册新服务，初始状态为unknown
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*model.Service, error) {
	if !namePattern.MatchString(req.Name) {
		return nil, apperror.Validation("服务名称无效: %q", req.Name)
	}
	if req.Type == "" {
		req.Type = model.ServiceTypeHTTP
	}
	if err := validateTarget(req.Type, req.URL); err != nil {
		return nil, err
	}

	interval, err := parseDuration("interval", req.Interval, r.defaults.Interval)
	if err != nil {
		return nil, err
	}
	timeout, err := parseDuration("timeout", req.Timeout, r.defaults.Timeout)
	if err != nil {
		return nil, err
	}
	retries := r.defaults.Retries
	if req.Retries != nil {
		if *req.Retries < 0 {
			return nil, apperror.Validation("重试次数不能为负数")
		}
		retries = *req.Retries
	}

	now := r.now()
	service := &model.Service{
		Name:         req.Name,
		URL:          req.URL,
		HealthPath:   req.HealthPath,
		Type:         req.Type,
		Category:     req.Category,
		Environment:  req.Environment,
		Critical:     req.Critical,
		Interval:     interval,
		Timeout:      timeout,
		Retries:      retries,
		Tags:         req.Tags,
		Metadata:     req.Metadata,
		Status:       model.HealthStatusUnknown,
		Metrics:      model.ServiceMetrics{Uptime: 100},
		RegisteredAt: now,
		UpdatedAt:    now,
	}

	if err := r.store.CreateService(ctx, service); err != nil {
		return nil, r.translate(err, "注册服务失败: %s", req.Name)
	}

	r.logger.Info("服务已注册",
		zap.String("service", service.Name),
		zap.String("url", service.URL),
		zap.Bool("critical", service.Critical))
	return service, nil
}

// Get 获取服务
func (r *Registry) Get(ctx context.Context, name string) (*model.Service, error) {
	service, err := r.store.GetService(ctx, name)
	if err != nil {
		return nil, r.translate(err, "获取服务失败: %s", name)
	}
	return service, nil
}

// List 按条件列出服务
func (r *Registry) List(ctx context.Context, filter Filter) ([]*model.Service, error) {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return nil, r.translate(err, "获取服务列表失败")
	}

	result := make([]*model.Service, 0, len(services))
	for _, s := range services {
		if filter.match(s) {
			result = append(result, s)
		}
	}
	return result, nil
}

// Update 更新服务配置，不涉及状态和指标
func (r *Registry) Update(ctx context.Context, name string, req UpdateRequest) (*model.Service, error) {
	updated, err := r.store.UpdateService(ctx, name, func(s *model.Service) error {
		if req.URL != nil {
			if err := validateTarget(s.Type, *req.URL); err != nil {
				return err
			}
			s.URL = *req.URL
		}
		if req.HealthPath != nil {
			s.HealthPath = *req.HealthPath
		}
		if req.Category != nil {
			s.Category = *req.Category
		}
		if req.Environment != nil {
			s.Environment = *req.Environment
		}
		if req.Critical != nil {
			s.Critical = *req.Critical
		}
		if req.Interval != nil {
			d, err := parseDuration("interval", *req.Interval, s.Interval)
			if err != nil {
				return err
			}
			s.Interval = d
		}
		if req.Timeout != nil {
			d, err := parseDuration("timeout", *req.Timeout, s.Timeout)
			if err != nil {
				return err
			}
			s.Timeout = d
		}
		if req.Retries != nil {
			if *req.Retries < 0 {
				return apperror.Validation("重试次数不能为负数")
			}
			s.Retries = *req.Retries
		}
		if req.Tags != nil {
			s.Tags = req.Tags
		}
		if req.Metadata != nil {
			s.Metadata = req.Metadata
		}
		s.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return nil, r.translate(err, "更新服务失败: %s", name)
	}
	return updated, nil
}

// OverrideStatus 管理员手动设置服务状态，stopped会让轮询跳过该服务
func (r *Registry) OverrideStatus(ctx context.Context, name string, status model.HealthStatus, reason string) (*model.Service, error) {
	if !status.Valid() {
		return nil, apperror.Validation("无效的服务状态: %q", status)
	}

	var previous model.HealthStatus
	updated, err := r.store.UpdateService(ctx, name, func(s *model.Service) error {
		previous = s.Status
		s.Status = status
		s.Metrics.ConsecutiveFailures = 0
		s.Metrics.ConsecutiveDegraded = 0
		s.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return nil, r.translate(err, "设置服务状态失败: %s", name)
	}

	r.logger.Warn("服务状态被手动修改",
		zap.String("service", name),
		zap.String("from", string(previous)),
		zap.String("to", string(status)),
		zap.String("reason", reason))
	return updated, nil
}

// ApplyProbe 原子地写入一次探测结果，返回写入前后的服务；已停止的服务保持不变
func (r *Registry) ApplyProbe(ctx context.Context, name string, result model.ProbeResult) (before, after *model.Service, err error) {
	after, err = r.store.UpdateService(ctx, name, func(s *model.Service) error {
		before = s.Clone()
		if s.Status == model.HealthStatusStopped {
			return nil
		}

		s.Metrics = r.policy.Apply(s.Metrics, result, s.LastChecked == nil)
		s.Status = result.Status
		checked := result.CheckedAt
		s.LastChecked = &checked
		s.LastStatusCode = result.StatusCode
		s.LastError = result.Error
		s.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return nil, nil, r.translate(err, "写入探测结果失败: %s", name)
	}
	return before, after, nil
}

// Deregister 注销服务
func (r *Registry) Deregister(ctx context.Context, name string) error {
	if err := r.store.DeleteService(ctx, name); err != nil {
		return r.translate(err, "注销服务失败: %s", name)
	}
	r.logger.Info("服务已注销", zap.String("service", name))
	return nil
}

// Summary 汇总各状态的服务数量及平均指标
func (r *Registry) Summary(ctx context.Context) (*model.ServiceSummary, error) {
	services, err := r.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	summary := &model.ServiceSummary{
		Total:    len(services),
		ByStatus: make(map[model.HealthStatus]int),
	}
	var uptime, latency float64
	for _, s := range services {
		summary.ByStatus[s.Status]++
		if s.Critical {
			summary.Critical++
			if s.Status == model.HealthStatusUnhealthy {
				summary.CriticalUnhealthy++
			}
		}
		uptime += s.Metrics.Uptime
		latency += s.Metrics.LatencyMs
	}
	if len(services) > 0 {
		summary.AverageUptime = uptime / float64(len(services))
		summary.AverageLatencyMs = latency / float64(len(services))
	}
	return summary, nil
}

// translate 把存储错误转换为业务错误
func (r *Registry) translate(err error, format string, args ...interface{}) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	msg := fmt.Sprintf(format, args...)
	switch storage.CodeOf(err) {
	case storage.ErrNotFound:
		return apperror.NotFound("%s: %v", msg, err)
	case storage.ErrAlreadyExists:
		return apperror.Conflict("%s: %v", msg, err)
	case storage.ErrInvalidArgument:
		return apperror.Validation("%s: %v", msg, err)
	}

	r.logger.Error(msg, zap.Error(err))
	return apperror.Persistence(err, "%s", msg)
}

func validateTarget(typ model.ServiceType, raw string) error {
	if raw == "" {
		return apperror.Validation("服务地址不能为空")
	}
	switch typ {
	case model.ServiceTypeHTTP:
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperror.Validation("无效的HTTP地址: %q", raw)
		}
	case model.ServiceTypeDNS:
		if _, err := DNSHost(raw); err != nil {
			return err
		}
	default:
		return apperror.Validation("不支持的服务类型: %q", typ)
	}
	return nil
}

// DNSHost 从dns://host、URL或裸主机名中取出要查询的主机名
func DNSHost(raw string) (string, error) {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Hostname(), nil
	}
	if raw == "" {
		return "", apperror.Validation("DNS主机名不能为空")
	}
	return raw, nil
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, apperror.Validation("%s格式无效: %q", field, raw)
	}
	return d, nil
}
