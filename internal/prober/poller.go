package prober

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// TransitionKind 状态转换类型
type TransitionKind string

const (
	// TransitionUnhealthy 从非不健康变为不健康
	TransitionUnhealthy TransitionKind = "unhealthy"
	// TransitionDegraded 连续降级达到阈值
	TransitionDegraded TransitionKind = "degraded"
	// TransitionRecovered 从不健康或降级恢复为健康
	TransitionRecovered TransitionKind = "recovered"
)

// TransitionEvent 服务健康状态发生值得关注的变化
type TransitionEvent struct {
	Kind    TransitionKind     `json:"kind"`
	Service *model.Service     `json:"service"`
	From    model.HealthStatus `json:"from"`
	To      model.HealthStatus `json:"to"`
	Result  model.ProbeResult  `json:"result"`
}

// TransitionHandler 处理状态转换事件
type TransitionHandler interface {
	HandleTransition(ctx context.Context, event TransitionEvent)
}

// SampleRecorder 接收探测产生的指标样本
type SampleRecorder interface {
	Record(ctx context.Context, sample model.MetricSample) error
}

// ProbeObserver 观察每一次探测结果
type ProbeObserver interface {
	ObserveProbe(result model.ProbeResult)
}

// Options 轮询器参数
type Options struct {
	Concurrency       int
	DegradedThreshold int
}

// Poller 周期性探测到期的服务
type Poller struct {
	registry          *registry.Registry
	prober            Prober
	samples           SampleRecorder
	observer          ProbeObserver
	handlers          []TransitionHandler
	concurrency       int
	degradedThreshold int
	logger            config.Logger
	now               func() time.Time
}

// NewPoller 创建轮询器，samples和observer可以为nil
func NewPoller(reg *registry.Registry, prober Prober, samples SampleRecorder, observer ProbeObserver, opts Options, logger config.Logger) *Poller {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.DegradedThreshold <= 0 {
		opts.DegradedThreshold = 3
	}
	return &Poller{
		registry:          reg,
		prober:            prober,
		samples:           samples,
		observer:          observer,
		concurrency:       opts.Concurrency,
		degradedThreshold: opts.DegradedThreshold,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// AddHandler 注册状态转换处理器
func (p *Poller) AddHandler(h TransitionHandler) {
	p.handlers = append(p.handlers, h)
}

// Due 判断服务是否到了探测时间
func Due(svc *model.Service, now time.Time) bool {
	if svc.Status == model.HealthStatusStopped {
		return false
	}
	if svc.LastChecked == nil {
		return true
	}
	return now.Sub(*svc.LastChecked) >= svc.Interval
}

// Tick 探测所有到期的服务，返回探测数量；单个服务的慢探测不会阻塞其他服务
func (p *Poller) Tick(ctx context.Context) (int, error) {
	services, err := p.registry.List(ctx, registry.Filter{})
	if err != nil {
		p.logger.Error("获取服务列表失败", zap.Error(err))
		return 0, err
	}

	now := p.now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	probed := 0
	for _, svc := range services {
		if !Due(svc, now) {
			continue
		}
		svc := svc
		probed++
		g.Go(func() error {
			p.check(gctx, svc)
			return nil
		})
	}
	g.Wait()

	if probed > 0 {
		p.logger.Debug("本轮探测完成", zap.Int("probed", probed), zap.Int("services", len(services)))
	}
	return probed, nil
}

// CheckNow 立即探测指定服务
func (p *Poller) CheckNow(ctx context.Context, name string) (*model.ProbeResult, *model.Service, error) {
	svc, err := p.registry.Get(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	if svc.Status == model.HealthStatusStopped {
		return nil, nil, apperror.InvalidTransition("服务已停止监控: %s", name)
	}

	result, after, err := p.check(ctx, svc)
	if err != nil {
		return nil, nil, err
	}
	return &result, after, nil
}

func (p *Poller) check(ctx context.Context, svc *model.Service) (model.ProbeResult, *model.Service, error) {
	result := p.prober.Probe(ctx, svc)
	result.Service = svc.Name

	before, after, err := p.registry.ApplyProbe(ctx, svc.Name, result)
	if err != nil {
		// 探测过程中服务被注销
		if apperror.Is(err, apperror.CodeNotFound) {
			p.logger.Debug("服务已不存在，丢弃探测结果", zap.String("service", svc.Name))
		} else {
			p.logger.Error("写入探测结果失败", zap.String("service", svc.Name), zap.Error(err))
		}
		return result, nil, err
	}
	// 探测过程中服务被停止监控，结果作废
	if before.Status == model.HealthStatusStopped {
		p.logger.Debug("服务已停止监控，丢弃探测结果", zap.String("service", svc.Name))
		return result, nil, apperror.InvalidTransition("服务已停止监控: %s", svc.Name)
	}

	if p.observer != nil {
		p.observer.ObserveProbe(result)
	}
	p.recordSamples(ctx, result)

	if event, ok := p.transition(before, after, result); ok {
		p.logger.Info("服务健康状态变化",
			zap.String("service", svc.Name),
			zap.String("kind", string(event.Kind)),
			zap.String("from", string(event.From)),
			zap.String("to", string(event.To)))
		for _, h := range p.handlers {
			h.HandleTransition(ctx, event)
		}
	}
	return result, after, nil
}

func (p *Poller) recordSamples(ctx context.Context, result model.ProbeResult) {
	if p.samples == nil {
		return
	}

	failed := 0.0
	if !result.Success() {
		failed = 1
	}
	for _, sample := range []model.MetricSample{
		{Service: result.Service, Name: model.MetricLatency, Value: result.LatencyMs, Unit: "ms", Timestamp: result.CheckedAt},
		{Service: result.Service, Name: model.MetricError, Value: failed, Timestamp: result.CheckedAt},
	} {
		if err := p.samples.Record(ctx, sample); err != nil {
			p.logger.Warn("记录探测指标失败",
				zap.String("service", sample.Service),
				zap.String("metric", sample.Name),
				zap.Error(err))
		}
	}
}

// transition 判断本次探测是否构成需要通知的状态转换
func (p *Poller) transition(before, after *model.Service, result model.ProbeResult) (TransitionEvent, bool) {
	event := TransitionEvent{Service: after, From: before.Status, To: after.Status, Result: result}

	if before.Status == model.HealthStatusStopped {
		return event, false
	}

	switch after.Status {
	case model.HealthStatusUnhealthy:
		if before.Status != model.HealthStatusUnhealthy {
			event.Kind = TransitionUnhealthy
			return event, true
		}
	case model.HealthStatusDegraded:
		// 达到阈值时只触发一次
		if after.Metrics.ConsecutiveDegraded == p.degradedThreshold {
			event.Kind = TransitionDegraded
			return event, true
		}
	case model.HealthStatusHealthy:
		if before.Status == model.HealthStatusUnhealthy || before.Status == model.HealthStatusDegraded {
			event.Kind = TransitionRecovered
			return event, true
		}
	}
	return event, false
}
