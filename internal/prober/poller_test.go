package prober

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage/memory"
)

// scriptedProber 按服务返回预设的健康状态
type scriptedProber struct {
	mu       sync.Mutex
	statuses map[string]model.HealthStatus
	delay    time.Duration
	inFlight int32
	peak     int32
}

func (s *scriptedProber) set(name string, status model.HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[name] = status
}

func (s *scriptedProber) Probe(ctx context.Context, svc *model.Service) model.ProbeResult {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&s.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&s.peak, peak, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	status, ok := s.statuses[svc.Name]
	s.mu.Unlock()
	if !ok {
		status = model.HealthStatusHealthy
	}
	return model.ProbeResult{Service: svc.Name, Status: status, LatencyMs: 12, StatusCode: 200, Attempts: 1, CheckedAt: time.Now().UTC()}
}

type recordingHandler struct {
	mu     sync.Mutex
	events []TransitionEvent
}

func (h *recordingHandler) HandleTransition(ctx context.Context, event TransitionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) kinds() []TransitionKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]TransitionKind, 0, len(h.events))
	for _, e := range h.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type sampleSink struct {
	mu      sync.Mutex
	samples []model.MetricSample
}

func (s *sampleSink) Record(ctx context.Context, sample model.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func newTestPoller(t *testing.T, p Prober, opts Options) (*Poller, *registry.Registry, *recordingHandler, *sampleSink) {
	t.Helper()
	reg := registry.New(memory.NewServiceStorage(), registry.DefaultMetricsPolicy(), registry.Defaults{
		Interval: time.Minute,
		Timeout:  time.Second,
	}, config.NewNopLogger())
	sink := &sampleSink{}
	poller := NewPoller(reg, p, sink, nil, opts, config.NewNopLogger())
	handler := &recordingHandler{}
	poller.AddHandler(handler)
	return poller, reg, handler, sink
}

func register(t *testing.T, reg *registry.Registry, name string) {
	t.Helper()
	_, err := reg.Register(context.Background(), registry.RegisterRequest{Name: name, URL: "http://" + name + ".local"})
	require.NoError(t, err)
}

func TestDue(t *testing.T) {
	now := time.Now()
	checked := now.Add(-30 * time.Second)

	assert.True(t, Due(&model.Service{Status: model.HealthStatusUnknown, Interval: time.Minute}, now))
	assert.False(t, Due(&model.Service{Status: model.HealthStatusHealthy, Interval: time.Minute, LastChecked: &checked}, now))
	assert.True(t, Due(&model.Service{Status: model.HealthStatusHealthy, Interval: 30 * time.Second, LastChecked: &checked}, now))
	assert.False(t, Due(&model.Service{Status: model.HealthStatusStopped, Interval: time.Second}, now))
}

func TestPoller_TickProbesDueServices(t *testing.T) {
	p := &scriptedProber{statuses: map[string]model.HealthStatus{}}
	poller, reg, _, sink := newTestPoller(t, p, Options{})
	ctx := context.Background()

	register(t, reg, "api")
	register(t, reg, "database")
	register(t, reg, "archive")
	_, err := reg.OverrideStatus(ctx, "archive", model.HealthStatusStopped, "维护")
	require.NoError(t, err)

	probed, err := poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, probed)

	svc, err := reg.Get(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusHealthy, svc.Status)
	assert.Equal(t, 12.0, svc.Metrics.LatencyMs)
	require.NotNil(t, svc.LastChecked)

	// 间隔未到，不再探测
	probed, err = poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, probed)

	assert.Len(t, sink.samples, 4)
	names := map[string]int{}
	for _, s := range sink.samples {
		names[s.Name]++
		if s.Name == model.MetricError {
			assert.Equal(t, 0.0, s.Value)
		}
	}
	assert.Equal(t, 2, names[model.MetricLatency])
	assert.Equal(t, 2, names[model.MetricError])
}

func TestPoller_BoundedConcurrency(t *testing.T) {
	p := &scriptedProber{statuses: map[string]model.HealthStatus{}, delay: 50 * time.Millisecond}
	poller, reg, _, _ := newTestPoller(t, p, Options{Concurrency: 2})

	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		register(t, reg, name)
	}

	probed, err := poller.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, probed)
	assert.LessOrEqual(t, atomic.LoadInt32(&p.peak), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&p.peak), int32(1))
}

func TestPoller_Transitions(t *testing.T) {
	p := &scriptedProber{statuses: map[string]model.HealthStatus{}}
	poller, reg, handler, _ := newTestPoller(t, p, Options{DegradedThreshold: 3})
	ctx := context.Background()
	register(t, reg, "api")

	run := func(status model.HealthStatus) {
		p.set("api", status)
		_, _, err := poller.CheckNow(ctx, "api")
		require.NoError(t, err)
	}

	run(model.HealthStatusHealthy)
	assert.Empty(t, handler.kinds())

	run(model.HealthStatusUnhealthy)
	run(model.HealthStatusUnhealthy)
	assert.Equal(t, []TransitionKind{TransitionUnhealthy}, handler.kinds())

	run(model.HealthStatusHealthy)
	assert.Equal(t, []TransitionKind{TransitionUnhealthy, TransitionRecovered}, handler.kinds())

	run(model.HealthStatusDegraded)
	run(model.HealthStatusDegraded)
	assert.Len(t, handler.kinds(), 2)
	run(model.HealthStatusDegraded)
	run(model.HealthStatusDegraded)
	assert.Equal(t, []TransitionKind{TransitionUnhealthy, TransitionRecovered, TransitionDegraded}, handler.kinds())

	handler.mu.Lock()
	last := handler.events[len(handler.events)-1]
	handler.mu.Unlock()
	assert.Equal(t, "api", last.Service.Name)
	assert.Equal(t, model.HealthStatusDegraded, last.To)
	assert.Equal(t, 3, last.Service.Metrics.ConsecutiveDegraded)
}

func TestPoller_CheckNow(t *testing.T) {
	p := &scriptedProber{statuses: map[string]model.HealthStatus{"api": model.HealthStatusDegraded}}
	poller, reg, _, _ := newTestPoller(t, p, Options{})
	ctx := context.Background()
	register(t, reg, "api")

	result, svc, err := poller.CheckNow(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusDegraded, result.Status)
	assert.Equal(t, model.HealthStatusDegraded, svc.Status)
	assert.Equal(t, 1, svc.Metrics.ConsecutiveFailures)

	_, _, err = poller.CheckNow(ctx, "missing")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))

	_, err = reg.OverrideStatus(ctx, "api", model.HealthStatusStopped, "")
	require.NoError(t, err)
	_, _, err = poller.CheckNow(ctx, "api")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidTransition))
}

// stoppingProber 在探测途中把服务设置为停止监控
type stoppingProber struct {
	reg *registry.Registry
}

func (p *stoppingProber) Probe(ctx context.Context, svc *model.Service) model.ProbeResult {
	_, _ = p.reg.OverrideStatus(ctx, svc.Name, model.HealthStatusStopped, "维护")
	return model.ProbeResult{Service: svc.Name, Status: model.HealthStatusUnhealthy, LatencyMs: 30, Attempts: 1, CheckedAt: time.Now().UTC()}
}

type countingObserver struct {
	count int32
}

func (o *countingObserver) ObserveProbe(result model.ProbeResult) {
	atomic.AddInt32(&o.count, 1)
}

func TestPoller_DiscardsResultWhenStoppedMidProbe(t *testing.T) {
	reg := registry.New(memory.NewServiceStorage(), registry.DefaultMetricsPolicy(), registry.Defaults{
		Interval: time.Minute,
		Timeout:  time.Second,
	}, config.NewNopLogger())
	sink := &sampleSink{}
	observer := &countingObserver{}
	poller := NewPoller(reg, &stoppingProber{reg: reg}, sink, observer, Options{}, config.NewNopLogger())
	handler := &recordingHandler{}
	poller.AddHandler(handler)
	ctx := context.Background()

	register(t, reg, "choir")
	_, _, err := poller.CheckNow(ctx, "choir")
	assert.True(t, apperror.Is(err, apperror.CodeInvalidTransition))

	register(t, reg, "sermons")
	probed, err := poller.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, probed)

	for _, name := range []string{"choir", "sermons"} {
		svc, err := reg.Get(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, model.HealthStatusStopped, svc.Status)
		assert.Nil(t, svc.LastChecked)
	}
	assert.Empty(t, sink.samples)
	assert.Zero(t, atomic.LoadInt32(&observer.count))
	assert.Empty(t, handler.kinds())
}
