package sdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/church-monitor/internal/alert"
	"github.com/hewenyu/church-monitor/internal/api"
	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/internal/metrics"
	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/pkg/storage/memory"
)

type testBackend struct {
	server  *httptest.Server
	metrics *metrics.Aggregator
	alerts  *alert.Manager
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	logger := config.NewNopLogger()
	reg := registry.New(memory.NewServiceStorage(), registry.DefaultMetricsPolicy(), registry.Defaults{
		Interval: time.Minute,
		Timeout:  time.Second,
	}, logger)
	agg := metrics.New(memory.NewMetricStorage(), metrics.Options{}, logger)
	alerts := alert.NewManager(memory.NewAlertStorage(), alert.Options{}, logger)

	srv := api.NewServer(&config.Config{}, api.Dependencies{
		Registry: reg,
		Alerts:   alerts,
		Metrics:  agg,
	}, logger)
	b := &testBackend{server: httptest.NewServer(srv.Echo()), metrics: agg, alerts: alerts}
	t.Cleanup(b.server.Close)
	return b
}

func newTestClient(t *testing.T, b *testBackend) *Client {
	t.Helper()
	client, err := NewClient(&Config{
		ServerAddr:     strings.TrimPrefix(b.server.URL, "http://"),
		ServiceName:    "choir-scheduler",
		ServiceURL:     "http://choir.local",
		Critical:       true,
		ReportInterval: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(&Config{ServiceName: "x"})
	assert.Error(t, err)
	_, err = NewClient(&Config{ServerAddr: "localhost:8080"})
	assert.Error(t, err)

	client, err := NewClient(&Config{ServerAddr: "localhost:8080", ServiceName: "x"})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, client.config.ReportInterval)
	assert.Equal(t, "x", client.config.Actor)
}

func TestClient_RegisterAndDeregister(t *testing.T) {
	b := newTestBackend(t)
	client := newTestClient(t, b)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx))
	assert.True(t, client.IsRegistered())
	assert.Error(t, client.Register(ctx), "重复注册应报错")

	svc, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "unknown", svc.Status)
	assert.True(t, svc.Critical)

	// 另一个实例注册同名服务时沿用已有注册
	other := newTestClient(t, b)
	require.NoError(t, other.Register(ctx))

	require.NoError(t, client.Close(ctx))
	assert.False(t, client.IsRegistered())

	_, err = client.Status(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_PushMetrics(t *testing.T) {
	b := newTestBackend(t)
	client := newTestClient(t, b)
	ctx := context.Background()

	n, err := client.PushMetrics(ctx,
		Sample{Name: "queue_depth", Value: 3},
		Sample{Service: "system", Name: "cpu_usage", Value: 42},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	samples, err := b.metrics.Query(ctx, "choir-scheduler", "queue_depth", time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 3.0, samples[0].Value)

	usage, err := b.metrics.Resources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42.0, usage.CPU)

	_, err = client.PushMetrics(ctx, Sample{Value: 1})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	n, err = client.PushMetrics(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_StartReporting(t *testing.T) {
	b := newTestBackend(t)
	client := newTestClient(t, b)
	ctx := context.Background()

	client.StartReporting(func() []Sample {
		return []Sample{{Name: "attendance", Value: 120}}
	})
	assert.Eventually(t, func() bool {
		samples, err := b.metrics.Query(ctx, "choir-scheduler", "attendance", time.Time{}, time.Time{}, 0)
		return err == nil && len(samples) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	client.StopReporting()
	client.StopReporting()
}

func TestClient_RaiseAlert(t *testing.T) {
	b := newTestBackend(t)
	client := newTestClient(t, b)
	ctx := context.Background()

	a, err := client.RaiseAlert(ctx, "排班表同步失败", "high", "连续三次同步失败")
	require.NoError(t, err)
	assert.Equal(t, "open", a.Status)

	stored, err := b.alerts.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "sdk", stored.Source)
	assert.Equal(t, "choir-scheduler", stored.Service)

	_, err = client.RaiseAlert(ctx, "", "high", "")
	assert.Error(t, err)
}
