package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
	"github.com/hewenyu/church-monitor/pkg/storage/memory"
)

func newTestRegistry() *Registry {
	return New(memory.NewServiceStorage(), DefaultMetricsPolicy(), Defaults{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Retries:  1,
	}, config.NewNopLogger())
}

func TestRegistry_Register(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	svc, err := r.Register(ctx, RegisterRequest{
		Name:     "database",
		URL:      "http://db.local:8080",
		Critical: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusUnknown, svc.Status)
	assert.Equal(t, model.ServiceTypeHTTP, svc.Type)
	assert.Equal(t, 30*time.Second, svc.Interval)
	assert.Equal(t, 5*time.Second, svc.Timeout)
	assert.Equal(t, 1, svc.Retries)
	assert.Equal(t, 0.0, svc.Metrics.LatencyMs)
	assert.Equal(t, 0.0, svc.Metrics.ErrorRate)
	assert.Equal(t, 100.0, svc.Metrics.Uptime)
	assert.Nil(t, svc.LastChecked)

	_, err = r.Register(ctx, RegisterRequest{Name: "database", URL: "http://db.local"})
	assert.True(t, apperror.Is(err, apperror.CodeConflict))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	negative := -1

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"空名称", RegisterRequest{URL: "http://a.local"}},
		{"名称含空格", RegisterRequest{Name: "bad name", URL: "http://a.local"}},
		{"空地址", RegisterRequest{Name: "api"}},
		{"非HTTP地址", RegisterRequest{Name: "api", URL: "ftp://a.local"}},
		{"未知类型", RegisterRequest{Name: "api", URL: "http://a.local", Type: "tcp"}},
		{"无效间隔", RegisterRequest{Name: "api", URL: "http://a.local", Interval: "often"}},
		{"负数重试", RegisterRequest{Name: "api", URL: "http://a.local", Retries: &negative}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(ctx, tt.req)
			assert.True(t, apperror.Is(err, apperror.CodeValidation), "错误应为参数校验错误: %v", err)
		})
	}

	svc, err := r.Register(ctx, RegisterRequest{Name: "resolver", URL: "church.example.org", Type: model.ServiceTypeDNS})
	require.NoError(t, err)
	assert.Equal(t, model.ServiceTypeDNS, svc.Type)
}

func TestRegistry_ListAndFilter(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterRequest{Name: "database", URL: "http://db.local", Critical: true, Category: "core", Tags: []string{"sql"}})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterRequest{Name: "email", URL: "http://mail.local", Category: "notification"})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterRequest{Name: "whatsapp", URL: "http://wa.local", Category: "notification"})
	require.NoError(t, err)

	all, err := r.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	notifications, err := r.List(ctx, Filter{Category: "notification"})
	require.NoError(t, err)
	assert.Len(t, notifications, 2)

	critical := true
	crit, err := r.List(ctx, Filter{Critical: &critical})
	require.NoError(t, err)
	require.Len(t, crit, 1)
	assert.Equal(t, "database", crit[0].Name)

	tagged, err := r.List(ctx, Filter{Tag: "sql"})
	require.NoError(t, err)
	assert.Len(t, tagged, 1)
}

func TestRegistry_Update(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, RegisterRequest{Name: "api", URL: "http://api.local"})
	require.NoError(t, err)

	url := "https://api.church.org"
	interval := "1m"
	critical := true
	updated, err := r.Update(ctx, "api", UpdateRequest{URL: &url, Interval: &interval, Critical: &critical})
	require.NoError(t, err)
	assert.Equal(t, url, updated.URL)
	assert.Equal(t, time.Minute, updated.Interval)
	assert.True(t, updated.Critical)
	assert.Equal(t, model.HealthStatusUnknown, updated.Status)

	bad := "not a url"
	_, err = r.Update(ctx, "api", UpdateRequest{URL: &bad})
	assert.True(t, apperror.Is(err, apperror.CodeValidation))

	_, err = r.Update(ctx, "missing", UpdateRequest{URL: &url})
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestRegistry_ApplyProbe(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, RegisterRequest{Name: "api", URL: "http://api.local"})
	require.NoError(t, err)

	checked := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	before, after, err := r.ApplyProbe(ctx, "api", model.ProbeResult{
		Status: model.HealthStatusHealthy, LatencyMs: 100, StatusCode: 200, CheckedAt: checked,
	})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusUnknown, before.Status)
	assert.Equal(t, model.HealthStatusHealthy, after.Status)
	assert.Equal(t, 100.0, after.Metrics.LatencyMs, "第一次探测直接使用延迟")
	assert.Equal(t, 200, after.LastStatusCode)
	require.NotNil(t, after.LastChecked)
	assert.Equal(t, checked, *after.LastChecked)

	_, after, err = r.ApplyProbe(ctx, "api", model.ProbeResult{
		Status: model.HealthStatusHealthy, LatencyMs: 500, StatusCode: 200, CheckedAt: checked.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.InDelta(t, 220.0, after.Metrics.LatencyMs, 1e-9)

	// 已停止的服务不受探测结果影响
	_, err = r.OverrideStatus(ctx, "api", model.HealthStatusStopped, "维护")
	require.NoError(t, err)
	_, after, err = r.ApplyProbe(ctx, "api", model.ProbeResult{
		Status: model.HealthStatusUnhealthy, CheckedAt: checked.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusStopped, after.Status)

	_, _, err = r.ApplyProbe(ctx, "missing", model.ProbeResult{Status: model.HealthStatusHealthy})
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestRegistry_OverrideStatus(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, RegisterRequest{Name: "api", URL: "http://api.local"})
	require.NoError(t, err)

	svc, err := r.OverrideStatus(ctx, "api", model.HealthStatusDegraded, "手动降级")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusDegraded, svc.Status)

	_, err = r.OverrideStatus(ctx, "api", "broken", "")
	assert.True(t, apperror.Is(err, apperror.CodeValidation))
}

func TestRegistry_SummaryAndDeregister(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	_, err := r.Register(ctx, RegisterRequest{Name: "database", URL: "http://db.local", Critical: true})
	require.NoError(t, err)
	_, err = r.Register(ctx, RegisterRequest{Name: "email", URL: "http://mail.local"})
	require.NoError(t, err)

	now := time.Now()
	_, _, err = r.ApplyProbe(ctx, "database", model.ProbeResult{Status: model.HealthStatusUnhealthy, LatencyMs: 40, CheckedAt: now})
	require.NoError(t, err)
	_, _, err = r.ApplyProbe(ctx, "email", model.ProbeResult{Status: model.HealthStatusHealthy, LatencyMs: 20, CheckedAt: now})
	require.NoError(t, err)

	summary, err := r.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.ByStatus[model.HealthStatusUnhealthy])
	assert.Equal(t, 1, summary.ByStatus[model.HealthStatusHealthy])
	assert.Equal(t, 1, summary.Critical)
	assert.Equal(t, 1, summary.CriticalUnhealthy)
	assert.InDelta(t, 30.0, summary.AverageLatencyMs, 1e-9)
	assert.InDelta(t, (99.0+100.0)/2, summary.AverageUptime, 1e-9)

	require.NoError(t, r.Deregister(ctx, "email"))
	err = r.Deregister(ctx, "email")
	assert.True(t, apperror.Is(err, apperror.CodeNotFound))
}

func TestRegistry_LoadCatalog(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Register(ctx, RegisterRequest{Name: "database", URL: "http://db.local"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "services.yaml")
	content := `
services:
  - name: database
    url: http://db.local
  - name: whatsapp
    url: https://graph.facebook.com
    health_path: /health
    critical: true
    interval: 1m
    retries: 2
  - name: resolver
    url: church.example.org
    type: dns
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	registered, err := r.LoadCatalog(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, registered)

	wa, err := r.Get(ctx, "whatsapp")
	require.NoError(t, err)
	assert.True(t, wa.Critical)
	assert.Equal(t, time.Minute, wa.Interval)
	assert.Equal(t, 2, wa.Retries)
	assert.Equal(t, "/health", wa.HealthPath)

	_, err = r.LoadCatalog(ctx, filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
