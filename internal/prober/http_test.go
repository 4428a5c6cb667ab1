package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/church-monitor/pkg/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code int
		want model.HealthStatus
	}{
		{200, model.HealthStatusHealthy},
		{204, model.HealthStatusHealthy},
		{299, model.HealthStatusHealthy},
		{301, model.HealthStatusDegraded},
		{404, model.HealthStatusDegraded},
		{499, model.HealthStatusDegraded},
		{500, model.HealthStatusUnhealthy},
		{503, model.HealthStatusUnhealthy},
		{0, model.HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.code), "状态码 %d", tt.code)
	}
}

func TestTarget(t *testing.T) {
	method, url := Target(&model.Service{URL: "http://api.local"})
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "http://api.local", url)

	method, url = Target(&model.Service{URL: "http://api.local/", HealthPath: "/health"})
	assert.Equal(t, http.MethodGet, method)
	assert.Equal(t, "http://api.local/health", url)

	_, url = Target(&model.Service{URL: "http://api.local", HealthPath: "ready"})
	assert.Equal(t, "http://api.local/ready", url)
}

func TestHTTPProber_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   model.HealthStatus
	}{
		{"200健康", http.StatusOK, model.HealthStatusHealthy},
		{"404降级", http.StatusNotFound, model.HealthStatusDegraded},
		{"500不健康", http.StatusInternalServerError, model.HealthStatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/health", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			p := NewHTTPProber(time.Second)
			result := p.Probe(context.Background(), &model.Service{
				Name:       "api",
				URL:        server.URL,
				HealthPath: "/health",
			})

			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.status, result.StatusCode)
			assert.Equal(t, "api", result.Service)
			assert.Equal(t, 1, result.Attempts)
			assert.False(t, result.CheckedAt.IsZero())
			if tt.want == model.HealthStatusHealthy {
				assert.Empty(t, result.Error)
			} else {
				assert.NotEmpty(t, result.Error)
			}
		})
	}
}

func TestHTTPProber_HeadWithoutHealthPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPProber(time.Second).Probe(context.Background(), &model.Service{Name: "site", URL: server.URL})
	assert.Equal(t, model.HealthStatusHealthy, result.Status)
}

func TestHTTPProber_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	result := NewHTTPProber(time.Second).Probe(context.Background(), &model.Service{
		Name:    "slow",
		URL:     server.URL,
		Timeout: 100 * time.Millisecond,
	})

	assert.Equal(t, model.HealthStatusUnhealthy, result.Status)
	assert.Equal(t, 0, result.StatusCode)
	assert.NotEmpty(t, result.Error)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPProber_DoesNotFollowRedirects(t *testing.T) {
	var targetHits int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&targetHits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer server.Close()

	result := NewHTTPProber(time.Second).Probe(context.Background(), &model.Service{Name: "moved", URL: server.URL, HealthPath: "health"})
	assert.Equal(t, model.HealthStatusDegraded, result.Status)
	assert.Equal(t, http.StatusFound, result.StatusCode)
	assert.Equal(t, int32(0), atomic.LoadInt32(&targetHits))
}

func TestHTTPProber_RetriesOnlyTransportErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewHTTPProber(time.Second)
	result := p.Probe(context.Background(), &model.Service{Name: "api", URL: server.URL, Retries: 3})
	assert.Equal(t, model.HealthStatusUnhealthy, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	// 关闭后的地址只会产生连接错误
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := closed.URL
	closed.Close()

	result = p.Probe(context.Background(), &model.Service{Name: "gone", URL: url, Retries: 2})
	assert.Equal(t, model.HealthStatusUnhealthy, result.Status)
	assert.Equal(t, 3, result.Attempts)
	require.NotEmpty(t, result.Error)
}

type stubProber struct {
	status model.HealthStatus
	calls  int32
}

func (s *stubProber) Probe(ctx context.Context, svc *model.Service) model.ProbeResult {
	atomic.AddInt32(&s.calls, 1)
	return model.ProbeResult{Service: svc.Name, Status: s.status, CheckedAt: time.Now().UTC()}
}

func TestDispatcher(t *testing.T) {
	httpStub := &stubProber{status: model.HealthStatusHealthy}
	dnsStub := &stubProber{status: model.HealthStatusDegraded}
	d := &Dispatcher{HTTP: httpStub, DNS: dnsStub}

	assert.Equal(t, model.HealthStatusHealthy, d.Probe(context.Background(), &model.Service{Type: model.ServiceTypeHTTP}).Status)
	assert.Equal(t, model.HealthStatusDegraded, d.Probe(context.Background(), &model.Service{Type: model.ServiceTypeDNS}).Status)
	assert.Equal(t, int32(1), httpStub.calls)
	assert.Equal(t, int32(1), dnsStub.calls)
}
