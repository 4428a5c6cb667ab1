package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/church-monitor/internal/alert"
	"github.com/hewenyu/church-monitor/pkg/model"
)

func TestTelemetry_Observers(t *testing.T) {
	tel := New(prometheus.NewRegistry())

	tel.ObserveProbe(model.ProbeResult{Service: "api", Status: model.HealthStatusHealthy, LatencyMs: 20})
	tel.ObserveProbe(model.ProbeResult{Service: "api", Status: model.HealthStatusUnhealthy, LatencyMs: 5000})
	tel.ObserveProbe(model.ProbeResult{Service: "api", Status: model.HealthStatusHealthy, LatencyMs: 30})

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.ProbesTotal.WithLabelValues("api", "healthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.ProbesTotal.WithLabelValues("api", "unhealthy")))

	tel.PublishAlert(alert.Event{Action: alert.ActionCreated})
	tel.PublishAlert(alert.Event{Action: alert.ActionCreated})
	tel.PublishAlert(alert.Event{Action: alert.ActionResolved})
	assert.Equal(t, 2.0, testutil.ToFloat64(tel.AlertEvents.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.AlertEvents.WithLabelValues("resolved")))
}

func TestTelemetry_MiddlewareAndHandler(t *testing.T) {
	tel := New(nil)

	e := echo.New()
	e.Use(tel.Middleware())
	e.GET("/api/v1/services/:name", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(tel.Handler()))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/services/api", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(tel.RequestsTotal.WithLabelValues("/api/v1/services/:name", "GET", "200")))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "church_monitor_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
