// Package telemetry 把探测、告警和API请求导出为Prometheus指标
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hewenyu/church-monitor/internal/alert"
	"github.com/hewenyu/church-monitor/pkg/model"
)

const namespace = "church_monitor"

// Telemetry 持有所有采集器，注册在注入的Registry上
type Telemetry struct {
	registry *prometheus.Registry

	ProbesTotal     *prometheus.CounterVec
	ProbeLatency    *prometheus.HistogramVec
	AlertEvents     *prometheus.CounterVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	MetricsReceived prometheus.Counter
}

// New 创建采集器，reg为nil时新建一个带进程和Go运行时采集器的Registry
func New(reg *prometheus.Registry) *Telemetry {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Telemetry{
		registry: reg,
		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "probes_total",
				Help:      "Total number of health probes by verdict",
			},
			[]string{"service", "status"},
		),
		ProbeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_latency_seconds",
				Help:      "Health probe latency in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service"},
		),
		AlertEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_events_total",
				Help:      "Total number of alert lifecycle events",
			},
			[]string{"action"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"route", "method"},
		),
		MetricsReceived: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_samples_received_total",
				Help:      "Total number of metric samples accepted through the ingest API",
			},
		),
	}
}

// Handler 返回Prometheus抓取接口
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// ObserveProbe 实现prober.ProbeObserver
func (t *Telemetry) ObserveProbe(result model.ProbeResult) {
	t.ProbesTotal.WithLabelValues(result.Service, string(result.Status)).Inc()
	t.ProbeLatency.WithLabelValues(result.Service).Observe(result.LatencyMs / 1000)
}

// PublishAlert 实现alert.EventPublisher
func (t *Telemetry) PublishAlert(event alert.Event) {
	t.AlertEvents.WithLabelValues(string(event.Action)).Inc()
}

// Middleware 记录每个API请求的数量和耗时
func (t *Telemetry) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			t.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Response().Status)).Inc()
			t.RequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
