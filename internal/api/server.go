// Package api 提供监控核心的HTTP接口
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/internal/alert"
	"github.com/hewenyu/church-monitor/internal/config"
	"github.com/hewenyu/church-monitor/internal/health"
	"github.com/hewenyu/church-monitor/internal/hub"
	"github.com/hewenyu/church-monitor/internal/metrics"
	"github.com/hewenyu/church-monitor/internal/prober"
	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/internal/telemetry"
	"github.com/hewenyu/church-monitor/pkg/apperror"
)

// ActorHeader 未在请求体中指定操作人时读取的请求头
const ActorHeader = "X-Actor"

// Dependencies 接口层依赖的组件，Hub和Telemetry可以为nil
type Dependencies struct {
	Registry  *registry.Registry
	Poller    *prober.Poller
	Alerts    *alert.Manager
	Metrics   *metrics.Aggregator
	Health    *health.Aggregator
	Hub       *hub.Hub
	Telemetry *telemetry.Telemetry
}

// Server HTTP接口服务
type Server struct {
	e      *echo.Echo
	cfg    *config.Config
	deps   Dependencies
	logger config.Logger
}

// NewServer 创建HTTP服务并注册路由
func NewServer(cfg *config.Config, deps Dependencies, logger config.Logger) *Server {
	s := &Server{
		e:      echo.New(),
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.handleError
	s.e.Validator = newRequestValidator()

	// 添加中间件
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.Logger())
	s.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowOrigins(cfg.Server.AllowOrigins),
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, ActorHeader},
	}))
	if deps.Telemetry != nil {
		s.e.Use(deps.Telemetry.Middleware())
	}

	s.registerRoutes()
	return s
}

func allowOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Echo 返回底层的echo实例
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// registerRoutes 注册所有路由
func (s *Server) registerRoutes() {
	// 存活检查
	s.e.GET("/health", s.liveness)

	if s.deps.Telemetry != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.deps.Telemetry.Handler()))
	}
	if s.deps.Hub != nil {
		s.e.GET("/ws", echo.WrapHandler(http.HandlerFunc(s.deps.Hub.HandleConnect)))
	}

	v1 := s.e.Group("/api/v1")
	v1.GET("/status", s.systemStatus)

	services := v1.Group("/services")
	services.GET("", s.listServices)
	services.POST("", s.registerService)
	services.GET("/summary", s.serviceSummary)
	services.GET("/:name", s.getService)
	services.PUT("/:name", s.updateService)
	services.DELETE("/:name", s.deregisterService)
	services.PUT("/:name/status", s.overrideServiceStatus)
	services.POST("/:name/check", s.checkService)

	alerts := v1.Group("/alerts")
	alerts.GET("", s.listAlerts)
	alerts.POST("", s.createAlert)
	alerts.GET("/stats", s.alertStats)
	alerts.POST("/bulk/resolve", s.bulkResolve)
	alerts.POST("/bulk/acknowledge", s.bulkAcknowledge)
	alerts.GET("/:id", s.getAlert)
	alerts.DELETE("/:id", s.deleteAlert)
	alerts.POST("/:id/acknowledge", s.acknowledgeAlert)
	alerts.POST("/:id/resolve", s.resolveAlert)
	alerts.POST("/:id/mute", s.muteAlert)
	alerts.POST("/:id/unmute", s.unmuteAlert)
	alerts.POST("/:id/escalate", s.escalateAlert)

	m := v1.Group("/metrics")
	m.POST("", s.ingestMetrics, middleware.BodyLimit(maxIngestBody))
	m.GET("/resources", s.resources)
	m.GET("/:service/:metric", s.querySamples)
	m.GET("/:service/:metric/aggregate", s.aggregateMetric)
}

// Start 非阻塞地启动HTTP服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.ListenAddress, s.cfg.Server.Port)
	s.logger.Info("启动HTTP服务", zap.String("address", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭HTTP服务...")
	if err := s.e.Shutdown(ctx); err != nil {
		s.logger.Error("关闭HTTP服务出错", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) liveness(c echo.Context) error {
	return respond(c, http.StatusOK, "ok", map[string]string{
		"status":  "ok",
		"service": "church-monitor",
	})
}

func (s *Server) systemStatus(c echo.Context) error {
	status, err := s.deps.Health.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", status)
}

// actor 优先使用请求体中的操作人，其次是请求头
func actor(c echo.Context, fromBody string) string {
	if a := strings.TrimSpace(fromBody); a != "" {
		return a
	}
	if a := strings.TrimSpace(c.Request().Header.Get(ActorHeader)); a != "" {
		return a
	}
	return "anonymous"
}

// parseTime 解析RFC3339时间，空字符串返回零值
func parseTime(field, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperror.Validation("%s必须是RFC3339格式: %q", field, raw)
	}
	return t.UTC(), nil
}
