package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/church-monitor/internal/registry"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// StatusOverrideRequest 手动设置服务状态请求
type StatusOverrideRequest struct {
	Status model.HealthStatus `json:"status" validate:"required,oneof=healthy degraded unhealthy stopped unknown"`
	Reason string             `json:"reason"`
}

// CheckResponse 立即探测的结果
type CheckResponse struct {
	Result  *model.ProbeResult `json:"result"`
	Service *model.Service     `json:"service"`
}

// listServices 处理查询服务列表请求
func (s *Server) listServices(c echo.Context) error {
	filter := registry.Filter{
		Status:      model.HealthStatus(c.QueryParam("status")),
		Category:    c.QueryParam("category"),
		Environment: c.QueryParam("environment"),
		Tag:         c.QueryParam("tag"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return apperror.Validation("无效的服务状态: %q", filter.Status)
	}
	if raw := c.QueryParam("critical"); raw != "" {
		critical, err := strconv.ParseBool(raw)
		if err != nil {
			return apperror.Validation("critical必须是布尔值: %q", raw)
		}
		filter.Critical = &critical
	}

	services, err := s.deps.Registry.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", map[string]interface{}{
		"services": services,
		"total":    len(services),
	})
}

// registerService 处理服务注册请求
func (s *Server) registerService(c echo.Context) error {
	var req registry.RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	service, err := s.deps.Registry.Register(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "服务注册成功", service)
}

// serviceSummary 处理服务汇总请求
func (s *Server) serviceSummary(c echo.Context) error {
	summary, err := s.deps.Registry.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", summary)
}

// getService 处理查询服务详情请求
func (s *Server) getService(c echo.Context) error {
	service, err := s.deps.Registry.Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", service)
}

// updateService 处理服务配置更新请求
func (s *Server) updateService(c echo.Context) error {
	var req registry.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("请求格式错误: %v", err)
	}

	service, err := s.deps.Registry.Update(c.Request().Context(), c.Param("name"), req)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "服务更新成功", service)
}

// deregisterService 处理服务注销请求
func (s *Server) deregisterService(c echo.Context) error {
	name := c.Param("name")
	if err := s.deps.Registry.Deregister(c.Request().Context(), name); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "服务注销成功", map[string]string{"name": name})
}

// overrideServiceStatus 处理手动设置服务状态请求
func (s *Server) overrideServiceStatus(c echo.Context) error {
	var req StatusOverrideRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	service, err := s.deps.Registry.OverrideStatus(c.Request().Context(), c.Param("name"), req.Status, req.Reason)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "服务状态已更新", service)
}

// checkService 立即探测服务
func (s *Server) checkService(c echo.Context) error {
	result, service, err := s.deps.Poller.CheckNow(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "探测完成", CheckResponse{Result: result, Service: service})
}
