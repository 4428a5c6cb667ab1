package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/church-monitor/internal/alert"
	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// ActorRequest 只携带操作人的请求体
type ActorRequest struct {
	Actor string `json:"actor"`
}

// MuteRequest 静默告警请求，Until和Duration都为空时使用默认时长
type MuteRequest struct {
	Actor    string     `json:"actor"`
	Until    *time.Time `json:"until"`
	Duration string     `json:"duration"`
}

// BulkRequest 批量操作请求
type BulkRequest struct {
	IDs   []string `json:"ids" validate:"required,min=1,dive,required"`
	Actor string   `json:"actor"`
}

// BulkResponse 批量操作结果
type BulkResponse struct {
	Count     int `json:"count"`
	Requested int `json:"requested"`
}

// AlertStats 告警统计
type AlertStats struct {
	model.AlertCounts
	Total int `json:"total"`
}

// listAlerts 处理告警列表查询
func (s *Server) listAlerts(c echo.Context) error {
	q := alert.Query{
		Severity: model.AlertSeverity(c.QueryParam("severity")),
		Status:   model.AlertStatus(c.QueryParam("status")),
		Service:  c.QueryParam("service"),
		Source:   c.QueryParam("source"),
		Search:   c.QueryParam("search"),
	}

	var err error
	if q.From, err = parseTime("from", c.QueryParam("from")); err != nil {
		return err
	}
	if q.To, err = parseTime("to", c.QueryParam("to")); err != nil {
		return err
	}
	if q.Page, err = queryInt(c, "page"); err != nil {
		return err
	}
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		return err
	}

	page, err := s.deps.Alerts.List(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", page)
}

// createAlert 处理手动创建告警
func (s *Server) createAlert(c echo.Context) error {
	var req alert.CreateRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	a, err := s.deps.Alerts.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return respond(c, http.StatusCreated, "告警已创建", a)
}

// alertStats 处理告警统计
func (s *Server) alertStats(c echo.Context) error {
	counts, err := s.deps.Alerts.Counts(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", AlertStats{AlertCounts: counts, Total: counts.Total()})
}

func (s *Server) getAlert(c echo.Context) error {
	a, err := s.deps.Alerts.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", a)
}

func (s *Server) deleteAlert(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Alerts.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "告警已删除", map[string]string{"id": id})
}

func (s *Server) acknowledgeAlert(c echo.Context) error {
	var req ActorRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := s.deps.Alerts.Acknowledge(c.Request().Context(), c.Param("id"), actor(c, req.Actor))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "告警已确认", a)
}

func (s *Server) resolveAlert(c echo.Context) error {
	var req ActorRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := s.deps.Alerts.Resolve(c.Request().Context(), c.Param("id"), actor(c, req.Actor))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "告警已解决", a)
}

func (s *Server) muteAlert(c echo.Context) error {
	var req MuteRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}

	until := req.Until
	if until == nil && req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			return apperror.Validation("duration格式无效: %q", req.Duration)
		}
		t := time.Now().UTC().Add(d)
		until = &t
	}

	a, err := s.deps.Alerts.Mute(c.Request().Context(), c.Param("id"), actor(c, req.Actor), until)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "告警已静默", a)
}

func (s *Server) unmuteAlert(c echo.Context) error {
	var req ActorRequest
	if err := bindOptional(c, &req); err != nil {
		return err
	}
	a, err := s.deps.Alerts.Unmute(c.Request().Context(), c.Param("id"), actor(c, req.Actor))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "告警已取消静默", a)
}

func (s *Server) escalateAlert(c echo.Context) error {
	a, err := s.deps.Alerts.Escalate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "告警已升级", a)
}

func (s *Server) bulkResolve(c echo.Context) error {
	return s.bulk(c, s.deps.Alerts.BulkResolve, "批量解决完成")
}

func (s *Server) bulkAcknowledge(c echo.Context) error {
	return s.bulk(c, s.deps.Alerts.BulkAcknowledge, "批量确认完成")
}

func (s *Server) bulk(c echo.Context, op func(ctx context.Context, ids []string, actor string) (int, error), message string) error {
	var req BulkRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	count, err := op(c.Request().Context(), req.IDs, actor(c, req.Actor))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, message, BulkResponse{Count: count, Requested: len(req.IDs)})
}

// bindOptional 绑定可以为空的请求体
func bindOptional(c echo.Context, v interface{}) error {
	if c.Request().ContentLength == 0 {
		return nil
	}
	if err := c.Bind(v); err != nil {
		return apperror.Validation("请求格式错误: %v", err)
	}
	return nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperror.Validation("%s必须是非负整数: %q", name, raw)
	}
	return v, nil
}
