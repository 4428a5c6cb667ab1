package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/church-monitor/pkg/apperror"
	"github.com/hewenyu/church-monitor/pkg/model"
)

// maxIngestBody 指标上报请求体上限，超出时返回413
const maxIngestBody = "1M"

// IngestResponse 指标上报结果
type IngestResponse struct {
	Accepted int `json:"accepted"`
}

// ingestMetrics 接收单个样本或样本数组
func (s *Server) ingestMetrics(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return apperror.Validation("读取请求体失败: %v", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return apperror.Validation("请求体不能为空")
	}

	var samples []model.MetricSample
	if body[0] == '[' {
		err = json.Unmarshal(body, &samples)
	} else {
		var sample model.MetricSample
		err = json.Unmarshal(body, &sample)
		samples = append(samples, sample)
	}
	if err != nil {
		return apperror.Validation("请求格式错误: %v", err)
	}

	ctx := c.Request().Context()
	for i, sample := range samples {
		if err := s.deps.Metrics.Record(ctx, sample); err != nil {
			if apperror.Is(err, apperror.CodeValidation) {
				return apperror.Validation("第%d个样本无效: %v", i+1, err)
			}
			return err
		}
		if s.deps.Telemetry != nil {
			s.deps.Telemetry.MetricsReceived.Inc()
		}
	}
	return respond(c, http.StatusAccepted, "指标已接收", IngestResponse{Accepted: len(samples)})
}

// querySamples 查询时间序列
func (s *Server) querySamples(c echo.Context) error {
	from, err := parseTime("from", c.QueryParam("from"))
	if err != nil {
		return err
	}
	to, err := parseTime("to", c.QueryParam("to"))
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}

	service, metric := c.Param("service"), c.Param("metric")
	samples, err := s.deps.Metrics.Query(c.Request().Context(), service, metric, from, to, limit)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", map[string]interface{}{
		"service": service,
		"metric":  metric,
		"samples": samples,
	})
}

// aggregateMetric 查询窗口聚合
func (s *Server) aggregateMetric(c echo.Context) error {
	var window time.Duration
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return apperror.Validation("window格式无效: %q", raw)
		}
		window = d
	}

	agg, err := s.deps.Metrics.Aggregate(c.Request().Context(), c.Param("service"), c.Param("metric"), window)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", agg)
}

// resources 查询主机资源使用率
func (s *Server) resources(c echo.Context) error {
	usage, err := s.deps.Metrics.Resources(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, "查询成功", usage)
}
