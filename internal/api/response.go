package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/hewenyu/church-monitor/pkg/apperror"
)

// Envelope 所有接口统一的响应结构
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

func newEnvelope(success bool, message string, data interface{}) *Envelope {
	return &Envelope{
		Success:   success,
		Data:      data,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// respond 返回成功响应
func respond(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, newEnvelope(true, message, data))
}

// handleError 把错误转换为统一响应
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "服务器内部错误"

	var appErr *apperror.Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.HTTPStatus()
		message = appErr.Error()
		if code >= http.StatusInternalServerError {
			s.logger.Error("请求处理失败",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}
	case errors.As(err, &httpErr):
		code = httpErr.Code
		if m, ok := httpErr.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(code)
		}
	default:
		s.logger.Error("未处理的错误",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, newEnvelope(false, message, nil))
	}
	if err != nil {
		s.logger.Error("写入错误响应失败", zap.Error(err))
	}
}
