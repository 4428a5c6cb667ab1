package api

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/hewenyu/church-monitor/pkg/apperror"
)

// requestValidator 实现echo.Validator接口
type requestValidator struct {
	validator *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validator: validator.New()}
}

// Validate 按validate标签校验请求体
func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validator.Struct(i); err != nil {
		return apperror.Validation("参数验证失败: %v", err)
	}
	return nil
}

// bindAndValidate 绑定并校验请求体
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperror.Validation("请求格式错误: %v", err)
	}
	return c.Validate(req)
}
