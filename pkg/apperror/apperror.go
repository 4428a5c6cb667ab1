// Package apperror 定义业务层错误分类及其HTTP状态码映射
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 业务错误代码
type Code string

const (
	// CodeNotFound 资源不存在
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalidTransition 当前状态不允许该操作
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	// CodeValidation 参数校验失败
	CodeValidation Code = "VALIDATION"
	// CodePersistence 存储层失败
	CodePersistence Code = "PERSISTENCE"
	// CodeConflict 并发修改冲突
	CodeConflict Code = "CONFLICT"
)

// Error 业务错误
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus 返回错误对应的HTTP状态码
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeValidation:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NotFound 创建资源不存在错误
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition 创建非法状态转换错误
func InvalidTransition(format string, args ...interface{}) *Error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// Validation 创建参数校验错误
func Validation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict 创建并发冲突错误
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Persistence 创建存储失败错误
func Persistence(err error, format string, args ...interface{}) *Error {
	return &Error{Code: CodePersistence, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf 返回错误链中的业务错误代码，不是业务错误时返回空字符串
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is 判断错误链中是否包含指定代码的业务错误
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
