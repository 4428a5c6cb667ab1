package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{NotFound("告警不存在: %s", "a1"), http.StatusNotFound},
		{InvalidTransition("无法确认"), http.StatusBadRequest},
		{Validation("标题不能为空"), http.StatusBadRequest},
		{Conflict("并发修改"), http.StatusConflict},
		{Persistence(errors.New("db down"), "保存失败"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
		})
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("更新告警: %w", Persistence(cause, "保存告警失败"))

	assert.True(t, Is(err, CodePersistence))
	assert.False(t, Is(err, CodeNotFound))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, "告警不存在: a1", NotFound("告警不存在: %s", "a1").Error())
}
