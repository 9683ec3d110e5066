package handler

import (
	"errors"
	"net/http"

	"github.com/blues/cfledger/internal/logger"
	"github.com/blues/cfledger/internal/logic"
	"github.com/blues/cfledger/internal/registry"
	"github.com/gin-gonic/gin"
)

// SuccessResponse 成功响应
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Message: message,
		Data:    nil,
	})
}

// StatusFromError 把业务错误映射为 HTTP 状态码
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, registry.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, logic.ErrInvalidAddress),
		errors.Is(err, registry.ErrPaymentRejected):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, registry.ErrExpired),
		errors.Is(err, registry.ErrTooEarly),
		errors.Is(err, registry.ErrAlreadyWithdrawn),
		errors.Is(err, registry.ErrNothingToWithdraw):
		return http.StatusConflict
	case errors.Is(err, logic.ErrHistoryUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleError 输出错误响应，服务端错误记录日志
func HandleError(c *gin.Context, err error) {
	status := StatusFromError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	ErrorResponse(c, status, err.Error())
}
