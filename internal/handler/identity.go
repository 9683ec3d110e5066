package handler

import (
	"net/http"

	"github.com/blues/cfledger/internal/logic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// CallerHeader 由前置网关写入的已验证调用方地址
const CallerHeader = "X-Caller-Address"

const callerKey = "caller"

// RequireCaller 解析调用方身份，缺失或格式错误时返回 401
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(CallerHeader)
		if raw == "" {
			ErrorResponse(c, http.StatusUnauthorized, "缺少调用方身份")
			c.Abort()
			return
		}
		caller, err := logic.ParseAddress(raw)
		if err != nil {
			ErrorResponse(c, http.StatusUnauthorized, "无效的调用方身份")
			c.Abort()
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) common.Address {
	return c.MustGet(callerKey).(common.Address)
}
