package router

import (
	"net/http"
	"time"

	"github.com/blues/cfledger/internal/handler"
	"github.com/blues/cfledger/internal/logger"
	"github.com/blues/cfledger/internal/logic"
	"github.com/blues/cfledger/internal/notify"
	"github.com/gin-gonic/gin"
)

// Setup 注册路由，hub 为 nil 时不提供事件推送
func Setup(campaignLogic *logic.CampaignLogic, hub *notify.Hub) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(requestLogger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "crowdfunding-ledger",
		})
	})

	// API版本组
	v1 := r.Group("/api/v1")
	{
		campaignHandler := handler.NewCampaignHandler(campaignLogic)
		campaigns := v1.Group("/campaigns")
		{
			campaigns.GET("", campaignHandler.GetCampaigns)
			campaigns.GET("/:id", campaignHandler.GetCampaign)
			campaigns.GET("/:id/contributions", campaignHandler.GetContributionRecords)
			campaigns.GET("/:id/contributions/:address", campaignHandler.GetContribution)

			// 需要调用方身份
			authed := campaigns.Group("", handler.RequireCaller())
			authed.POST("", campaignHandler.CreateCampaign)
			authed.POST("/:id/contributions", campaignHandler.Contribute)
			authed.POST("/:id/withdraw", campaignHandler.Withdraw)
		}

		if hub != nil {
			v1.GET("/events/ws", func(c *gin.Context) {
				hub.ServeWS(c.Writer, c.Request)
			})
		}
	}

	return r
}

// requestLogger 使用统一日志器记录请求
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, "+handler.CallerHeader)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
