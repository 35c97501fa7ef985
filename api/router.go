package api

import (
	"net/http"

	"github.com/fyerfyer/deal-ai/api/handler"
	"github.com/fyerfyer/deal-ai/api/middleware"
	"github.com/fyerfyer/deal-ai/api/model"
	"github.com/fyerfyer/deal-ai/internal/metrics"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件，metrics为nil时不暴露/metrics
func SetupRouter(
	dealHandler *handler.DealHandler,
	chatHandler *handler.ChatHandler,
	taskHandler *handler.TaskHandler,
	m *metrics.Metrics,
) *gin.Engine {
	router := gin.New()

	// 应用全局中间件
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(m.GinMiddleware())
	router.Use(middleware.ErrorMiddleware())
	router.Use(Cors())

	// 在调试模式下记录请求体和响应体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
		router.Use(middleware.ResponseLogger())
	}

	// 健康检查 - GET /health
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, model.HealthResponse{Status: "ok"})
	})

	// 处理交易文件夹 - POST /process-deal
	router.POST("/process-deal", dealHandler.ProcessDeal)

	// 聊天和报告占位接口
	router.POST("/chat", chatHandler.Chat)
	router.GET("/chat", chatHandler.Chat)
	router.GET("/report/:deal_id", chatHandler.Report)

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := router.Group("/api")
	{
		// 交易管理API
		dealGroup := api.Group("/deals")
		{
			// 获取交易列表 - GET /api/deals
			dealGroup.GET("", dealHandler.ListDeals)

			// 获取交易解析结果 - GET /api/deals/:id
			dealGroup.GET("/:id", dealHandler.GetDeal)

			// 删除交易 - DELETE /api/deals/:id
			dealGroup.DELETE("/:id", dealHandler.DeleteDeal)

			// 分块预览 - GET /api/deals/:id/chunks
			dealGroup.GET("/:id/chunks", dealHandler.GetChunks)
		}

		// 获取任务状态 - GET /api/tasks/:id
		api.GET("/tasks/:id", taskHandler.GetTaskStatus)

		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, model.NewSuccessResponse(model.HealthResponse{Status: "ok"}))
		})
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
