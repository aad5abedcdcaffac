package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/oneline-chat/internal/handler"
	"github.com/ashwinyue/oneline-chat/internal/middleware"
	"github.com/ashwinyue/oneline-chat/internal/service"
)

// SetupRouter 设置路由
func SetupRouter(h *handler.Handlers, svc *service.Services) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(middleware.RecoveryMiddleware())
	r.Use(middleware.LoggingMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(middleware.AuthMiddleware(svc))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"agents": svc.Registry.Size(),
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// Chat 聊天
		chatGroup := v1.Group("/chat")
		{
			chatGroup.POST("/completions", h.Chat.Completions)
			chatGroup.POST("/stream", h.Chat.Stream)
			chatGroup.GET("/history/:chat_id", h.Chat.GetHistory)
			chatGroup.DELETE("/:chat_id", h.Chat.DeleteChat)
			chatGroup.POST("/:chat_id/share", h.Chat.ShareChat)
		}
		v1.GET("/chats", h.Chat.ListChats)
		v1.GET("/shared/:token", h.Chat.GetSharedChat)

		// OpenAI 兼容的模型列表
		v1.GET("/models", h.Chat.ListModels)

		// Auth 认证
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", h.Auth.Register)
			authGroup.POST("/login", h.Auth.Login)
			authGroup.POST("/refresh", h.Auth.Refresh)

			// 以下接口要求已登录用户
			authGroup.POST("/logout", middleware.RequireAuth(svc), h.Auth.Logout)
			authGroup.GET("/me", middleware.RequireAuth(svc), h.Auth.Me)
			authGroup.POST("/change-password", middleware.RequireAuth(svc), h.Auth.ChangePassword)
		}
	}

	// Agent 管理
	agents := r.Group("/api/agents")
	{
		agents.GET("", h.Agent.ListAgents)
		agents.GET("/default", h.Agent.GetDefaultAgent)
		agents.GET("/chat/:chat_id/active", h.Agent.GetActiveAgent)
		agents.GET("/:id", h.Agent.GetAgent)
		agents.GET("/:id/status", h.Agent.GetAgentStatus)
		agents.POST("/:id/select", h.Agent.SelectAgent)
	}

	return r
}
