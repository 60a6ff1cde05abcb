package router

import (
	"strings"

	"github.com/flowly/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.Default()

	secret := strings.TrimSpace(sessionSecret)
	if secret == "" {
		secret = "flowly-dev-secret"
	}
	// 配置会话中间件
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, MaxAge: 30 * 24 * 3600})
	r.Use(sessions.Sessions("flowly_session", store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	auth := r.Group("/auth")
	auth.Use(api.Identify())
	{
		auth.POST("/register", api.Register)
		auth.POST("/login", api.Login)
		auth.POST("/logout", api.Logout)
		auth.POST("/token", handler.AuthRequired(), api.IssueToken)
	}

	// 未登录时以匿名身份访问本地缓存
	planner := r.Group("/api")
	planner.Use(api.Identify())
	{
		planner.GET("/days/:date", api.GetDay)
		planner.GET("/days/:date/agenda", api.GetAgenda)
		planner.GET("/views/:view", api.GetView)
		planner.GET("/notifications", api.GetNotifications)

		planner.POST("/tasks", api.AddTask)
		planner.PUT("/items", api.EditItem)
		planner.POST("/items/toggle", api.ToggleItem)
		planner.POST("/items/move", api.MoveItem)
		planner.POST("/items/delete", api.DeleteItem)

		planner.GET("/rules", api.ListRules)
		planner.DELETE("/rules/:id", api.DeleteRule)

		planner.PUT("/settings/persistence", api.UpdatePersistence)
		planner.POST("/import/legacy", api.ImportLegacy)

		// 远程同步需要登录，匿名请求由服务层返回 401
		planner.POST("/sync/load", api.SyncLoad)
		planner.POST("/sync/push", api.SyncPush)
	}

	r.POST("/webhook/bot", api.BotWebhook)

	return r
}
