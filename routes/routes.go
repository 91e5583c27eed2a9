package routes

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"matrimony-chat/controllers"
	"matrimony-chat/middlewares"
	"matrimony-chat/services"
)

// RegisterRoutes builds the view API engine.
func RegisterRoutes(ctl *controllers.Controller, manager *services.Manager, allowedOrigins []string, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestID(), middlewares.Logging(log))

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		// Credentials cannot be combined with a literal "*".
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	r.Use(cors.New(corsConfig))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ctl.WSController)

	api := r.Group("/api")
	api.POST("/session", ctl.Login)
	api.DELETE("/session", ctl.Logout)
	api.GET("/status", ctl.Status)

	protected := api.Group("")
	protected.Use(middlewares.RequireIdentity(manager))
	{
		protected.GET("/conversations", ctl.GetConversations)
		protected.POST("/conversations", ctl.CreateConversationHandler)
		protected.POST("/conversations/:conversation_id/read", ctl.ResetUnread)
		protected.POST("/conversations/:conversation_id/view", ctl.OpenConversation)
		protected.DELETE("/conversations/:conversation_id/view", ctl.CloseConversation)
		protected.GET("/conversations/:conversation_id/messages", ctl.GetMessagesByConversationID)
		protected.POST("/conversations/:conversation_id/messages/more", ctl.LoadMoreMessages)
		protected.POST("/conversations/:conversation_id/messages", ctl.SendMessage)
		protected.DELETE("/conversations/:conversation_id/messages/:message_id", ctl.DeleteMessage)
		protected.POST("/conversations/:conversation_id/typing", ctl.Typing)

		protected.GET("/unread", ctl.GetUnread)
		protected.GET("/notifications", ctl.GetNotifications)
		protected.PATCH("/notifications/read-all", ctl.MarkAllNotificationsRead)
		protected.PATCH("/notifications/:notification_id/read", ctl.MarkNotificationRead)
		protected.DELETE("/notifications/:notification_id", ctl.DeleteNotification)
	}

	return r
}
