package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/opbuddy121/fibre-joint-app/internal/api/handlers"
	"github.com/opbuddy121/fibre-joint-app/internal/api/middleware"
)

type Deps struct {
	Session *handlers.SessionHandler
	WS      *handlers.WSHandler
	Auth    middleware.JWTConfig
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	auth.GET("/sessions", d.Session.List)
	auth.POST("/sessions/checkin", d.Session.CheckIn)
	auth.POST("/sessions/:session_id/checkout", d.Session.CheckOut)
	auth.POST("/sessions/:session_id/cancel", d.Session.Cancel)
	auth.GET("/sessions/:session_id/events", d.Session.Events)
	auth.POST("/signout", d.Session.SignOut)

	// WebSocket
	if d.WS != nil {
		auth.GET("/ws/sessions", d.WS.SessionsWS)
	}
}
