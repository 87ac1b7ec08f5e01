package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// HealthFunc reports live counters for /health.
type HealthFunc func() gin.H

type RouterDeps struct {
	AllowedOrigins []string
	Authenticator  Authenticator
	Auth           *AuthHandlers
	Rooms          *RoomHandlers
	WebSocket      *WebSocketHandlers
	Health         HealthFunc
}

func NewRouter(d RouterDeps, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log, "/health"))
	router.Use(cors.New(newCORSConfig(d.AllowedOrigins)))

	started := time.Now()
	router.GET("/health", func(c *gin.Context) {
		body := gin.H{"status": "ok", "uptime": time.Since(started).Round(time.Second).String()}
		if d.Health != nil {
			for k, v := range d.Health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	api := router.Group("/api")
	api.POST("/auth/register", d.Auth.Register)
	api.POST("/auth/login", d.Auth.Login)

	authed := api.Group("", RequireAuth(d.Authenticator, log))
	authed.POST("/auth/logout", d.Auth.Logout)
	authed.GET("/rooms", d.Rooms.ListRooms)
	authed.POST("/rooms", d.Rooms.CreateRoom)
	authed.GET("/rooms/:id", d.Rooms.GetRoom)
	authed.DELETE("/rooms/:id", d.Rooms.DeleteRoom)

	router.GET("/ws", d.WebSocket.HandleWebSocket)
	return router
}

func newCORSConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", sessionIDHeader}
	return cfg
}
