package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/wailbentafat/debate-relay/auth"
)

type RouterDeps struct {
	Handler *Handler
	Auth    *auth.Service
	Logger  *slog.Logger
}

// NewRouter wires Gin with middleware and handlers.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(deps.Logger.With("component", "http")))

	api := r.Group("/api")
	registerDebateRoutes(api.Group("/debates"), deps)
	registerModelRoutes(api.Group("/models"), deps)

	r.GET("/health", deps.Handler.Health)

	return r
}

func registerDebateRoutes(r *gin.RouterGroup, deps RouterDeps) {
	r.Use(RequireToken(deps.Auth))
	r.GET("/:id/stream", deps.Handler.StreamSSE)
	r.GET("/:id/ws", deps.Handler.StreamWebSocket)
	r.GET("/:id/monitors", deps.Handler.Monitors)
	r.POST("/:id/events", deps.Handler.Emit)
}

func registerModelRoutes(r *gin.RouterGroup, deps RouterDeps) {
	r.GET("", deps.Handler.ListModels)
	r.GET("/credits", deps.Handler.Credits)
	r.POST("/validate", deps.Handler.ValidateModels)
}
