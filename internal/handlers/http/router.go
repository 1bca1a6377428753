package http

import (
	"net/http"

	"meetkit/internal/core/services"
	"meetkit/internal/infrastructure/middleware"
	"meetkit/pkg/config"
	"meetkit/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Config *config.Config
	Logger *zap.Logger
	Auth   services.AuthService
	Client *ClientHandler
	Health *HealthHandler
	// LiveFeed serves /ws when set.
	LiveFeed http.HandlerFunc
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewRouter wires the middleware chain and every route of the client API.
func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Logger.Sugar()

	ctxLog := logger.NewContextLogger(deps.Logger)

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(ctxLog),
		middleware.ErrorHandlerMiddleware(ctxLog),
		middleware.NewHTTPRateLimitMiddleware(deps.Config),
	)

	deps.Health.SetupRoutes(router)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	if deps.LiveFeed != nil {
		router.GET("/ws", gin.WrapF(deps.LiveFeed))
	}

	api := router.Group("/api/v1")
	control := api.Group("", middleware.AuthMiddleware(deps.Auth, services.ScopeTileControl))
	deps.Client.SetupRoutes(api, control)

	authed := api.Group("", middleware.AuthMiddleware(deps.Auth, services.ScopeRead))
	NewAuthHandler(deps.Auth).SetupRoutes(authed)

	return router
}
