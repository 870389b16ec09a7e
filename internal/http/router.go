// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"lastmile/internal/http/handlers"
	"lastmile/internal/http/middleware"
	"lastmile/internal/infra"
)

// Engine is everything the routes delegate to; the coordinator satisfies it.
type Engine interface {
	handlers.DecisionService
	handlers.QueueService
}

type RouterDeps struct {
	Engine   Engine
	Verifier infra.TokenVerifier
	Metrics  *infra.Metrics
	Logger   *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Logger), middleware.Logging(deps.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	decisionHandler := handlers.NewDecisionHandler(deps.Engine)
	api.POST("/decisions", decisionHandler.Request)
	api.GET("/decisions/:id", decisionHandler.Get)

	ops := api.Group("", middleware.RequireRole(middleware.RoleOperator))
	ops.POST("/decisions/:id/overrides", decisionHandler.Override)

	queueHandler := handlers.NewQueueHandler(deps.Engine)
	ops.GET("/queue", queueHandler.List)
	ops.DELETE("/queue/:parcel_id", queueHandler.Withdraw)
	ops.POST("/queue/drain", queueHandler.Drain)

	return r
}
