package main

import (
	"database/sql"
	"log/slog"
	"time"

	"callswitch/internal/auth"
	"callswitch/internal/gateway"
	"callswitch/internal/httpapi"
	"callswitch/internal/rbac"
	"callswitch/internal/session"
	"callswitch/internal/signaling"
	"callswitch/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type registerDeps struct {
	auth       *auth.Manager
	registry   *session.Registry
	dispatcher *signaling.Dispatcher
	hub        *gateway.Hub
	db         *sql.DB
	rdb        *redis.Client
	log        *slog.Logger
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	h := httpapi.Handlers{
		Auth:       deps.auth,
		Registry:   deps.registry,
		Dispatcher: deps.dispatcher,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, deps.db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ready", "active_calls": deps.registry.Len()})
	})

	// Signaling webhook (public).
	// NOTE: In production this endpoint must be reachable only from the
	// SIP stack's network or carry a shared-secret header.
	r.POST("/webhooks/signaling", h.SignalingEvent)

	// Event gateway. Token validation happens inside the handler, both
	// before and after the websocket upgrade.
	r.GET("/ws/events", gateway.Handler(deps.hub, deps.log))

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation
	// is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	{
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleSupervisor))
		{
			calls.GET("", h.ListActiveCalls)
			calls.GET("/:id", h.GetCall)
		}
	}
}
