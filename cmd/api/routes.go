package main

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"voicelink/internal/httpapi"
	"voicelink/internal/pstn"
	"voicelink/internal/signaling"
	"voicelink/pkg/utils"
)

type registerDeps struct {
	db          *sql.DB
	authMW      gin.HandlerFunc
	ws          *signaling.Handler
	webhooks    *pstn.Handler
	apiHandlers httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public; authenticated by signature validation).
	r.POST("/webhooks/twilio/status", deps.webhooks.TwilioStatus)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", deps.apiHandlers.Login)

	// Signaling channel. The access token arrives via the "token" query
	// parameter; browsers cannot set headers on websocket upgrades.
	r.GET("/ws", deps.authMW, deps.ws.Serve)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/presence", deps.apiHandlers.ListPresence)

		calls := v1.Group("/calls")
		{
			calls.GET("/history", deps.apiHandlers.CallHistory)
			calls.GET("/:id", deps.apiHandlers.GetCall)
		}
	}
}
