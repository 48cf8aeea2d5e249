package main

import (
	"database/sql"
	"net/http"
	"time"

	"campaign-console/internal/httpapi"
	"campaign-console/internal/rbac"
	"campaign-console/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, db *sql.DB, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CAMPAIGN routes. Settings writes are owner/supervisor; the summary
		// additionally opens to analysts.
		settingsMW := httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleSuperAdmin)
		summaryMW := httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAnalyst, rbac.RoleSuperAdmin)
		campaigns := v1.Group("/campaigns")
		{
			campaigns.PUT("/:campaign_id/retry-settings",
				append(settingsMW, h.UpdateRetrySettings)...)
			campaigns.GET("/:campaign_id/attempts/summary",
				append(summaryMW, h.CampaignSummary)...)
		}

		// ATTEMPT routes. Agents drive the live views and commands.
		attempts := v1.Group("/attempts")
		attempts.Use(httpapi.RequireWorkspaceAndAnyRole(rbac.RoleOwner, rbac.RoleAgent, rbac.RoleSupervisor, rbac.RoleSuperAdmin)...)
		{
			attempts.GET("/:attempt_id", h.GetAttempt)
			attempts.GET("/:attempt_id/deadline", h.StreamDeadline)
			attempts.POST("/:attempt_id/cancel", h.CancelAttempt)
			attempts.POST("/:attempt_id/force-retry", h.ForceRetry)
		}
	}
}
