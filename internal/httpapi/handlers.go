package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"campaign-console/internal/attempt"
	"campaign-console/internal/auth"
	"campaign-console/internal/engine"
	"campaign-console/internal/policy"
	"campaign-console/internal/rbac"
	"campaign-console/internal/reporting"
	"campaign-console/internal/store"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Store   store.Store
	Engine  *engine.Coordinator
	Reports *reporting.Service

	// TimeLimit and Tick mirror the engine configuration so projections
	// computed here agree with the tracker's.
	TimeLimit time.Duration
	Tick      time.Duration
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Retry settings ---

type retrySettingsRequest struct {
	RetryDelayMinutes int `json:"retry_delay_minutes"`
	MaxDailyRetries   int `json:"max_daily_retries"`
}

// UpdateRetrySettings validates and persists a campaign's retry policy.
// Out-of-range values are rejected, never clamped.
func (h Handlers) UpdateRetrySettings(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	campaignID := c.Param("campaign_id")
	if campaignID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return
	}

	var req retrySettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	err = h.Store.UpdateRetrySettings(c.Request.Context(), workspaceID, campaignID, store.RetrySettings{
		RetryDelayMinutes: req.RetryDelayMinutes,
		MaxDailyRetries:   req.MaxDailyRetries,
	})
	switch {
	case errors.Is(err, policy.ErrOutOfRange):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"bounds": gin.H{
				"retry_delay_minutes": gin.H{"min": policy.DelayMinMinutes, "max": policy.DelayMaxMinutes},
				"max_daily_retries":   gin.H{"min": policy.DailyCapMin, "max": policy.DailyCapMax},
			},
		})
		return
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Attempt views ---

type attemptView struct {
	attempt.CallAttempt
	Projection *attempt.Projection `json:"projection,omitempty"`
}

// GetAttempt returns the attempt with its current deadline projection. The
// engine's local view is preferred (it carries predicted transitions); the
// store is the fallback for attempts the engine is not tracking.
func (h Handlers) GetAttempt(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	attemptID := c.Param("attempt_id")

	a, err := h.Engine.Peek(c.Request.Context(), attemptID)
	if errors.Is(err, engine.ErrUnknownAttempt) {
		a, err = h.Store.GetCallAttempt(c.Request.Context(), workspaceID, attemptID)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "attempt lookup failed"})
		return
	}
	if a.WorkspaceID != workspaceID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}

	view := attemptView{CallAttempt: a}
	if a.Status == attempt.StatusAwaitingPickup && a.PickedAt != nil {
		p := attempt.Project(*a.PickedAt, h.TimeLimit, time.Now())
		p.Stale = h.Engine.Stale()
		view.Projection = &p
	}
	c.JSON(http.StatusOK, view)
}

// StreamDeadline streams deadline projections over SSE while the attempt
// awaits pickup. The stream ends with the single expired projection, or when
// the client disconnects.
func (h Handlers) StreamDeadline(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	attemptID := c.Param("attempt_id")

	a, err := h.Engine.Peek(c.Request.Context(), attemptID)
	if errors.Is(err, engine.ErrUnknownAttempt) {
		a, err = h.Store.GetCallAttempt(c.Request.Context(), workspaceID, attemptID)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "attempt lookup failed"})
		return
	}
	if a.WorkspaceID != workspaceID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	}
	if a.Status != attempt.StatusAwaitingPickup || a.PickedAt == nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "attempt is not awaiting pickup"})
		return
	}

	tr := attempt.Tracker{
		PickedAt:  *a.PickedAt,
		TimeLimit: h.TimeLimit,
		Tick:      h.Tick,
	}
	ch := tr.Start(c.Request.Context())

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		p, ok := <-ch
		if !ok {
			return false
		}
		p.Stale = h.Engine.Stale()
		c.SSEvent("projection", p)
		return p.Band != attempt.BandExpired
	})
}

// --- Commands ---

func (h Handlers) CancelAttempt(c *gin.Context) {
	attemptID := c.Param("attempt_id")
	err := h.Engine.CancelAttempt(c.Request.Context(), attemptID)
	switch {
	case errors.Is(err, engine.ErrUnknownAttempt):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	case errors.Is(err, engine.ErrNotCancellable):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "attempt is not cancellable"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "cancel failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h Handlers) ForceRetry(c *gin.Context) {
	attemptID := c.Param("attempt_id")
	err := h.Engine.ForceRetryNow(c.Request.Context(), attemptID)
	switch {
	case errors.Is(err, engine.ErrUnknownAttempt):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "attempt not found"})
		return
	case errors.Is(err, engine.ErrRetryDenied):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retry_dispatched"})
}

// --- Reporting ---

func (h Handlers) CampaignSummary(c *gin.Context) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return
	}
	sum, err := h.Reports.AttemptSummary(c.Request.Context(), reporting.AttemptSummaryRequest{
		WorkspaceID: workspaceID,
		CampaignID:  c.Param("campaign_id"),
	})
	switch {
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
