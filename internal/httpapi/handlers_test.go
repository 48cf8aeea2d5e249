package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campaign-console/internal/attempt"
	"campaign-console/internal/auth"
	"campaign-console/internal/dialer"
	"campaign-console/internal/engine"
	"campaign-console/internal/policy"
	"campaign-console/internal/reporting"
	"campaign-console/internal/store"

	"github.com/gin-gonic/gin"
)

type noopDialer struct{}

func (noopDialer) RequestDial(ctx context.Context, req dialer.Request) error { return nil }

type noopClaimer struct{}

func (noopClaimer) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (noopClaimer) Release(ctx context.Context, key, owner string) error { return nil }

func identityMW(userID, workspaceID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), userID, workspaceID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, *store.Memory, *engine.Coordinator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	coord := engine.NewCoordinator(engine.Config{
		WorkspaceID: "ws-1",
		TimeLimit:   10 * time.Minute,
	}, st, noopDialer{}, noopClaimer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = coord.Run(ctx) }()
	t.Cleanup(cancel)

	h := Handlers{
		Store:     st,
		Engine:    coord,
		Reports:   reporting.NewService(st),
		TimeLimit: 10 * time.Minute,
		Tick:      time.Second,
	}

	r := gin.New()
	r.Use(identityMW("user-1", "ws-1", "owner"))
	r.PUT("/v1/campaigns/:campaign_id/retry-settings", h.UpdateRetrySettings)
	r.GET("/v1/attempts/:attempt_id", h.GetAttempt)
	r.POST("/v1/attempts/:attempt_id/cancel", h.CancelAttempt)
	r.POST("/v1/attempts/:attempt_id/force-retry", h.ForceRetry)
	r.GET("/v1/campaigns/:campaign_id/attempts/summary", h.CampaignSummary)
	return r, st, coord
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUpdateRetrySettings(t *testing.T) {
	r, st, _ := newTestRouter(t)
	st.PutPolicy(policy.RetryPolicy{CampaignID: "camp-1", RetryDelayMinutes: 5, MaxDailyRetries: 3})

	w := doJSON(r, http.MethodPut, "/v1/campaigns/camp-1/retry-settings",
		`{"retry_delay_minutes":10,"max_daily_retries":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update = %d, body %s", w.Code, w.Body.String())
	}

	// Bounds are rejected, never clamped.
	w = doJSON(r, http.MethodPut, "/v1/campaigns/camp-1/retry-settings",
		`{"retry_delay_minutes":31,"max_daily_retries":5}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range delay = %d, want 400", w.Code)
	}
	w = doJSON(r, http.MethodPut, "/v1/campaigns/camp-1/retry-settings",
		`{"retry_delay_minutes":10,"max_daily_retries":0}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range cap = %d, want 400", w.Code)
	}

	w = doJSON(r, http.MethodPut, "/v1/campaigns/unknown/retry-settings",
		`{"retry_delay_minutes":10,"max_daily_retries":5}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown campaign = %d, want 404", w.Code)
	}
}

func TestGetAttempt_StoreFallbackWithProjection(t *testing.T) {
	r, st, _ := newTestRouter(t)

	picked := time.Now().Add(-2 * time.Minute)
	st.PutAttempt(attempt.CallAttempt{
		AttemptID: "a-1", WorkspaceID: "ws-1", CampaignID: "camp-1", LeadID: "lead-1",
		Status: attempt.StatusAwaitingPickup, PickedAt: &picked,
	})

	w := doJSON(r, http.MethodGet, "/v1/attempts/a-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d, body %s", w.Code, w.Body.String())
	}

	var view struct {
		Status     attempt.Status      `json:"status"`
		Projection *attempt.Projection `json:"projection"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Status != attempt.StatusAwaitingPickup {
		t.Fatalf("status = %q", view.Status)
	}
	if view.Projection == nil {
		t.Fatalf("expected projection for awaiting_pickup")
	}
	// 8 of 10 minutes left.
	if view.Projection.Band != attempt.BandNormal {
		t.Fatalf("band = %q, want normal", view.Projection.Band)
	}

	w = doJSON(r, http.MethodGet, "/v1/attempts/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing attempt = %d, want 404", w.Code)
	}
}

func TestGetAttempt_WorkspaceIsolation(t *testing.T) {
	r, st, _ := newTestRouter(t)
	st.PutAttempt(attempt.CallAttempt{
		AttemptID: "a-9", WorkspaceID: "ws-2", CampaignID: "camp-1", LeadID: "lead-9",
		Status: attempt.StatusConnected,
	})

	w := doJSON(r, http.MethodGet, "/v1/attempts/a-9", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("cross-workspace read = %d, want 404", w.Code)
	}
}

func TestCancelAttempt_Unknown(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/attempts/missing/cancel", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("cancel unknown = %d, want 404", w.Code)
	}
}

func TestForceRetry_Unknown(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(r, http.MethodPost, "/v1/attempts/missing/force-retry", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("force-retry unknown = %d, want 404", w.Code)
	}
}

func TestCampaignSummary(t *testing.T) {
	r, st, _ := newTestRouter(t)
	st.PutAttempt(attempt.CallAttempt{
		AttemptID: "a-1", WorkspaceID: "ws-1", CampaignID: "camp-1", LeadID: "lead-1",
		Status: attempt.StatusConnected,
	})
	st.PutAttempt(attempt.CallAttempt{
		AttemptID: "a-2", WorkspaceID: "ws-1", CampaignID: "camp-1", LeadID: "lead-2",
		Status: attempt.StatusExhausted,
	})

	w := doJSON(r, http.MethodGet, "/v1/campaigns/camp-1/attempts/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("summary = %d, body %s", w.Code, w.Body.String())
	}
	var sum reporting.AttemptSummary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sum.TotalAttempts != 2 || sum.Connected != 1 || sum.Exhausted != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}
