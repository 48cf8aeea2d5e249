package feed

import (
	"testing"
	"time"

	"campaign-console/internal/attempt"
)

func TestParseEvent_Normalizes(t *testing.T) {
	picked := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	e, err := parseEvent(map[string]any{
		"kind":           "attempt_updated",
		"attempt_id":     "a-1",
		"workspace_id":   "ws-1",
		"lead_id":        "lead-1",
		"campaign_id":    "camp-1",
		"version":        "7",
		"status":         "awaiting_pickup",
		"picked_at":      picked.Format(time.RFC3339),
		"attempts_today": "2",
		"attempts_date":  "2025-03-10",
		"occurred_at":    picked.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if e.Kind != KindAttemptUpdated || e.AttemptID != "a-1" || e.Version != 7 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Status != attempt.StatusAwaitingPickup {
		t.Fatalf("unexpected status %q", e.Status)
	}
	if e.PickedAt == nil || !e.PickedAt.Equal(picked) {
		t.Fatalf("unexpected picked_at %v", e.PickedAt)
	}
	if e.AttemptsToday != 2 || e.AttemptsDate != "2025-03-10" {
		t.Fatalf("unexpected counters: %+v", e)
	}
}

func TestParseEvent_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name   string
		values map[string]any
	}{
		{"unknown_kind", map[string]any{"kind": "nope", "attempt_id": "a", "version": "1"}},
		{"missing_attempt_id", map[string]any{"kind": "attempt_updated", "version": "1"}},
		{"bad_version", map[string]any{"kind": "attempt_updated", "attempt_id": "a", "version": "x"}},
		{"bad_picked_at", map[string]any{"kind": "attempt_updated", "attempt_id": "a", "version": "1", "picked_at": "yesterday"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseEvent(tc.values); err == nil {
				t.Fatalf("expected parse error")
			}
		})
	}
}

func TestFromAttempt_TerminalKind(t *testing.T) {
	a := attempt.CallAttempt{AttemptID: "a-1", Status: attempt.StatusConnected, Version: 3}
	e := FromAttempt(a)
	if e.Kind != KindAttemptTerminal {
		t.Fatalf("expected terminal kind, got %q", e.Kind)
	}

	a.Status = attempt.StatusAwaitingPickup
	if e := FromAttempt(a); e.Kind != KindAttemptUpdated {
		t.Fatalf("expected updated kind, got %q", e.Kind)
	}
}

func TestApply_CopiesAuthoritativeFields(t *testing.T) {
	picked := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	e := ChangeEvent{
		Kind:          KindAttemptUpdated,
		AttemptID:     "a-1",
		WorkspaceID:   "ws-1",
		LeadID:        "lead-1",
		CampaignID:    "camp-1",
		Version:       4,
		Status:        attempt.StatusRetryScheduled,
		PickedAt:      &picked,
		AttemptsToday: 2,
		AttemptsDate:  "2025-03-10",
		OccurredAt:    picked.Add(time.Minute),
	}

	var a attempt.CallAttempt
	e.Apply(&a)

	if a.Version != 4 || a.Status != attempt.StatusRetryScheduled || a.AttemptsToday != 2 {
		t.Fatalf("apply did not copy fields: %+v", a)
	}
	if a.PickedAt == nil || !a.PickedAt.Equal(picked) {
		t.Fatalf("picked_at not applied")
	}
}

func TestBackoffDelay_BoundedGrowth(t *testing.T) {
	base := 500 * time.Millisecond
	max := 30 * time.Second

	if d := backoffDelay(1, base, max); d != base {
		t.Fatalf("first failure: expected %v, got %v", base, d)
	}
	if d := backoffDelay(3, base, max); d != 2*time.Second {
		t.Fatalf("third failure: expected 2s, got %v", d)
	}
	if d := backoffDelay(50, base, max); d != max {
		t.Fatalf("expected cap %v, got %v", max, d)
	}
}
