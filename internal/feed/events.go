package feed

import (
	"fmt"
	"strconv"
	"time"

	"campaign-console/internal/attempt"
)

// Kind classifies a normalized change event. The backing feed carries
// heterogeneous record mutations; the adapter reduces them to this set.
type Kind string

const (
	KindAttemptCreated  Kind = "attempt_created"
	KindAttemptUpdated  Kind = "attempt_updated"
	KindAttemptTerminal Kind = "attempt_terminal"
)

// ChangeEvent is one normalized record mutation. Version is monotonic per
// attempt; consumers discard events with version <= the last applied one,
// which makes duplicate delivery harmless.
type ChangeEvent struct {
	Kind Kind `json:"kind"`

	AttemptID   string `json:"attempt_id"`
	WorkspaceID string `json:"workspace_id"`
	LeadID      string `json:"lead_id"`
	CampaignID  string `json:"campaign_id"`

	Version int64          `json:"version"`
	Status  attempt.Status `json:"status"`

	PickedAt       *time.Time `json:"picked_at,omitempty"`
	AttemptsToday  int        `json:"attempts_today"`
	AttemptsDate   string     `json:"attempts_date"`
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Apply copies the event's authoritative fields onto a.
func (e ChangeEvent) Apply(a *attempt.CallAttempt) {
	a.AttemptID = e.AttemptID
	a.WorkspaceID = e.WorkspaceID
	a.LeadID = e.LeadID
	a.CampaignID = e.CampaignID
	a.Status = e.Status
	a.PickedAt = e.PickedAt
	a.AttemptsToday = e.AttemptsToday
	a.AttemptsDate = e.AttemptsDate
	a.NextEligibleAt = e.NextEligibleAt
	a.Version = e.Version
	a.UpdatedAt = e.OccurredAt
}

// FromAttempt synthesizes a change event from a full record, used when a
// snapshot is replayed through the same consumer path as live events.
func FromAttempt(a attempt.CallAttempt) ChangeEvent {
	kind := KindAttemptUpdated
	if a.Status.IsTerminal() {
		kind = KindAttemptTerminal
	}
	return ChangeEvent{
		Kind:           kind,
		AttemptID:      a.AttemptID,
		WorkspaceID:    a.WorkspaceID,
		LeadID:         a.LeadID,
		CampaignID:     a.CampaignID,
		Version:        a.Version,
		Status:         a.Status,
		PickedAt:       a.PickedAt,
		AttemptsToday:  a.AttemptsToday,
		AttemptsDate:   a.AttemptsDate,
		NextEligibleAt: a.NextEligibleAt,
		OccurredAt:     a.UpdatedAt,
	}
}

// parseEvent normalizes one raw stream entry. Unknown kinds and malformed
// required fields are errors; optional timestamps are skipped when absent.
func parseEvent(values map[string]any) (ChangeEvent, error) {
	e := ChangeEvent{}

	kind := Kind(stringField(values, "kind"))
	switch kind {
	case KindAttemptCreated, KindAttemptUpdated, KindAttemptTerminal:
		e.Kind = kind
	default:
		return ChangeEvent{}, fmt.Errorf("feed: unknown event kind %q", kind)
	}

	e.AttemptID = stringField(values, "attempt_id")
	if e.AttemptID == "" {
		return ChangeEvent{}, fmt.Errorf("feed: attempt_id missing")
	}
	e.WorkspaceID = stringField(values, "workspace_id")
	e.LeadID = stringField(values, "lead_id")
	e.CampaignID = stringField(values, "campaign_id")
	e.Status = attempt.Status(stringField(values, "status"))
	e.AttemptsDate = stringField(values, "attempts_date")

	v, err := strconv.ParseInt(stringField(values, "version"), 10, 64)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("feed: bad version: %w", err)
	}
	e.Version = v

	if s := stringField(values, "attempts_today"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("feed: bad attempts_today: %w", err)
		}
		e.AttemptsToday = n
	}

	if s := stringField(values, "picked_at"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("feed: bad picked_at: %w", err)
		}
		e.PickedAt = &ts
	}
	if s := stringField(values, "next_eligible_at"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("feed: bad next_eligible_at: %w", err)
		}
		e.NextEligibleAt = &ts
	}
	if s := stringField(values, "occurred_at"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("feed: bad occurred_at: %w", err)
		}
		e.OccurredAt = ts
	}

	return e, nil
}

func stringField(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
