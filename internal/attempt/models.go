package attempt

import "time"

// CallAttempt is one dial-and-await-pickup cycle for a lead within a campaign.
//
// Ownership: the record is owned by the external system of record. The engine
// tracks it from awaiting_pickup onward and predicts transitions locally; the
// change feed is ground truth and always wins over a local prediction.
//
// Multi-tenant invariant: WorkspaceID is required on every row.
type CallAttempt struct {
	AttemptID   string `json:"attempt_id" db:"attempt_id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	LeadID      string `json:"lead_id" db:"lead_id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`

	Status Status `json:"status" db:"status"`

	// PickedAt is when the attempt entered awaiting_pickup; nil before the
	// dial is placed.
	PickedAt *time.Time `json:"picked_at,omitempty" db:"picked_at"`

	// AttemptsToday counts attempts since the last daily reset. The counter
	// is scoped to AttemptsDate (local campaign date, YYYY-MM-DD); a record
	// carrying yesterday's date reads as zero today.
	AttemptsToday int    `json:"attempts_today" db:"attempts_today"`
	AttemptsDate  string `json:"attempts_date" db:"attempts_date"`

	// NextEligibleAt is derived by the retry policy evaluator, never set
	// independently.
	NextEligibleAt *time.Time `json:"next_eligible_at,omitempty" db:"next_eligible_at"`

	// Version increases monotonically per attempt on every record mutation.
	// Events carrying version <= the locally applied version are discarded.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusIdle           Status = "idle"
	StatusAwaitingPickup Status = "awaiting_pickup"
	StatusConnected      Status = "connected"
	StatusNoAnswer       Status = "no_answer"
	StatusExpired        Status = "expired"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusExhausted      Status = "exhausted"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether the status ends the attempt lifecycle.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusConnected, StatusExhausted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the attempt occupies the lead's single non-terminal
// slot. At most one open attempt may exist per lead at any instant.
func (s Status) IsOpen() bool {
	switch s {
	case StatusAwaitingPickup, StatusRetryScheduled:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a retry may be evaluated from this status.
func (s Status) IsRetryable() bool {
	switch s {
	case StatusExpired, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// CampaignDate formats t as the local campaign date the daily retry counter
// is scoped to. Crossing local midnight starts a fresh counter; this is a
// wall-clock reset, not a sliding 24h window.
func CampaignDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// AttemptsOn returns the daily counter as seen at now: the stored count if
// the record's date matches now's campaign date, zero otherwise.
func (a CallAttempt) AttemptsOn(now time.Time) int {
	if a.AttemptsDate == CampaignDate(now) {
		return a.AttemptsToday
	}
	return 0
}
