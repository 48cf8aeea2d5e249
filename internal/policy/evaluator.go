package policy

import (
	"errors"
	"fmt"
	"time"

	"campaign-console/internal/attempt"
)

// RetryPolicy is per-campaign retry configuration. Out-of-range values are
// rejected at the settings boundary; Evaluate still denies on them in case
// an unvalidated record reaches the engine.
type RetryPolicy struct {
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	// RetryDelayMinutes must be within [1, 30].
	RetryDelayMinutes int `json:"retry_delay_minutes" db:"retry_delay_minutes"`

	// MaxDailyRetries must be within [1, 10].
	MaxDailyRetries int `json:"max_daily_retries" db:"max_daily_retries"`
}

// Inclusive bounds for retry policy fields.
const (
	DelayMinMinutes = 1
	DelayMaxMinutes = 30
	DailyCapMin     = 1
	DailyCapMax     = 10
)

var ErrOutOfRange = errors.New("policy: value out of range")

func (p RetryPolicy) Validate() error {
	if p.RetryDelayMinutes < DelayMinMinutes || p.RetryDelayMinutes > DelayMaxMinutes {
		return fmt.Errorf("%w: retry_delay_minutes must be within [%d, %d], got %d",
			ErrOutOfRange, DelayMinMinutes, DelayMaxMinutes, p.RetryDelayMinutes)
	}
	if p.MaxDailyRetries < DailyCapMin || p.MaxDailyRetries > DailyCapMax {
		return fmt.Errorf("%w: max_daily_retries must be within [%d, %d], got %d",
			ErrOutOfRange, DailyCapMin, DailyCapMax, p.MaxDailyRetries)
	}
	return nil
}

func (p RetryPolicy) Delay() time.Duration {
	return time.Duration(p.RetryDelayMinutes) * time.Minute
}

// DenyReason explains why a retry is not permitted.
type DenyReason string

const (
	DenyDailyCapReached DenyReason = "daily_cap_reached"
	DenyAttemptActive   DenyReason = "attempt_active"
	DenyPolicyInvalid   DenyReason = "policy_invalid"
)

// Decision is the outcome of a retry-eligibility evaluation.
type Decision struct {
	Allowed bool
	Reason  DenyReason

	// NextEligibleAt is set on Allow: the earliest instant a retry may be
	// dialed.
	NextEligibleAt time.Time

	// NextAttemptsToday is the would-be daily counter the caller commits
	// atomically with the transition. Evaluate itself never mutates state.
	NextAttemptsToday int
}

func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate decides whether att may be retried under p as seen at now.
//
// Pure function: no I/O, no mutation. The daily counter is scoped to now's
// local campaign date; a counter recorded yesterday reads as zero, which
// implements the midnight-anchored daily reset. This is NOT a sliding 24h
// window (that policy belongs to the alert throttle, not here).
//
// Callers must re-fetch the attempt (fresh counters, fresh policy)
// immediately before committing a transition; the cap may have been consumed
// or changed by another observer since the last read.
func Evaluate(p RetryPolicy, att attempt.CallAttempt, now time.Time) Decision {
	if p.Validate() != nil {
		return Deny(DenyPolicyInvalid)
	}
	if !att.Status.IsRetryable() {
		return Deny(DenyAttemptActive)
	}

	attemptsToday := att.AttemptsOn(now)
	if attemptsToday >= p.MaxDailyRetries {
		return Deny(DenyDailyCapReached)
	}

	return Decision{
		Allowed:           true,
		NextEligibleAt:    now.Add(p.Delay()),
		NextAttemptsToday: attemptsToday + 1,
	}
}
