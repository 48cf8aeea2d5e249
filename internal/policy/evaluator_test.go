package policy

import (
	"errors"
	"testing"
	"time"

	"campaign-console/internal/attempt"
)

func expiredAttempt(attemptsToday int, date string) attempt.CallAttempt {
	return attempt.CallAttempt{
		AttemptID:     "a-1",
		LeadID:        "lead-1",
		CampaignID:    "camp-1",
		Status:        attempt.StatusExpired,
		AttemptsToday: attemptsToday,
		AttemptsDate:  date,
	}
}

func TestValidate_Bounds(t *testing.T) {
	cases := []struct {
		name   string
		p      RetryPolicy
		wantOK bool
	}{
		{"valid_min", RetryPolicy{RetryDelayMinutes: 1, MaxDailyRetries: 1}, true},
		{"valid_max", RetryPolicy{RetryDelayMinutes: 30, MaxDailyRetries: 10}, true},
		{"delay_zero", RetryPolicy{RetryDelayMinutes: 0, MaxDailyRetries: 3}, false},
		{"delay_over", RetryPolicy{RetryDelayMinutes: 31, MaxDailyRetries: 3}, false},
		{"cap_zero", RetryPolicy{RetryDelayMinutes: 5, MaxDailyRetries: 0}, false},
		{"cap_over", RetryPolicy{RetryDelayMinutes: 5, MaxDailyRetries: 11}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.wantOK && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantOK {
				if err == nil {
					t.Fatalf("expected out-of-range error")
				}
				if !errors.Is(err, ErrOutOfRange) {
					t.Fatalf("expected ErrOutOfRange, got %v", err)
				}
			}
		})
	}
}

func TestEvaluate_AllowComputesNextEligible(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	p := RetryPolicy{RetryDelayMinutes: 5, MaxDailyRetries: 3}
	att := expiredAttempt(2, attempt.CampaignDate(now))

	d := Evaluate(p, att, now)
	if !d.Allowed {
		t.Fatalf("expected allow, got deny(%s)", d.Reason)
	}
	if want := now.Add(5 * time.Minute); !d.NextEligibleAt.Equal(want) {
		t.Fatalf("expected next eligible %v, got %v", want, d.NextEligibleAt)
	}
	if d.NextAttemptsToday != 3 {
		t.Fatalf("expected would-be counter 3, got %d", d.NextAttemptsToday)
	}
}

func TestEvaluate_DailyCapDeniesRegardlessOfElapsedTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	p := RetryPolicy{RetryDelayMinutes: 5, MaxDailyRetries: 3}
	att := expiredAttempt(3, attempt.CampaignDate(now))

	for _, wait := range []time.Duration{0, time.Hour / 2} {
		d := Evaluate(p, att, now.Add(wait))
		if d.Allowed || d.Reason != DenyDailyCapReached {
			t.Fatalf("wait %v: expected deny(daily_cap_reached), got %+v", wait, d)
		}
	}
}

func TestEvaluate_MidnightResetAllows(t *testing.T) {
	preMidnight := time.Date(2025, 3, 10, 23, 58, 0, 0, time.UTC)
	postMidnight := time.Date(2025, 3, 11, 0, 2, 0, 0, time.UTC)

	p := RetryPolicy{RetryDelayMinutes: 5, MaxDailyRetries: 3}
	att := expiredAttempt(3, attempt.CampaignDate(preMidnight))

	if d := Evaluate(p, att, preMidnight); d.Allowed {
		t.Fatalf("expected deny before midnight, cap reached")
	}

	d := Evaluate(p, att, postMidnight)
	if !d.Allowed {
		t.Fatalf("expected allow after midnight reset, got deny(%s)", d.Reason)
	}
	if d.NextAttemptsToday != 1 {
		t.Fatalf("expected fresh counter 1, got %d", d.NextAttemptsToday)
	}
}

func TestEvaluate_ActiveAttemptDenied(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	p := RetryPolicy{RetryDelayMinutes: 5, MaxDailyRetries: 3}

	for _, st := range []attempt.Status{attempt.StatusAwaitingPickup, attempt.StatusConnected, attempt.StatusRetryScheduled, attempt.StatusCancelled} {
		att := expiredAttempt(0, attempt.CampaignDate(now))
		att.Status = st
		d := Evaluate(p, att, now)
		if d.Allowed || d.Reason != DenyAttemptActive {
			t.Fatalf("status %q: expected deny(attempt_active), got %+v", st, d)
		}
	}
}

func TestEvaluate_InvalidPolicyDenied(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	att := expiredAttempt(0, attempt.CampaignDate(now))

	d := Evaluate(RetryPolicy{RetryDelayMinutes: 0, MaxDailyRetries: 3}, att, now)
	if d.Allowed || d.Reason != DenyPolicyInvalid {
		t.Fatalf("expected deny(policy_invalid), got %+v", d)
	}
}

func TestEvaluate_NoAnswerIsRetryable(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	p := RetryPolicy{RetryDelayMinutes: 10, MaxDailyRetries: 3}
	att := expiredAttempt(0, attempt.CampaignDate(now))
	att.Status = attempt.StatusNoAnswer

	if d := Evaluate(p, att, now); !d.Allowed {
		t.Fatalf("expected allow for no_answer, got deny(%s)", d.Reason)
	}
}
