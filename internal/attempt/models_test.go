package attempt

import (
	"testing"
	"time"
)

func TestStatus_Classification(t *testing.T) {
	terminals := []Status{StatusConnected, StatusExhausted, StatusCancelled}
	for _, s := range terminals {
		if !s.IsTerminal() {
			t.Fatalf("expected %q terminal", s)
		}
		if s.IsOpen() {
			t.Fatalf("terminal %q must not be open", s)
		}
	}

	open := []Status{StatusAwaitingPickup, StatusRetryScheduled}
	for _, s := range open {
		if !s.IsOpen() || s.IsTerminal() {
			t.Fatalf("expected %q open and non-terminal", s)
		}
	}

	if !StatusExpired.IsRetryable() || !StatusNoAnswer.IsRetryable() {
		t.Fatalf("expired and no_answer must be retryable")
	}
	if StatusAwaitingPickup.IsRetryable() || StatusConnected.IsRetryable() {
		t.Fatalf("active/terminal statuses must not be retryable")
	}
}

func TestAttemptsOn_ResetsAcrossMidnight(t *testing.T) {
	preMidnight := time.Date(2025, 3, 10, 23, 55, 0, 0, time.UTC)
	postMidnight := time.Date(2025, 3, 11, 0, 5, 0, 0, time.UTC)

	a := CallAttempt{AttemptsToday: 3, AttemptsDate: CampaignDate(preMidnight)}

	if got := a.AttemptsOn(preMidnight); got != 3 {
		t.Fatalf("same day: expected 3, got %d", got)
	}
	if got := a.AttemptsOn(postMidnight); got != 0 {
		t.Fatalf("next day: expected reset to 0, got %d", got)
	}
}
