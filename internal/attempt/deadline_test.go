package attempt

import (
	"context"
	"testing"
	"time"
)

func TestProject_Bands(t *testing.T) {
	picked := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	limit := 10 * time.Minute

	cases := []struct {
		name    string
		elapsed time.Duration
		band    Band
	}{
		{"fresh", 0, BandNormal},
		{"half_warning", 5*time.Minute + time.Second, BandWarning},
		{"nine_of_ten_urgent", 9 * time.Minute, BandUrgent},
		{"past_limit", 11 * time.Minute, BandExpired},
		{"exactly_at_limit", 10 * time.Minute, BandExpired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Project(picked, limit, picked.Add(tc.elapsed))
			if p.Band != tc.band {
				t.Fatalf("elapsed %v: expected band %q, got %q (pct=%.1f)", tc.elapsed, tc.band, p.Band, p.PercentLeft)
			}
		})
	}
}

func TestProject_NineMinutesOfTenIsUrgent(t *testing.T) {
	picked := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	now := picked.Add(9 * time.Minute)

	p := Project(picked, 10*time.Minute, now)
	if p.Band != BandUrgent {
		t.Fatalf("expected urgent, got %q", p.Band)
	}
	if p.PercentLeft < 9.9 || p.PercentLeft > 10.1 {
		t.Fatalf("expected ~10%% left, got %.2f", p.PercentLeft)
	}
	if p.RemainingMs != (time.Minute).Milliseconds() {
		t.Fatalf("expected 60000ms remaining, got %d", p.RemainingMs)
	}
}

func TestProject_ExpiredClampsToZero(t *testing.T) {
	picked := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	p := Project(picked, 10*time.Minute, picked.Add(time.Hour))
	if p.Band != BandExpired || p.RemainingMs != 0 || p.PercentLeft != 0 {
		t.Fatalf("expected clamped expired projection, got %+v", p)
	}
}

func TestTracker_EmitsExactlyOneExpiry(t *testing.T) {
	picked := time.Now().Add(-time.Hour) // already past the limit

	tr := Tracker{
		PickedAt:  picked,
		TimeLimit: 10 * time.Minute,
		Tick:      time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	expired := 0
	for p := range tr.Start(ctx) {
		if p.Band == BandExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("expected exactly one expiry emission, got %d", expired)
	}
}

func TestTracker_CrossesIntoExpiry(t *testing.T) {
	// Fake clock: first reads inside the limit, then past it.
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	reads := 0
	clock := func() time.Time {
		reads++
		if reads <= 2 {
			return base.Add(9 * time.Minute)
		}
		return base.Add(11 * time.Minute)
	}

	tr := Tracker{
		PickedAt:  base,
		TimeLimit: 10 * time.Minute,
		Tick:      time.Millisecond,
		Clock:     clock,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []Band
	for p := range tr.Start(ctx) {
		got = append(got, p.Band)
	}
	if len(got) < 2 {
		t.Fatalf("expected at least urgent then expired, got %v", got)
	}
	if got[0] != BandUrgent {
		t.Fatalf("expected first projection urgent, got %q", got[0])
	}
	if got[len(got)-1] != BandExpired {
		t.Fatalf("expected final projection expired, got %q", got[len(got)-1])
	}
	for _, b := range got[:len(got)-1] {
		if b == BandExpired {
			t.Fatalf("expired emitted before final projection: %v", got)
		}
	}
}

func TestTracker_CancelStopsEmissions(t *testing.T) {
	tr := Tracker{
		PickedAt:  time.Now(),
		TimeLimit: 10 * time.Minute,
		Tick:      time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := tr.Start(ctx)

	<-ch // initial projection
	cancel()

	// Channel must close; no late emissions after cancellation.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("tracker did not stop after cancellation")
		}
	}
}
