package attempt

import (
	"context"
	"time"
)

// Band is the qualitative urgency classification of remaining deadline time.
type Band string

const (
	BandNormal  Band = "normal"
	BandWarning Band = "warning"
	BandUrgent  Band = "urgent"
	BandExpired Band = "expired"
)

// Projection is the derived countdown state for one attempt. It is computed
// on demand and never persisted.
type Projection struct {
	RemainingMs int64   `json:"remaining_ms"`
	PercentLeft float64 `json:"percent_left"`
	Band        Band    `json:"band"`

	// Stale marks projections computed while the change feed is known to be
	// disconnected beyond recovery; the countdown may not reflect server
	// state.
	Stale bool `json:"stale,omitempty"`
}

// Project computes the deadline projection for an attempt picked at pickedAt
// with the given time limit, as seen at now.
//
// Bands: percentLeft < 30 urgent, < 50 warning, otherwise normal;
// remaining <= 0 expired.
func Project(pickedAt time.Time, timeLimit time.Duration, now time.Time) Projection {
	remaining := pickedAt.Add(timeLimit).Sub(now)
	if remaining <= 0 || timeLimit <= 0 {
		return Projection{RemainingMs: 0, PercentLeft: 0, Band: BandExpired}
	}

	pct := float64(remaining.Milliseconds()) / float64(timeLimit.Milliseconds()) * 100

	band := BandNormal
	switch {
	case pct < 30:
		band = BandUrgent
	case pct < 50:
		band = BandWarning
	}

	return Projection{
		RemainingMs: remaining.Milliseconds(),
		PercentLeft: pct,
		Band:        band,
	}
}

// Tracker produces a projection stream for one attempt while it awaits
// pickup. It emits at most one expired projection, then stops.
//
// The tracker never mutates the attempt record; transitions belong to the
// machine consuming the expiry.
type Tracker struct {
	PickedAt  time.Time
	TimeLimit time.Duration

	// Tick defaults to 1s.
	Tick time.Duration

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

// Start launches the tick loop and returns its projection channel. The
// channel is closed when the deadline expires or ctx is cancelled; after
// cancellation no further projections are emitted and the timer resource is
// released.
func (t Tracker) Start(ctx context.Context) <-chan Projection {
	out := make(chan Projection, 1)
	go func() {
		defer close(out)
		t.run(ctx, out)
	}()
	return out
}

func (t Tracker) run(ctx context.Context, out chan<- Projection) {
	clock := t.Clock
	if clock == nil {
		clock = time.Now
	}
	tick := t.Tick
	if tick <= 0 {
		tick = time.Second
	}

	// Immediate projection so observers never wait a full tick for the
	// first reading.
	p := Project(t.PickedAt, t.TimeLimit, clock())
	select {
	case out <- p:
	case <-ctx.Done():
		return
	}
	if p.Band == BandExpired {
		return
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := Project(t.PickedAt, t.TimeLimit, clock())
			select {
			case out <- p:
			case <-ctx.Done():
				return
			}
			if p.Band == BandExpired {
				// Exactly one expiry per tracker instance.
				return
			}
		}
	}
}
