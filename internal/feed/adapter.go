package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Adapter subscribes to the record store's change stream and republishes
// normalized events to local consumers.
//
// Delivery contract: at-least-once. The backing stream is ordered and
// durable, so events cannot be dropped; on a transient fault the adapter
// resubscribes with bounded backoff and replays a full snapshot first, which
// may re-deliver events the consumer has already applied. Version gating
// downstream makes that a no-op.
type Adapter struct {
	RDB    *redis.Client
	Stream string

	// Workspace optionally scopes the subscription to one client's leads.
	// Empty means no filtering.
	Workspace string

	// Snapshot re-requests the full open-attempt state; it is invoked on
	// every (re)subscription before live events flow, so a reconnect cannot
	// miss mutations that happened while disconnected.
	Snapshot func(ctx context.Context) error

	// OnStale is invoked with true when recovery attempts exceed
	// MaxRecoveries (projections may be stale), and with false once the
	// subscription is healthy again.
	OnStale func(stale bool)

	Log *slog.Logger

	// Backoff tuning; zero values get conservative defaults.
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxRecoveries int

	// Block bounds each XREAD wait so ctx cancellation is observed.
	Block time.Duration
}

func (a *Adapter) defaults() {
	if a.BaseBackoff <= 0 {
		a.BaseBackoff = 500 * time.Millisecond
	}
	if a.MaxBackoff <= 0 {
		a.MaxBackoff = 30 * time.Second
	}
	if a.MaxRecoveries <= 0 {
		a.MaxRecoveries = 5
	}
	if a.Block <= 0 {
		a.Block = 5 * time.Second
	}
	if a.Log == nil {
		a.Log = slog.Default()
	}
}

// Run subscribes and pumps events into out until ctx is cancelled. It never
// returns on transient faults; the worst outcome is a temporarily stale
// consumer, self-healing on reconnect.
func (a *Adapter) Run(ctx context.Context, out chan<- ChangeEvent) error {
	a.defaults()

	failures := 0
	stale := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastID, err := a.subscribe(ctx)
		if err == nil {
			if stale {
				stale = false
				a.notifyStale(false)
			}
			failures = 0
			err = a.consume(ctx, lastID, out)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		failures++
		delay := backoffDelay(failures, a.BaseBackoff, a.MaxBackoff)
		a.Log.Warn("change feed subscription fault", "err", err, "failures", failures, "retry_in", delay)

		if !stale && failures > a.MaxRecoveries {
			stale = true
			a.notifyStale(true)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// subscribe captures the current stream head, then replays the snapshot.
// Reading from the pre-snapshot head afterwards guarantees no mutation
// between snapshot and first read is missed (it may be seen twice).
func (a *Adapter) subscribe(ctx context.Context) (string, error) {
	lastID := "0-0"
	msgs, err := a.RDB.XRevRangeN(ctx, a.Stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) > 0 {
		lastID = msgs[0].ID
	}

	if a.Snapshot != nil {
		if err := a.Snapshot(ctx); err != nil {
			return "", err
		}
	}
	return lastID, nil
}

func (a *Adapter) consume(ctx context.Context, lastID string, out chan<- ChangeEvent) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := a.RDB.XRead(ctx, &redis.XReadArgs{
			Streams: []string{a.Stream, lastID},
			Block:   a.Block,
			Count:   100,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue // block timeout, nothing new
		}
		if err != nil {
			return err
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID

				e, err := parseEvent(msg.Values)
				if err != nil {
					// Malformed producer entry; skip rather than wedge the feed.
					a.Log.Warn("change feed entry dropped", "id", msg.ID, "err", err)
					continue
				}
				if a.Workspace != "" && e.WorkspaceID != a.Workspace {
					continue
				}

				select {
				case out <- e:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (a *Adapter) notifyStale(stale bool) {
	if a.OnStale != nil {
		a.OnStale(stale)
	}
}

// backoffDelay grows exponentially from base, capped at max.
func backoffDelay(failures int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
