package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campaign-console/internal/attempt"
	"campaign-console/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var (
	ErrUnknownAttempt = errors.New("engine: attempt not tracked")
	ErrNotCancellable = errors.New("engine: attempt not in a cancellable state")
	ErrRetryDenied    = errors.New("engine: retry denied")
)

// machine holds the locally tracked lifecycle of one call attempt.
//
// All mutation happens on the coordinator's event loop; the machine itself
// is not safe for concurrent use. Timer resources (deadline tracker, retry
// wait) are owned here and must be released on every transition out of the
// state that started them.
type machine struct {
	att attempt.CallAttempt

	cancelTracker context.CancelFunc
	cancelWait    context.CancelFunc

	// claimKey is the dispatch claim held for an in-flight dial, released
	// once the feed confirms the dispatched state.
	claimKey string

	// rearms counts consecutive transient faults while deciding or
	// dispatching a retry; reset when a decision lands.
	rearms int
}

func (m *machine) stopTracker() {
	if m.cancelTracker != nil {
		m.cancelTracker()
		m.cancelTracker = nil
	}
}

func (m *machine) stopWait() {
	if m.cancelWait != nil {
		m.cancelWait()
		m.cancelWait = nil
	}
}

func (m *machine) stopTimers() {
	m.stopTracker()
	m.stopWait()
}

// Claimer is the cross-observer dispatch claim: exactly one observer may
// dispatch a given retry, even when several detect the same expiry. Release
// is best-effort; the TTL reaps claims a crashed observer never returned.
type Claimer interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// RedisClaimer implements Claimer on the shared redis instance.
type RedisClaimer struct {
	RDB    *redis.Client
	Prefix string
}

func (r RedisClaimer) key(key string) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "engine:claim"
	}
	return fmt.Sprintf("%s:%s", prefix, key)
}

func (r RedisClaimer) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return utils.AcquireClaim(ctx, r.RDB, r.key(key), owner, ttl)
}

func (r RedisClaimer) Release(ctx context.Context, key, owner string) error {
	return utils.ReleaseClaim(ctx, r.RDB, r.key(key), owner)
}
