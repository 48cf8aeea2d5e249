package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceSource reads the workspace calling balance in minor currency units.
// The balance ledger itself lives in the external system of record; the
// engine only consumes it for alerting.
type BalanceSource interface {
	Balance(ctx context.Context, workspaceID string) (int64, error)
}

// Sender delivers one low-balance notification. Delivery transport is out of
// scope here; implementations range from a log line to a webhook.
type Sender interface {
	SendLowBalance(ctx context.Context, workspaceID string, balanceMinor, thresholdMinor int64) error
}

// Throttle suppresses repeat alerts inside a sliding window measured from
// the last alert actually sent. Unlike retry daily caps this window is NOT
// anchored to midnight; an alert at 23:50 suppresses until 23:50 next day.
type Throttle interface {
	// Allow reports whether an alert may be sent now, and if so marks the
	// window as consumed atomically.
	Allow(ctx context.Context, workspaceID string, window time.Duration) (bool, error)
}

// RedisThrottle implements the sliding window with a single SET NX PX key,
// shared across observers.
type RedisThrottle struct {
	RDB *redis.Client
}

func (t *RedisThrottle) Allow(ctx context.Context, workspaceID string, window time.Duration) (bool, error) {
	key := fmt.Sprintf("alerts:lowbalance:%s", workspaceID)
	ok, err := t.RDB.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("alerts: throttle check: %w", err)
	}
	return ok, nil
}

// MemoryThrottle is the single-process variant used in tests and local runs.
type MemoryThrottle struct {
	mu   sync.Mutex
	last map[string]time.Time

	// Clock is overridable in tests; nil means time.Now.
	Clock func() time.Time
}

func NewMemoryThrottle() *MemoryThrottle {
	return &MemoryThrottle{last: make(map[string]time.Time)}
}

func (t *MemoryThrottle) Allow(ctx context.Context, workspaceID string, window time.Duration) (bool, error) {
	now := time.Now()
	if t.Clock != nil {
		now = t.Clock()
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if sent, ok := t.last[workspaceID]; ok && now.Sub(sent) < window {
		return false, nil
	}
	t.last[workspaceID] = now
	return true, nil
}

// LogSender emits the alert as a structured log line. Outbound delivery
// transport (email, webhook) plugs in behind Sender instead.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) SendLowBalance(ctx context.Context, workspaceID string, balanceMinor, thresholdMinor int64) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("workspace balance below threshold",
		"workspace_id", workspaceID, "balance_minor", balanceMinor, "threshold_minor", thresholdMinor)
	return nil
}

// Notifier checks the balance against the configured threshold and sends at
// most one alert per throttle window.
type Notifier struct {
	Source    BalanceSource
	Sender    Sender
	Throttle  Throttle
	Threshold int64
	Window    time.Duration
	Log       *slog.Logger
}

// Check runs one balance inspection for the workspace. A throttled alert is
// not an error; callers poll on their own cadence.
func (n *Notifier) Check(ctx context.Context, workspaceID string) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}

	balance, err := n.Source.Balance(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("alerts: balance read: %w", err)
	}
	if balance >= n.Threshold {
		return nil
	}

	ok, err := n.Throttle.Allow(ctx, workspaceID, n.Window)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug("low balance alert throttled",
			"workspace_id", workspaceID, "balance_minor", balance)
		return nil
	}

	if err := n.Sender.SendLowBalance(ctx, workspaceID, balance, n.Threshold); err != nil {
		return fmt.Errorf("alerts: send: %w", err)
	}
	log.Info("low balance alert sent",
		"workspace_id", workspaceID, "balance_minor", balance, "threshold_minor", n.Threshold)
	return nil
}
