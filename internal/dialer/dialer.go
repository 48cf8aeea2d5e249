package dialer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Request asks the external dialer to place one call. The engine never dials
// itself and never waits for an acknowledgment; the outcome arrives only via
// the change feed.
type Request struct {
	RequestID   string `json:"request_id"`
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id"`
	LeadID      string `json:"lead_id"`
	AttemptID   string `json:"attempt_id"`

	// AttemptNumber is the daily ordinal of this dial (1-based), informative
	// for the dialer's own bookkeeping.
	AttemptNumber int `json:"attempt_number"`

	RequestedAt time.Time `json:"requested_at"`
}

// Requester is the provider-agnostic dial boundary.
//
// Implementations must be fire-and-forget: enqueue and return. No business
// logic belongs behind this interface.
type Requester interface {
	RequestDial(ctx context.Context, req Request) error
}

// StreamRequester publishes dial requests to a redis stream consumed by the
// external dialer workers.
type StreamRequester struct {
	RDB    *redis.Client
	Stream string

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

func (r *StreamRequester) RequestDial(ctx context.Context, req Request) error {
	if r.RDB == nil {
		return errors.New("dialer: redis client is nil")
	}
	if r.Stream == "" {
		return errors.New("dialer: stream name is required")
	}
	if req.LeadID == "" || req.AttemptID == "" {
		return errors.New("dialer: lead_id and attempt_id are required")
	}

	clock := r.Clock
	if clock == nil {
		clock = time.Now
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = clock().UTC()
	}

	return r.RDB.XAdd(ctx, &redis.XAddArgs{
		Stream: r.Stream,
		Values: map[string]any{
			"request_id":     req.RequestID,
			"workspace_id":   req.WorkspaceID,
			"campaign_id":    req.CampaignID,
			"lead_id":        req.LeadID,
			"attempt_id":     req.AttemptID,
			"attempt_number": req.AttemptNumber,
			"requested_at":   req.RequestedAt.Format(time.RFC3339),
		},
	}).Err()
}
