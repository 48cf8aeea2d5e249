package store

import (
	"context"
	"errors"

	"campaign-console/internal/attempt"
	"campaign-console/internal/policy"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrInvalidArgument = errors.New("store: invalid argument")
)

// RetrySettings is the writable slice of a campaign's retry policy.
// Out-of-range values are rejected at this boundary before persistence; the
// engine never clamps silently.
type RetrySettings struct {
	RetryDelayMinutes int `json:"retry_delay_minutes"`
	MaxDailyRetries   int `json:"max_daily_retries"`
}

// Store is the read/write boundary to the external system of record.
//
// Tenancy invariant: workspace_id is required and enforced in all queries.
// Counters read here are externally mutable; callers must re-read rather
// than cache across a retry decision.
type Store interface {
	GetCallAttempt(ctx context.Context, workspaceID, attemptID string) (attempt.CallAttempt, error)

	GetRetryPolicy(ctx context.Context, workspaceID, campaignID string) (policy.RetryPolicy, error)

	// UpdateRetrySettings validates the 1-30 delay and 1-10 cap ranges and
	// rejects out-of-range values with policy.ErrOutOfRange.
	UpdateRetrySettings(ctx context.Context, workspaceID, campaignID string, s RetrySettings) error

	// ListOpenAttempts returns non-terminal attempts for the workspace,
	// bounded by limit. Used as the snapshot on (re)subscription.
	ListOpenAttempts(ctx context.Context, workspaceID string, limit int) ([]attempt.CallAttempt, error)

	// ListCampaignAttempts returns all attempts for one campaign, for
	// dashboard roll-ups.
	ListCampaignAttempts(ctx context.Context, workspaceID, campaignID string) ([]attempt.CallAttempt, error)
}
