package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campaign-console/internal/attempt"
	"campaign-console/internal/policy"
	"campaign-console/pkg/utils"
)

// Postgres implements Store over the system of record's tables.
type Postgres struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, clock: time.Now}
}

const attemptColumns = `attempt_id, workspace_id, lead_id, campaign_id, status,
	picked_at, attempts_today, attempts_date, next_eligible_at, version,
	created_at, updated_at`

func (p *Postgres) GetCallAttempt(ctx context.Context, workspaceID, attemptID string) (attempt.CallAttempt, error) {
	if workspaceID == "" || attemptID == "" {
		return attempt.CallAttempt{}, ErrInvalidArgument
	}

	row := p.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE workspace_id = $1 AND attempt_id = $2`,
		workspaceID, attemptID)

	return scanAttempt(row)
}

func (p *Postgres) GetRetryPolicy(ctx context.Context, workspaceID, campaignID string) (policy.RetryPolicy, error) {
	if workspaceID == "" || campaignID == "" {
		return policy.RetryPolicy{}, ErrInvalidArgument
	}

	var out policy.RetryPolicy
	err := p.db.QueryRowContext(ctx, `
		SELECT campaign_id, retry_delay_minutes, max_daily_retries
		FROM campaign_retry_policies
		WHERE workspace_id = $1 AND campaign_id = $2`,
		workspaceID, campaignID).
		Scan(&out.CampaignID, &out.RetryDelayMinutes, &out.MaxDailyRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return policy.RetryPolicy{}, ErrNotFound
	}
	if err != nil {
		return policy.RetryPolicy{}, fmt.Errorf("store: get retry policy: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpdateRetrySettings(ctx context.Context, workspaceID, campaignID string, s RetrySettings) error {
	if workspaceID == "" || campaignID == "" {
		return ErrInvalidArgument
	}

	// Boundary validation; out-of-range values never reach persistence.
	pol := policy.RetryPolicy{
		CampaignID:        campaignID,
		RetryDelayMinutes: s.RetryDelayMinutes,
		MaxDailyRetries:   s.MaxDailyRetries,
	}
	if err := pol.Validate(); err != nil {
		return err
	}

	now := p.clock().UTC()
	return utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE campaign_retry_policies
			SET retry_delay_minutes = $3, max_daily_retries = $4, updated_at = $5
			WHERE workspace_id = $1 AND campaign_id = $2`,
			workspaceID, campaignID, s.RetryDelayMinutes, s.MaxDailyRetries, now)
		if err != nil {
			return fmt.Errorf("store: update retry settings: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) ListOpenAttempts(ctx context.Context, workspaceID string, limit int) ([]attempt.CallAttempt, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE workspace_id = $1 AND status IN ('awaiting_pickup', 'retry_scheduled')
		ORDER BY updated_at ASC
		LIMIT $2`,
		workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list open attempts: %w", err)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

func (p *Postgres) ListCampaignAttempts(ctx context.Context, workspaceID, campaignID string) ([]attempt.CallAttempt, error) {
	if workspaceID == "" || campaignID == "" {
		return nil, ErrInvalidArgument
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM call_attempts
		WHERE workspace_id = $1 AND campaign_id = $2
		ORDER BY created_at ASC`,
		workspaceID, campaignID)
	if err != nil {
		return nil, fmt.Errorf("store: list campaign attempts: %w", err)
	}
	defer rows.Close()

	return collectAttempts(rows)
}

// Balance reads the workspace calling balance in minor units. The ledger is
// owned by the external system of record; this is a read-only view consumed
// by the low-balance alert.
func (p *Postgres) Balance(ctx context.Context, workspaceID string) (int64, error) {
	if workspaceID == "" {
		return 0, ErrInvalidArgument
	}

	var minor int64
	err := p.db.QueryRowContext(ctx, `
		SELECT balance_minor
		FROM workspace_balances
		WHERE workspace_id = $1`,
		workspaceID).Scan(&minor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: get balance: %w", err)
	}
	return minor, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (attempt.CallAttempt, error) {
	var a attempt.CallAttempt
	var pickedAt, nextEligibleAt sql.NullTime
	var attemptsDate sql.NullString

	err := row.Scan(
		&a.AttemptID, &a.WorkspaceID, &a.LeadID, &a.CampaignID, &a.Status,
		&pickedAt, &a.AttemptsToday, &attemptsDate, &nextEligibleAt, &a.Version,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return attempt.CallAttempt{}, ErrNotFound
	}
	if err != nil {
		return attempt.CallAttempt{}, fmt.Errorf("store: scan attempt: %w", err)
	}

	if pickedAt.Valid {
		t := pickedAt.Time
		a.PickedAt = &t
	}
	if nextEligibleAt.Valid {
		t := nextEligibleAt.Time
		a.NextEligibleAt = &t
	}
	if attemptsDate.Valid {
		a.AttemptsDate = attemptsDate.String
	}
	return a, nil
}

func collectAttempts(rows *sql.Rows) ([]attempt.CallAttempt, error) {
	var out []attempt.CallAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
