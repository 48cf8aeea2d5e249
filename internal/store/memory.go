package store

import (
	"context"
	"sync"

	"campaign-console/internal/attempt"
	"campaign-console/internal/policy"
)

// Memory is an in-memory Store for tests and local development.
type Memory struct {
	mu       sync.RWMutex
	attempts map[string]attempt.CallAttempt // attempt_id -> record
	policies map[string]policy.RetryPolicy  // campaign_id -> policy
	balances map[string]int64               // workspace_id -> minor units
}

func NewMemory() *Memory {
	return &Memory{
		attempts: make(map[string]attempt.CallAttempt),
		policies: make(map[string]policy.RetryPolicy),
		balances: make(map[string]int64),
	}
}

// PutAttempt seeds or replaces a record.
func (m *Memory) PutAttempt(a attempt.CallAttempt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.AttemptID] = a
}

// PutPolicy seeds or replaces a campaign policy.
func (m *Memory) PutPolicy(p policy.RetryPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.CampaignID] = p
}

func (m *Memory) GetCallAttempt(ctx context.Context, workspaceID, attemptID string) (attempt.CallAttempt, error) {
	if workspaceID == "" || attemptID == "" {
		return attempt.CallAttempt{}, ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.attempts[attemptID]
	if !ok || a.WorkspaceID != workspaceID {
		return attempt.CallAttempt{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) GetRetryPolicy(ctx context.Context, workspaceID, campaignID string) (policy.RetryPolicy, error) {
	if workspaceID == "" || campaignID == "" {
		return policy.RetryPolicy{}, ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[campaignID]
	if !ok {
		return policy.RetryPolicy{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) UpdateRetrySettings(ctx context.Context, workspaceID, campaignID string, s RetrySettings) error {
	if workspaceID == "" || campaignID == "" {
		return ErrInvalidArgument
	}

	pol := policy.RetryPolicy{
		CampaignID:        campaignID,
		RetryDelayMinutes: s.RetryDelayMinutes,
		MaxDailyRetries:   s.MaxDailyRetries,
	}
	if err := pol.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.policies[campaignID]; !ok {
		return ErrNotFound
	}
	m.policies[campaignID] = pol
	return nil
}

// SetBalance seeds the workspace balance.
func (m *Memory) SetBalance(workspaceID string, minor int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[workspaceID] = minor
}

func (m *Memory) Balance(ctx context.Context, workspaceID string) (int64, error) {
	if workspaceID == "" {
		return 0, ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	minor, ok := m.balances[workspaceID]
	if !ok {
		return 0, ErrNotFound
	}
	return minor, nil
}

func (m *Memory) ListOpenAttempts(ctx context.Context, workspaceID string, limit int) ([]attempt.CallAttempt, error) {
	if workspaceID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 500
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []attempt.CallAttempt
	for _, a := range m.attempts {
		if a.WorkspaceID != workspaceID || !a.Status.IsOpen() {
			continue
		}
		out = append(out, a)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) ListCampaignAttempts(ctx context.Context, workspaceID, campaignID string) ([]attempt.CallAttempt, error) {
	if workspaceID == "" || campaignID == "" {
		return nil, ErrInvalidArgument
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []attempt.CallAttempt
	for _, a := range m.attempts {
		if a.WorkspaceID != workspaceID || a.CampaignID != campaignID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
