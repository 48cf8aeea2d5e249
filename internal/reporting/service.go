package reporting

import (
	"context"
	"errors"
	"time"

	"campaign-console/internal/attempt"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Implementations must
// enforce workspace filtering.
type Repository interface {
	ListCampaignAttempts(ctx context.Context, workspaceID, campaignID string) ([]attempt.CallAttempt, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) AttemptSummary(ctx context.Context, req AttemptSummaryRequest) (AttemptSummary, error) {
	if req.WorkspaceID == "" || req.CampaignID == "" {
		return AttemptSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return AttemptSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCampaignAttempts(ctx, req.WorkspaceID, req.CampaignID)
	if err != nil {
		return AttemptSummary{}, err
	}

	today := attempt.CampaignDate(s.clock())
	out := AttemptSummary{WorkspaceID: req.WorkspaceID, CampaignID: req.CampaignID}
	for _, a := range rows {
		out.TotalAttempts++
		switch a.Status {
		case attempt.StatusAwaitingPickup:
			out.AwaitingPickup++
		case attempt.StatusConnected:
			out.Connected++
		case attempt.StatusExpired:
			out.Expired++
		case attempt.StatusNoAnswer:
			out.NoAnswer++
		case attempt.StatusRetryScheduled:
			out.RetriesScheduled++
		case attempt.StatusExhausted:
			out.Exhausted++
		case attempt.StatusCancelled:
			out.Cancelled++
		case attempt.StatusIdle:
			// not counted separately
		}
		if a.AttemptsDate == today && a.AttemptsToday > 0 {
			out.RetriesToday += a.AttemptsToday
		}
	}
	if out.TotalAttempts > 0 {
		out.ConnectionRate = float64(out.Connected) / float64(out.TotalAttempts)
	}
	return out, nil
}
