package engine

import (
	"context"
	"log/slog"

	"campaign-console/internal/feed"
	"campaign-console/internal/store"
)

// Supervisor wires the change stream adapter to the coordinator for one
// observer process and owns both lifecycles.
type Supervisor struct {
	Coord   *Coordinator
	Adapter *feed.Adapter
	Store   store.Store

	// SnapshotPageSize bounds the open-attempt snapshot replayed on every
	// (re)subscription.
	SnapshotPageSize int

	Log *slog.Logger
}

// Run blocks until ctx is cancelled. The adapter re-requests a full snapshot
// on every (re)subscription, so a reconnect cannot miss events; duplicates
// are discarded by the coordinator's version gate.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.Log == nil {
		s.Log = slog.Default()
	}

	s.Adapter.Snapshot = s.snapshot
	s.Adapter.OnStale = s.Coord.SetStale

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- s.Coord.Run(ctx) }()
	go func() { errCh <- s.Adapter.Run(ctx, s.Coord.Events()) }()

	err := <-errCh
	cancel()
	<-errCh
	return err
}

// snapshot replays all open attempts through the same consumer path as live
// events (at-least-once; version gating downstream makes replays no-ops).
func (s *Supervisor) snapshot(ctx context.Context) error {
	atts, err := s.Store.ListOpenAttempts(ctx, s.Coord.cfg.WorkspaceID, s.SnapshotPageSize)
	if err != nil {
		return err
	}
	for _, a := range atts {
		select {
		case s.Coord.Events() <- feed.FromAttempt(a):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.Log.Debug("snapshot replayed", "open_attempts", len(atts))
	return nil
}
