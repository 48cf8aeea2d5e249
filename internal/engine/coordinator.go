package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"campaign-console/internal/attempt"
	"campaign-console/internal/dialer"
	"campaign-console/internal/feed"
	"campaign-console/internal/policy"
	"campaign-console/internal/store"

	"github.com/google/uuid"
)

// Config tunes one observer's engine instance.
type Config struct {
	WorkspaceID string

	// TimeLimit is the pickup deadline per attempt.
	TimeLimit time.Duration

	// Tick drives deadline projections (default 1s).
	Tick time.Duration

	// ClaimTTL bounds the cross-observer dispatch claim.
	ClaimTTL time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.TimeLimit <= 0 {
		out.TimeLimit = 10 * time.Minute
	}
	if out.Tick <= 0 {
		out.Tick = time.Second
	}
	if out.ClaimTTL <= 0 {
		out.ClaimTTL = time.Minute
	}
	return out
}

// Coordinator reconciles locally predicted attempt state with authoritative
// change feed events, running a single cooperative event loop per observer.
//
// Authority rule: a feed event for a known attempt always wins over a local
// prediction; local transitions exist for responsiveness only. Events are
// version-gated, so duplicate delivery is a no-op.
type Coordinator struct {
	cfg    Config
	store  store.Store
	dial   dialer.Requester
	claims Claimer
	log    *slog.Logger
	clock  func() time.Time

	// rearmBase is the backoff base for re-running a decision or dispatch
	// after a transient fault; shortened in tests.
	rearmBase time.Duration

	// owner identifies this observer in dispatch claims.
	owner string

	machines   map[string]*machine
	openByLead map[string]map[string]struct{}

	events   chan feed.ChangeEvent
	local    chan localEvent
	commands chan command

	stale      atomic.Bool
	suppressed atomic.Int64
	discarded  atomic.Int64
}

type localKind int

const (
	localExpiry localKind = iota
	localRetryDue
	localDecide
)

type localEvent struct {
	kind      localKind
	attemptID string
}

type commandKind int

const (
	cmdCancel commandKind = iota
	cmdForceRetry
	cmdPeek
)

type command struct {
	kind      commandKind
	attemptID string
	reply     chan commandResult
}

type commandResult struct {
	att attempt.CallAttempt
	err error
}

func NewCoordinator(cfg Config, st store.Store, dial dialer.Requester, claims Claimer, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:        cfg.withDefaults(),
		store:      st,
		dial:       dial,
		claims:     claims,
		log:        log,
		clock:      time.Now,
		rearmBase:  2 * time.Second,
		owner:      uuid.NewString(),
		machines:   make(map[string]*machine),
		openByLead: make(map[string]map[string]struct{}),
		events:     make(chan feed.ChangeEvent, 256),
		local:      make(chan localEvent, 64),
		commands:   make(chan command),
	}
}

// Events is the inbound channel the change stream adapter publishes into.
func (c *Coordinator) Events() chan<- feed.ChangeEvent { return c.events }

// SetStale flags all projections as possibly stale (feed disconnected beyond
// recovery). Wired to the adapter's OnStale callback.
func (c *Coordinator) SetStale(v bool) { c.stale.Store(v) }

// Stale reports whether projections may lag server state.
func (c *Coordinator) Stale() bool { return c.stale.Load() }

// DuplicatesSuppressed counts retries discarded by mutual exclusion or a
// lost dispatch claim. Expected under concurrent races, not an error.
func (c *Coordinator) DuplicatesSuppressed() int64 { return c.suppressed.Load() }

// StaleEventsDiscarded counts version-gated event discards.
func (c *Coordinator) StaleEventsDiscarded() int64 { return c.discarded.Load() }

// Run drives the event loop until ctx is cancelled. All timers are released
// on exit; no late callbacks fire after Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.releaseAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.applyEvent(ctx, ev)
		case le := <-c.local:
			switch le.kind {
			case localExpiry:
				c.handleExpiry(ctx, le.attemptID)
			case localRetryDue:
				c.handleRetryDue(ctx, le.attemptID)
			case localDecide:
				c.handleDecide(ctx, le.attemptID)
			}
		case cmd := <-c.commands:
			cmd.reply <- c.handleCommand(ctx, cmd)
		}
	}
}

/* ===================== FEED RECONCILIATION ===================== */

func (c *Coordinator) applyEvent(ctx context.Context, ev feed.ChangeEvent) {
	m, known := c.machines[ev.AttemptID]

	if known && ev.Version <= m.att.Version {
		c.discarded.Add(1)
		c.log.Debug("stale event discarded",
			"attempt_id", ev.AttemptID, "version", ev.Version, "current", m.att.Version)
		return
	}

	if !known {
		if ev.Status.IsTerminal() {
			// Never tracked locally; nothing to reconcile.
			return
		}
		m = &machine{}
		ev.Apply(&m.att)
		c.machines[ev.AttemptID] = m
		c.reindexOpen(m)
		c.startTimers(ctx, m)
		return
	}

	// Feed wins over whatever we predicted.
	m.stopTimers()
	ev.Apply(&m.att)

	if m.claimKey != "" {
		// The server has observed the dispatched state; the claim has done
		// its job (the TTL would reap it anyway).
		if err := c.claims.Release(ctx, m.claimKey, c.owner); err != nil {
			c.log.Debug("dispatch claim release failed", "key", m.claimKey, "err", err)
		}
		m.claimKey = ""
	}

	if m.att.Status.IsTerminal() {
		c.release(m)
		return
	}
	c.reindexOpen(m)
	c.startTimers(ctx, m)
}

// reindexOpen maintains the one-open-attempt-per-lead index. The feed is
// ground truth, so a second open attempt delivered for the same lead is
// accepted but flagged; local retry transitions consult this index first.
func (c *Coordinator) reindexOpen(m *machine) {
	lead := m.att.LeadID
	id := m.att.AttemptID

	set := c.openByLead[lead]
	if m.att.Status.IsOpen() {
		if set == nil {
			set = make(map[string]struct{}, 1)
			c.openByLead[lead] = set
		}
		if _, ok := set[id]; !ok && len(set) > 0 {
			c.log.Warn("lead has multiple open attempts",
				"lead_id", lead, "attempt_id", id, "open", len(set)+1)
		}
		set[id] = struct{}{}
		return
	}
	if set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(c.openByLead, lead)
		}
	}
}

func (c *Coordinator) leadHasOtherOpen(leadID, attemptID string) bool {
	for id := range c.openByLead[leadID] {
		if id != attemptID {
			return true
		}
	}
	return false
}

/* ===================== TIMERS ===================== */

func (c *Coordinator) startTimers(ctx context.Context, m *machine) {
	switch m.att.Status {
	case attempt.StatusAwaitingPickup:
		if m.att.PickedAt == nil {
			c.log.Warn("awaiting_pickup without picked_at", "attempt_id", m.att.AttemptID)
			return
		}
		tctx, cancel := context.WithCancel(ctx)
		m.cancelTracker = cancel

		tr := attempt.Tracker{
			PickedAt:  *m.att.PickedAt,
			TimeLimit: c.cfg.TimeLimit,
			Tick:      c.cfg.Tick,
			Clock:     c.clock,
		}
		ch := tr.Start(tctx)
		id := m.att.AttemptID

		go func() {
			for p := range ch {
				if p.Band != attempt.BandExpired {
					continue
				}
				select {
				case c.local <- localEvent{kind: localExpiry, attemptID: id}:
				case <-tctx.Done():
				}
			}
		}()

	case attempt.StatusRetryScheduled:
		if m.att.NextEligibleAt == nil {
			c.log.Warn("retry_scheduled without next_eligible_at", "attempt_id", m.att.AttemptID)
			return
		}
		wctx, cancel := context.WithCancel(ctx)
		m.cancelWait = cancel

		id := m.att.AttemptID
		delay := m.att.NextEligibleAt.Sub(c.clock())
		if delay < 0 {
			delay = 0
		}

		go func() {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-wctx.Done():
			case <-t.C:
				select {
				case c.local <- localEvent{kind: localRetryDue, attemptID: id}:
				case <-wctx.Done():
				}
			}
		}()
	}
}

/* ===================== LOCAL TRANSITIONS ===================== */

func (c *Coordinator) handleExpiry(ctx context.Context, attemptID string) {
	m, ok := c.machines[attemptID]
	if !ok || m.att.Status != attempt.StatusAwaitingPickup {
		// Cancelled or overruled by the feed before the expiry landed.
		return
	}

	m.stopTracker()
	m.att.Status = attempt.StatusExpired
	c.reindexOpen(m)

	// Never leave the attempt floating between expiry and a decision. A
	// transient fault is re-armed; a deny IS the decision.
	if err := c.decideRetry(ctx, m, false); err != nil && !errors.Is(err, ErrRetryDenied) {
		c.rearm(ctx, m, localDecide)
	}
}

// handleDecide re-runs the retry decision for an attempt parked in expired
// after a transient store or policy fault.
func (c *Coordinator) handleDecide(ctx context.Context, attemptID string) {
	m, ok := c.machines[attemptID]
	if !ok || m.att.Status != attempt.StatusExpired {
		return
	}
	if err := c.decideRetry(ctx, m, false); err != nil && !errors.Is(err, ErrRetryDenied) {
		c.rearm(ctx, m, localDecide)
	}
}

const rearmMax = 5

// rearm re-posts a local event after a growing backoff when a transient
// fault interrupted a decision or dispatch. Bounded: after rearmMax
// consecutive faults the attempt is left to the feed and the failure is
// logged at error level.
func (c *Coordinator) rearm(ctx context.Context, m *machine, kind localKind) {
	if m.rearms >= rearmMax {
		c.log.Error("local transition abandoned after repeated faults",
			"attempt_id", m.att.AttemptID, "status", m.att.Status, "faults", m.rearms)
		return
	}
	m.rearms++
	delay := c.rearmBase << (m.rearms - 1)

	m.stopWait()
	wctx, cancel := context.WithCancel(ctx)
	m.cancelWait = cancel
	id := m.att.AttemptID

	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-wctx.Done():
		case <-t.C:
			select {
			case c.local <- localEvent{kind: kind, attemptID: id}:
			case <-wctx.Done():
			}
		}
	}()
}

// decideRetry consults the policy evaluator and commits the predicted
// transition out of expired. Counters and policy are re-read immediately
// before the decision; another observer or an admin may have changed them.
func (c *Coordinator) decideRetry(ctx context.Context, m *machine, forced bool) error {
	// Forcing an already scheduled retry needs no fresh eligibility pass:
	// the cap was consulted when the retry entered retry_scheduled. It still
	// goes through the dispatch claim.
	if forced && m.att.Status == attempt.StatusRetryScheduled {
		if !c.dispatchRetry(ctx, m) {
			return fmt.Errorf("%w: dispatch claim held elsewhere", ErrRetryDenied)
		}
		return nil
	}

	fresh, err := c.store.GetCallAttempt(ctx, c.cfg.WorkspaceID, m.att.AttemptID)
	if err != nil {
		c.log.Warn("retry decision deferred, record re-read failed",
			"attempt_id", m.att.AttemptID, "err", err)
		return fmt.Errorf("engine: record re-read: %w", err)
	}
	pol, err := c.store.GetRetryPolicy(ctx, c.cfg.WorkspaceID, fresh.CampaignID)
	if err != nil {
		c.log.Warn("retry decision deferred, policy re-read failed",
			"attempt_id", m.att.AttemptID, "campaign_id", fresh.CampaignID, "err", err)
		return fmt.Errorf("engine: policy re-read: %w", err)
	}

	if forced && fresh.Status == attempt.StatusRetryScheduled {
		// Server already holds the scheduled retry this command wants to
		// pull forward; dispatch it rather than re-deriving eligibility.
		if !c.dispatchRetry(ctx, m) {
			return fmt.Errorf("%w: dispatch claim held elsewhere", ErrRetryDenied)
		}
		return nil
	}

	m.rearms = 0

	eval := fresh
	if eval.Status == attempt.StatusAwaitingPickup {
		// Server has not observed the expiry we predicted (or the operator
		// is forcing a retry off a live wait); evaluate as expired.
		eval.Status = attempt.StatusExpired
	}

	now := c.clock()
	d := policy.Evaluate(pol, eval, now)

	switch {
	case d.Allowed:
		if c.leadHasOtherOpen(m.att.LeadID, m.att.AttemptID) {
			c.suppressed.Add(1)
			c.log.Warn("duplicate retry suppressed",
				"lead_id", m.att.LeadID, "attempt_id", m.att.AttemptID)
			return fmt.Errorf("%w: another attempt is open for this lead", ErrRetryDenied)
		}

		m.stopTimers()
		ne := d.NextEligibleAt
		m.att.Status = attempt.StatusRetryScheduled
		m.att.NextEligibleAt = &ne
		m.att.AttemptsToday = d.NextAttemptsToday
		m.att.AttemptsDate = attempt.CampaignDate(now)
		c.reindexOpen(m)

		if forced {
			if !c.dispatchRetry(ctx, m) {
				return fmt.Errorf("%w: dispatch claim held elsewhere", ErrRetryDenied)
			}
			return nil
		}
		c.startTimers(ctx, m)
		return nil

	case d.Reason == policy.DenyDailyCapReached:
		m.stopTimers()
		m.att.Status = attempt.StatusExhausted
		c.reindexOpen(m)
		c.log.Info("attempt exhausted, daily cap reached",
			"attempt_id", m.att.AttemptID, "lead_id", m.att.LeadID, "cap", pol.MaxDailyRetries)
		return fmt.Errorf("%w: %s", ErrRetryDenied, d.Reason)

	case d.Reason == policy.DenyAttemptActive:
		// Inconsistency between local prediction and server state; the feed
		// will deliver the authoritative outcome.
		c.log.Warn("retry skipped, attempt state changed under local expiry",
			"attempt_id", m.att.AttemptID, "server_status", fresh.Status)
		return fmt.Errorf("%w: %s", ErrRetryDenied, d.Reason)

	default:
		c.log.Error("retry policy invalid, refusing to schedule",
			"attempt_id", m.att.AttemptID, "campaign_id", fresh.CampaignID)
		return fmt.Errorf("%w: %s", ErrRetryDenied, d.Reason)
	}
}

func (c *Coordinator) handleRetryDue(ctx context.Context, attemptID string) {
	m, ok := c.machines[attemptID]
	if !ok || m.att.Status != attempt.StatusRetryScheduled {
		return
	}
	if m.att.NextEligibleAt != nil && c.clock().Before(*m.att.NextEligibleAt) {
		// Early fire (clock adjusted); re-arm.
		m.stopWait()
		c.startTimers(ctx, m)
		return
	}
	c.dispatchRetry(ctx, m)
}

// dispatchRetry claims the dispatch across observers, emits the dial request
// and predicts the awaiting_pickup transition. Dial is fire-and-forget;
// confirmation arrives only via the change feed. A transient claim or dial
// fault re-arms the dispatch instead of stranding the scheduled retry.
// Returns whether the dial request went out.
func (c *Coordinator) dispatchRetry(ctx context.Context, m *machine) bool {
	m.stopWait()

	now := c.clock()
	key := fmt.Sprintf("%s:%s:%d", m.att.LeadID, attempt.CampaignDate(now), m.att.AttemptsToday)
	ok, err := c.claims.Acquire(ctx, key, c.owner, c.cfg.ClaimTTL)
	if err != nil {
		c.log.Warn("dispatch claim fault, re-arming",
			"attempt_id", m.att.AttemptID, "err", err)
		c.rearm(ctx, m, localRetryDue)
		return false
	}
	if !ok {
		c.suppressed.Add(1)
		c.log.Info("duplicate retry suppressed, claim held elsewhere",
			"attempt_id", m.att.AttemptID, "lead_id", m.att.LeadID)
		return false
	}

	err = c.dial.RequestDial(ctx, dialer.Request{
		WorkspaceID:   m.att.WorkspaceID,
		CampaignID:    m.att.CampaignID,
		LeadID:        m.att.LeadID,
		AttemptID:     m.att.AttemptID,
		AttemptNumber: m.att.AttemptsToday,
		RequestedAt:   now.UTC(),
	})
	if err != nil {
		c.log.Error("dial request failed, re-arming", "attempt_id", m.att.AttemptID, "err", err)
		c.rearm(ctx, m, localRetryDue)
		return false
	}

	m.claimKey = key
	m.rearms = 0

	picked := now
	m.att.Status = attempt.StatusAwaitingPickup
	m.att.PickedAt = &picked
	m.att.NextEligibleAt = nil
	c.reindexOpen(m)
	c.startTimers(ctx, m)
	return true
}

/* ===================== COMMAND SURFACE ===================== */

// CancelAttempt stops tracking and predicts the cancelled transition. The
// external cancel is expected to land on the feed as well.
func (c *Coordinator) CancelAttempt(ctx context.Context, attemptID string) error {
	_, err := c.exec(ctx, command{kind: cmdCancel, attemptID: attemptID})
	return err
}

// ForceRetryNow runs the same policy gate as the automatic path and, when
// allowed, dispatches the dial immediately instead of waiting for
// next_eligible_at.
func (c *Coordinator) ForceRetryNow(ctx context.Context, attemptID string) error {
	_, err := c.exec(ctx, command{kind: cmdForceRetry, attemptID: attemptID})
	return err
}

// Peek returns the locally tracked view of an attempt.
func (c *Coordinator) Peek(ctx context.Context, attemptID string) (attempt.CallAttempt, error) {
	res, err := c.exec(ctx, command{kind: cmdPeek, attemptID: attemptID})
	return res, err
}

func (c *Coordinator) exec(ctx context.Context, cmd command) (attempt.CallAttempt, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case c.commands <- cmd:
	case <-ctx.Done():
		return attempt.CallAttempt{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.att, res.err
	case <-ctx.Done():
		return attempt.CallAttempt{}, ctx.Err()
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, cmd command) commandResult {
	m, ok := c.machines[cmd.attemptID]
	if !ok {
		return commandResult{err: ErrUnknownAttempt}
	}

	switch cmd.kind {
	case cmdPeek:
		return commandResult{att: m.att}

	case cmdCancel:
		if !m.att.Status.IsOpen() && m.att.Status != attempt.StatusExpired {
			return commandResult{err: ErrNotCancellable}
		}
		m.stopTimers()
		m.att.Status = attempt.StatusCancelled
		c.reindexOpen(m)
		c.log.Info("attempt cancelled", "attempt_id", m.att.AttemptID, "lead_id", m.att.LeadID)
		return commandResult{att: m.att}

	case cmdForceRetry:
		if err := c.decideRetry(ctx, m, true); err != nil {
			return commandResult{err: err}
		}
		return commandResult{att: m.att}

	default:
		return commandResult{err: fmt.Errorf("engine: unknown command %d", cmd.kind)}
	}
}

/* ===================== SHUTDOWN ===================== */

func (c *Coordinator) release(m *machine) {
	m.stopTimers()
	c.reindexOpen(m)
	delete(c.machines, m.att.AttemptID)
}

func (c *Coordinator) releaseAll() {
	for _, m := range c.machines {
		m.stopTimers()
	}
}
