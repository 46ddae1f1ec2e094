package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vitalform/survey-key-escrow/audit"
	"github.com/vitalform/survey-key-escrow/interfaces"
)

// DefaultSweepInterval is how often the time-based transitions are
// applied when no interval is configured.
const DefaultSweepInterval = time.Minute

// sweepActor identifies sweep-driven transitions in the audit log.
const sweepActor = interfaces.ActorID("sweeper")

// SweepStats counts the transitions one sweep pass applied.
type SweepStats struct {
	MarkedExecutable int
	Repaired         int
	Expired          int
}

// Sweeper applies the time-based request transitions: DELAYED becomes
// EXECUTABLE once the delay passes, anything non-terminal becomes EXPIRED
// past the validity window, and a request stranded in ADMIN2_APPROVED by a
// crash is finished into DELAYED. Every transition is compare-and-swap
// guarded, so concurrent sweepers and callers are safe; a lost race is
// skipped, not an error.
type Sweeper struct {
	requests interfaces.RecoveryRequestStore
	audit    interfaces.AuditLog
	notifier interfaces.Notifier
	cfg      Config
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper sharing the engine's workflow policy.
func NewSweeper(requests interfaces.RecoveryRequestStore, alog interfaces.AuditLog, notifier interfaces.Notifier, cfg Config, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		requests: requests,
		audit:    alog,
		notifier: notifier,
		cfg:      cfg.withDefaults(),
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps at the configured interval until the context is cancelled.
// An immediate pass runs first so restarts do not wait a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	if _, err := s.SweepOnce(ctx); err != nil {
		s.log.Error("Recovery sweep failed", "err", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("Recovery sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce applies every due transition once and reports what it did.
// Errors on individual requests do not stop the pass; they are joined into
// the returned error. Transitions that land before a failing audit append
// stay applied, with the failure surfaced to the operator.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	var errs []error

	reqs, err := s.requests.ListByStatus(ctx,
		interfaces.StatusSubmitted,
		interfaces.StatusAdmin1Approved,
		interfaces.StatusAdmin2Approved,
		interfaces.StatusDelayed,
		interfaces.StatusExecutable,
	)
	if err != nil {
		return stats, fmt.Errorf("listing active requests: %w", err)
	}

	now := s.now().UTC()
	for _, req := range reqs {
		switch {
		case !now.Before(req.ExpiresAt(s.cfg.RequestTTL)):
			applied, err := s.expire(ctx, req, now)
			if applied {
				stats.Expired++
			}
			if err != nil {
				errs = append(errs, err)
			}

		case req.Status == interfaces.StatusDelayed && !now.Before(req.DelayUntil):
			applied, err := s.markExecutable(ctx, req, now)
			if applied {
				stats.MarkedExecutable++
			}
			if err != nil {
				errs = append(errs, err)
			}

		case req.Status == interfaces.StatusAdmin2Approved:
			applied, err := s.enterDelay(ctx, req, now)
			if applied {
				stats.Repaired++
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
	}

	if stats != (SweepStats{}) {
		s.log.Info("Recovery sweep applied transitions",
			slog.Int("expired", stats.Expired),
			slog.Int("markedExecutable", stats.MarkedExecutable),
			slog.Int("repaired", stats.Repaired))
	}

	return stats, errors.Join(errs...)
}

func (s *Sweeper) expire(ctx context.Context, req interfaces.RecoveryRequest, now time.Time) (bool, error) {
	req.Status = interfaces.StatusExpired
	req.UpdatedAt = now
	if err := s.requests.UpdateCAS(ctx, req); err != nil {
		return false, s.lostRace(req.ID, "expire", err)
	}

	notifyEvent(s.notifier, s.log, interfaces.Event{
		Type:      interfaces.EventRecoveryExpired,
		RequestID: req.ID,
		UserID:    req.UserID,
		SurveyID:  req.SurveyID,
		At:        now,
		Message:   "recovery request expired",
	})

	return true, audit.Record(ctx, s.audit, s.log, sweepActor, opExpire, req.ID, "past validity window", nil)
}

func (s *Sweeper) markExecutable(ctx context.Context, req interfaces.RecoveryRequest, now time.Time) (bool, error) {
	deadline := req.DelayUntil
	req.Status = interfaces.StatusExecutable
	req.UpdatedAt = now
	if err := s.requests.UpdateCAS(ctx, req); err != nil {
		return false, s.lostRace(req.ID, "mark executable", err)
	}

	return true, audit.Record(ctx, s.audit, s.log, sweepActor, opMarkExecutable, req.ID,
		fmt.Sprintf("delay elapsed at %s", deadline.Format(time.RFC3339)), nil)
}

// enterDelay finishes a dual-control entry interrupted between the
// second-approval write and the delay write. The deadline anchors to the
// second approval time so the interruption cannot shorten the delay.
func (s *Sweeper) enterDelay(ctx context.Context, req interfaces.RecoveryRequest, now time.Time) (bool, error) {
	anchor := req.Admin2At
	if anchor.IsZero() {
		anchor = now
	}
	req.Status = interfaces.StatusDelayed
	req.DelayUntil = anchor.Add(s.cfg.ApprovalDelay)
	req.UpdatedAt = now
	if err := s.requests.UpdateCAS(ctx, req); err != nil {
		return false, s.lostRace(req.ID, "enter delay", err)
	}

	notifyEvent(s.notifier, s.log, interfaces.Event{
		Type:      interfaces.EventRecoveryDelayed,
		RequestID: req.ID,
		UserID:    req.UserID,
		SurveyID:  req.SurveyID,
		At:        now,
		Message:   fmt.Sprintf("recovery enters mandatory delay until %s", req.DelayUntil.Format(time.RFC3339)),
	})

	return true, audit.Record(ctx, s.audit, s.log, sweepActor, opEnterDelay, req.ID,
		fmt.Sprintf("delayed until %s", req.DelayUntil.Format(time.RFC3339)), nil)
}

// lostRace swallows compare-and-swap conflicts: another sweeper or caller
// applied a transition first. Anything else is a real error.
func (s *Sweeper) lostRace(id, transition string, err error) error {
	if errors.Is(err, interfaces.ErrStateConflict) {
		s.log.Debug("Sweep lost transition race",
			slog.String("requestID", id),
			slog.String("transition", transition))
		return nil
	}
	return fmt.Errorf("%s %s: %w", transition, id, err)
}
