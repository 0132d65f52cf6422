/*
settle.go - The idempotent settlement transaction

PURPOSE:
  Settle exactly one calendar date exactly once, atomically, and record the
  outcome in the settlement journal.

ALGORITHM (one exclusive write transaction):
  1. Claim the run date: insert {date, started} if absent.
  2. Row already present and complete -> roll back, silent no-op.
     Present as started or failed -> retry the interrupted run.
  3. Aggregate all income records grouped by user.
  4. Apply every credit in a single bulk update.
  5. Mark the journal row complete and commit.

FAILURE PATH:
  Any error rolls the whole transaction back, then a fresh transaction
  upserts the journal row to failed with the error detail. The failure is
  announced and logged but never returned to the scheduler loop: the date
  stays eligible for retry on the next backfill or live attempt.
*/
package economy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Settler performs settlement transactions against a ledger store.
type Settler struct {
	store    SettlementStore
	notifier Notifier
	log      zerolog.Logger

	now func() time.Time
}

// NewSettler wires a settler to its store and notifier. A nil notifier
// disables announcements.
func NewSettler(store SettlementStore, notifier Notifier, log zerolog.Logger) *Settler {
	return &Settler{
		store:    store,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Settle runs the settlement transaction for one date. All failures are
// contained here: they are journaled, announced, and logged, so the caller
// can keep scheduling regardless of individual outcomes.
func (s *Settler) Settle(ctx context.Context, date Date) {
	settled, err := s.settle(ctx, date)
	if err != nil {
		s.recordFailure(ctx, date, err)
		return
	}
	if !settled {
		// Already complete. Nothing to announce.
		return
	}

	now := s.now().UTC()
	s.log.Info().Stringer("run_date", date).Msg("settlement committed")
	s.announce(ctx, fmt.Sprintf("payout for %s issued at %s", date, now.Format(time.RFC3339)))
}

// settle returns (false, nil) when the date was already complete.
func (s *Settler) settle(ctx context.Context, date Date) (settled bool, err error) {
	tx, err := s.store.BeginSettlement(ctx)
	if err != nil {
		return false, fmt.Errorf("begin settlement: %w", err)
	}
	// Rollback after Commit is a no-op; this catches every early return.
	defer tx.Rollback()

	claimed, existing, err := tx.ClaimRun(ctx, date, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	if !claimed {
		if existing == RunComplete {
			s.log.Debug().Stringer("run_date", date).Msg("run already complete, skipping")
			return false, nil
		}
		// started or failed: an interrupted or failed run, retry it on
		// the same journal row.
		s.log.Info().Stringer("run_date", date).Str("previous_status", string(existing)).
			Msg("retrying unfinished run")
	}

	credits, err := Aggregate(ctx, tx)
	if err != nil {
		return false, err
	}

	if err := tx.ApplyCredits(ctx, credits); err != nil {
		return false, fmt.Errorf("apply credits: %w", err)
	}

	if err := tx.CompleteRun(ctx, date, s.now().UTC()); err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit settlement: %w", err)
	}

	return true, nil
}

// recordFailure journals the failed run in a fresh transaction so the status
// survives the settlement rollback, then announces it.
func (s *Settler) recordFailure(ctx context.Context, date Date, cause error) {
	serr := &SettlementError{RunDate: date, Err: cause}
	s.log.Error().Err(cause).Stringer("run_date", date).Msg("settlement failed")

	now := s.now().UTC()
	if err := s.store.MarkRunFailed(ctx, date, now, now, cause.Error()); err != nil {
		s.log.Error().Err(err).Stringer("run_date", date).
			Msg("could not journal settlement failure")
	}

	s.announce(ctx, serr.Error())
}

// announce is best-effort; notifier errors are logged and swallowed.
func (s *Settler) announce(ctx context.Context, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Announce(ctx, msg); err != nil {
		s.log.Warn().Err(err).Msg("announcement failed")
	}
}
