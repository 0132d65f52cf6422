/*
store.go - Storage and notification interfaces consumed by the settlement core

PURPOSE:
  The core never talks to a database driver directly. It consumes the
  narrow interfaces below; store/sqlite implements them for production and
  store/memory implements them for tests with fault injection.

TRANSACTION MODEL:
  BeginSettlement opens an exclusive write transaction: it must block, or
  be blocked by, any other writer to the shared store for its whole
  duration. SQLite gets this from BEGIN IMMEDIATE; the in-memory store
  from a store-wide mutex. Everything inside one settlement (journal
  claim, aggregate read, bulk credit, completion mark) happens on the
  same SettlementTx and commits or rolls back as one unit.

FAILURE RECORDING:
  MarkRunFailed is deliberately NOT part of SettlementTx: a failed
  settlement rolls its transaction back, then records the failure in a
  fresh transaction so the failed status survives the rollback.
*/
package economy

import (
	"context"
	"time"
)

// SettlementTx is one exclusive write transaction against the ledger store.
// All methods operate on the same underlying transaction; Commit or
// Rollback must be called exactly once.
type SettlementTx interface {
	// ClaimRun inserts the journal row {date, started, startedAt} if no row
	// exists for the date. When the row already exists, claimed is false
	// and existing holds its current status.
	ClaimRun(ctx context.Context, date Date, startedAt time.Time) (claimed bool, existing RunStatus, err error)

	// SumIncomeByUser returns, for every user owning at least one income
	// record of the given kind, the sum of record amounts with NULL
	// amounts counted as zero.
	SumIncomeByUser(ctx context.Context, kind IncomeKind) (map[UserID]int64, error)

	// ApplyCredits adds each credit to the matching user's balance and
	// research columns in a single bulk update. Users absent from the map
	// are untouched.
	ApplyCredits(ctx context.Context, credits map[UserID]Credit) error

	// CompleteRun marks the date's journal row complete.
	CompleteRun(ctx context.Context, date Date, finishedAt time.Time) error

	Commit() error
	Rollback() error
}

// SettlementStore is the persistence surface the settlement core requires.
type SettlementStore interface {
	// BeginSettlement opens an exclusive write transaction.
	BeginSettlement(ctx context.Context) (SettlementTx, error)

	// LastCompletedRun returns the most recent run date with status
	// complete. ok is false when no run has ever completed.
	LastCompletedRun(ctx context.Context) (date Date, ok bool, err error)

	// MarkRunFailed upserts the date's journal row to failed in its own
	// transaction, independent of any rolled-back settlement.
	MarkRunFailed(ctx context.Context, date Date, startedAt, finishedAt time.Time, detail string) error
}

// Notifier announces settlement outcomes to the outside world. Announce is
// best-effort: errors are logged by the caller and never fail a settlement.
type Notifier interface {
	Announce(ctx context.Context, msg string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, msg string) error

func (f NotifierFunc) Announce(ctx context.Context, msg string) error {
	return f(ctx, msg)
}
