/*
Package economy contains the settlement core for the Countermeasure virtual
economy: the types, the aggregator, the idempotent settlement transaction,
the startup backfill, and the scheduler driver.

KEY CONCEPTS IN THIS FILE (types.go):
  - Date: a calendar day in UTC, the key of one settlement period
  - Credit: the amounts owed to one user for a period
  - JournalEntry: the idempotency record for one run date
  - RunStatus: started -> complete | failed

DESIGN PRINCIPLES:
  1. Exactly-once: every run date settles at most once, enforced by the
     settlement journal, not by the scheduler's timing.
  2. All balances are integers. Currency and research points have no
     fractional part anywhere in the system.
  3. The core only ever credits. Debits belong to the command surface.

SEE ALSO:
  - store.go: storage interfaces consumed by the core
  - settle.go: the settlement transaction
  - driver.go: the scheduler loop
*/
package economy

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies a participant account.
type UserID string

// IncomeKind selects which recurring income table an income record lives in.
type IncomeKind string

const (
	// IncomeCurrency yields balance credits each settlement period.
	IncomeCurrency IncomeKind = "currency"
	// IncomeResearch yields research-point credits each settlement period.
	IncomeResearch IncomeKind = "research"
)

// =============================================================================
// DATE - Calendar day keys for settlement runs
// =============================================================================

// Date is a calendar day in UTC. It is the unique key of a settlement
// period: the journal holds at most one entry per Date.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates a point in time to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return Date{Year: u.Year(), Month: u.Month(), Day: u.Day()}
}

// ParseDate parses a YYYY-MM-DD string as stored in the journal.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid run date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns the date at midnight UTC.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time().Before(other.Time())
}

// String formats the date as its journal key, YYYY-MM-DD.
func (d Date) String() string {
	return d.Time().Format("2006-01-02")
}

// =============================================================================
// ACCOUNTS AND INCOME
// =============================================================================

// User is a participant account. Balance and research are only credited by
// the settlement transaction; purchases debit them through the shared store.
type User struct {
	ID        UserID
	Username  string
	Balance   int64
	Research  int64
	CreatedAt time.Time
}

// IncomeRecord is one recurring income source owned by a user. Amount may be
// nil in storage; a nil amount contributes zero at settlement time.
type IncomeRecord struct {
	UserID     UserID
	SourceName string
	Kind       IncomeKind
	Amount     *int64
}

// Credit is the amount owed to a single user for one settlement period.
type Credit struct {
	Currency int64
	Research int64
}

// IsZero reports whether the credit would not change any balance.
func (c Credit) IsZero() bool {
	return c.Currency == 0 && c.Research == 0
}

// =============================================================================
// SETTLEMENT JOURNAL
// =============================================================================

// RunStatus is the state of one journal entry.
type RunStatus string

const (
	// RunStarted marks a claimed run that has not reached a terminal state.
	// A started row found on a later attempt is treated as interrupted and
	// retried; the process is the only writer of its journal.
	RunStarted RunStatus = "started"
	// RunComplete marks a settled date. Re-settling it is a no-op.
	RunComplete RunStatus = "complete"
	// RunFailed marks a rolled-back run. The next attempt for the same
	// date retries it on the same journal row.
	RunFailed RunStatus = "failed"
)

// Terminal reports whether the status will not change without a new attempt.
func (s RunStatus) Terminal() bool {
	return s == RunComplete || s == RunFailed
}

// JournalEntry is the idempotency record for one run date.
type JournalEntry struct {
	RunDate    Date
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	ErrorMsg   string
}
