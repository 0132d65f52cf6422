// Package memory provides an in-memory SettlementStore for tests and dev.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/countermeasure/economy-engine/economy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store holds the whole ledger in maps. A store-wide mutex plays the role
// of the exclusive write lock: BeginSettlement holds it until Commit or
// Rollback, so concurrent settlements serialize exactly like they do
// against SQLite.
//
// The Fail* hooks inject storage errors at chosen points of a settlement,
// which the SQLite store cannot simulate.
type Store struct {
	mu      sync.Mutex
	users   map[economy.UserID]*economy.User
	income  map[economy.IncomeKind]map[economy.UserID]map[string]*int64
	journal map[string]*economy.JournalEntry

	// Fault injection, checked by the matching SettlementTx method.
	FailSumIncome    bool
	FailApplyCredits bool
	FailCompleteRun  bool
	FailCommit       bool
}

// ErrInjected is the error produced by the Fail* hooks.
var ErrInjected = errors.New("injected storage failure")

func New() *Store {
	return &Store{
		users: make(map[economy.UserID]*economy.User),
		income: map[economy.IncomeKind]map[economy.UserID]map[string]*int64{
			economy.IncomeCurrency: {},
			economy.IncomeResearch: {},
		},
		journal: make(map[string]*economy.JournalEntry),
	}
}

// AddUser registers an account with zero balances.
func (m *Store) AddUser(id economy.UserID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		m.users[id] = &economy.User{ID: id, Username: username, CreatedAt: time.Now().UTC()}
	}
}

// SetIncome upserts one income record. amount nil models a NULL column.
func (m *Store) SetIncome(kind economy.IncomeKind, id economy.UserID, source string, amount *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := m.income[kind]
	if byUser[id] == nil {
		byUser[id] = make(map[string]*int64)
	}
	byUser[id][source] = amount
}

// User returns a copy of one account.
func (m *Store) User(id economy.UserID) (economy.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return economy.User{}, false
	}
	return *u, true
}

// Journal returns a copy of one journal entry.
func (m *Store) Journal(date economy.Date) (economy.JournalEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.journal[date.String()]
	if !ok {
		return economy.JournalEntry{}, false
	}
	return *e, true
}

// =============================================================================
// SETTLEMENT STORE (economy.SettlementStore interface)
// =============================================================================

// BeginSettlement takes the store-wide lock and snapshots the state so
// Rollback can restore it, mirroring a real transaction.
func (m *Store) BeginSettlement(_ context.Context) (economy.SettlementTx, error) {
	m.mu.Lock()
	return &memoryTx{parent: m, snap: m.snapshot()}, nil
}

func (m *Store) LastCompletedRun(_ context.Context) (economy.Date, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last economy.Date
	found := false
	for _, e := range m.journal {
		if e.Status != economy.RunComplete {
			continue
		}
		if !found || last.Before(e.RunDate) {
			last = e.RunDate
			found = true
		}
	}
	return last, found, nil
}

func (m *Store) MarkRunFailed(_ context.Context, date economy.Date, startedAt, finishedAt time.Time, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.journal[date.String()]
	if !ok {
		e = &economy.JournalEntry{RunDate: date, StartedAt: startedAt}
		m.journal[date.String()] = e
	}
	f := finishedAt
	e.Status = economy.RunFailed
	e.FinishedAt = &f
	e.ErrorMsg = detail
	return nil
}

type snapshot struct {
	users   map[economy.UserID]economy.User
	journal map[string]economy.JournalEntry
}

func (m *Store) snapshot() snapshot {
	users := make(map[economy.UserID]economy.User, len(m.users))
	for id, u := range m.users {
		users[id] = *u
	}
	journal := make(map[string]economy.JournalEntry, len(m.journal))
	for k, e := range m.journal {
		journal[k] = *e
	}
	// Income records are read-only during settlement; no need to copy them.
	return snapshot{users: users, journal: journal}
}

func (m *Store) restore(s snapshot) {
	m.users = make(map[economy.UserID]*economy.User, len(s.users))
	for id, u := range s.users {
		u := u
		m.users[id] = &u
	}
	m.journal = make(map[string]*economy.JournalEntry, len(s.journal))
	for k, e := range s.journal {
		e := e
		m.journal[k] = &e
	}
}

// memoryTx operates directly on the parent under the held lock; Rollback
// restores the snapshot taken at begin.
type memoryTx struct {
	parent *Store
	snap   snapshot
	done   bool
}

func (tx *memoryTx) ClaimRun(_ context.Context, date economy.Date, startedAt time.Time) (bool, economy.RunStatus, error) {
	if e, ok := tx.parent.journal[date.String()]; ok {
		return false, e.Status, nil
	}
	tx.parent.journal[date.String()] = &economy.JournalEntry{
		RunDate:   date,
		Status:    economy.RunStarted,
		StartedAt: startedAt,
	}
	return true, "", nil
}

func (tx *memoryTx) SumIncomeByUser(_ context.Context, kind economy.IncomeKind) (map[economy.UserID]int64, error) {
	if tx.parent.FailSumIncome {
		return nil, ErrInjected
	}

	sums := make(map[economy.UserID]int64)
	for id, sources := range tx.parent.income[kind] {
		if len(sources) == 0 {
			continue
		}
		var total int64
		for _, amount := range sources {
			if amount != nil {
				total += *amount
			}
		}
		sums[id] = total
	}
	return sums, nil
}

func (tx *memoryTx) ApplyCredits(_ context.Context, credits map[economy.UserID]economy.Credit) error {
	if tx.parent.FailApplyCredits {
		return ErrInjected
	}

	for id, c := range credits {
		u, ok := tx.parent.users[id]
		if !ok {
			continue
		}
		u.Balance += c.Currency
		u.Research += c.Research
	}
	return nil
}

func (tx *memoryTx) CompleteRun(_ context.Context, date economy.Date, finishedAt time.Time) error {
	if tx.parent.FailCompleteRun {
		return ErrInjected
	}

	e, ok := tx.parent.journal[date.String()]
	if !ok {
		return errors.New("complete run: no journal entry for " + date.String())
	}
	f := finishedAt
	e.Status = economy.RunComplete
	e.FinishedAt = &f
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	if tx.parent.FailCommit {
		tx.parent.restore(tx.snap)
		tx.parent.mu.Unlock()
		return ErrInjected
	}
	tx.parent.mu.Unlock()
	return nil
}

func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.parent.restore(tx.snap)
	tx.parent.mu.Unlock()
	return nil
}
