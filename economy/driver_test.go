package economy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore is a minimal SettlementStore that records which dates were
// settled. It lives in-package so driver tests can inject a fake clock.
type stubStore struct {
	mu      sync.Mutex
	journal map[string]RunStatus
}

func newStubStore() *stubStore {
	return &stubStore{journal: make(map[string]RunStatus)}
}

func (s *stubStore) status(d Date) (RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.journal[d.String()]
	return st, ok
}

func (s *stubStore) BeginSettlement(context.Context) (SettlementTx, error) {
	return &stubTx{store: s}, nil
}

func (s *stubStore) LastCompletedRun(context.Context) (Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last Date
	found := false
	for k, st := range s.journal {
		if st != RunComplete {
			continue
		}
		d, err := ParseDate(k)
		if err != nil {
			return Date{}, false, err
		}
		if !found || last.Before(d) {
			last = d
			found = true
		}
	}
	return last, found, nil
}

func (s *stubStore) MarkRunFailed(_ context.Context, date Date, _, _ time.Time, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal[date.String()] = RunFailed
	return nil
}

type stubTx struct {
	store *stubStore
}

func (tx *stubTx) ClaimRun(_ context.Context, date Date, _ time.Time) (bool, RunStatus, error) {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if st, ok := tx.store.journal[date.String()]; ok {
		return false, st, nil
	}
	tx.store.journal[date.String()] = RunStarted
	return true, "", nil
}

func (tx *stubTx) SumIncomeByUser(context.Context, IncomeKind) (map[UserID]int64, error) {
	return map[UserID]int64{}, nil
}

func (tx *stubTx) ApplyCredits(context.Context, map[UserID]Credit) error { return nil }

func (tx *stubTx) CompleteRun(_ context.Context, date Date, _ time.Time) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.journal[date.String()] = RunComplete
	return nil
}

func (tx *stubTx) Commit() error   { return nil }
func (tx *stubTx) Rollback() error { return nil }

func newTestDriver(store SettlementStore, anchorHour, periodDays int, now time.Time) *Driver {
	settler := NewSettler(store, nil, zerolog.Nop())
	settler.now = func() time.Time { return now }
	d := NewDriver(settler, anchorHour, periodDays, zerolog.Nop())
	d.now = settler.now
	return d
}

// =============================================================================
// SLEEP COMPUTATION
// =============================================================================

func TestUntilNextRun(t *testing.T) {
	tests := []struct {
		name       string
		now        string // RFC3339, UTC
		anchorHour int
		periodDays int
		want       time.Duration
	}{
		{
			name:       "before today's anchor waits for it",
			now:        "2024-03-10T09:00:00Z",
			anchorHour: 18,
			periodDays: 3,
			want:       9 * time.Hour,
		},
		{
			name:       "exactly at the anchor fires immediately",
			now:        "2024-03-10T18:00:00Z",
			anchorHour: 18,
			periodDays: 3,
			want:       0,
		},
		{
			name:       "past the anchor waits a full period",
			now:        "2024-03-10T19:00:00Z",
			anchorHour: 18,
			periodDays: 3,
			want:       71 * time.Hour,
		},
		{
			name:       "one second past a daily anchor",
			now:        "2024-03-10T18:00:01Z",
			anchorHour: 18,
			periodDays: 1,
			want:       23*time.Hour + 59*time.Minute + 59*time.Second,
		},
		{
			name:       "midnight anchor just after midnight",
			now:        "2024-03-10T00:00:30Z",
			anchorHour: 0,
			periodDays: 2,
			want:       48*time.Hour - 30*time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, err := time.Parse(time.RFC3339, tt.now)
			require.NoError(t, err)

			d := &Driver{anchorHour: tt.anchorHour, periodDays: tt.periodDays}
			assert.Equal(t, tt.want, d.untilNextRun(now))
		})
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestDriver_StartBackfillsThenSettlesToday(t *testing.T) {
	// Clock pinned well before the anchor so the loop settles today once
	// and then sleeps for hours.
	now := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	store := newStubStore()
	d := newTestDriver(store, 18, 1, now)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	// Backfill is synchronous: yesterday is complete before Start returns.
	st, ok := store.status(Date{2024, time.March, 9})
	require.True(t, ok)
	assert.Equal(t, RunComplete, st)

	// Today is settled by the loop goroutine shortly after.
	require.Eventually(t, func() bool {
		st, ok := store.status(Date{2024, time.March, 10})
		return ok && st == RunComplete
	}, time.Second, 5*time.Millisecond)
}

func TestDriver_StartTwiceFails(t *testing.T) {
	now := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	d := newTestDriver(newStubStore(), 18, 1, now)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	assert.ErrorIs(t, d.Start(context.Background()), ErrRunInProgress)
}

func TestDriver_StopInterruptsSleepPromptly(t *testing.T) {
	// The loop is mid-sleep with nine hours to go; Stop must not wait it out.
	now := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	store := newStubStore()
	d := newTestDriver(store, 18, 1, now)

	require.NoError(t, d.Start(context.Background()))
	require.Eventually(t, func() bool {
		st, ok := store.status(Date{2024, time.March, 10})
		return ok && st == RunComplete
	}, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}

	// Stopping again is a no-op.
	d.Stop()
}

func TestDriver_RestartAfterStop(t *testing.T) {
	now := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	d := newTestDriver(newStubStore(), 18, 1, now)

	require.NoError(t, d.Start(context.Background()))
	d.Stop()

	require.NoError(t, d.Start(context.Background()))
	d.Stop()
}

func TestDriver_ContextCancelStopsLoop(t *testing.T) {
	now := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	store := newStubStore()
	d := newTestDriver(store, 18, 1, now)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancellation")
	}
}
