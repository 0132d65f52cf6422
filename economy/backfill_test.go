package economy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/countermeasure/economy-engine/economy"
)

func TestBackfill_NoHistorySettlesYesterdayOnly(t *testing.T) {
	// GIVEN: a fresh journal with no completed run
	settler, store, rec := newMemorySettler(t)
	ctx := context.Background()

	store.AddUser("alice", "alice")
	store.SetIncome(economy.IncomeCurrency, "alice", "farms", intp(10))

	// WHEN: backfilling with today = 2024-03-10
	require.NoError(t, settler.Backfill(ctx, mustDate(t, "2024-03-10")))

	// THEN: exactly one run, for 2024-03-09; today is left to the live loop
	entry, ok := store.Journal(mustDate(t, "2024-03-09"))
	require.True(t, ok)
	assert.Equal(t, economy.RunComplete, entry.Status)

	_, ok = store.Journal(mustDate(t, "2024-03-10"))
	assert.False(t, ok, "today must not be settled by the backfill")

	alice, _ := store.User("alice")
	assert.Equal(t, int64(10), alice.Balance)
	assert.Len(t, rec.all(), 1)
}

func TestBackfill_ReplaysEveryMissedDateInOrder(t *testing.T) {
	// GIVEN: last completed run 2024-03-05, today 2024-03-10
	settler, store, rec := newMemorySettler(t)
	ctx := context.Background()

	store.AddUser("alice", "alice")
	store.SetIncome(economy.IncomeCurrency, "alice", "farms", intp(10))
	settler.Settle(ctx, mustDate(t, "2024-03-05"))
	before := len(rec.all())

	// WHEN
	require.NoError(t, settler.Backfill(ctx, mustDate(t, "2024-03-10")))

	// THEN: 06, 07, 08 and 09 each got their own run, in ascending order
	for _, day := range []string{"2024-03-06", "2024-03-07", "2024-03-08", "2024-03-09"} {
		entry, ok := store.Journal(mustDate(t, day))
		require.True(t, ok, "missing run for %s", day)
		assert.Equal(t, economy.RunComplete, entry.Status)
	}

	msgs := rec.all()[before:]
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[0], "2024-03-06")
	assert.Contains(t, msgs[1], "2024-03-07")
	assert.Contains(t, msgs[2], "2024-03-08")
	assert.Contains(t, msgs[3], "2024-03-09")

	// 05 was settled before the backfill; 5 runs total credited the user.
	alice, _ := store.User("alice")
	assert.Equal(t, int64(50), alice.Balance, "completed dates are never re-credited")
}

func TestBackfill_UpToDateJournalIsNoOp(t *testing.T) {
	settler, store, rec := newMemorySettler(t)
	ctx := context.Background()

	store.AddUser("alice", "alice")
	store.SetIncome(economy.IncomeCurrency, "alice", "farms", intp(10))
	settler.Settle(ctx, mustDate(t, "2024-03-09"))
	before := len(rec.all())

	require.NoError(t, settler.Backfill(ctx, mustDate(t, "2024-03-10")))

	alice, _ := store.User("alice")
	assert.Equal(t, int64(10), alice.Balance)
	assert.Len(t, rec.all(), before, "nothing to replay, nothing announced")
}

func TestBackfill_SpansMonthBoundary(t *testing.T) {
	settler, store, _ := newMemorySettler(t)
	ctx := context.Background()

	store.AddUser("alice", "alice")
	store.SetIncome(economy.IncomeResearch, "alice", "lab", intp(3))
	settler.Settle(ctx, mustDate(t, "2024-02-28"))

	require.NoError(t, settler.Backfill(ctx, mustDate(t, "2024-03-02")))

	// 2024 is a leap year: 02-29, 03-01 must both be present.
	for _, day := range []string{"2024-02-29", "2024-03-01"} {
		entry, ok := store.Journal(mustDate(t, day))
		require.True(t, ok, "missing run for %s", day)
		assert.Equal(t, economy.RunComplete, entry.Status)
	}
}
