/*
aggregate.go - Per-period income aggregation

The aggregator is the pure read side of a settlement: it sums every active
income record, grouped by user, and merges the two kinds into one credit per
user. It runs inside the settlement transaction so it observes a stable
snapshot, and it never mutates state.
*/
package economy

import (
	"context"
	"fmt"
)

// Aggregate computes the credit due to every user holding at least one
// income record. Users without records are absent from the result and will
// not be touched by the bulk update.
func Aggregate(ctx context.Context, tx SettlementTx) (map[UserID]Credit, error) {
	currency, err := tx.SumIncomeByUser(ctx, IncomeCurrency)
	if err != nil {
		return nil, fmt.Errorf("aggregate currency income: %w", err)
	}
	research, err := tx.SumIncomeByUser(ctx, IncomeResearch)
	if err != nil {
		return nil, fmt.Errorf("aggregate research income: %w", err)
	}

	credits := make(map[UserID]Credit, len(currency)+len(research))
	for id, amount := range currency {
		c := credits[id]
		c.Currency += amount
		credits[id] = c
	}
	for id, amount := range research {
		c := credits[id]
		c.Research += amount
		credits[id] = c
	}
	return credits, nil
}
