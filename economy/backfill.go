/*
backfill.go - Replay of settlement dates missed during downtime

On startup the driver replays every date between the last completed run and
today, strictly in ascending order and one transaction at a time. Each date
goes through the same idempotent settlement as a live run, so a crash in the
middle of a backfill simply resumes where it left off on the next start.
*/
package economy

import "context"

// Backfill settles every date from the resume point up to, but not
// including, today. With no completed run on record it starts one day back,
// so the period immediately before startup is always settled. Individual
// settlement failures are journaled and do not stop the replay; only a
// failure to read the journal itself is returned.
func (s *Settler) Backfill(ctx context.Context, today Date) error {
	last, ok, err := s.store.LastCompletedRun(ctx)
	if err != nil {
		return err
	}

	var d Date
	if ok {
		d = last.AddDays(1)
	} else {
		d = today.AddDays(-1)
	}

	if d.Before(today) {
		s.log.Info().Stringer("from", d).Stringer("until", today).Msg("backfilling missed runs")
	}
	for ; d.Before(today); d = d.AddDays(1) {
		s.Settle(ctx, d)
	}
	return nil
}
