/*
driver.go - The scheduler loop

PURPOSE:
  Trigger exactly one settlement attempt per period, indefinitely, anchored
  to a fixed UTC hour.

DESIGN:
  - Start runs the backfill to completion, then launches one background
    goroutine; the loop runs concurrently with the caller.
  - Each iteration settles "today", then sleeps until the next anchor:
    today's anchor when it hasn't passed yet, otherwise anchor plus the
    period length. The target is recomputed from the wall clock every
    iteration, so sleep inaccuracies never accumulate.
  - The timed sleep is the only suspension point and is cancelled
    immediately by Stop, which waits for the goroutine to exit.

SEE ALSO:
  - backfill.go: startup replay
  - settle.go: the per-date transaction
*/
package economy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Driver owns the long-lived scheduling loop.
type Driver struct {
	settler    *Settler
	anchorHour int
	periodDays int
	log        zerolog.Logger

	now func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewDriver creates a driver that settles every periodDays days at
// anchorHour UTC. Both values must already be validated by configuration
// loading.
func NewDriver(settler *Settler, anchorHour, periodDays int, log zerolog.Logger) *Driver {
	return &Driver{
		settler:    settler,
		anchorHour: anchorHour,
		periodDays: periodDays,
		log:        log,
		now:        time.Now,
	}
}

// Start runs the backfill to completion, then launches the periodic loop.
// It does not return until the backfill has finished.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrRunInProgress
	}

	if err := d.settler.Backfill(ctx, DateOf(d.now())); err != nil {
		return err
	}

	d.stop = make(chan struct{})
	d.running = true
	d.wg.Add(1)
	go d.run(ctx)

	d.log.Info().Int("anchor_hour_utc", d.anchorHour).Int("period_days", d.periodDays).
		Msg("scheduler started")
	return nil
}

// Stop cancels the loop's sleep promptly and waits for the goroutine to
// observe cancellation and exit. Calling Stop on a stopped driver is a
// no-op.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}

	close(d.stop)
	d.wg.Wait()
	d.running = false
	d.log.Info().Msg("scheduler stopped")
}

func (d *Driver) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		now := d.now()
		d.settler.Settle(ctx, DateOf(now))

		delay := d.untilNextRun(d.now())
		d.log.Debug().Dur("sleep", delay).Msg("scheduler sleeping until next anchor")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-d.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// untilNextRun computes the sleep before the next anchor from the current
// wall clock: today's anchor if it hasn't passed, otherwise the anchor one
// period later.
func (d *Driver) untilNextRun(now time.Time) time.Duration {
	now = now.UTC()
	target := time.Date(now.Year(), now.Month(), now.Day(), d.anchorHour, 0, 0, 0, time.UTC)
	if now.After(target) {
		target = target.AddDate(0, 0, d.periodDays)
	}
	return target.Sub(now)
}
