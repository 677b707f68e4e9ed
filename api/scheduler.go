/*
scheduler.go - Automated recalculation sweep

PURPOSE:
  Periodically recalculates every closed deal so commission lines stay
  consistent after out-of-band changes (plan edits, rule amount bumps,
  hierarchy moves). Discrepancies surface in the sweep log instead of
  silently accumulating.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only closed deals are swept; open and cancelled deals are skipped
  - A deal locked by an in-flight manual recalculation is skipped, not
    retried: the next sweep picks it up
  - A failing deal never stops the sweep

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewRecalcSweeper(store, handler)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: Recalculate endpoint (manual recalculation)
  - commission/recalc.go: Coordinator
*/
package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/avelkins10/kin-people-sub003/commission"
)

// RecalcSweeper periodically recalculates all closed deals.
type RecalcSweeper struct {
	Store         Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRecalcSweeper creates a new sweeper.
func NewRecalcSweeper(store Store, handler *Handler) *RecalcSweeper {
	return &RecalcSweeper{
		Store:         store,
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (rs *RecalcSweeper) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	log.Printf("[Sweeper] Started with check interval: %v", rs.CheckInterval)
}

// Stop stops the sweeper.
func (rs *RecalcSweeper) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (rs *RecalcSweeper) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.sweep()

	for {
		select {
		case <-rs.ticker.C:
			rs.sweep()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RecalcSweeper) sweep() {
	ctx := context.Background()

	deals, err := rs.Store.ListDeals(ctx)
	if err != nil {
		log.Printf("[Sweeper] Error listing deals: %v", err)
		return
	}

	var processed, skipped, failed, flagged int

	for _, deal := range deals {
		if deal.Status != commission.DealClosed {
			continue
		}

		result, err := rs.Handler.Coordinator.Recalculate(ctx, deal.ID)
		switch {
		case errors.Is(err, commission.ErrConcurrentRecalculation):
			// Someone is recalculating this deal right now; next sweep
			// will catch it.
			skipped++
		case err != nil:
			log.Printf("[Sweeper] Error recalculating %s: %v", deal.ID, err)
			failed++
		default:
			processed++
			if len(result.Discrepancies) > 0 {
				flagged++
				for _, d := range result.Discrepancies {
					log.Printf("[Sweeper] Discrepancy on %s: %s line for %s is %s, recompute says %s",
						d.DealID, d.ExistingStatus, d.PersonID, d.ExistingAmount, d.ComputedAmount)
				}
			}
		}
	}

	if processed > 0 || skipped > 0 || failed > 0 {
		log.Printf("[Sweeper] Completed: %d recalculated (%d with discrepancies), %d skipped, %d failed",
			processed, flagged, skipped, failed)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *RecalcSweeper) RunNow() {
	rs.sweep()
}

// GetNextRunTime returns when the next scheduled sweep will occur.
func (rs *RecalcSweeper) GetNextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
