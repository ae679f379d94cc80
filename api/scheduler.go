/*
scheduler.go - Automated monthly due generation

PURPOSE:
  Recurring categories carry a generation day ("dues go out on the 5th").
  The scheduler checks periodically whether any recurring category's day
  has arrived for the current period and runs the bulk generator for it.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Generation is idempotent: members who already have the period's due
    are reported as skips, so re-checking within the same day is safe
  - Tenants are configured at startup; the engine has no tenant registry

CONFIGURATION:
  - CheckInterval: how often to check (default: 1 hour)
  - Tenants: which tenants to generate for

USAGE:
  sched := NewGenerationScheduler(eng, []ledger.TenantID{"default"})
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - handlers.go: GenerateDues endpoint (manual generation)
  - engine/generator.go: the bulk generator this drives
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/ledger"
)

// GenerationScheduler drives monthly due generation for recurring categories.
type GenerationScheduler struct {
	Engine        *engine.Engine
	Tenants       []ledger.TenantID
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	now    func() time.Time
}

// NewGenerationScheduler creates a scheduler for the given tenants.
func NewGenerationScheduler(eng *engine.Engine, tenants []ledger.TenantID) *GenerationScheduler {
	return &GenerationScheduler{
		Engine:        eng,
		Tenants:       tenants,
		CheckInterval: 1 * time.Hour,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background check loop.
func (gs *GenerationScheduler) Start() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.ticker != nil {
		return
	}

	gs.ticker = time.NewTicker(gs.CheckInterval)
	gs.stop = make(chan struct{})
	gs.wg.Add(1)
	go gs.run()
	log.Printf("[Scheduler] started, checking every %s", gs.CheckInterval)
}

// Stop halts the loop and waits for an in-flight check to finish.
func (gs *GenerationScheduler) Stop() {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.ticker == nil {
		return
	}
	gs.ticker.Stop()
	close(gs.stop)
	gs.wg.Wait()
	gs.ticker = nil
	log.Printf("[Scheduler] stopped")
}

func (gs *GenerationScheduler) run() {
	defer gs.wg.Done()
	// One immediate pass so a restart on the generation day still fires.
	gs.RunNow()
	for {
		select {
		case <-gs.ticker.C:
			gs.RunNow()
		case <-gs.stop:
			return
		}
	}
}

// RunNow performs one generation check for every tenant.
func (gs *GenerationScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, tenant := range gs.Tenants {
		gs.checkTenant(ctx, tenant)
	}
}

func (gs *GenerationScheduler) checkTenant(ctx context.Context, tenant ledger.TenantID) {
	cats, err := gs.Engine.Store().ListCategories(ctx, tenant)
	if err != nil {
		log.Printf("[Scheduler] tenant=%s list categories: %v", tenant, err)
		return
	}

	today := gs.now()
	period := ledger.PeriodOf(today)
	for _, cat := range cats {
		if !cat.Recurring || !cat.Active {
			continue
		}
		if today.Day() < cat.GenerationDay {
			continue
		}

		result, err := gs.Engine.GenerateBulkDues(ctx, engine.GenerateDuesInput{
			TenantID:   tenant,
			CategoryID: cat.ID,
			Period:     period,
		})
		if err != nil {
			log.Printf("[Scheduler] tenant=%s category=%s generation failed: %v", tenant, cat.ID, err)
			continue
		}
		if result.CreatedCount() > 0 {
			log.Printf("[Scheduler] tenant=%s category=%s period=%s created=%d skipped=%d failed=%d",
				tenant, cat.ID, period, result.CreatedCount(), result.SkippedCount(), result.FailedCount())
		}
	}
}
