/*
seed.go - Demo data loader

PURPOSE:
  Seeds a tenant with a small roster and two dues categories so the API
  can be exercised immediately after startup. Development convenience
  only; seeding an already-populated tenant upserts the same rows.
*/
package api

import (
	"net/http"
	"time"

	"github.com/warp/dues-engine/ledger"
)

// SeedDemo loads demo categories and members into the request's tenant.
// POST /api/seed
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := tenantFrom(r)
	now := time.Now().UTC()
	store := h.Engine.Store()

	monthlyCap := ledger.MustMoney("1200")
	categories := []ledger.Category{
		{
			ID: "monthly-dues", TenantID: tenant, Name: "Monthly Dues",
			Active: true, Amount: ledger.MustMoney("100"),
			Recurring: true, GenerationDay: 5, YearlyCap: &monthlyCap,
			CreatedAt: now,
		},
		{
			ID: "building-fund", TenantID: tenant, Name: "Building Fund",
			Active: true, Amount: ledger.MustMoney("250"),
			CreatedAt: now,
		},
	}
	members := []ledger.Member{
		{ID: "m-alex", TenantID: tenant, Name: "Alex Okafor", Active: true, CreatedAt: now},
		{ID: "m-bintu", TenantID: tenant, Name: "Bintu Kamara", Active: true, CreatedAt: now},
		{ID: "m-chen", TenantID: tenant, Name: "Chen Wei", Active: true, CreatedAt: now},
		{ID: "m-dana", TenantID: tenant, Name: "Dana Petrov", Active: false, CreatedAt: now},
	}

	for _, c := range categories {
		if err := store.SaveCategory(ctx, c); err != nil {
			writeEngineError(w, err)
			return
		}
	}
	for _, m := range members {
		if err := store.SaveMember(ctx, m); err != nil {
			writeEngineError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant":     string(tenant),
		"categories": len(categories),
		"members":    len(members),
	})
}
