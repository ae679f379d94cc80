package api

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/dues-engine/engine"
	"github.com/warp/dues-engine/ledger"
	"github.com/warp/dues-engine/ledger/store"
)

func newSchedulerFixture(t *testing.T, today time.Time) (*GenerationScheduler, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	seq := 0
	eng := engine.New(st,
		engine.WithClock(func() time.Time { return today }),
		engine.WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("sched-%03d", seq)
		}),
	)

	ctx := context.Background()
	require.NoError(t, st.SaveCategory(ctx, ledger.Category{
		ID: "monthly", TenantID: "default", Name: "Monthly Dues", Active: true,
		Amount: ledger.MustMoney("100"), Recurring: true, GenerationDay: 5,
		CreatedAt: today,
	}))
	require.NoError(t, st.SaveCategory(ctx, ledger.Category{
		ID: "one-off", TenantID: "default", Name: "One Off", Active: true,
		Amount: ledger.MustMoney("250"), CreatedAt: today,
	}))
	require.NoError(t, st.SaveMember(ctx, ledger.Member{
		ID: "m1", TenantID: "default", Name: "m1", Active: true, CreatedAt: today,
	}))

	sched := NewGenerationScheduler(eng, []ledger.TenantID{"default"})
	sched.now = func() time.Time { return today }
	return sched, st
}

func TestSchedulerGeneratesOnOrAfterGenerationDay(t *testing.T) {
	// GIVEN: the 10th, past the category's generation day (the 5th)
	today := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sched, st := newSchedulerFixture(t, today)

	sched.RunNow()

	// THEN: the recurring category got its March due, the one-off did not
	dues, err := st.OpenDues(context.Background(), "default", "m1")
	require.NoError(t, err)
	require.Len(t, dues, 1)
	assert.Equal(t, ledger.CategoryID("monthly"), dues[0].CategoryID)
	assert.True(t, dues[0].Period.Equal(ledger.NewPeriod(2026, time.March)))
}

func TestSchedulerWaitsForGenerationDay(t *testing.T) {
	// GIVEN: the 3rd, before the generation day
	today := time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC)
	sched, st := newSchedulerFixture(t, today)

	sched.RunNow()

	dues, err := st.OpenDues(context.Background(), "default", "m1")
	require.NoError(t, err)
	assert.Empty(t, dues)
}

func TestSchedulerRepeatRunIsIdempotent(t *testing.T) {
	today := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sched, st := newSchedulerFixture(t, today)

	sched.RunNow()
	sched.RunNow()

	// Duplicate generation attempts become skips inside the generator.
	dues, err := st.OpenDues(context.Background(), "default", "m1")
	require.NoError(t, err)
	assert.Len(t, dues, 1)
}

func TestSchedulerStartStop(t *testing.T) {
	today := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	sched, _ := newSchedulerFixture(t, today)
	sched.CheckInterval = time.Hour

	sched.Start()
	sched.Stop()
	// Stopping twice must not panic or block.
	sched.Stop()
}
