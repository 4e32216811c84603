package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/clawee/clawee-core/internal/domain/budget"
)

func openTestBudgetStore(t *testing.T) *BudgetStore {
	t.Helper()
	store, err := OpenBudgetStore(filepath.Join(t.TempDir(), "budget.db"))
	if err != nil {
		t.Fatalf("OpenBudgetStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBudgetStoreRecordEventAndWindowSum(t *testing.T) {
	store := openTestBudgetStore(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	events := []budget.CostEvent{
		{Timestamp: base, Model: "gpt-x", USDCost: 1.50},
		{Timestamp: base.Add(10 * time.Minute), Model: "gpt-x", USDCost: 2.25},
		{Timestamp: base.Add(-2 * time.Hour), Model: "gpt-x", USDCost: 99.0}, // outside the window below
	}
	for _, e := range events {
		if err := store.RecordEvent(ctx, e); err != nil {
			t.Fatalf("RecordEvent: %v", err)
		}
	}

	sum, err := store.WindowSum(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("WindowSum: %v", err)
	}
	if sum != 3.75 {
		t.Fatalf("expected window sum 3.75, got %v", sum)
	}
}

func TestBudgetStoreSaveAndHydrateState(t *testing.T) {
	store := openTestBudgetStore(t)
	ctx := context.Background()
	now := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	triggered := now.Add(-time.Minute)

	st := budget.State{Suspended: true, Reason: "hourly cap exceeded", TriggeredAt: &triggered, UpdatedAt: now}
	if err := store.SaveState(ctx, st); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	dayStart := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	controller, err := store.Hydrate(ctx, budget.Caps{HourlyUSD: 10, DailyUSD: 100}, dayStart)
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	snapshot := controller.Snapshot()
	if !snapshot.Suspended {
		t.Fatal("expected hydrated controller to remain suspended")
	}
	if snapshot.Reason != "hourly cap exceeded" {
		t.Fatalf("expected reason to be preserved, got %q", snapshot.Reason)
	}
}

func TestBudgetStoreHydrateRestoresEventsWithinDay(t *testing.T) {
	store := openTestBudgetStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if err := store.RecordEvent(ctx, budget.CostEvent{Timestamp: now, Model: "m", USDCost: 5}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := store.RecordEvent(ctx, budget.CostEvent{Timestamp: dayStart.Add(-time.Hour), Model: "m", USDCost: 5}); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	controller, err := store.Hydrate(ctx, budget.Caps{HourlyUSD: 1000, DailyUSD: 1000}, dayStart)
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	// A projected spend that would push today's total over the daily cap
	// should be rejected, proving the prior in-day event was restored.
	allowed, _ := controller.Projected(996)
	if allowed {
		t.Fatal("expected hydrated controller to already account for the earlier same-day event")
	}
}
