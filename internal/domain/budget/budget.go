// Package budget implements the budget controller: a pricing-catalog-driven
// cost model, rolling hourly and fixed daily spend windows, and a suspend
// state that only an explicit operator resume can clear.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// PricingEntry prices one model's token usage. Per-1000-token pricing
// matches the common provider billing unit.
type PricingEntry struct {
	ModelID          string  `json:"model_id"`
	InputPricePer1K  float64 `json:"input_price_per_1k"`
	OutputPricePer1K float64 `json:"output_price_per_1k"`
}

// WildcardModelID is the fallback pricing entry used when a model has no
// exact catalog entry.
const WildcardModelID = "*"

// PricingCatalog is the signed pricing rule set: a map keyed by model id.
// A catalog that has neither an exact entry nor a "*" entry for a model
// that is actually requested fails evaluation closed — see CostOf.
type PricingCatalog map[string]PricingEntry

// ErrNoPricingEntry is returned by CostOf when neither an exact nor a
// wildcard pricing entry exists for the requested model.
var ErrNoPricingEntry = errors.New("budget: no pricing entry for model and no wildcard fallback")

// CostOf computes cost = input_tokens/1000 * input_price + output_tokens/1000 * output_price.
func (c PricingCatalog) CostOf(modelID string, inputTokens, outputTokens int64) (float64, error) {
	entry, ok := c[modelID]
	if !ok {
		entry, ok = c[WildcardModelID]
		if !ok {
			return 0, ErrNoPricingEntry
		}
	}
	cost := float64(inputTokens)/1000*entry.InputPricePer1K + float64(outputTokens)/1000*entry.OutputPricePer1K
	return cost, nil
}

// CostEvent is one append-only spend record.
type CostEvent struct {
	Timestamp    time.Time
	Model        string
	InputTokens  int64
	OutputTokens int64
	USDCost      float64
	RequestPath  string
}

// State is the singleton suspend/resume row.
type State struct {
	Suspended   bool
	Reason      string
	TriggeredAt *time.Time
	ResumedAt   *time.Time
	ResumedBy   string
	UpdatedAt   time.Time
}

// Caps configures the hourly rolling and daily fixed spend ceilings.
type Caps struct {
	HourlyUSD float64
	DailyUSD  float64
}

// Controller tracks cost events and suspend state in process memory. A
// SQLite-backed store with the same windowed-sum query shape lives in
// internal/adapter/outbound/sqlitestore; Controller does not write to it,
// so events recorded by Actual and suspensions set at runtime exist only
// in memory.
type Controller struct {
	mu     sync.Mutex
	caps   Caps
	state  State
	events []CostEvent
	clock  func() time.Time
}

// NewController builds a Controller with the given caps, starting
// unsuspended.
func NewController(caps Caps) *Controller {
	return &Controller{caps: caps, clock: time.Now}
}

// NewControllerWithState rehydrates a Controller from persisted state and
// events — BudgetStore.Hydrate in internal/adapter/outbound/sqlitestore
// loads these on startup. Only what was written to that store before
// startup is restored; the Controller itself never writes to it.
func NewControllerWithState(caps Caps, state State, events []CostEvent) *Controller {
	return &Controller{caps: caps, state: state, events: events, clock: time.Now}
}

// Projected performs the pre-forward check: if the current windowed sums
// plus projectedCost would exceed either cap, the controller transitions
// to suspended (first writer wins if a concurrent Actual check also
// crosses the line) and returns false. Projected checks never record
// cost themselves.
func (c *Controller) Projected(projectedCost float64) (allowed bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()

	if c.state.Suspended {
		return false, c.state.Reason
	}

	hourlySum := c.windowSum(now.Add(-time.Hour), now)
	dailySum := c.windowSum(startOfUTCDay(now), now)

	if hourlySum+projectedCost > c.caps.HourlyUSD {
		reason = suspendReason("hourly", hourlySum, projectedCost, c.caps.HourlyUSD)
		c.suspend(reason, now)
		return false, reason
	}
	if dailySum+projectedCost > c.caps.DailyUSD {
		reason = suspendReason("daily", dailySum, projectedCost, c.caps.DailyUSD)
		c.suspend(reason, now)
		return false, reason
	}
	return true, ""
}

// Actual performs the post-forward check: it records the observed cost
// event unconditionally, then re-evaluates both windows and suspends if
// the recorded actuals alone cross either cap.
func (c *Controller) Actual(event CostEvent) (allowed bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	if event.Timestamp.IsZero() {
		event.Timestamp = now
	}
	c.events = append(c.events, event)

	if c.state.Suspended {
		return false, c.state.Reason
	}

	hourlySum := c.windowSum(now.Add(-time.Hour), now)
	dailySum := c.windowSum(startOfUTCDay(now), now)

	if hourlySum > c.caps.HourlyUSD {
		reason = suspendReason("hourly", hourlySum, 0, c.caps.HourlyUSD)
		c.suspend(reason, now)
		return false, reason
	}
	if dailySum > c.caps.DailyUSD {
		reason = suspendReason("daily", dailySum, 0, c.caps.DailyUSD)
		c.suspend(reason, now)
		return false, reason
	}
	return true, ""
}

// Resume clears suspension. Only a human-initiated call with an actor
// identity may do this — the caller is responsible for authenticating
// actor before calling Resume; Controller itself just records who cleared
// it and refuses to clear an already-clear state silently changing actor
// attribution.
func (c *Controller) Resume(actor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Suspended {
		return errors.New("budget: not currently suspended")
	}
	now := c.clock()
	c.state.Suspended = false
	c.state.ResumedAt = &now
	c.state.ResumedBy = actor
	c.state.UpdatedAt = now
	return nil
}

// Snapshot returns a copy of the current suspend state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) suspend(reason string, now time.Time) {
	c.state.Suspended = true
	c.state.Reason = reason
	c.state.TriggeredAt = &now
	c.state.UpdatedAt = now
}

func (c *Controller) windowSum(since, until time.Time) float64 {
	var sum float64
	for _, e := range c.events {
		if !e.Timestamp.Before(since) && !e.Timestamp.After(until) {
			sum += e.USDCost
		}
	}
	return sum
}

func startOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func suspendReason(window string, sum, projection, capUSD float64) string {
	return fmt.Sprintf("%s budget suspended: %.2f > %.2f", window, sum+projection, capUSD)
}
