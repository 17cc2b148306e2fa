// internal/position/decision.go
package position

import (
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/settings"
)

// ActionKind is the verdict of one decision pass.
type ActionKind string

const (
	ActionNone       ActionKind = "none"
	ActionStagnation ActionKind = "stagnation"
	ActionForceExit  ActionKind = "force_exit"
	ActionStopLoss   ActionKind = "stop_loss"
	ActionStep       ActionKind = "step"
)

// Force-exit reasons.
const (
	ReasonLowMarketCap = "lowMarketCap"
	ReasonAgeLimit     = "ageLimit"
)

// Decision is the outcome of a single evaluation. Staged sells carry the
// step index the position should advance past; terminal kinds
// (stagnation, force exit, stop loss) always sell the full remaining
// balance and do not advance the step.
type Decision struct {
	Kind      ActionKind
	Step      int
	AmountRaw float64
	Reason    string

	// ResetWindow asks the caller to restart the stagnation window at
	// NewReference. Decide never mutates the position itself.
	ResetWindow  bool
	NewReference float64
}

// Terminal reports whether the decision liquidates the whole position.
func (d Decision) Terminal() bool {
	switch d.Kind {
	case ActionStagnation, ActionForceExit, ActionStopLoss:
		return true
	}
	return false
}

// Sells reports whether the decision requires an executor call.
func (d Decision) Sells() bool {
	return d.Kind != ActionNone
}

// Decide evaluates the sell policy for a position at the given price.
// Pure: identical inputs always produce the same Decision.
//
// Priority order is strict, first match wins:
//  1. stagnation window
//  2. low-market-cap force exit
//  3. stop loss
//  4. staged profit-take
//
// A stagnation window that expired with sufficient growth resets (via
// the ResetWindow flag) and evaluation continues in the same pass.
// Callers must filter non-positive prices before calling.
func Decide(pos Position, priceUSD float64, policy settings.SellPolicy, now time.Time) Decision {
	d := Decision{Kind: ActionNone}

	if pos.Window.Expired(now) {
		if pos.Window.ReferencePrice <= 0 {
			// Data fault: restart the window, never sell on it.
			d.ResetWindow = true
			d.NewReference = priceUSD
			return d
		}
		growth := (priceUSD - pos.Window.ReferencePrice) / pos.Window.ReferencePrice
		if growth < pos.Window.Threshold {
			d.Kind = ActionStagnation
			d.AmountRaw = pos.CurrentAmountRaw
			d.Step = pos.SellingStep
			return d
		}
		d.ResetWindow = true
		d.NewReference = priceUSD
	}

	if MarketCapUSD(priceUSD) < LowMCThresholdUSD && now.Sub(pos.CreatedAt) > LowMCMaxAge {
		d.Kind = ActionForceExit
		d.AmountRaw = pos.CurrentAmountRaw
		d.Step = pos.SellingStep
		d.Reason = ReasonLowMarketCap
		return d
	}

	if pos.InvestedPriceUSD <= 0 {
		// Cannot evaluate growth-based rules.
		return d
	}

	growthPercent := pos.GrowthPercent(priceUSD)

	if growthPercent < 0 && -growthPercent > policy.LossExitPercent {
		d.Kind = ActionStopLoss
		d.AmountRaw = pos.CurrentAmountRaw
		d.Step = pos.SellingStep
		return d
	}

	if step, amount, ok := stagedSellAmount(pos, growthPercent, policy.SaleRules); ok {
		d.Kind = ActionStep
		d.Step = step
		d.AmountRaw = amount
		return d
	}

	return d
}

// stagedSellAmount walks the sale rules from the position's current step
// and accumulates every consecutive rule whose growth threshold is met.
// When the walk reaches the final rule and the configured percentages
// sum to 100, the full remaining balance is sold instead of a computed
// fraction, so the liquidation leaves no rounding dust.
func stagedSellAmount(pos Position, growthPercent float64, rules []settings.SaleRule) (int, float64, bool) {
	if pos.SellingStep >= len(rules) || pos.CurrentAmountRaw <= 0 {
		return 0, 0, false
	}

	totalPercent := 0.0
	for _, r := range rules {
		totalPercent += r.SellPercent
	}

	sellPercent := 0.0
	step := -1
	for i := pos.SellingStep; i < len(rules); i++ {
		if growthPercent < rules[i].RevenuePercent {
			break
		}
		sellPercent += rules[i].SellPercent
		step = i
	}
	if step < 0 {
		return 0, 0, false
	}

	if step == len(rules)-1 && totalPercent == 100 {
		return step, pos.CurrentAmountRaw, true
	}

	amount := roundRaw(pos.InvestedAmountRaw * sellPercent / 100)
	if amount > pos.CurrentAmountRaw {
		amount = pos.CurrentAmountRaw
	}
	if amount <= 0 {
		return 0, 0, false
	}
	return step, amount, true
}
