// internal/position/decision_test.go
package position

import (
	"testing"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRules = []settings.SaleRule{
	{SellPercent: 10, RevenuePercent: 5},
	{SellPercent: 20, RevenuePercent: 10},
	{SellPercent: 30, RevenuePercent: 30},
	{SellPercent: 40, RevenuePercent: 50},
}

func testPolicy() settings.SellPolicy {
	return settings.SellPolicy{
		SaleRules:       testRules,
		LossExitPercent: 30,
		Stagnation:      settings.StagnationRule{PercentValue: 10, DurationSec: 30},
	}
}

func newTestPosition(investedPrice, amountRaw float64, createdAt time.Time) Position {
	return Position{
		Mint:              "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		InvestedPriceUSD:  investedPrice,
		InvestedAmountRaw: amountRaw,
		InvestedUSD:       investedPrice * amountRaw,
		CurrentAmountRaw:  amountRaw,
		CreatedAt:         createdAt,
		Window: StagnationWindow{
			ReferencePrice: investedPrice,
			Threshold:      0.10,
			Duration:       30 * time.Second,
			StartedAt:      createdAt,
		},
	}
}

func TestDecideStagedSellAccumulatesConsecutiveRules(t *testing.T) {
	// Rules sell 10/20/30/40 percent at +5/+10/+30/+50 growth.
	policy := settings.SellPolicy{
		SaleRules: []settings.SaleRule{
			{SellPercent: 10, RevenuePercent: 10},
			{SellPercent: 20, RevenuePercent: 20},
			{SellPercent: 30, RevenuePercent: 30},
			{SellPercent: 40, RevenuePercent: 40},
		},
		LossExitPercent: 30,
		Stagnation:      settings.StagnationRule{PercentValue: 10, DurationSec: 30},
	}

	now := time.Now()
	pos := newTestPosition(1.0, 2000, now)
	pos.Window.StartedAt = now // window not yet expired

	// +10% matches only the first rule: 10% of the invested amount.
	d := Decide(pos, 1.10, policy, now)
	require.Equal(t, ActionStep, d.Kind)
	assert.Equal(t, 0, d.Step)
	assert.InDelta(t, 200.0, d.AmountRaw, 1e-9)

	// After step 0, a jump to +40% matches rules 1 through 3 at once:
	// 20+30+40 = 90% of invested, and since rule 3 is the last rule and
	// the percentages sum to 100, the whole remaining balance goes.
	pos.SellingStep = 1
	pos.CurrentAmountRaw = 1800
	d = Decide(pos, 1.40, policy, now)
	require.Equal(t, ActionStep, d.Kind)
	assert.Equal(t, 3, d.Step)
	assert.InDelta(t, 1800.0, d.AmountRaw, 1e-9)
}

func TestDecideStagedSellPartialAccumulation(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(1.0, 1000, now)

	// +12% growth matches rules 0 and 1 (5% and 10% thresholds) but not
	// rule 2 (30%): sell 10+20 = 30% of invested.
	d := Decide(pos, 1.12, testPolicy(), now)
	require.Equal(t, ActionStep, d.Kind)
	assert.Equal(t, 1, d.Step)
	assert.InDelta(t, 300.0, d.AmountRaw, 1e-9)
}

func TestDecideNoActionBelowFirstThreshold(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(1.0, 1000, now)

	d := Decide(pos, 1.02, testPolicy(), now)
	assert.Equal(t, ActionNone, d.Kind)
	assert.False(t, d.Sells())
}

func TestDecideStopLoss(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(1.0, 1000, now)

	// -35% breaches the 30% loss exit.
	d := Decide(pos, 0.65, testPolicy(), now)
	require.Equal(t, ActionStopLoss, d.Kind)
	assert.True(t, d.Terminal())
	assert.InDelta(t, 1000.0, d.AmountRaw, 1e-9)
	assert.Equal(t, pos.SellingStep, d.Step)

	// -30% exactly does not: the loss must exceed the limit.
	d = Decide(pos, 0.70, testPolicy(), now)
	assert.Equal(t, ActionNone, d.Kind)
}

func TestDecideStagnationFires(t *testing.T) {
	start := time.Now()
	pos := newTestPosition(1.0, 1000, start)

	// Window expired with only +5% growth against a +10% requirement.
	now := start.Add(31 * time.Second)
	d := Decide(pos, 1.05, testPolicy(), now)
	require.Equal(t, ActionStagnation, d.Kind)
	assert.True(t, d.Terminal())
	assert.InDelta(t, 1000.0, d.AmountRaw, 1e-9)
}

func TestDecideStagnationResetAndContinue(t *testing.T) {
	start := time.Now()
	pos := newTestPosition(1.0, 1000, start)

	// Window expired with +12% growth: it resets and evaluation carries
	// on to the staged rules in the same pass.
	now := start.Add(31 * time.Second)
	d := Decide(pos, 1.12, testPolicy(), now)
	require.Equal(t, ActionStep, d.Kind)
	assert.True(t, d.ResetWindow)
	assert.InDelta(t, 1.12, d.NewReference, 1e-9)
	assert.Equal(t, 1, d.Step)
}

func TestDecideStagnationZeroReferenceResets(t *testing.T) {
	start := time.Now()
	pos := newTestPosition(1.0, 1000, start)
	pos.Window.ReferencePrice = 0

	now := start.Add(31 * time.Second)
	d := Decide(pos, 1.50, testPolicy(), now)
	assert.Equal(t, ActionNone, d.Kind)
	assert.True(t, d.ResetWindow)
	assert.InDelta(t, 1.50, d.NewReference, 1e-9)
}

func TestDecideLowMarketCapForceExit(t *testing.T) {
	start := time.Now().Add(-49 * time.Hour)
	pos := newTestPosition(0.00001, 1000, start)
	pos.Window.Duration = 0 // disable the window for this case

	// Price implies a market cap of $5,000, held for over 48 hours.
	d := Decide(pos, 0.000005, testPolicy(), time.Now())
	require.Equal(t, ActionForceExit, d.Kind)
	assert.Equal(t, ReasonLowMarketCap, d.Reason)
	assert.True(t, d.Terminal())
}

func TestDecideLowMarketCapNeedsBothConditions(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(0.00001, 1000, now.Add(-time.Hour))
	pos.Window.Duration = 0

	// Low market cap but the position is only an hour old.
	d := Decide(pos, 0.000005, testPolicy(), now)
	assert.NotEqual(t, ActionForceExit, d.Kind)

	// Old position but healthy market cap.
	pos = newTestPosition(0.00001, 1000, now.Add(-49*time.Hour))
	pos.Window.Duration = 0
	d = Decide(pos, 0.00001, testPolicy(), now)
	assert.NotEqual(t, ActionForceExit, d.Kind)
}

func TestDecideForceExitBeatsStopLoss(t *testing.T) {
	start := time.Now().Add(-49 * time.Hour)
	pos := newTestPosition(0.0001, 1000, start)
	pos.Window.Duration = 0

	// Price dropped 95%: both the force exit and the stop loss would
	// fire. The force exit has priority.
	d := Decide(pos, 0.000005, testPolicy(), time.Now())
	assert.Equal(t, ActionForceExit, d.Kind)
}

func TestDecideZeroInvestedPriceSkipsGrowthRules(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(0, 1000, now)

	d := Decide(pos, 1.0, testPolicy(), now)
	assert.Equal(t, ActionNone, d.Kind)
}

func TestDecideIsPure(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(1.0, 1000, now)

	first := Decide(pos, 1.12, testPolicy(), now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decide(pos, 1.12, testPolicy(), now))
	}
	// The input position is untouched.
	assert.Equal(t, 0, pos.SellingStep)
	assert.InDelta(t, 1000.0, pos.CurrentAmountRaw, 1e-9)
}

func TestDecideStepBeyondRulesDoesNothing(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(1.0, 1000, now)
	pos.SellingStep = len(testRules)

	d := Decide(pos, 3.0, testPolicy(), now)
	assert.Equal(t, ActionNone, d.Kind)
}

func TestDecideClampsToCurrentBalance(t *testing.T) {
	now := time.Now()
	pos := newTestPosition(1.0, 1000, now)
	pos.SellingStep = 1
	pos.CurrentAmountRaw = 100 // less than 20% of invested

	d := Decide(pos, 1.12, testPolicy(), now)
	require.Equal(t, ActionStep, d.Kind)
	assert.InDelta(t, 100.0, d.AmountRaw, 1e-9)
}
