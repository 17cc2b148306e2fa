// internal/position/store_test.go
package position

import (
	"context"
	"testing"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMint = "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeLedger struct {
	fills []*models.Transaction
	err   error
}

func (l *fakeLedger) FillsByToken(context.Context, string) ([]*models.Transaction, error) {
	return l.fills, l.err
}

func newStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(clock, zap.NewNop()), clock
}

func seedReq() SeedRequest {
	return SeedRequest{
		Mint:           testMint,
		TokenSymbol:    "TEST",
		FillPriceUSD:   0.00001,
		FillAmountRaw:  1000,
		ReferencePrice: 0.000011,
		Stagnation:     settings.StagnationRule{PercentValue: 10, DurationSec: 30},
	}
}

func TestSeedFromFill(t *testing.T) {
	store, clock := newStore(t)

	pos, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	assert.Equal(t, 0, pos.SellingStep)
	assert.InDelta(t, 1000.0, pos.CurrentAmountRaw, 1e-9)
	assert.InDelta(t, 0.00001, pos.InvestedPriceUSD, 1e-15)
	// The window reference comes from the market, not the fill price.
	assert.InDelta(t, 0.000011, pos.Window.ReferencePrice, 1e-15)
	assert.Equal(t, clock.now, pos.CreatedAt)
	assert.True(t, store.Has(testMint))
}

func TestSeedFromFillInvestedUSDUsesUIAmount(t *testing.T) {
	store, _ := newStore(t)

	req := seedReq()
	req.FillPriceUSD = 1.0
	req.FillAmountRaw = 1_000_000 // exactly one UI token at 6 decimals

	pos, err := store.SeedFromFill(req)
	require.NoError(t, err)

	// One token at $1.00 is a $1.00 stake, not a raw-unit product.
	assert.InDelta(t, 1.0, pos.InvestedUSD, 1e-9)
}

func TestSeedFromFillRejectsDuplicate(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	_, err = store.SeedFromFill(seedReq())
	assert.ErrorIs(t, err, ErrDuplicatePosition)
	assert.Equal(t, 1, store.Len())
}

func TestApplySellFillDecrementsAndAdvances(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	require.NoError(t, store.ApplySellFill(testMint, 100, 1.5, 1))

	pos, ok := store.Get(testMint)
	require.True(t, ok)
	assert.InDelta(t, 900.0, pos.CurrentAmountRaw, 1e-9)
	assert.InDelta(t, 1.5, pos.RealizedProfitUSD, 1e-9)
	assert.Equal(t, 1, pos.SellingStep)
}

func TestApplySellFillClampsBalanceAtZero(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	require.NoError(t, store.ApplySellFill(testMint, 5000, -2.0, 1))

	pos, _ := store.Get(testMint)
	assert.Equal(t, 0.0, pos.CurrentAmountRaw)
}

func TestApplySellFillStepNeverRegresses(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	require.NoError(t, store.ApplySellFill(testMint, 100, 0, 3))
	require.NoError(t, store.ApplySellFill(testMint, 100, 0, 1))

	pos, _ := store.Get(testMint)
	assert.Equal(t, 3, pos.SellingStep)
}

func TestApplySellFillStepCapped(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	require.NoError(t, store.ApplySellFill(testMint, 100, 0, 99))

	pos, _ := store.Get(testMint)
	assert.Equal(t, MaxSellingStep, pos.SellingStep)
}

func TestApplySellFillUnknownToken(t *testing.T) {
	store, _ := newStore(t)
	err := store.ApplySellFill(testMint, 100, 0, 1)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestResetWindow(t *testing.T) {
	store, clock := newStore(t)
	_, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	later := clock.now.Add(time.Minute)
	store.ResetWindow(testMint, 0.00002, later)

	pos, _ := store.Get(testMint)
	assert.InDelta(t, 0.00002, pos.Window.ReferencePrice, 1e-15)
	assert.Equal(t, later, pos.Window.StartedAt)
}

func TestEvictIsIdempotent(t *testing.T) {
	store, _ := newStore(t)
	_, err := store.SeedFromFill(seedReq())
	require.NoError(t, err)

	store.Evict(testMint)
	assert.False(t, store.Has(testMint))

	store.Evict(testMint) // second evict is a no-op
	assert.Equal(t, 0, store.Len())
}

func TestRebuildFromLedger(t *testing.T) {
	store, _ := newStore(t)
	bought := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	ledger := &fakeLedger{fills: []*models.Transaction{
		{Mint: testMint, Swap: models.SwapBuy, PriceUSD: 0.00001, AmountRaw: 1000, TxTime: bought, TokenSymbol: "TEST"},
		{Mint: testMint, Swap: models.SwapSell, PriceUSD: 0.000012, AmountRaw: 100, ProfitUSD: 0.0002},
		{Mint: testMint, Swap: models.SwapSell, PriceUSD: 0.000013, AmountRaw: 200, ProfitUSD: 0.0006},
	}}

	pos, err := store.RebuildFromLedger(context.Background(), ledger, testMint, 700, 0.000013,
		settings.StagnationRule{PercentValue: 10, DurationSec: 30})
	require.NoError(t, err)

	// One buy plus two sells means two completed steps.
	assert.Equal(t, 2, pos.SellingStep)
	assert.InDelta(t, 700.0, pos.CurrentAmountRaw, 1e-9)
	assert.InDelta(t, 0.0008, pos.RealizedProfitUSD, 1e-9)
	assert.Equal(t, bought, pos.CreatedAt)
	assert.InDelta(t, 0.00001, pos.InvestedPriceUSD, 1e-15)
	assert.InDelta(t, 0.00001*1000/1e6, pos.InvestedUSD, 1e-18)
}

func TestRebuildFromLedgerRequiresBuyFirst(t *testing.T) {
	store, _ := newStore(t)

	ledger := &fakeLedger{fills: []*models.Transaction{
		{Mint: testMint, Swap: models.SwapSell, PriceUSD: 0.00001, AmountRaw: 100},
	}}
	_, err := store.RebuildFromLedger(context.Background(), ledger, testMint, 100, 0.00001,
		settings.StagnationRule{})
	assert.ErrorIs(t, err, ErrNoPosition)

	ledger.fills = nil
	_, err = store.RebuildFromLedger(context.Background(), ledger, testMint, 100, 0.00001,
		settings.StagnationRule{})
	assert.ErrorIs(t, err, ErrNoPosition)
}
