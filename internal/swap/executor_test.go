// internal/swap/executor_test.go
package swap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeVenue struct {
	name  string
	fill  *Fill
	err   error
	calls atomic.Int32
}

func (v *fakeVenue) Name() string { return v.name }

func (v *fakeVenue) Swap(_ context.Context, req Request) (*Fill, error) {
	v.calls.Add(1)
	if v.err != nil {
		return nil, v.err
	}
	fill := *v.fill
	fill.PriceUSD = req.PriceHintUSD
	return &fill, nil
}

type fakeBurner struct {
	calls atomic.Int32
	err   error
}

func (b *fakeBurner) BurnAndClose(_ context.Context, req Request) (*Fill, error) {
	b.calls.Add(1)
	if b.err != nil {
		return nil, b.err
	}
	return &Fill{TxHash: "burn-tx", Venue: "Burn", InAmount: req.AmountRaw, Burned: true}, nil
}

func sellRequest(amountRaw float64) Request {
	return Request{
		Mint:         "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Direction:    DirectionSell,
		AmountRaw:    amountRaw,
		SlippageBps:  100,
		PriceHintUSD: 0.00001,
	}
}

func TestExecuteBuyUsesPrimaryOnly(t *testing.T) {
	primary := &fakeVenue{name: "Pumpfun", fill: &Fill{TxHash: "tx1", Venue: "Pumpfun"}}
	secondary := &fakeVenue{name: "Raydium", fill: &Fill{TxHash: "tx2", Venue: "Raydium"}}
	exec := NewExecutor(primary, secondary, &fakeBurner{}, zap.NewNop())

	fill, err := exec.Execute(context.Background(), Request{
		Mint:      "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Direction: DirectionBuy,
		AmountSol: 0.01,
	})
	require.NoError(t, err)
	assert.Equal(t, "tx1", fill.TxHash)
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestExecuteSellFallsBackToSecondary(t *testing.T) {
	primary := &fakeVenue{name: "Pumpfun", err: errors.New("curve migrated")}
	secondary := &fakeVenue{name: "Raydium", fill: &Fill{TxHash: "tx2", Venue: "Raydium"}}
	exec := NewExecutor(primary, secondary, &fakeBurner{}, zap.NewNop())

	fill, err := exec.Execute(context.Background(), sellRequest(5_000_000))
	require.NoError(t, err)
	assert.Equal(t, "Raydium", fill.Venue)
	assert.Positive(t, primary.calls.Load())
}

func TestExecuteSellVenueHintReordersVenues(t *testing.T) {
	primary := &fakeVenue{name: "Pumpfun", fill: &Fill{TxHash: "tx1", Venue: "Pumpfun"}}
	secondary := &fakeVenue{name: "Raydium", fill: &Fill{TxHash: "tx2", Venue: "Raydium"}}
	exec := NewExecutor(primary, secondary, &fakeBurner{}, zap.NewNop())

	req := sellRequest(5_000_000)
	req.VenueHint = "Raydium"

	fill, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Raydium", fill.Venue)
	assert.Equal(t, int32(0), primary.calls.Load())
}

func TestExecuteSellDustGoesStraightToBurn(t *testing.T) {
	primary := &fakeVenue{name: "Pumpfun", fill: &Fill{TxHash: "tx1"}}
	burner := &fakeBurner{}
	exec := NewExecutor(primary, nil, burner, zap.NewNop())

	// 50 raw units is 0.00005 UI, under the dust threshold.
	fill, err := exec.Execute(context.Background(), sellRequest(50))
	require.NoError(t, err)
	assert.True(t, fill.Burned)
	assert.Equal(t, 0.0, fill.OutAmount)
	assert.Equal(t, int32(0), primary.calls.Load())
	assert.Equal(t, int32(1), burner.calls.Load())
}

func TestExecuteSellBurnsSmallRemainderAfterVenueFailures(t *testing.T) {
	primary := &fakeVenue{name: "Pumpfun", err: errors.New("no route")}
	secondary := &fakeVenue{name: "Raydium", err: errors.New("no pool")}
	burner := &fakeBurner{}
	exec := NewExecutor(primary, secondary, burner, zap.NewNop())

	// 500 raw units is 0.0005 UI: above dust, below the fallback burn
	// threshold.
	fill, err := exec.Execute(context.Background(), sellRequest(500))
	require.NoError(t, err)
	assert.True(t, fill.Burned)
	assert.Equal(t, int32(1), burner.calls.Load())
}

func TestExecuteSellLargeAmountFailsInsteadOfBurning(t *testing.T) {
	primary := &fakeVenue{name: "Pumpfun", err: errors.New("no route")}
	secondary := &fakeVenue{name: "Raydium", err: errors.New("no pool")}
	burner := &fakeBurner{}
	exec := NewExecutor(primary, secondary, burner, zap.NewNop())

	_, err := exec.Execute(context.Background(), sellRequest(5_000_000))
	assert.ErrorIs(t, err, ErrAllVenuesFailed)
	assert.Equal(t, int32(0), burner.calls.Load())
}

func TestExecuteSellRetriesVenue(t *testing.T) {
	primary := &fakeVenue{name: "Pumpfun", err: errors.New("blockhash expired")}
	exec := NewExecutor(primary, nil, nil, zap.NewNop())

	_, err := exec.Execute(context.Background(), sellRequest(5_000_000))
	require.Error(t, err)
	// Two retries on top of the initial attempt.
	assert.Equal(t, int32(maxSwapRetries+1), primary.calls.Load())
}
