// internal/oracle/oracle.go
package oracle

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/pump-sniper/internal/chain"
	"go.uber.org/zap"
)

// Pricing venues.
const (
	VenuePumpfun = "Pumpfun"
	VenueRaydium = "Raydium"
)

// PumpFunProgramID is the launchpad program owning bonding curves.
var PumpFunProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

const curveAccountMinLen = 8 + 8*5 + 1 // discriminator + five u64 + complete flag

// Quote is a priced token with the venue that priced it.
type Quote struct {
	PriceUSD float64
	Venue    string
}

// CurveState is the decoded bonding curve account.
type CurveState struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// PoolPricer prices tokens that have migrated off their bonding curve.
type PoolPricer interface {
	PoolPriceUSD(ctx context.Context, mint string) (float64, error)
}

// Oracle prices tokens: bonding curve first, liquidity pool once the
// token has migrated, last-known cached price on transient failure.
type Oracle struct {
	client   *chain.Client
	solPrice *SolPrice
	pools    PoolPricer
	logger   *zap.Logger

	mu        sync.RWMutex
	lastKnown map[string]Quote
}

// New creates a price oracle.
func New(client *chain.Client, solPrice *SolPrice, pools PoolPricer, logger *zap.Logger) *Oracle {
	return &Oracle{
		client:    client,
		solPrice:  solPrice,
		pools:     pools,
		logger:    logger.Named("oracle"),
		lastKnown: make(map[string]Quote),
	}
}

// CurveAddress derives the bonding curve PDA for a mint.
func CurveAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mint.Bytes()},
		PumpFunProgramID,
	)
	return addr, err
}

// CurveState fetches and decodes the bonding curve account for a mint.
func (o *Oracle) CurveState(ctx context.Context, mint string) (*CurveState, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %s: %w", mint, err)
	}
	curveAddr, err := CurveAddress(mintKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive bonding curve: %w", err)
	}

	accountInfo, err := o.client.GetAccountInfo(ctx, curveAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to get bonding curve account: %w", err)
	}
	if accountInfo == nil || accountInfo.Value == nil {
		return nil, fmt.Errorf("bonding curve account not found for %s", mint)
	}

	data := accountInfo.Value.Data.GetBinary()
	if len(data) < curveAccountMinLen {
		return nil, fmt.Errorf("insufficient bonding curve data length: %d", len(data))
	}

	// Layout: 8-byte discriminator, then five u64 LE, then a bool.
	return &CurveState{
		VirtualTokenReserves: binary.LittleEndian.Uint64(data[8:16]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(data[16:24]),
		RealTokenReserves:    binary.LittleEndian.Uint64(data[24:32]),
		RealSolReserves:      binary.LittleEndian.Uint64(data[32:40]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(data[40:48]),
		Complete:             data[48] != 0,
	}, nil
}

// curvePriceUSD computes the spot price from virtual reserves.
func (o *Oracle) curvePriceUSD(state *CurveState) float64 {
	solReserves := float64(state.VirtualSolReserves) / 1e9
	tokenReserves := float64(state.VirtualTokenReserves) / 1e6
	if tokenReserves == 0 {
		return 0
	}
	return o.solPrice.Value() * solReserves / tokenReserves
}

// GetPrice returns the current USD price for a token and the venue that
// priced it. On transient failure the last-known cached quote is
// returned instead of an error.
func (o *Oracle) GetPrice(ctx context.Context, mint string) (Quote, error) {
	state, err := o.CurveState(ctx, mint)
	if err == nil && !state.Complete && state.VirtualSolReserves > 0 && state.VirtualTokenReserves > 0 {
		if price := o.curvePriceUSD(state); price > 0 {
			quote := Quote{PriceUSD: price, Venue: VenuePumpfun}
			o.remember(mint, quote)
			return quote, nil
		}
	}

	// Migrated, zero reserves, or curve lookup failed: try the pool.
	if o.pools != nil {
		price, poolErr := o.pools.PoolPriceUSD(ctx, mint)
		if poolErr == nil && price > 0 {
			quote := Quote{PriceUSD: price, Venue: VenueRaydium}
			o.remember(mint, quote)
			return quote, nil
		}
		if poolErr != nil {
			err = poolErr
		}
	}

	if quote, ok := o.cached(mint); ok {
		o.logger.Debug("Serving cached price after lookup failure",
			zap.String("mint", mint),
			zap.Float64("price_usd", quote.PriceUSD),
			zap.Error(err))
		return quote, nil
	}

	return Quote{}, fmt.Errorf("no price available for %s: %w", mint, err)
}

// MarketCapUSD fetches the current market cap for a candidate still on
// its bonding curve.
func (o *Oracle) MarketCapUSD(ctx context.Context, mint string) (float64, error) {
	quote, err := o.GetPrice(ctx, mint)
	if err != nil {
		return 0, err
	}
	return quote.PriceUSD * 1_000_000_000, nil
}

// SolPriceUSD exposes the cached SOL/USD price for fee conversion.
func (o *Oracle) SolPriceUSD() float64 {
	return o.solPrice.Value()
}

func (o *Oracle) remember(mint string, quote Quote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastKnown[mint] = quote
}

func (o *Oracle) cached(mint string) (Quote, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	quote, ok := o.lastKnown[mint]
	return quote, ok
}

// Forget drops the cached quote for a token. Called on eviction.
func (o *Oracle) Forget(mint string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.lastKnown, mint)
}
