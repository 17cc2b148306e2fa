// internal/position/store.go
package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"go.uber.org/zap"
)

var (
	// ErrNoPosition is returned when a token has no tracked position and
	// no buy fill exists in the ledger to rebuild one from.
	ErrNoPosition = errors.New("no position found")

	// ErrDuplicatePosition rejects a second seed for an already tracked
	// token: one active position per token at a time.
	ErrDuplicatePosition = errors.New("position already tracked")
)

// Ledger is the slice of the durable layer the store needs for
// rebuilds.
type Ledger interface {
	FillsByToken(ctx context.Context, mint string) ([]*models.Transaction, error)
}

// SeedRequest describes a fresh buy fill handed to the store.
type SeedRequest struct {
	Mint        string
	TokenName   string
	TokenSymbol string
	TokenImage  string

	FillPriceUSD  float64
	FillAmountRaw float64

	// ReferencePrice seeds the stagnation window. Fetched from the
	// market at seed time, not taken from the fill price: the fill price
	// can be stale relative to the bonding curve.
	ReferencePrice float64

	Stagnation settings.StagnationRule
	Timestamp  time.Time
}

// Store is the arena owning all per-token position state. Create and
// evict happen only here, so lifecycle is enforced in one place.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*Position
	clock     Clock
	logger    *zap.Logger
}

// NewStore creates an empty position store.
func NewStore(clock Clock, logger *zap.Logger) *Store {
	return &Store{
		positions: make(map[string]*Position),
		clock:     clock,
		logger:    logger.Named("positions"),
	}
}

// SeedFromFill creates a position from a fresh buy fill. The direct
// handoff path: callers invoke this before the fill reaches the ledger.
func (s *Store) SeedFromFill(req SeedRequest) (*Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[req.Mint]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePosition, req.Mint)
	}

	now := req.Timestamp
	if now.IsZero() {
		now = s.clock.Now()
	}

	pos := &Position{
		Mint:              req.Mint,
		TokenName:         req.TokenName,
		TokenSymbol:       req.TokenSymbol,
		TokenImage:        req.TokenImage,
		InvestedPriceUSD:  req.FillPriceUSD,
		InvestedAmountRaw: roundRaw(req.FillAmountRaw),
		InvestedUSD:       req.FillPriceUSD * req.FillAmountRaw / math.Pow10(TokenDecimals),
		CurrentAmountRaw:  roundRaw(req.FillAmountRaw),
		SellingStep:       0,
		CreatedAt:         now,
		Window:            s.newWindow(req.ReferencePrice, req.Stagnation, now),
	}
	s.positions[req.Mint] = pos

	s.logger.Info("🌱 Position seeded",
		zap.String("mint", req.Mint),
		zap.String("symbol", req.TokenSymbol),
		zap.Float64("invested_price_usd", req.FillPriceUSD),
		zap.Float64("amount_raw", pos.CurrentAmountRaw))

	snapshot := *pos
	return &snapshot, nil
}

// RebuildFromLedger reconstructs a position for a wallet balance the
// monitor found untracked. The selling step is the fill count minus one:
// the first fill is the buy, each later fill a completed step sell.
func (s *Store) RebuildFromLedger(ctx context.Context, ledger Ledger, mint string, currentAmountRaw float64, referencePrice float64, stagnation settings.StagnationRule) (*Position, error) {
	fills, err := ledger.FillsByToken(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("ledger lookup failed for %s: %w", mint, err)
	}
	if len(fills) == 0 || fills[0].Swap != models.SwapBuy {
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, mint)
	}

	buy := fills[0]
	step := len(fills) - 1
	if step > MaxSellingStep {
		step = MaxSellingStep
	}

	realized := 0.0
	for _, fill := range fills[1:] {
		realized += fill.ProfitUSD
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[mint]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePosition, mint)
	}

	now := s.clock.Now()
	pos := &Position{
		Mint:              mint,
		TokenName:         buy.TokenName,
		TokenSymbol:       buy.TokenSymbol,
		TokenImage:        buy.TokenImage,
		InvestedPriceUSD:  buy.PriceUSD,
		InvestedAmountRaw: roundRaw(buy.AmountRaw),
		InvestedUSD:       buy.PriceUSD * buy.AmountRaw / math.Pow10(TokenDecimals),
		CurrentAmountRaw:  roundRaw(currentAmountRaw),
		SellingStep:       step,
		RealizedProfitUSD: realized,
		CreatedAt:         buy.TxTime,
		Window:            s.newWindow(referencePrice, stagnation, now),
	}
	s.positions[mint] = pos

	s.logger.Info("♻️ Position rebuilt from ledger",
		zap.String("mint", mint),
		zap.Int("selling_step", step),
		zap.Float64("amount_raw", pos.CurrentAmountRaw))

	snapshot := *pos
	return &snapshot, nil
}

func (s *Store) newWindow(referencePrice float64, rule settings.StagnationRule, now time.Time) StagnationWindow {
	return StagnationWindow{
		ReferencePrice: referencePrice,
		Threshold:      rule.PercentValue / 100,
		Duration:       time.Duration(rule.DurationSec) * time.Second,
		StartedAt:      now,
	}
}

// ApplySellFill applies a confirmed sell to the position. The balance is
// decremented with a floor of zero; stepAfter advances the selling step
// for staged sells and must equal the current step for terminal exits.
// The step never moves backwards and never exceeds MaxSellingStep.
func (s *Store) ApplySellFill(mint string, soldAmountRaw, realizedDeltaUSD float64, stepAfter int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[mint]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPosition, mint)
	}

	remaining := roundRaw(pos.CurrentAmountRaw - soldAmountRaw)
	if remaining < 0 {
		remaining = 0
	}
	pos.CurrentAmountRaw = remaining
	pos.RealizedProfitUSD += realizedDeltaUSD

	if stepAfter > pos.SellingStep {
		if stepAfter > MaxSellingStep {
			stepAfter = MaxSellingStep
		}
		pos.SellingStep = stepAfter
	}

	return nil
}

// ResetWindow restarts the stagnation window at a new reference price.
func (s *Store) ResetWindow(mint string, referencePrice float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[mint]
	if !ok {
		return
	}
	pos.Window.ReferencePrice = referencePrice
	pos.Window.StartedAt = now
}

// Get returns a copy of the tracked position.
func (s *Store) Get(mint string) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[mint]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Has reports whether the token is tracked.
func (s *Store) Has(mint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[mint]
	return ok
}

// Mints returns the tracked token ids.
func (s *Store) Mints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mints := make([]string, 0, len(s.positions))
	for mint := range s.positions {
		mints = append(mints, mint)
	}
	return mints
}

// Snapshot returns copies of all tracked positions.
func (s *Store) Snapshot() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos)
	}
	return out
}

// Len returns the number of tracked positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Evict removes all state for a token. Idempotent: evicting an unknown
// token is a no-op.
func (s *Store) Evict(mint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[mint]; !ok {
		return
	}
	delete(s.positions, mint)
	s.logger.Info("🗑️ Position evicted", zap.String("mint", mint))
}
