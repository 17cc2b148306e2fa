// internal/swap/executor.go
package swap

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	maxSwapRetries = 2
	confirmTimeout = 30 * time.Second
)

// executor tries the primary venue, falls back to the secondary for
// sells, and substitutes burn-and-close for dust.
type executor struct {
	primary   Venue
	secondary Venue
	burner    TokenBurner
	logger    *zap.Logger
}

// NewExecutor wires the venue chain. secondary and burner may be nil,
// disabling the corresponding fallback.
func NewExecutor(primary, secondary Venue, burner TokenBurner, logger *zap.Logger) Executor {
	return &executor{
		primary:   primary,
		secondary: secondary,
		burner:    burner,
		logger:    logger.Named("swap"),
	}
}

func (e *executor) Execute(ctx context.Context, req Request) (*Fill, error) {
	if req.Direction == DirectionBuy {
		return e.swapWithRetry(ctx, e.primary, req)
	}
	return e.executeSell(ctx, req)
}

func (e *executor) executeSell(ctx context.Context, req Request) (*Fill, error) {
	uiAmount := req.AmountRaw / math.Pow10(6)

	// Too small for any venue: retire via burn directly.
	if uiAmount < DustThreshold && e.burner != nil {
		e.logger.Info("🔥 Amount below dust threshold, burning",
			zap.String("mint", req.Mint),
			zap.Float64("ui_amount", uiAmount))
		return e.burner.BurnAndClose(ctx, req)
	}

	venues := e.sellVenues(req.VenueHint)

	var lastErr error
	for _, venue := range venues {
		fill, err := e.swapWithRetry(ctx, venue, req)
		if err == nil {
			return fill, nil
		}
		lastErr = err
		e.logger.Warn("Venue sell failed",
			zap.String("mint", req.Mint),
			zap.String("venue", venue.Name()),
			zap.Error(err))
	}

	// Both venues failed. Small remainders get burned so the position
	// can still retire; anything bigger surfaces the failure.
	if uiAmount < FallbackBurnThreshold && e.burner != nil {
		e.logger.Warn("🔥 Sell failed on all venues, falling back to burn",
			zap.String("mint", req.Mint),
			zap.Float64("ui_amount", uiAmount))
		return e.burner.BurnAndClose(ctx, req)
	}

	return nil, fmt.Errorf("%w for %s: %v", ErrAllVenuesFailed, req.Mint, lastErr)
}

func (e *executor) sellVenues(hint string) []Venue {
	venues := make([]Venue, 0, 2)
	if e.secondary != nil && hint == e.secondary.Name() {
		// The oracle already saw this token trading on the pool.
		venues = append(venues, e.secondary, e.primary)
		return venues
	}
	venues = append(venues, e.primary)
	if e.secondary != nil {
		venues = append(venues, e.secondary)
	}
	return venues
}

func (e *executor) swapWithRetry(ctx context.Context, venue Venue, req Request) (*Fill, error) {
	operation := func() (*Fill, error) {
		swapCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
		defer cancel()
		return venue.Swap(swapCtx, req)
	}

	fill, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxSwapRetries+1),
	)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", venue.Name(), err)
	}

	e.logger.Info("✅ Swap confirmed",
		zap.String("mint", req.Mint),
		zap.String("venue", venue.Name()),
		zap.String("direction", string(req.Direction)),
		zap.String("tx", fill.TxHash))
	return fill, nil
}
