// internal/swap/types.go
package swap

import (
	"context"
	"errors"
)

// Direction of a swap.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Thresholds for the dust protocol, in UI token amounts.
const (
	// DustThreshold: balances below this are never worth a swap; they
	// go straight to burn-and-close.
	DustThreshold = 0.0001

	// FallbackBurnThreshold: when both venues fail a sell below this
	// size, burn instead of erroring so the position can retire.
	FallbackBurnThreshold = 0.001
)

// ErrAllVenuesFailed is returned when every execution path was tried.
var ErrAllVenuesFailed = errors.New("all venues failed")

// Request describes one swap to execute.
type Request struct {
	Mint      string
	Direction Direction

	// AmountRaw is the token amount in base units for sells; for buys
	// AmountSol is the SOL to spend.
	AmountRaw float64
	AmountSol float64

	SlippageBps float64
	TipSol      float64

	// PriceHintUSD is the evaluation-time price, recorded on the fill.
	PriceHintUSD float64

	// VenueHint optionally pins the first venue to try.
	VenueHint string
}

// Fill is a confirmed swap result. A burn fill has OutAmount zero by
// definition; it is a success, not a failed sell.
type Fill struct {
	TxHash    string
	Venue     string
	PriceUSD  float64
	InAmount  float64
	OutAmount float64
	FeeUSD    float64
	Burned    bool
}

// Executor executes swaps with venue fallback and the dust protocol.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Fill, error)
}

// Venue is a single execution path (bonding curve or liquidity pool).
type Venue interface {
	Name() string
	Swap(ctx context.Context, req Request) (*Fill, error)
}

// TokenBurner disposes of remainders no venue will take.
type TokenBurner interface {
	BurnAndClose(ctx context.Context, req Request) (*Fill, error)
}
