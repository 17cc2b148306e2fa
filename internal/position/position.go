// internal/position/position.go
package position

import (
	"math"
	"time"
)

const (
	// TokenDecimals is the base-unit precision of launchpad tokens.
	TokenDecimals = 6

	// TotalSupply is the fixed UI supply every launchpad token mints.
	TotalSupply = 1_000_000_000

	// MaxSellingStep is the step count after which a position is fully
	// liquidated through staged sells.
	MaxSellingStep = 4

	// Fixed safety limits for the low-market-cap force exit. Not
	// user-tunable.
	LowMCThresholdUSD = 7000
	LowMCMaxAge       = 48 * time.Hour
)

// StagnationWindow is a rolling growth-requirement window. It is reset
// whenever the growth requirement is met or when it fires.
type StagnationWindow struct {
	ReferencePrice float64
	Threshold      float64 // required growth as a fraction
	Duration       time.Duration
	StartedAt      time.Time
}

// Expired reports whether the window has run its full duration.
func (w StagnationWindow) Expired(now time.Time) bool {
	return w.Duration > 0 && now.Sub(w.StartedAt) >= w.Duration
}

// Position is the in-memory state of one held token.
type Position struct {
	Mint        string
	TokenName   string
	TokenSymbol string
	TokenImage  string

	// Invested fields are set at the seeding buy and immutable after.
	InvestedPriceUSD  float64
	InvestedAmountRaw float64
	InvestedUSD       float64

	CurrentAmountRaw  float64
	SellingStep       int
	RealizedProfitUSD float64
	CreatedAt         time.Time

	Window StagnationWindow
}

// MarketCapUSD derives the market cap at the given price.
func MarketCapUSD(priceUSD float64) float64 {
	return priceUSD * TotalSupply
}

// GrowthPercent is price growth relative to the invested price, in
// percent. Callers must guard InvestedPriceUSD > 0.
func (p *Position) GrowthPercent(priceUSD float64) float64 {
	return (priceUSD/p.InvestedPriceUSD - 1) * 100
}

// roundRaw clamps floating noise on raw amounts to the token's decimal
// precision.
func roundRaw(v float64) float64 {
	scale := math.Pow10(TokenDecimals)
	return math.Round(v*scale) / scale
}
