// internal/swap/pumpfun_venue_test.go
package swap

import (
	"encoding/hex"
	"testing"

	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/stretchr/testify/assert"
)

func TestAnchorDiscriminators(t *testing.T) {
	assert.Equal(t, "66063d1201daebea", hex.EncodeToString(buyDiscriminator))
	assert.Equal(t, "33e685a4017f83ad", hex.EncodeToString(sellDiscriminator))
}

func TestCurveTokensOut(t *testing.T) {
	state := &oracle.CurveState{
		VirtualSolReserves:   30_000_000_000,  // 30 SOL
		VirtualTokenReserves: 1_000_000_000_000, // 1M tokens raw
	}

	out := curveTokensOut(state, 1_000_000_000) // 1 SOL in
	// Constant product: 1M - (30 * 1M / 31) tokens out.
	assert.InEpsilon(t, uint64(32_258_064_516), out, 0.001)

	// More SOL in always yields more tokens, less than proportionally.
	bigger := curveTokensOut(state, 2_000_000_000)
	assert.Greater(t, bigger, out)
	assert.Less(t, bigger, 2*out+1)
}

func TestCurveSolOut(t *testing.T) {
	state := &oracle.CurveState{
		VirtualSolReserves:   30_000_000_000,
		VirtualTokenReserves: 1_000_000_000_000,
	}

	out := curveSolOut(state, 32_258_064_516)
	// Selling what a 1 SOL buy would have bought returns just under 1 SOL.
	assert.Greater(t, out, uint64(900_000_000))
	assert.Less(t, out, uint64(1_000_000_000))
}

func TestCurveMathZeroReserves(t *testing.T) {
	state := &oracle.CurveState{}
	assert.Equal(t, uint64(0), curveTokensOut(state, 1_000_000_000))
	assert.Equal(t, uint64(0), curveSolOut(state, 1_000_000))
}

func TestSlippageBounds(t *testing.T) {
	// 100 bps = 1%.
	assert.Equal(t, uint64(990_000), applySlippageDown(1_000_000, 100))
	assert.Equal(t, uint64(1_010_000), maxSolWithSlippage(1_000_000, 100))
	assert.Equal(t, uint64(1_000_000), applySlippageDown(1_000_000, 0))
}
