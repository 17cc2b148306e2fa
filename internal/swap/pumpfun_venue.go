// internal/swap/pumpfun_venue.go
package swap

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/pump-sniper/internal/chain"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"go.uber.org/zap"
)

// Known launchpad protocol addresses.
var (
	pumpFunEventAuth = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")
	pumpFunFeeWallet = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
)

// anchorDiscriminator derives the 8-byte instruction discriminator for
// a program method.
func anchorDiscriminator(method string) []byte {
	sum := sha256.Sum256([]byte("global:" + method))
	return sum[:8]
}

var (
	buyDiscriminator  = anchorDiscriminator("buy")
	sellDiscriminator = anchorDiscriminator("sell")
)

// PumpFunVenue executes swaps against the bonding curve program.
type PumpFunVenue struct {
	client *chain.Client
	oracle *oracle.Oracle
	wallet *wallet.Wallet
	logger *zap.Logger
}

// NewPumpFunVenue creates the bonding-curve venue.
func NewPumpFunVenue(client *chain.Client, priceOracle *oracle.Oracle, w *wallet.Wallet, logger *zap.Logger) *PumpFunVenue {
	return &PumpFunVenue{
		client: client,
		oracle: priceOracle,
		wallet: w,
		logger: logger.Named("pumpfun"),
	}
}

func (v *PumpFunVenue) Name() string { return oracle.VenuePumpfun }

// Swap builds, signs and confirms a bonding-curve buy or sell.
func (v *PumpFunVenue) Swap(ctx context.Context, req Request) (*Fill, error) {
	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %s: %w", req.Mint, err)
	}

	state, err := v.oracle.CurveState(ctx, req.Mint)
	if err != nil {
		return nil, fmt.Errorf("curve unavailable: %w", err)
	}
	if state.Complete {
		return nil, fmt.Errorf("token %s has migrated off its bonding curve", req.Mint)
	}

	var ix solana.Instruction
	var inAmount, outAmount float64

	switch req.Direction {
	case DirectionBuy:
		lamports := uint64(req.AmountSol * wallet.LamportsPerSol)
		tokensOut := curveTokensOut(state, lamports)
		minTokens := applySlippageDown(tokensOut, req.SlippageBps)
		ix, err = v.buildInstruction(mint, buyDiscriminator, tokensOut, maxSolWithSlippage(lamports, req.SlippageBps))
		inAmount = req.AmountSol
		outAmount = float64(minTokens)
	case DirectionSell:
		amountRaw := uint64(req.AmountRaw)
		solOut := curveSolOut(state, amountRaw)
		minSol := applySlippageDown(solOut, req.SlippageBps)
		ix, err = v.buildInstruction(mint, sellDiscriminator, amountRaw, minSol)
		inAmount = req.AmountRaw
		outAmount = float64(minSol) / wallet.LamportsPerSol
	default:
		return nil, fmt.Errorf("unknown swap direction %q", req.Direction)
	}
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		v.wallet.CreateATAIdempotentInstruction(mint),
		ix,
	}

	sig, err := v.submit(ctx, instructions)
	if err != nil {
		return nil, err
	}

	return &Fill{
		TxHash:    sig.String(),
		Venue:     v.Name(),
		PriceUSD:  req.PriceHintUSD,
		InAmount:  inAmount,
		OutAmount: outAmount,
		FeeUSD:    req.TipSol * v.oracle.SolPriceUSD(),
	}, nil
}

func (v *PumpFunVenue) buildInstruction(mint solana.PublicKey, discriminator []byte, amount, limit uint64) (solana.Instruction, error) {
	curveAddr, err := oracle.CurveAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive bonding curve: %w", err)
	}
	associatedCurve, _, err := solana.FindAssociatedTokenAddress(curveAddr, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive associated curve account: %w", err)
	}
	globalAddr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("global")},
		oracle.PumpFunProgramID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to derive global account: %w", err)
	}
	userATA, err := v.wallet.ATA(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive user token account: %w", err)
	}

	data := make([]byte, 0, 24)
	data = append(data, discriminator...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = binary.LittleEndian.AppendUint64(data, limit)

	accounts := []*solana.AccountMeta{
		{PublicKey: globalAddr, IsSigner: false, IsWritable: false},
		{PublicKey: pumpFunFeeWallet, IsSigner: false, IsWritable: true},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: curveAddr, IsSigner: false, IsWritable: true},
		{PublicKey: associatedCurve, IsSigner: false, IsWritable: true},
		{PublicKey: userATA, IsSigner: false, IsWritable: true},
		{PublicKey: v.wallet.PublicKey(), IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SysVarRentPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: pumpFunEventAuth, IsSigner: false, IsWritable: false},
		{PublicKey: oracle.PumpFunProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(oracle.PumpFunProgramID, accounts, data), nil
}

func (v *PumpFunVenue) submit(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	blockhash, err := v.client.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash,
		solana.TransactionPayer(v.wallet.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	if err := v.wallet.SignTransaction(tx); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := v.client.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	if err := v.client.ConfirmTransaction(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// curveTokensOut estimates tokens received for lamports in, constant
// product over virtual reserves.
func curveTokensOut(state *oracle.CurveState, lamports uint64) uint64 {
	vSol := float64(state.VirtualSolReserves)
	vTok := float64(state.VirtualTokenReserves)
	if vSol == 0 || vTok == 0 {
		return 0
	}
	k := vSol * vTok
	newSol := vSol + float64(lamports)
	newTok := k / newSol
	return uint64(vTok - newTok)
}

// curveSolOut estimates lamports received for tokens in.
func curveSolOut(state *oracle.CurveState, amountRaw uint64) uint64 {
	vSol := float64(state.VirtualSolReserves)
	vTok := float64(state.VirtualTokenReserves)
	if vSol == 0 || vTok == 0 {
		return 0
	}
	k := vSol * vTok
	newTok := vTok + float64(amountRaw)
	newSol := k / newTok
	return uint64(vSol - newSol)
}

func applySlippageDown(amount uint64, slippageBps float64) uint64 {
	return uint64(float64(amount) * (1 - slippageBps/10000))
}

func maxSolWithSlippage(lamports uint64, slippageBps float64) uint64 {
	return uint64(math.Ceil(float64(lamports) * (1 + slippageBps/10000)))
}
