// internal/swap/burn.go
package swap

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/pump-sniper/internal/chain"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"go.uber.org/zap"
)

// SPL token program instruction indices.
const (
	splInstructionBurn         = 8
	splInstructionCloseAccount = 9
)

// Burner disposes of unsellable remainders: burn the tokens, close the
// account, reclaim the rent. A burn fill reports OutAmount zero and
// counts as a successful exit.
type Burner struct {
	client *chain.Client
	wallet *wallet.Wallet
	logger *zap.Logger
}

// NewBurner creates the burn-and-close fallback.
func NewBurner(client *chain.Client, w *wallet.Wallet, logger *zap.Logger) *Burner {
	return &Burner{
		client: client,
		wallet: w,
		logger: logger.Named("burner"),
	}
}

// BurnAndClose burns the full raw amount and closes the token account.
func (b *Burner) BurnAndClose(ctx context.Context, req Request) (*Fill, error) {
	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %s: %w", req.Mint, err)
	}
	ata, err := b.wallet.ATA(mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token account: %w", err)
	}

	owner := b.wallet.PublicKey()
	instructions := make([]solana.Instruction, 0, 2)

	if amountRaw := uint64(req.AmountRaw); amountRaw > 0 {
		data := make([]byte, 0, 9)
		data = append(data, splInstructionBurn)
		data = binary.LittleEndian.AppendUint64(data, amountRaw)

		instructions = append(instructions, solana.NewInstruction(
			solana.TokenProgramID,
			[]*solana.AccountMeta{
				{PublicKey: ata, IsSigner: false, IsWritable: true},
				{PublicKey: mint, IsSigner: false, IsWritable: true},
				{PublicKey: owner, IsSigner: true, IsWritable: false},
			},
			data,
		))
	}

	// Closing returns the account rent to the wallet.
	instructions = append(instructions, solana.NewInstruction(
		solana.TokenProgramID,
		[]*solana.AccountMeta{
			{PublicKey: ata, IsSigner: false, IsWritable: true},
			{PublicKey: owner, IsSigner: false, IsWritable: true},
			{PublicKey: owner, IsSigner: true, IsWritable: false},
		},
		[]byte{splInstructionCloseAccount},
	))

	blockhash, err := b.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(instructions, blockhash,
		solana.TransactionPayer(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to build burn transaction: %w", err)
	}
	if err := b.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign burn transaction: %w", err)
	}

	sig, err := b.client.SendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to send burn transaction: %w", err)
	}
	if err := b.client.ConfirmTransaction(ctx, sig); err != nil {
		return nil, fmt.Errorf("burn transaction not confirmed: %w", err)
	}

	b.logger.Info("🔥 Burned and closed token account",
		zap.String("mint", req.Mint),
		zap.Float64("amount_raw", req.AmountRaw),
		zap.String("tx", sig.String()))

	return &Fill{
		TxHash:    sig.String(),
		Venue:     "Burn",
		PriceUSD:  req.PriceHintUSD,
		InAmount:  req.AmountRaw,
		OutAmount: 0,
		Burned:    true,
	}, nil
}
