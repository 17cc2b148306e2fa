// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/pump-sniper/internal/chain"
	"go.uber.org/zap"
)

const (
	// LamportsPerSol mirrors the chain constant.
	LamportsPerSol = 1_000_000_000

	// balanceTTL bounds how stale the cached SOL balance may be; the
	// scanner reads the balance on every candidate and must not hit RPC
	// each time.
	balanceTTL = time.Minute

	splAccountSize = 165
)

// TokenHolding is one SPL token account owned by the wallet.
type TokenHolding struct {
	Mint      string
	AmountRaw float64
}

// Wallet owns the signing keypair, an ATA cache and cached balance reads.
type Wallet struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	client     *chain.Client
	logger     *zap.Logger

	mu           sync.Mutex
	ataCache     map[string]solana.PublicKey
	cachedSol    float64
	solFetchedAt time.Time
}

// New builds a wallet from a base58-encoded private key.
func New(privateKeyBase58 string, client *chain.Client, logger *zap.Logger) (*Wallet, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKey) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKey))
	}
	return &Wallet{
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
		client:     client,
		logger:     logger.Named("wallet"),
		ataCache:   make(map[string]solana.PublicKey),
	}, nil
}

// PublicKey returns the wallet address.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.publicKey
}

// SignTransaction signs the transaction with the wallet key.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.publicKey) {
			return &w.privateKey
		}
		return nil
	})
	return err
}

// ATA returns the associated token account for a mint, cached after the
// first derivation.
func (w *Wallet) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	mintStr := mint.String()

	w.mu.Lock()
	if ata, ok := w.ataCache[mintStr]; ok {
		w.mu.Unlock()
		return ata, nil
	}
	w.mu.Unlock()

	ata, _, err := solana.FindAssociatedTokenAddress(w.publicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}

	w.mu.Lock()
	w.ataCache[mintStr] = ata
	w.mu.Unlock()
	return ata, nil
}

// CreateATAIdempotentInstruction builds the create-idempotent
// instruction for the wallet's associated token account.
func (w *Wallet) CreateATAIdempotentInstruction(mint solana.PublicKey) solana.Instruction {
	ata, _, _ := solana.FindAssociatedTokenAddress(w.publicKey, mint)

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: w.publicKey, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: w.publicKey, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.TokenProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SysVarRentPubkey, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // create idempotent
	)
}

// SolBalance returns the SOL balance, served from a cache refreshed at
// most once per minute. On refresh failure the last cached value is
// returned rather than zero.
func (w *Wallet) SolBalance(ctx context.Context) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.solFetchedAt.IsZero() && time.Since(w.solFetchedAt) < balanceTTL {
		return w.cachedSol, nil
	}

	lamports, err := w.client.GetBalance(ctx, w.publicKey)
	if err != nil {
		if !w.solFetchedAt.IsZero() {
			w.logger.Warn("Balance refresh failed, serving cached value", zap.Error(err))
			return w.cachedSol, nil
		}
		return 0, fmt.Errorf("failed to read wallet balance: %w", err)
	}

	w.cachedSol = float64(lamports) / LamportsPerSol
	w.solFetchedAt = time.Now()
	return w.cachedSol, nil
}

// InvalidateBalance drops the cached SOL balance so the next read
// reflects a recent spend.
func (w *Wallet) InvalidateBalance() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.solFetchedAt = time.Time{}
}

// TokenHoldings enumerates the wallet's SPL token accounts with a
// non-zero balance.
func (w *Wallet) TokenHoldings(ctx context.Context) ([]TokenHolding, error) {
	result, err := w.client.GetTokenAccounts(ctx, w.publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list token accounts: %w", err)
	}

	var holdings []TokenHolding
	for _, acc := range result.Value {
		data := acc.Account.Data.GetBinary()
		if len(data) < splAccountSize {
			continue
		}
		// SPL token account layout: mint [0:32], owner [32:64],
		// amount u64 LE [64:72].
		mint := solana.PublicKeyFromBytes(data[0:32])
		amount := binary.LittleEndian.Uint64(data[64:72])
		if amount == 0 {
			continue
		}
		holdings = append(holdings, TokenHolding{
			Mint:      mint.String(),
			AmountRaw: float64(amount),
		})
	}
	return holdings, nil
}

// TokenBalance returns the raw balance of the wallet's associated token
// account for a mint, zero when the account does not exist.
func (w *Wallet) TokenBalance(ctx context.Context, mint string) (float64, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %s: %w", mint, err)
	}
	ata, err := w.ATA(mintKey)
	if err != nil {
		return 0, fmt.Errorf("failed to derive token account: %w", err)
	}

	result, err := w.client.GetAccountInfo(ctx, ata)
	if err != nil || result.Value == nil {
		// A missing account is an empty balance, not an error.
		return 0, nil
	}
	data := result.Value.Data.GetBinary()
	if len(data) < splAccountSize {
		return 0, nil
	}
	amount := binary.LittleEndian.Uint64(data[64:72])
	return float64(amount), nil
}

// String returns the wallet's public key.
func (w *Wallet) String() string {
	return w.publicKey.String()
}
