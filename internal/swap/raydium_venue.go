// internal/swap/raydium_venue.go
package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/pump-sniper/internal/chain"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"go.uber.org/zap"
)

// RaydiumVenue sells tokens that migrated off their bonding curve. The
// aggregator API builds the serialized pool swap for our wallet; we
// sign it locally and submit through our own RPC.
type RaydiumVenue struct {
	baseURL string
	http    *http.Client
	client  *chain.Client
	wallet  *wallet.Wallet
	logger  *zap.Logger
}

// NewRaydiumVenue creates the pool venue backed by the market-data API.
func NewRaydiumVenue(baseURL string, client *chain.Client, w *wallet.Wallet, logger *zap.Logger) *RaydiumVenue {
	return &RaydiumVenue{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		client:  client,
		wallet:  w,
		logger:  logger.Named("raydium"),
	}
}

func (v *RaydiumVenue) Name() string { return oracle.VenueRaydium }

type swapTxRequest struct {
	Mint        string  `json:"mint"`
	Owner       string  `json:"owner"`
	Direction   string  `json:"direction"`
	AmountRaw   uint64  `json:"amountRaw"`
	SlippageBps float64 `json:"slippageBps"`
}

type swapTxResponse struct {
	Transaction string `json:"transaction"` // base64 serialized, unsigned
}

// Swap requests a serialized pool swap from the aggregator, signs it and
// confirms it on chain.
func (v *RaydiumVenue) Swap(ctx context.Context, req Request) (*Fill, error) {
	if v.baseURL == "" {
		return nil, fmt.Errorf("pool venue not configured")
	}
	if req.Direction != DirectionSell {
		return nil, fmt.Errorf("pool venue only handles sells")
	}

	tx, err := v.fetchTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	// The aggregator's blockhash may already be stale; refresh it.
	blockhash, err := v.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}
	tx.Message.RecentBlockhash = blockhash

	if err := v.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign pool swap: %w", err)
	}

	sig, err := v.client.SendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to send pool swap: %w", err)
	}
	if err := v.client.ConfirmTransaction(ctx, sig); err != nil {
		return nil, fmt.Errorf("pool swap not confirmed: %w", err)
	}

	v.logger.Info("Pool swap confirmed",
		zap.String("mint", req.Mint),
		zap.String("tx", sig.String()))

	return &Fill{
		TxHash:    sig.String(),
		Venue:     v.Name(),
		PriceUSD:  req.PriceHintUSD,
		InAmount:  req.AmountRaw,
		OutAmount: req.AmountRaw / 1e6 * req.PriceHintUSD,
		FeeUSD:    0,
	}, nil
}

func (v *RaydiumVenue) fetchTransaction(ctx context.Context, req Request) (*solana.Transaction, error) {
	payload, err := json.Marshal(swapTxRequest{
		Mint:        req.Mint,
		Owner:       v.wallet.PublicKey().String(),
		Direction:   string(req.Direction),
		AmountRaw:   uint64(req.AmountRaw),
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/swap/transaction", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("swap transaction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap transaction request: unexpected status %d", resp.StatusCode)
	}

	var body swapTxResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction response: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(body.Transaction)
	if err != nil {
		return nil, fmt.Errorf("failed to decode serialized transaction: %w", err)
	}
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse serialized transaction: %w", err)
	}
	return tx, nil
}
