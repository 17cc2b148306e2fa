// internal/scanner/listener.go
package scanner

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/rovshanmuradov/pump-sniper/internal/chain"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"go.uber.org/zap"
)

const (
	reconnectDelay = 2 * time.Second
	txFetchRetries = 3
)

var (
	mintLogPattern   = regexp.MustCompile(`mint[:\s]+([1-9A-HJ-NP-Za-km-z]{32,44})`)
	wrappedSolMint   = solana.SolMint.String()
)

// Candidate is a freshly launched token seen on the log stream.
type Candidate struct {
	Mint       string
	Creator    string
	Signature  string
	DetectedAt time.Time
}

// Listener subscribes to launchpad program logs over WebSocket and emits
// create events as candidates. The subscription reconnects forever until
// the context is cancelled.
type Listener struct {
	wsURL  string
	client *chain.Client
	logger *zap.Logger
}

// NewListener creates the token event source.
func NewListener(wsURL string, client *chain.Client, logger *zap.Logger) *Listener {
	return &Listener{
		wsURL:  wsURL,
		client: client,
		logger: logger.Named("listener"),
	}
}

// Run streams candidates into out until ctx is cancelled.
func (l *Listener) Run(ctx context.Context, out chan<- Candidate) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := l.subscribeAndListen(ctx, out); err != nil && ctx.Err() == nil {
			l.logger.Warn("Log subscription dropped, reconnecting",
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}
}

func (l *Listener) subscribeAndListen(ctx context.Context, out chan<- Candidate) error {
	wsClient, err := ws.Connect(ctx, l.wsURL)
	if err != nil {
		return err
	}
	defer wsClient.Close()

	sub, err := wsClient.LogsSubscribeMentions(oracle.PumpFunProgramID, rpc.CommitmentProcessed)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	l.logger.Info("📡 Subscribed to launchpad logs",
		zap.String("program", oracle.PumpFunProgramID.String()))

	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if msg.Value.Err != nil {
			continue
		}
		if !strings.Contains(strings.Join(msg.Value.Logs, " "), "Create") {
			continue
		}

		sig := msg.Value.Signature
		detected := time.Now().UTC()
		go l.resolveCandidate(ctx, sig, detected, out)
	}
}

// resolveCandidate fetches the create transaction and extracts the mint.
// Runs off the receive loop so a slow RPC never stalls the stream.
func (l *Listener) resolveCandidate(ctx context.Context, sig solana.Signature, detected time.Time, out chan<- Candidate) {
	var tx *rpc.GetTransactionResult
	var err error
	for i := 0; i < txFetchRetries; i++ {
		tx, err = l.client.GetTransaction(ctx, sig)
		if err == nil && tx != nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	if err != nil || tx == nil {
		return
	}

	mint := extractMint(tx)
	if mint == "" {
		return
	}

	candidate := Candidate{
		Mint:       mint,
		Creator:    extractCreator(tx),
		Signature:  sig.String(),
		DetectedAt: detected,
	}

	select {
	case out <- candidate:
	case <-ctx.Done():
	default:
		l.logger.Warn("Candidate channel full, dropping token",
			zap.String("mint", mint))
	}
}

// extractMint pulls the new token's mint from the create transaction,
// first from the program logs, then from the token balance deltas.
func extractMint(tx *rpc.GetTransactionResult) string {
	if tx.Meta == nil {
		return ""
	}

	for _, logMsg := range tx.Meta.LogMessages {
		if !strings.Contains(logMsg, "Create") {
			continue
		}
		if match := mintLogPattern.FindStringSubmatch(logMsg); len(match) > 1 {
			return strings.TrimSpace(match[1])
		}
	}

	for _, bal := range tx.Meta.PostTokenBalances {
		if mint := bal.Mint.String(); mint != "" && mint != wrappedSolMint {
			return mint
		}
	}
	return ""
}

// extractCreator returns the fee payer, which for launchpad creates is
// the token's dev wallet.
func extractCreator(tx *rpc.GetTransactionResult) string {
	if tx.Transaction == nil {
		return ""
	}
	decoded, err := tx.Transaction.GetTransaction()
	if err != nil || decoded == nil || len(decoded.Message.AccountKeys) == 0 {
		return ""
	}
	return decoded.Message.AccountKeys[0].String()
}
