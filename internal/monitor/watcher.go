// internal/monitor/watcher.go
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"go.uber.org/zap"
)

const watchReconnectDelay = 2 * time.Second

// AccountWatcher streams venue account changes for tracked tokens. The
// monitor watches a token when it enters the store and unwatches it on
// retirement.
type AccountWatcher interface {
	Watch(mint string, onChange func())
	Unwatch(mint string)
	Close()
}

// CurveWatcher subscribes to each tracked token's bonding-curve account
// over WebSocket and invokes the change callback on every notification.
// One subscription per token, reconnecting until Unwatch or Close.
type CurveWatcher struct {
	wsURL  string
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCurveWatcher creates the account-change source.
func NewCurveWatcher(wsURL string, logger *zap.Logger) *CurveWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &CurveWatcher{
		wsURL:   wsURL,
		logger:  logger.Named("watcher"),
		ctx:     ctx,
		cancel:  cancel,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Watch starts a bonding-curve subscription for the mint. Watching an
// already watched mint is a no-op.
func (w *CurveWatcher) Watch(mint string, onChange func()) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		w.logger.Warn("Cannot watch invalid mint",
			zap.String("mint", mint), zap.Error(err))
		return
	}
	curve, err := oracle.CurveAddress(mintKey)
	if err != nil {
		w.logger.Warn("Cannot derive curve address",
			zap.String("mint", mint), zap.Error(err))
		return
	}

	w.mu.Lock()
	if _, ok := w.cancels[mint]; ok {
		w.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(w.ctx)
	w.cancels[mint] = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.stream(ctx, mint, curve, onChange)
	}()
}

// Unwatch tears down the mint's subscription.
func (w *CurveWatcher) Unwatch(mint string) {
	w.mu.Lock()
	cancel, ok := w.cancels[mint]
	if ok {
		delete(w.cancels, mint)
	}
	w.mu.Unlock()

	if ok {
		cancel()
	}
}

// Close tears down every subscription and waits for the streams to exit.
func (w *CurveWatcher) Close() {
	w.cancel()
	w.wg.Wait()
}

func (w *CurveWatcher) stream(ctx context.Context, mint string, account solana.PublicKey, onChange func()) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.subscribeAndPump(ctx, account, onChange); err != nil && ctx.Err() == nil {
			w.logger.Debug("Account subscription dropped, reconnecting",
				zap.String("mint", mint),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(watchReconnectDelay):
			}
		}
	}
}

func (w *CurveWatcher) subscribeAndPump(ctx context.Context, account solana.PublicKey, onChange func()) error {
	client, err := ws.Connect(ctx, w.wsURL)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.AccountSubscribe(account, rpc.CommitmentProcessed)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		if _, err := sub.Recv(ctx); err != nil {
			return err
		}
		onChange()
	}
}
