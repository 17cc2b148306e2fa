// internal/monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/alerts"
	"github.com/rovshanmuradov/pump-sniper/internal/events"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/position"
	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"github.com/rovshanmuradov/pump-sniper/internal/swap"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// maxConcurrentEvals bounds simultaneous sell evaluations across all
	// tokens. Each evaluation can hold an RPC round trip and a swap.
	maxConcurrentEvals = 3

	// claimTTL releases a stuck claim; a healthy evaluation finishes well
	// inside it.
	claimTTL = 15 * time.Second

	// The failure cooldown outlasts the success one: a token that keeps
	// failing must not hammer the executor.
	cooldownAfterSell = 3 * time.Second
	cooldownAfterFail = 5 * time.Second

	// evalDebounce collapses bursts of triggers for the same token.
	evalDebounce = 2 * time.Second

	walletSyncInterval = time.Minute
)

// PriceSource prices tracked tokens.
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (oracle.Quote, error)
	Forget(mint string)
}

// WalletReader is the slice of the wallet the monitor reconciles
// against.
type WalletReader interface {
	TokenHoldings(ctx context.Context) ([]wallet.TokenHolding, error)
	InvalidateBalance()
}

// Monitor owns the sell side: it sweeps tracked positions, reacts to
// venue account changes, evaluates the liquidation policy per token and
// executes the resulting sells. A claim registry guarantees at most one
// in-flight evaluation per token.
type Monitor struct {
	store    *position.Store
	oracle   PriceSource
	executor swap.Executor
	settings *settings.Service
	storage  storage.Storage
	wallet   WalletReader
	watcher  AccountWatcher
	bus      *events.Bus
	alerts   *alerts.Sink
	clock    position.Clock
	logger   *zap.Logger

	sem *semaphore.Weighted

	mu        sync.Mutex
	claims    map[string]time.Time
	cooldowns map[string]time.Time
	lastEval  map[string]time.Time
	pending   map[string]*time.Timer
	watched   map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config collects the monitor's collaborators.
type Config struct {
	Store    *position.Store
	Oracle   PriceSource
	Executor swap.Executor
	Settings *settings.Service
	Storage  storage.Storage
	Wallet   WalletReader
	Watcher  AccountWatcher
	Bus      *events.Bus
	Alerts   *alerts.Sink
	Clock    position.Clock
	Logger   *zap.Logger
}

// New creates the position monitor.
func New(cfg Config) *Monitor {
	clock := cfg.Clock
	if clock == nil {
		clock = position.RealClock()
	}
	return &Monitor{
		store:     cfg.Store,
		oracle:    cfg.Oracle,
		executor:  cfg.Executor,
		settings:  cfg.Settings,
		storage:   cfg.Storage,
		wallet:    cfg.Wallet,
		watcher:   cfg.Watcher,
		bus:       cfg.Bus,
		alerts:    cfg.Alerts,
		clock:     clock,
		logger:    cfg.Logger.Named("monitor"),
		sem:       semaphore.NewWeighted(maxConcurrentEvals),
		claims:    make(map[string]time.Time),
		cooldowns: make(map[string]time.Time),
		lastEval:  make(map[string]time.Time),
		pending:   make(map[string]*time.Timer),
		watched:   make(map[string]bool),
	}
}

// Start launches the sweep and wallet-sync loops.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.sweepLoop(ctx)
	go m.walletSyncLoop(ctx)

	m.logger.Info("Position monitor started",
		zap.Int("max_concurrent", maxConcurrentEvals))
}

// Stop halts the loops, tears down account subscriptions and waits for
// in-flight evaluations.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}

	m.mu.Lock()
	for _, timer := range m.pending {
		timer.Stop()
	}
	m.pending = make(map[string]*time.Timer)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Position monitor stopped")
}

// Trigger pokes an immediate evaluation for one token, debounced against
// the sweep, and ensures its venue account is being watched. Used right
// after a buy fill and by the account-change subscriptions.
func (m *Monitor) Trigger(ctx context.Context, mint string) {
	m.watch(ctx, mint)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.evaluate(ctx, mint, false)
	}()
}

// watch subscribes to the token's venue account so balance and reserve
// changes prompt an evaluation without waiting for the sweep.
func (m *Monitor) watch(ctx context.Context, mint string) {
	if m.watcher == nil {
		return
	}

	m.mu.Lock()
	if m.watched[mint] {
		m.mu.Unlock()
		return
	}
	m.watched[mint] = true
	m.mu.Unlock()

	m.watcher.Watch(mint, func() {
		m.Trigger(ctx, mint)
	})
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		interval := m.settings.SellInterval()
		if interval <= 0 {
			interval = 2 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		m.sweep(ctx)
	}
}

// sweep dispatches one evaluation per tracked token. Evaluations run in
// their own goroutines so a slow confirmation on one token never stalls
// the rest; the semaphore inside evaluate bounds the fan-out.
func (m *Monitor) sweep(ctx context.Context) {
	for _, mint := range m.store.Mints() {
		m.watch(ctx, mint)

		m.wg.Add(1)
		go func(mint string) {
			defer m.wg.Done()
			m.evaluate(ctx, mint, false)
		}(mint)
	}
}

// evaluate runs one policy pass for a token: claim, price, decide,
// execute. force bypasses the policy and liquidates the full balance.
func (m *Monitor) evaluate(ctx context.Context, mint string, force bool) {
	now := m.clock.Now()

	if !force && !m.passesGates(ctx, mint, now) {
		return
	}
	if !m.tryClaim(mint, now) {
		return
	}
	defer m.release(mint)

	if !m.sem.TryAcquire(1) {
		// At the concurrency bound; the next sweep picks this token up.
		return
	}
	defer m.sem.Release(1)

	pos, ok := m.store.Get(mint)
	if !ok {
		return
	}
	if pos.CurrentAmountRaw <= 0 {
		m.retire(mint, pos, "zero_balance")
		return
	}

	quote, err := m.oracle.GetPrice(ctx, mint)
	if err != nil || quote.PriceUSD <= 0 {
		m.logger.Warn("Price unavailable, skipping evaluation",
			zap.String("mint", mint),
			zap.Error(err))
		m.setCooldown(mint, now.Add(cooldownAfterFail))
		return
	}

	var decision position.Decision
	if force {
		decision = position.Decision{
			Kind:      position.ActionForceExit,
			Step:      pos.SellingStep,
			AmountRaw: pos.CurrentAmountRaw,
			Reason:    "manual",
		}
	} else {
		decision = position.Decide(pos, quote.PriceUSD, m.settings.Sell(), now)
		if decision.ResetWindow {
			m.store.ResetWindow(mint, decision.NewReference, now)
		}
	}

	if !decision.Sells() {
		return
	}

	if err := m.executeSell(ctx, pos, decision, quote); err != nil {
		m.logger.Error("Sell execution failed",
			zap.String("mint", mint),
			zap.String("kind", string(decision.Kind)),
			zap.Error(err))
		m.setCooldown(mint, m.clock.Now().Add(cooldownAfterFail))
		return
	}
	m.setCooldown(mint, m.clock.Now().Add(cooldownAfterSell))
}

// executeSell runs the swap, records the fill and updates or retires the
// position.
func (m *Monitor) executeSell(ctx context.Context, pos position.Position, decision position.Decision, quote oracle.Quote) error {
	buy := m.settings.Buy()

	fill, err := m.executor.Execute(ctx, swap.Request{
		Mint:         pos.Mint,
		Direction:    swap.DirectionSell,
		AmountRaw:    decision.AmountRaw,
		SlippageBps:  buy.SlippageBps,
		TipSol:       buy.TipSol,
		PriceHintUSD: quote.PriceUSD,
		VenueHint:    quote.Venue,
	})
	if err != nil {
		return err
	}

	m.wallet.InvalidateBalance()

	uiAmount := decision.AmountRaw / math.Pow10(position.TokenDecimals)
	profitUSD := (fill.PriceUSD - pos.InvestedPriceUSD) * uiAmount
	profitPercent := 0.0
	if pos.InvestedPriceUSD > 0 {
		profitPercent = (fill.PriceUSD/pos.InvestedPriceUSD - 1) * 100
	}
	if fill.Burned {
		// Burned tokens realize the full loss of the remaining stake.
		profitUSD = -pos.InvestedPriceUSD * uiAmount
		profitPercent = -100
	}

	now := m.clock.Now()
	tx := &models.Transaction{
		TxHash:        fill.TxHash,
		Mint:          pos.Mint,
		TokenName:     pos.TokenName,
		TokenSymbol:   pos.TokenSymbol,
		TokenImage:    pos.TokenImage,
		Swap:          models.SwapSell,
		PriceUSD:      fill.PriceUSD,
		AmountRaw:     decision.AmountRaw,
		FeeUSD:        fill.FeeUSD,
		MarketCapUSD:  position.MarketCapUSD(fill.PriceUSD),
		ProfitUSD:     profitUSD,
		ProfitPercent: profitPercent,
		Dex:           fill.Venue,
		TxTime:        now,
	}
	if err := m.storage.AppendFill(ctx, tx); err != nil {
		// The swap is confirmed on chain; a ledger failure must not
		// resurrect the sold amount.
		m.logger.Error("Failed to record sell fill",
			zap.String("mint", pos.Mint),
			zap.String("tx", fill.TxHash),
			zap.Error(err))
	}

	if m.bus != nil {
		_ = m.bus.Publish(&events.PositionSoldEvent{
			BaseEvent:   events.NewBaseEvent(events.PositionSold),
			Mint:        pos.Mint,
			TokenSymbol: pos.TokenSymbol,
			Kind:        string(decision.Kind),
			Step:        decision.Step,
			PriceUSD:    fill.PriceUSD,
			AmountRaw:   decision.AmountRaw,
			ProfitUSD:   profitUSD,
			TxHash:      fill.TxHash,
		})
	}

	if decision.Terminal() || fill.Burned {
		m.logger.Info("💰 Position liquidated",
			zap.String("mint", pos.Mint),
			zap.String("kind", string(decision.Kind)),
			zap.Float64("profit_usd", pos.RealizedProfitUSD+profitUSD))
		if m.alerts != nil {
			m.alerts.Raise(ctx, "Position closed",
				fmt.Sprintf("%s closed (%s): %.2f USD (%.1f%%)",
					pos.TokenSymbol, decision.Kind, profitUSD, profitPercent))
		}
		m.retire(pos.Mint, pos, "liquidated")
		return nil
	}

	if err := m.store.ApplySellFill(pos.Mint, decision.AmountRaw, profitUSD, decision.Step+1); err != nil {
		return err
	}
	if after, ok := m.store.Get(pos.Mint); ok && after.CurrentAmountRaw <= 0 {
		m.retire(pos.Mint, after, "liquidated")
	}

	m.logger.Info("📈 Staged sell executed",
		zap.String("mint", pos.Mint),
		zap.Int("step", decision.Step),
		zap.Float64("amount_raw", decision.AmountRaw),
		zap.Float64("profit_usd", profitUSD))
	return nil
}

func (m *Monitor) retire(mint string, pos position.Position, reason string) {
	m.store.Evict(mint)
	m.oracle.Forget(mint)
	if m.watcher != nil {
		m.watcher.Unwatch(mint)
	}

	m.mu.Lock()
	delete(m.cooldowns, mint)
	delete(m.lastEval, mint)
	delete(m.watched, mint)
	if timer, ok := m.pending[mint]; ok {
		timer.Stop()
		delete(m.pending, mint)
	}
	m.mu.Unlock()

	if m.bus != nil {
		_ = m.bus.Publish(&events.PositionRetiredEvent{
			BaseEvent: events.NewBaseEvent(events.PositionRetired),
			Mint:      mint,
			Reason:    reason,
		})
	}
}

// ForceSell liquidates one tracked position immediately, bypassing the
// policy. Driven by the management API.
func (m *Monitor) ForceSell(ctx context.Context, mint string) error {
	if !m.store.Has(mint) {
		return position.ErrNoPosition
	}
	m.evaluate(ctx, mint, true)
	if m.store.Has(mint) {
		return fmt.Errorf("forced sell of %s did not complete", mint)
	}
	return nil
}

// ForceSellAll liquidates every tracked position. Returns the first
// error, after attempting all of them.
func (m *Monitor) ForceSellAll(ctx context.Context) error {
	var firstErr error
	for _, mint := range m.store.Mints() {
		if err := m.ForceSell(ctx, mint); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// passesGates applies the cooldown and debounce filters. Triggers inside
// the debounce window are not dropped: they coalesce into one trailing
// re-evaluation at the window's edge, which then reads the latest state.
func (m *Monitor) passesGates(ctx context.Context, mint string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if until, ok := m.cooldowns[mint]; ok && now.Before(until) {
		return false
	}
	if last, ok := m.lastEval[mint]; ok && now.Sub(last) < evalDebounce {
		m.scheduleTrailingLocked(ctx, mint, evalDebounce-now.Sub(last))
		return false
	}
	m.lastEval[mint] = now
	return true
}

// scheduleTrailingLocked arms one trailing evaluation for a debounced
// token. Called with m.mu held; at most one timer per token.
func (m *Monitor) scheduleTrailingLocked(ctx context.Context, mint string, delay time.Duration) {
	if _, ok := m.pending[mint]; ok {
		return
	}
	m.pending[mint] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.pending, mint)
		m.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		m.evaluate(ctx, mint, false)
	})
}

// tryClaim takes the single-flight claim for a token. A claim older than
// claimTTL is treated as leaked and stolen.
func (m *Monitor) tryClaim(mint string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if claimedAt, ok := m.claims[mint]; ok && now.Sub(claimedAt) < claimTTL {
		return false
	}
	m.claims[mint] = now
	return true
}

func (m *Monitor) release(mint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, mint)
}

func (m *Monitor) setCooldown(mint string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[mint] = until
}

// walletSyncLoop reconciles tracked positions against on-chain holdings:
// untracked balances are rebuilt from the ledger, tracked tokens whose
// balance went to zero are retired.
func (m *Monitor) walletSyncLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(walletSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.syncWallet(ctx)
		}
	}
}

func (m *Monitor) syncWallet(ctx context.Context) {
	holdings, err := m.wallet.TokenHoldings(ctx)
	if err != nil {
		m.logger.Warn("Wallet sync failed", zap.Error(err))
		return
	}

	held := make(map[string]float64, len(holdings))
	for _, h := range holdings {
		held[h.Mint] = h.AmountRaw
	}

	for mint, amountRaw := range held {
		if m.store.Has(mint) {
			continue
		}
		m.adopt(ctx, mint, amountRaw)
	}

	for _, mint := range m.store.Mints() {
		if _, ok := held[mint]; ok {
			continue
		}
		if m.claimed(mint) {
			// An in-flight evaluation may have just sold it.
			continue
		}
		pos, ok := m.store.Get(mint)
		if !ok {
			continue
		}
		m.logger.Info("Tracked token no longer held, retiring",
			zap.String("mint", mint))
		m.retire(mint, pos, "zero_balance")
	}
}

// adopt rebuilds a position for an untracked wallet balance. Tokens with
// no buy fill in the ledger were not bought by this bot and are ignored.
func (m *Monitor) adopt(ctx context.Context, mint string, amountRaw float64) {
	referencePrice := 0.0
	if quote, err := m.oracle.GetPrice(ctx, mint); err == nil {
		referencePrice = quote.PriceUSD
	}

	_, err := m.store.RebuildFromLedger(ctx, m.storage, mint, amountRaw, referencePrice, m.settings.Sell().Stagnation)
	if err != nil {
		if errors.Is(err, position.ErrNoPosition) || errors.Is(err, position.ErrDuplicatePosition) {
			return
		}
		m.logger.Warn("Failed to rebuild position from ledger",
			zap.String("mint", mint),
			zap.Error(err))
		return
	}

	m.watch(ctx, mint)

	m.logger.Info("🔁 Adopted untracked wallet balance",
		zap.String("mint", mint),
		zap.Float64("amount_raw", amountRaw))
}

func (m *Monitor) claimed(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	claimedAt, ok := m.claims[mint]
	return ok && m.clock.Now().Sub(claimedAt) < claimTTL
}
