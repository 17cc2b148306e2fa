// internal/scanner/scanner.go
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/alerts"
	"github.com/rovshanmuradov/pump-sniper/internal/events"
	"github.com/rovshanmuradov/pump-sniper/internal/marketdata"
	"github.com/rovshanmuradov/pump-sniper/internal/monitor"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/position"
	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"github.com/rovshanmuradov/pump-sniper/internal/swap"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// minSolBalance is the kill-switch floor: below it the bot can no
	// longer pay for a buy plus fees, so sniping stops entirely.
	minSolBalance = 0.03

	// duplicateWindow is how far back a symbol match counts as a
	// duplicate launch.
	duplicateWindow = 5 * 24 * time.Hour

	candidateBuffer = 64
)

// watchEntry is one token inside its age window.
type watchEntry struct {
	candidate Candidate
	abandoned bool
}

// Scanner consumes launch candidates, validates them against the buy
// policy and executes acquisitions. One position per token; candidates
// that leave their age window are abandoned permanently.
type Scanner struct {
	listener *Listener
	oracle   *oracle.Oracle
	market   *marketdata.Client
	executor swap.Executor
	store    *position.Store
	monitor  *monitor.Monitor
	settings *settings.Service
	storage  storage.Storage
	wallet   *wallet.Wallet
	bus      *events.Bus
	alerts   *alerts.Sink
	logger   *zap.Logger

	mu    sync.Mutex
	watch map[string]*watchEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config collects the scanner's collaborators.
type Config struct {
	Listener *Listener
	Oracle   *oracle.Oracle
	Market   *marketdata.Client
	Executor swap.Executor
	Store    *position.Store
	Monitor  *monitor.Monitor
	Settings *settings.Service
	Storage  storage.Storage
	Wallet   *wallet.Wallet
	Bus      *events.Bus
	Alerts   *alerts.Sink
	Logger   *zap.Logger
}

// New creates the acquisition scanner.
func New(cfg Config) *Scanner {
	return &Scanner{
		listener: cfg.Listener,
		oracle:   cfg.Oracle,
		market:   cfg.Market,
		executor: cfg.Executor,
		store:    cfg.Store,
		monitor:  cfg.Monitor,
		settings: cfg.Settings,
		storage:  cfg.Storage,
		wallet:   cfg.Wallet,
		bus:      cfg.Bus,
		alerts:   cfg.Alerts,
		logger:   cfg.Logger.Named("scanner"),
		watch:    make(map[string]*watchEntry),
	}
}

// Start launches the listener and the evaluation loop.
func (s *Scanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	candidates := make(chan Candidate, candidateBuffer)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.listener.Run(ctx, candidates)
	}()
	go func() {
		defer s.wg.Done()
		s.run(ctx, candidates)
	}()

	s.logger.Info("Acquisition scanner started")
}

// Stop halts the scanner and waits for in-flight work.
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Acquisition scanner stopped")
}

func (s *Scanner) run(ctx context.Context, candidates <-chan Candidate) {
	for {
		interval := s.settings.BuyInterval()
		if interval <= 0 {
			interval = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case candidate := <-candidates:
			s.admit(ctx, candidate)
		case <-time.After(interval):
			s.sweepWatchSet(ctx)
		}
	}
}

// admit registers a detected launch and evaluates it immediately if the
// age window opens at zero.
func (s *Scanner) admit(ctx context.Context, candidate Candidate) {
	s.mu.Lock()
	if _, seen := s.watch[candidate.Mint]; seen {
		s.mu.Unlock()
		return
	}
	s.watch[candidate.Mint] = &watchEntry{candidate: candidate}
	s.mu.Unlock()

	s.logger.Info("🔍 Token detected",
		zap.String("mint", candidate.Mint),
		zap.String("creator", candidate.Creator))

	meta := s.recordToken(ctx, candidate)

	if s.bus != nil {
		_ = s.bus.Publish(&events.TokenDetectedEvent{
			BaseEvent:   events.NewBaseEvent(events.TokenDetected),
			Mint:        candidate.Mint,
			TokenName:   meta.Name,
			TokenSymbol: meta.Symbol,
			Creator:     candidate.Creator,
		})
	}

	s.evaluateCandidate(ctx, candidate.Mint)
}

// recordToken fetches display metadata and writes the registry row used
// for duplicate-symbol suppression. Registration happens for every
// detection, bought or not.
func (s *Scanner) recordToken(ctx context.Context, candidate Candidate) marketdata.TokenMeta {
	meta, err := s.market.TokenMeta(ctx, candidate.Mint)
	if err != nil {
		s.logger.Debug("Token metadata unavailable",
			zap.String("mint", candidate.Mint),
			zap.Error(err))
		meta = &marketdata.TokenMeta{}
	}

	if err := s.storage.SaveToken(ctx, &models.Token{
		Mint:       candidate.Mint,
		Name:       meta.Name,
		Symbol:     meta.Symbol,
		DetectedAt: candidate.DetectedAt,
	}); err != nil {
		s.logger.Warn("Failed to record detected token",
			zap.String("mint", candidate.Mint),
			zap.Error(err))
	}
	return *meta
}

// sweepWatchSet re-evaluates every watched token still inside its age
// window and drops the ones past it.
func (s *Scanner) sweepWatchSet(ctx context.Context) {
	s.mu.Lock()
	mints := make([]string, 0, len(s.watch))
	for mint, entry := range s.watch {
		if entry.abandoned {
			delete(s.watch, mint)
			continue
		}
		mints = append(mints, mint)
	}
	s.mu.Unlock()

	for _, mint := range mints {
		s.evaluateCandidate(ctx, mint)
	}
}

func (s *Scanner) evaluateCandidate(ctx context.Context, mint string) {
	now := time.Now().UTC()

	if !s.settings.IsSniping(now) {
		return
	}
	if s.store.Has(mint) {
		s.abandon(mint)
		return
	}

	s.mu.Lock()
	entry, ok := s.watch[mint]
	if !ok || entry.abandoned {
		s.mu.Unlock()
		return
	}
	candidate := entry.candidate
	s.mu.Unlock()

	buy := s.settings.Buy()

	ageSec := int(now.Sub(candidate.DetectedAt).Seconds())
	if buy.Age.Enabled {
		if ageSec < buy.Age.Start {
			// Not old enough yet; the next sweep retries.
			return
		}
		if ageSec >= buy.Age.End {
			s.logger.Debug("Candidate aged out",
				zap.String("mint", mint),
				zap.Int("age_sec", ageSec))
			s.abandon(mint)
			return
		}
	}

	if s.lowBalanceKillSwitch(ctx) {
		return
	}

	if err := s.validate(ctx, candidate, buy); err != nil {
		s.logger.Debug("Candidate rejected",
			zap.String("mint", mint),
			zap.Error(err))
		s.abandon(mint)
		return
	}

	s.buy(ctx, candidate, buy)
}

// lowBalanceKillSwitch stops sniping entirely when the wallet cannot
// fund further buys. Open positions keep being monitored.
func (s *Scanner) lowBalanceKillSwitch(ctx context.Context) bool {
	balance, err := s.wallet.SolBalance(ctx)
	if err != nil {
		s.logger.Warn("Balance check failed, skipping buy", zap.Error(err))
		return true
	}
	if balance >= minSolBalance {
		return false
	}

	s.logger.Warn("🛑 Wallet balance below minimum, stopping sniping",
		zap.Float64("balance_sol", balance),
		zap.Float64("min_sol", minSolBalance))

	if s.alerts != nil {
		s.alerts.Raise(ctx, "Sniping stopped",
			fmt.Sprintf("Wallet balance %.4f SOL is below the %.2f SOL minimum", balance, minSolBalance))
	}
	if err := s.settings.SetRunning(ctx, false); err != nil {
		s.logger.Error("Failed to persist running flag", zap.Error(err))
	}
	if s.bus != nil {
		_ = s.bus.Publish(&events.ScannerStoppedEvent{
			BaseEvent: events.NewBaseEvent(events.ScannerStopped),
			Reason:    "low_balance",
		})
	}
	return true
}

// validate runs the enabled buy criteria concurrently. Any failed check
// or lookup error rejects the candidate; a token that cannot be
// validated is never bought.
func (s *Scanner) validate(ctx context.Context, candidate Candidate, buy settings.BuyPolicy) error {
	g, gctx := errgroup.WithContext(ctx)

	if buy.MarketCap.Enabled {
		g.Go(func() error {
			mc, err := s.oracle.MarketCapUSD(gctx, candidate.Mint)
			if err != nil {
				return fmt.Errorf("market cap unavailable: %w", err)
			}
			if mc < buy.MarketCap.Min || mc > buy.MarketCap.Max {
				return fmt.Errorf("market cap %.0f outside [%.0f, %.0f]", mc, buy.MarketCap.Min, buy.MarketCap.Max)
			}
			return nil
		})
	}

	if buy.Duplicates.Enabled {
		g.Go(func() error {
			meta, err := s.market.TokenMeta(gctx, candidate.Mint)
			if err != nil {
				return fmt.Errorf("metadata unavailable: %w", err)
			}
			if meta.Symbol == "" {
				return nil
			}
			prior, err := s.storage.RecentTokenBySymbol(gctx, meta.Symbol, time.Now().UTC().Add(-duplicateWindow))
			if err != nil {
				return fmt.Errorf("duplicate lookup failed: %w", err)
			}
			if prior != nil && prior.Mint != candidate.Mint {
				return fmt.Errorf("duplicate symbol %s launched %s", meta.Symbol, prior.DetectedAt)
			}
			return nil
		})
	}

	if statsNeeded(buy) {
		g.Go(func() error {
			stats, err := s.market.TokenStats(gctx, candidate.Mint)
			if err != nil {
				return fmt.Errorf("token stats unavailable: %w", err)
			}
			return checkStats(stats, buy)
		})
	}

	return g.Wait()
}

func statsNeeded(buy settings.BuyPolicy) bool {
	return buy.MaxDevHolding.Enabled || buy.MaxDevBuy.Enabled ||
		buy.Holders.Enabled || buy.LastMinuteTxns.Enabled || buy.LastHourVolume.Enabled
}

func checkStats(stats *marketdata.TokenStats, buy settings.BuyPolicy) error {
	if buy.MaxDevHolding.Enabled && stats.DevHoldingPct > buy.MaxDevHolding.Value {
		return fmt.Errorf("dev holds %.1f%%, max %.1f%%", stats.DevHoldingPct, buy.MaxDevHolding.Value)
	}
	if buy.MaxDevBuy.Enabled && stats.DevBuySol > buy.MaxDevBuy.Value {
		return fmt.Errorf("dev bought %.2f SOL, max %.2f", stats.DevBuySol, buy.MaxDevBuy.Value)
	}
	if buy.Holders.Enabled && float64(stats.HolderCount) < buy.Holders.Value {
		return fmt.Errorf("%d holders, need %.0f", stats.HolderCount, buy.Holders.Value)
	}
	if buy.LastMinuteTxns.Enabled && float64(stats.LastMinuteTxns) < buy.LastMinuteTxns.Value {
		return fmt.Errorf("%d txns last minute, need %.0f", stats.LastMinuteTxns, buy.LastMinuteTxns.Value)
	}
	if buy.LastHourVolume.Enabled && stats.LastHourVolume < buy.LastHourVolume.Value {
		return fmt.Errorf("%.2f volume last hour, need %.2f", stats.LastHourVolume, buy.LastHourVolume.Value)
	}
	return nil
}

// buy executes the acquisition and hands the position straight to the
// monitor. Seeding happens before the ledger write so the sell side sees
// the position the moment the fill is confirmed.
func (s *Scanner) buy(ctx context.Context, candidate Candidate, buy settings.BuyPolicy) {
	quote, err := s.oracle.GetPrice(ctx, candidate.Mint)
	if err != nil {
		s.logger.Warn("No price at buy time, skipping",
			zap.String("mint", candidate.Mint),
			zap.Error(err))
		s.abandon(candidate.Mint)
		return
	}

	fill, err := s.executor.Execute(ctx, swap.Request{
		Mint:         candidate.Mint,
		Direction:    swap.DirectionBuy,
		AmountSol:    buy.InvestmentPerToken,
		SlippageBps:  buy.SlippageBps,
		TipSol:       buy.TipSol,
		PriceHintUSD: quote.PriceUSD,
	})
	if err != nil {
		s.logger.Warn("Buy failed",
			zap.String("mint", candidate.Mint),
			zap.Error(err))
		s.abandon(candidate.Mint)
		return
	}

	s.wallet.InvalidateBalance()
	s.abandon(candidate.Mint)

	meta, metaErr := s.market.TokenMeta(ctx, candidate.Mint)
	if metaErr != nil {
		meta = &marketdata.TokenMeta{}
	}

	now := time.Now().UTC()
	_, err = s.store.SeedFromFill(position.SeedRequest{
		Mint:           candidate.Mint,
		TokenName:      meta.Name,
		TokenSymbol:    meta.Symbol,
		TokenImage:     meta.ImageURL,
		FillPriceUSD:   fill.PriceUSD,
		FillAmountRaw:  fill.OutAmount,
		ReferencePrice: quote.PriceUSD,
		Stagnation:     s.settings.Sell().Stagnation,
		Timestamp:      now,
	})
	if err != nil {
		s.logger.Error("Failed to seed position after buy",
			zap.String("mint", candidate.Mint),
			zap.Error(err))
		return
	}
	s.monitor.Trigger(ctx, candidate.Mint)

	if err := s.storage.AppendFill(ctx, &models.Transaction{
		TxHash:       fill.TxHash,
		Mint:         candidate.Mint,
		TokenName:    meta.Name,
		TokenSymbol:  meta.Symbol,
		TokenImage:   meta.ImageURL,
		Swap:         models.SwapBuy,
		PriceUSD:     fill.PriceUSD,
		AmountRaw:    fill.OutAmount,
		FeeUSD:       fill.FeeUSD,
		MarketCapUSD: position.MarketCapUSD(fill.PriceUSD),
		Dex:          fill.Venue,
		TxTime:       now,
	}); err != nil {
		s.logger.Error("Failed to record buy fill",
			zap.String("mint", candidate.Mint),
			zap.String("tx", fill.TxHash),
			zap.Error(err))
	}

	if s.bus != nil {
		_ = s.bus.Publish(&events.TokenBoughtEvent{
			BaseEvent:   events.NewBaseEvent(events.TokenBought),
			Mint:        candidate.Mint,
			TokenSymbol: meta.Symbol,
			PriceUSD:    fill.PriceUSD,
			AmountRaw:   fill.OutAmount,
			TxHash:      fill.TxHash,
		})
	}
	if s.alerts != nil {
		s.alerts.RaiseWithLink(ctx, "Token bought",
			fmt.Sprintf("Bought %s at %.10f USD", meta.Symbol, fill.PriceUSD),
			meta.ImageURL, "https://pump.fun/"+candidate.Mint)
	}

	s.logger.Info("🎯 Token bought",
		zap.String("mint", candidate.Mint),
		zap.String("symbol", meta.Symbol),
		zap.Float64("price_usd", fill.PriceUSD),
		zap.Float64("amount_raw", fill.OutAmount),
		zap.String("tx", fill.TxHash))
}

// abandon removes a token from the watch set permanently.
func (s *Scanner) abandon(mint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.watch[mint]; ok {
		entry.abandoned = true
	}
}
