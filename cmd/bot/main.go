// cmd/bot/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/pump-sniper/internal/alerts"
	"github.com/rovshanmuradov/pump-sniper/internal/api"
	"github.com/rovshanmuradov/pump-sniper/internal/chain"
	"github.com/rovshanmuradov/pump-sniper/internal/config"
	"github.com/rovshanmuradov/pump-sniper/internal/events"
	"github.com/rovshanmuradov/pump-sniper/internal/logger"
	"github.com/rovshanmuradov/pump-sniper/internal/marketdata"
	"github.com/rovshanmuradov/pump-sniper/internal/monitor"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/position"
	"github.com/rovshanmuradov/pump-sniper/internal/scanner"
	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/postgres"
	"github.com/rovshanmuradov/pump-sniper/internal/swap"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      7,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		println("failed to build logger:", err.Error())
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("🚀 Starting pump sniper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Sniper failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// Chain access.
	chainClient, err := chain.NewClient(cfg.RPCList, log.Logger)
	if err != nil {
		return err
	}
	if err := chainClient.Validate(ctx); err != nil {
		return err
	}

	signer, err := wallet.New(cfg.WalletPrivateKey, chainClient, log.Logger)
	if err != nil {
		return err
	}
	log.Info("Wallet loaded", zap.String("address", signer.String()))

	// Durable layer.
	store, err := postgres.NewStorage(cfg.PostgresURL, log.Logger)
	if err != nil {
		return err
	}
	if err := store.RunMigrations(); err != nil {
		return err
	}

	settingsService, err := settings.NewService(ctx, store, log.Logger)
	if err != nil {
		return err
	}

	// Event bus and alerting.
	bus := events.NewBus(log.Logger, 256)
	alertSink := alerts.NewSink(store, bus, log.Logger)

	// Pricing.
	solPrice := oracle.NewSolPrice(cfg.SolPriceURL,
		time.Duration(cfg.SolPriceDelay)*time.Second, log.Logger)
	solPrice.Start(ctx)
	defer solPrice.Stop()

	market := marketdata.NewClient(cfg.MarketDataURL, log.Logger)
	priceOracle := oracle.New(chainClient, solPrice, market, log.Logger)

	// Execution.
	pumpfunVenue := swap.NewPumpFunVenue(chainClient, priceOracle, signer, log.Logger)
	raydiumVenue := swap.NewRaydiumVenue(cfg.MarketDataURL, chainClient, signer, log.Logger)
	burner := swap.NewBurner(chainClient, signer, log.Logger)
	executor := swap.NewExecutor(pumpfunVenue, raydiumVenue, burner, log.Logger)

	// Position tracking and the sell side.
	positions := position.NewStore(position.RealClock(), log.Logger)
	curveWatcher := monitor.NewCurveWatcher(cfg.WebSocketURL, log.Logger)
	positionMonitor := monitor.New(monitor.Config{
		Store:    positions,
		Oracle:   priceOracle,
		Executor: executor,
		Settings: settingsService,
		Storage:  store,
		Wallet:   signer,
		Watcher:  curveWatcher,
		Bus:      bus,
		Alerts:   alertSink,
		Logger:   log.Logger,
	})
	positionMonitor.Start(ctx)
	defer positionMonitor.Stop()

	// The buy side.
	listener := scanner.NewListener(cfg.WebSocketURL, chainClient, log.Logger)
	acquisitionScanner := scanner.New(scanner.Config{
		Listener: listener,
		Oracle:   priceOracle,
		Market:   market,
		Executor: executor,
		Store:    positions,
		Monitor:  positionMonitor,
		Settings: settingsService,
		Storage:  store,
		Wallet:   signer,
		Bus:      bus,
		Alerts:   alertSink,
		Logger:   log.Logger,
	})
	acquisitionScanner.Start(ctx)
	defer acquisitionScanner.Stop()

	// Management API.
	mailer := &api.SMTPMailer{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPUser,
	}
	auth := api.NewAuth(cfg.JWTSecret, cfg.AdminEmails, mailer, log.Logger)
	server := api.NewServer(api.Config{
		Listen:   cfg.HTTPListen,
		Auth:     auth,
		Settings: settingsService,
		Store:    positions,
		Monitor:  positionMonitor,
		Storage:  store,
		Oracle:   priceOracle,
		Wallet:   signer,
		Bus:      bus,
		Debug:    cfg.DebugLogging,
		Logger:   log.Logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			log.Error("API server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("API shutdown incomplete", zap.Error(err))
	}
	if err := bus.Shutdown(shutdownCtx); err != nil {
		log.Warn("Event bus shutdown incomplete", zap.Error(err))
	}

	log.Info("👋 Sniper stopped")
	return nil
}
