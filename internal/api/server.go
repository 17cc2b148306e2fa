// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rovshanmuradov/pump-sniper/internal/events"
	"github.com/rovshanmuradov/pump-sniper/internal/monitor"
	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/position"
	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"go.uber.org/zap"
)

// Server is the operator-facing management API.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	auth       *Auth
	settings   *settings.Service
	store      *position.Store
	monitor    *monitor.Monitor
	storage    storage.Storage
	oracle     *oracle.Oracle
	wallet     *wallet.Wallet
	activity   *activityFeed
	logger     *zap.Logger
}

// Config collects the API server's collaborators.
type Config struct {
	Listen   string
	Auth     *Auth
	Settings *settings.Service
	Store    *position.Store
	Monitor  *monitor.Monitor
	Storage  storage.Storage
	Oracle   *oracle.Oracle
	Wallet   *wallet.Wallet
	Bus      *events.Bus
	Debug    bool
	Logger   *zap.Logger
}

// NewServer builds the router and wires all routes.
func NewServer(cfg Config) *Server {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:           12 * time.Hour,
		AllowCredentials: false,
	}))

	s := &Server{
		router:   router,
		auth:     cfg.Auth,
		settings: cfg.Settings,
		store:    cfg.Store,
		monitor:  cfg.Monitor,
		storage:  cfg.Storage,
		oracle:   cfg.Oracle,
		wallet:   cfg.Wallet,
		activity: newActivityFeed(cfg.Bus),
		logger:   cfg.Logger.Named("api"),
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/otp", s.handleRequestOTP)
		auth.POST("/login", s.handleLogin)
	}

	protected := api.Group("")
	protected.Use(authMiddleware(s.auth))
	{
		setting := protected.Group("/setting")
		{
			setting.GET("/main", s.handleGetMain)
			setting.POST("/main", s.handleSetMain)
			setting.GET("/buy", s.handleGetBuy)
			setting.POST("/buy", s.handleSetBuy)
			setting.GET("/sell", s.handleGetSell)
			setting.POST("/sell", s.handleSetSell)
		}

		protected.GET("/assets", s.handleAssets)
		protected.GET("/transactions", s.handleTransactions)

		alertsGroup := protected.Group("/alerts")
		{
			alertsGroup.GET("/unread", s.handleUnreadAlerts)
			alertsGroup.POST("/:id/read", s.handleMarkAlertRead)
			alertsGroup.POST("/read-all", s.handleMarkAllAlertsRead)
		}

		sniper := protected.Group("/sniper")
		{
			sniper.GET("/status", s.handleStatus)
			sniper.POST("/start", s.handleStart)
			sniper.POST("/stop", s.handleStop)
			sniper.POST("/sell/:mint", s.handleSell)
			sniper.POST("/sell-all", s.handleSellAll)
		}
	}
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and detaches the activity feed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	s.activity.stop()
	return s.httpServer.Shutdown(ctx)
}
