// internal/settings/settings.go
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WorkingHours is a daily UTC window during which buying is allowed.
type WorkingHours struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Enabled bool   `json:"enabled"`
}

// MainConfig controls the top-level run state and loop intervals.
type MainConfig struct {
	IsRunning       bool         `json:"isRunning"`
	WorkingHours    WorkingHours `json:"workingHours"`
	BuyIntervalSec  int          `json:"buyIntervalTime"`
	SellIntervalSec int          `json:"sellIntervalTime"`
}

// Toggle is a numeric criterion with an enabled flag. Disabled criteria
// are skipped entirely, not defaulted to pass or fail.
type Toggle struct {
	Value   float64 `json:"value"`
	Enabled bool    `json:"enabled"`
}

// MarketCapRule bounds the candidate's market cap in USD.
type MarketCapRule struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Enabled bool    `json:"enabled"`
}

// AgeRule is the [start, end) age window in seconds since token creation.
type AgeRule struct {
	Start   int  `json:"start"`
	End     int  `json:"end"`
	Enabled bool `json:"enabled"`
}

// DuplicateRule toggles duplicate-symbol suppression.
type DuplicateRule struct {
	Enabled bool `json:"enabled"`
}

// BuyPolicy is the full set of acquisition criteria.
type BuyPolicy struct {
	Duplicates        DuplicateRule `json:"duplicates"`
	MarketCap         MarketCapRule `json:"marketCap"`
	Age               AgeRule       `json:"age"`
	MaxDevHolding     Toggle        `json:"maxDevHoldingAmount"`
	MaxDevBuy         Toggle        `json:"maxDevBuyAmount"`
	Holders           Toggle        `json:"holders"`
	LastMinuteTxns    Toggle        `json:"lastMinuteTxns"`
	LastHourVolume    Toggle        `json:"lastHourVolume"`
	MaxGasPrice       float64       `json:"maxGasPrice"`
	SlippageBps       float64       `json:"slippage"`
	TipSol            float64       `json:"jitoTipAmount"`
	InvestmentPerToken float64      `json:"investmentPerToken"`
}

// SaleRule is one staged profit-take step: when growth reaches
// RevenuePercent, sell SellPercent of the invested amount.
type SaleRule struct {
	SellPercent    float64 `json:"percent"`
	RevenuePercent float64 `json:"revenue"`
}

// StagnationRule requires the market cap to grow by PercentValue within
// DurationSec, otherwise the position is exited.
type StagnationRule struct {
	PercentValue float64 `json:"percentValue"`
	DurationSec  int     `json:"duration"`
}

// SellPolicy is the liquidation policy applied to tracked positions.
type SellPolicy struct {
	SaleRules       []SaleRule     `json:"saleRules"`
	LossExitPercent float64        `json:"lossExitPercent"`
	Stagnation      StagnationRule `json:"mcChange"`
}

// DefaultMainConfig returns the shipped main configuration.
func DefaultMainConfig() MainConfig {
	return MainConfig{
		IsRunning: false,
		WorkingHours: WorkingHours{
			Start:   "05:00",
			End:     "21:30",
			Enabled: true,
		},
		BuyIntervalSec:  30,
		SellIntervalSec: 2,
	}
}

// DefaultBuyPolicy returns the shipped acquisition criteria.
func DefaultBuyPolicy() BuyPolicy {
	return BuyPolicy{
		Duplicates: DuplicateRule{Enabled: false},
		MarketCap:  MarketCapRule{Min: 8000, Max: 15000, Enabled: true},
		Age:        AgeRule{Start: 0, End: 30, Enabled: true},
		MaxDevHolding: Toggle{Value: 10, Enabled: false},
		MaxDevBuy:     Toggle{Value: 10, Enabled: false},
		Holders:       Toggle{Value: 10, Enabled: false},
		LastMinuteTxns: Toggle{Value: 0, Enabled: false},
		LastHourVolume: Toggle{Value: 0, Enabled: false},
		MaxGasPrice:        0.00001,
		SlippageBps:        100,
		TipSol:             0.0001,
		InvestmentPerToken: 0.0000001,
	}
}

// DefaultSellPolicy returns the shipped liquidation policy.
func DefaultSellPolicy() SellPolicy {
	return SellPolicy{
		SaleRules: []SaleRule{
			{SellPercent: 10, RevenuePercent: 5},
			{SellPercent: 20, RevenuePercent: 10},
			{SellPercent: 30, RevenuePercent: 30},
			{SellPercent: 40, RevenuePercent: 50},
		},
		LossExitPercent: 30,
		Stagnation: StagnationRule{
			PercentValue: 10,
			DurationSec:  30,
		},
	}
}

// Service caches the bot policy in memory and persists it through the
// settings store. Writers replace whole sections; readers get copies, so
// a partially-updated policy is never observable.
type Service struct {
	mu      sync.RWMutex
	main    MainConfig
	buy     BuyPolicy
	sell    SellPolicy
	storage storage.Storage
	logger  *zap.Logger
}

// NewService loads settings from storage, writing the defaults when the
// store is empty.
func NewService(ctx context.Context, store storage.Storage, logger *zap.Logger) (*Service, error) {
	s := &Service{
		main:    DefaultMainConfig(),
		buy:     DefaultBuyPolicy(),
		sell:    DefaultSellPolicy(),
		storage: store,
		logger:  logger.Named("settings"),
	}

	row, err := store.LoadSettings(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Info("No stored settings found, writing defaults")
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if err := json.Unmarshal(row.MainConfig, &s.main); err != nil {
		return nil, fmt.Errorf("corrupt main config: %w", err)
	}
	if err := json.Unmarshal(row.BuyConfig, &s.buy); err != nil {
		return nil, fmt.Errorf("corrupt buy config: %w", err)
	}
	if err := json.Unmarshal(row.SellConfig, &s.sell); err != nil {
		return nil, fmt.Errorf("corrupt sell config: %w", err)
	}

	s.logger.Info("Settings loaded",
		zap.Bool("is_running", s.main.IsRunning),
		zap.Int("sale_rules", len(s.sell.SaleRules)))
	return s, nil
}

func (s *Service) persist(ctx context.Context) error {
	mainJSON, err := json.Marshal(s.main)
	if err != nil {
		return err
	}
	buyJSON, err := json.Marshal(s.buy)
	if err != nil {
		return err
	}
	sellJSON, err := json.Marshal(s.sell)
	if err != nil {
		return err
	}

	return s.storage.SaveSettings(ctx, &models.BotSettings{
		MainConfig: mainJSON,
		BuyConfig:  buyJSON,
		SellConfig: sellJSON,
	})
}

// Main returns a copy of the main configuration.
func (s *Service) Main() MainConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.main
}

// Buy returns a copy of the buy policy.
func (s *Service) Buy() BuyPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buy
}

// Sell returns a copy of the sell policy, sale rules included.
func (s *Service) Sell() SellPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sell := s.sell
	sell.SaleRules = append([]SaleRule(nil), s.sell.SaleRules...)
	return sell
}

// SetMain replaces the main configuration and persists it.
func (s *Service) SetMain(ctx context.Context, cfg MainConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.main = cfg
	return s.persist(ctx)
}

// SetBuy replaces the buy policy and persists it.
func (s *Service) SetBuy(ctx context.Context, policy BuyPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buy = policy
	return s.persist(ctx)
}

// SetSell replaces the sell policy and persists it.
func (s *Service) SetSell(ctx context.Context, policy SellPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sell = policy
	return s.persist(ctx)
}

// SetRunning flips the running flag. Used by the API and by the
// low-balance kill switch.
func (s *Service) SetRunning(ctx context.Context, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.main.IsRunning == running {
		return nil
	}
	s.main.IsRunning = running
	s.logger.Info("Running flag changed", zap.Bool("is_running", running))
	return s.persist(ctx)
}

// IsRunning reports the policy-level running flag.
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.main.IsRunning
}

// BuyInterval returns the acquisition poll interval.
func (s *Service) BuyInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.main.BuyIntervalSec) * time.Second
}

// SellInterval returns the position sweep interval.
func (s *Service) SellInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.main.SellIntervalSec) * time.Second
}

// InWorkingHours reports whether now (UTC) falls inside the configured
// daily window. A disabled window always passes. Windows may wrap past
// midnight.
func (s *Service) InWorkingHours(now time.Time) bool {
	s.mu.RLock()
	wh := s.main.WorkingHours
	s.mu.RUnlock()

	if !wh.Enabled {
		return true
	}

	start, err := minutesOfDay(wh.Start)
	if err != nil {
		return true
	}
	end, err := minutesOfDay(wh.End)
	if err != nil {
		return true
	}

	current := now.UTC().Hour()*60 + now.UTC().Minute()
	if start <= end {
		return current >= start && current < end
	}
	return current >= start || current < end
}

// IsSniping reports whether the scanner should be buying right now.
func (s *Service) IsSniping(now time.Time) bool {
	return s.IsRunning() && s.InWorkingHours(now)
}

func minutesOfDay(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
