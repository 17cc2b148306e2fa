// internal/oracle/solprice.go
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultSolPriceUSD is served until the first successful refresh.
const defaultSolPriceUSD = 160.0

// SolPrice keeps a periodically refreshed SOL/USD price. Every token
// price derives from it, so it must never block a pricing call.
type SolPrice struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger

	mu    sync.RWMutex
	price float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSolPrice creates the cache. Call Start to begin refreshing.
func NewSolPrice(url string, interval time.Duration, logger *zap.Logger) *SolPrice {
	return &SolPrice{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.Named("sol_price"),
		price:    defaultSolPriceUSD,
	}
}

// Value returns the latest known SOL/USD price.
func (s *SolPrice) Value() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.price
}

// Start launches the refresh loop.
func (s *SolPrice) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.refresh(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refresh(ctx)
			}
		}
	}()
}

// Stop halts the refresh loop.
func (s *SolPrice) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SolPrice) refresh(ctx context.Context) {
	if s.url == "" {
		return
	}

	price, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("SOL price refresh failed, keeping last value",
			zap.Float64("last_price", s.Value()),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	s.price = price
	s.mu.Unlock()
}

func (s *SolPrice) fetch(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Price float64 `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}
	if body.Price <= 0 {
		return 0, fmt.Errorf("non-positive price %f", body.Price)
	}
	return body.Price, nil
}
