// internal/marketdata/client.go
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// TokenStats is the per-token market data the buy policy consumes.
type TokenStats struct {
	HolderCount     int     `json:"holderCount"`
	DevHoldingPct   float64 `json:"devHoldingPercent"`
	DevBuySol       float64 `json:"devBuySol"`
	LastMinuteTxns  int     `json:"lastMinuteTxns"`
	LastHourVolume  float64 `json:"lastHourVolume"`
}

// Client queries an external market-data API for holder/dev/volume
// stats and pool prices for migrated tokens.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a market data client.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger.Named("marketdata"),
	}
}

// TokenMeta is the display metadata of a token.
type TokenMeta struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	ImageURL string `json:"imageUrl"`
}

// TokenMeta fetches name, symbol and image for a mint.
func (c *Client) TokenMeta(ctx context.Context, mint string) (*TokenMeta, error) {
	var meta TokenMeta
	if err := c.getJSON(ctx, "/token/"+url.PathEscape(mint)+"/meta", &meta); err != nil {
		return nil, fmt.Errorf("token metadata lookup failed for %s: %w", mint, err)
	}
	return &meta, nil
}

// TokenStats fetches the validation stats for a candidate.
func (c *Client) TokenStats(ctx context.Context, mint string) (*TokenStats, error) {
	var stats TokenStats
	if err := c.getJSON(ctx, "/token/"+url.PathEscape(mint)+"/stats", &stats); err != nil {
		return nil, fmt.Errorf("token stats lookup failed for %s: %w", mint, err)
	}
	return &stats, nil
}

// PoolPriceUSD returns the pool price of a migrated token. Implements
// oracle.PoolPricer.
func (c *Client) PoolPriceUSD(ctx context.Context, mint string) (float64, error) {
	var body struct {
		PriceUSD float64 `json:"price_usd"`
	}
	if err := c.getJSON(ctx, "/token/"+url.PathEscape(mint)+"/pool-price", &body); err != nil {
		return 0, fmt.Errorf("pool price lookup failed for %s: %w", mint, err)
	}
	if body.PriceUSD <= 0 {
		return 0, fmt.Errorf("no pool price for %s", mint)
	}
	return body.PriceUSD, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("market data URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
