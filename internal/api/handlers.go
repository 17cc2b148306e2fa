// internal/api/handlers.go
package api

import (
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rovshanmuradov/pump-sniper/internal/position"
	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleRequestOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := s.auth.RequestOTP(c.Request.Context(), req.Email)
	if errors.Is(err, ErrUnknownEmail) {
		// Same response as success so the endpoint does not leak which
		// emails are operators.
		c.JSON(http.StatusOK, gin.H{"sent": true})
		return
	}
	if err != nil {
		s.logger.Error("Failed to issue OTP", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	token, err := s.auth.Login(req.Email, req.Code)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleGetMain(c *gin.Context) {
	c.JSON(http.StatusOK, struct {
		settings.MainConfig
		IsSniping bool `json:"isSniping"`
	}{
		MainConfig: s.settings.Main(),
		IsSniping:  s.settings.IsSniping(time.Now().UTC()),
	})
}

func (s *Server) handleSetMain(c *gin.Context) {
	var cfg settings.MainConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid main config"})
		return
	}
	if err := s.settings.SetMain(c.Request.Context(), cfg); err != nil {
		s.logger.Error("Failed to save main config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleGetBuy(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.Buy())
}

func (s *Server) handleSetBuy(c *gin.Context) {
	var policy settings.BuyPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buy policy"})
		return
	}
	if err := s.settings.SetBuy(c.Request.Context(), policy); err != nil {
		s.logger.Error("Failed to save buy policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save"})
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (s *Server) handleGetSell(c *gin.Context) {
	c.JSON(http.StatusOK, s.settings.Sell())
}

func (s *Server) handleSetSell(c *gin.Context) {
	var policy settings.SellPolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sell policy"})
		return
	}
	if len(policy.SaleRules) > position.MaxSellingStep {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many sale rules"})
		return
	}
	if err := s.settings.SetSell(c.Request.Context(), policy); err != nil {
		s.logger.Error("Failed to save sell policy", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save"})
		return
	}
	c.JSON(http.StatusOK, policy)
}

type assetView struct {
	Mint                string  `json:"mint"`
	TokenName           string  `json:"tokenName"`
	TokenSymbol         string  `json:"tokenSymbol"`
	TokenImage          string  `json:"tokenImage"`
	InvestedPriceUSD    float64 `json:"investedPrice_usd"`
	InvestedUSD         float64 `json:"invested_usd"`
	CurrentPriceUSD     float64 `json:"currentPrice_usd"`
	CurrentAmount       float64 `json:"currentAmount"`
	HoldingValueUSD     float64 `json:"holdingValue_usd"`
	SellingStep         int     `json:"sellingStep"`
	GrowthPercent       float64 `json:"growthPercent"`
	MarketCapUSD        float64 `json:"marketCap_usd"`
	RealizedProfitUSD   float64 `json:"realizedProfit_usd"`
	UnrealizedProfitUSD float64 `json:"unrealizedProfit_usd"`
}

func (s *Server) handleAssets(c *gin.Context) {
	positions := s.store.Snapshot()
	search := strings.ToLower(c.Query("search"))

	out := make([]assetView, 0, len(positions))
	for _, pos := range positions {
		if search != "" &&
			!strings.Contains(strings.ToLower(pos.TokenName), search) &&
			!strings.Contains(strings.ToLower(pos.TokenSymbol), search) &&
			!strings.Contains(strings.ToLower(pos.Mint), search) {
			continue
		}

		uiAmount := pos.CurrentAmountRaw / math.Pow10(position.TokenDecimals)
		view := assetView{
			Mint:              pos.Mint,
			TokenName:         pos.TokenName,
			TokenSymbol:       pos.TokenSymbol,
			TokenImage:        pos.TokenImage,
			InvestedPriceUSD:  pos.InvestedPriceUSD,
			InvestedUSD:       pos.InvestedUSD,
			CurrentAmount:     uiAmount,
			SellingStep:       pos.SellingStep,
			RealizedProfitUSD: pos.RealizedProfitUSD,
		}
		if quote, err := s.oracle.GetPrice(c.Request.Context(), pos.Mint); err == nil {
			view.CurrentPriceUSD = quote.PriceUSD
			view.MarketCapUSD = position.MarketCapUSD(quote.PriceUSD)
			view.HoldingValueUSD = quote.PriceUSD * uiAmount
			view.UnrealizedProfitUSD = (quote.PriceUSD - pos.InvestedPriceUSD) * uiAmount
			if pos.InvestedPriceUSD > 0 {
				view.GrowthPercent = pos.GrowthPercent(quote.PriceUSD)
			}
		}
		out = append(out, view)
	}

	sortAssets(out, c.DefaultQuery("sort", "holdingValue"), c.DefaultQuery("order", "desc") == "desc")

	total := len(out)
	offset := parseIntQuery(c, "offset", 0)
	limit := parseIntQuery(c, "limit", 50)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{"assets": out[offset:end], "total": total})
}

func sortAssets(assets []assetView, field string, desc bool) {
	key := func(a assetView) float64 {
		switch field {
		case "growth":
			return a.GrowthPercent
		case "invested":
			return a.InvestedUSD
		case "profit":
			return a.RealizedProfitUSD + a.UnrealizedProfitUSD
		default:
			return a.HoldingValueUSD
		}
	}
	sort.SliceStable(assets, func(i, j int) bool {
		if desc {
			return key(assets[i]) > key(assets[j])
		}
		return key(assets[i]) < key(assets[j])
	})
}

func (s *Server) handleTransactions(c *gin.Context) {
	filter := storage.TxFilter{
		Search:    c.Query("search"),
		SortField: c.DefaultQuery("sort", "tx_time"),
		SortDesc:  c.DefaultQuery("order", "desc") == "desc",
		Limit:     parseIntQuery(c, "limit", 50),
		Offset:    parseIntQuery(c, "offset", 0),
	}
	if v := c.Query("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = t
		}
	}
	if v := c.Query("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.EndTime = t
		}
	}

	fills, total, err := s.storage.ListFills(c.Request.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list transactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": fills, "total": total})
}

func (s *Server) handleUnreadAlerts(c *gin.Context) {
	alerts, err := s.storage.UnreadAlerts(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list alerts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleMarkAlertRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	if err := s.storage.MarkAlertRead(c.Request.Context(), uint(id)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark alert"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleMarkAllAlertsRead(c *gin.Context) {
	if err := s.storage.MarkAllAlertsRead(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark alerts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleStatus(c *gin.Context) {
	now := time.Now().UTC()
	balance, _ := s.wallet.SolBalance(c.Request.Context())

	c.JSON(http.StatusOK, gin.H{
		"isRunning":      s.settings.IsRunning(),
		"inWorkingHours": s.settings.InWorkingHours(now),
		"isSniping":      s.settings.IsSniping(now),
		"positions":      s.store.Len(),
		"walletBalance":  balance,
		"wallet":         s.wallet.String(),
		"recentActivity": s.activity.snapshot(),
	})
}

func (s *Server) handleStart(c *gin.Context) {
	if err := s.settings.SetRunning(c.Request.Context(), true); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"isRunning": true})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.settings.SetRunning(c.Request.Context(), false); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stop"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"isRunning": false})
}

func (s *Server) handleSell(c *gin.Context) {
	mint := c.Param("mint")
	err := s.monitor.ForceSell(c.Request.Context(), mint)
	if errors.Is(err, position.ErrNoPosition) {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	if err != nil {
		s.logger.Error("Forced sell failed",
			zap.String("mint", mint),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sold": mint})
}

func (s *Server) handleSellAll(c *gin.Context) {
	if err := s.monitor.ForceSellAll(c.Request.Context()); err != nil {
		s.logger.Error("Sell-all failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
