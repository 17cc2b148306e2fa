// internal/storage/models/transaction.go
package models

import "time"

// Swap directions recorded in the ledger.
const (
	SwapBuy  = "BUY"
	SwapSell = "SELL"
)

// Transaction is one confirmed fill in the append-only ledger.
type Transaction struct {
	BaseModel
	TxHash        string    `gorm:"uniqueIndex;not null;type:varchar(120)" json:"txHash"`
	Mint          string    `gorm:"index;not null;type:varchar(44)" json:"mint"`
	TokenName     string    `gorm:"type:varchar(100)" json:"tokenName"`
	TokenSymbol   string    `gorm:"index;type:varchar(30)" json:"tokenSymbol"`
	TokenImage    string    `gorm:"type:text" json:"tokenImage"`
	Swap          string    `gorm:"not null;type:varchar(4)" json:"swap"`
	PriceUSD      float64   `gorm:"type:decimal(30,15)" json:"swapPrice_usd"`
	AmountRaw     float64   `gorm:"type:decimal(30,6)" json:"swapAmount"`
	FeeUSD        float64   `gorm:"type:decimal(20,9)" json:"swapFee_usd"`
	MarketCapUSD  float64   `gorm:"type:decimal(20,4)" json:"swapMC_usd"`
	ProfitUSD     float64   `gorm:"type:decimal(20,6)" json:"swapProfit_usd"`
	ProfitPercent float64   `gorm:"type:decimal(12,4)" json:"swapProfitPercent_usd"`
	Dex           string    `gorm:"type:varchar(20)" json:"dex"`
	TxTime        time.Time `gorm:"index" json:"txTime"`
}
