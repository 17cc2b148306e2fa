// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
)

// TxFilter narrows ledger listings for the reporting API.
type TxFilter struct {
	Search    string
	StartTime time.Time
	EndTime   time.Time
	SortField string
	SortDesc  bool
	Limit     int
	Offset    int
}

// Storage is the durable layer behind the ledger, settings, alerts and
// the token registry.
type Storage interface {
	// Ledger
	AppendFill(ctx context.Context, tx *models.Transaction) error
	FillsByToken(ctx context.Context, mint string) ([]*models.Transaction, error)
	LatestBuy(ctx context.Context, mint string) (*models.Transaction, error)
	LatestSell(ctx context.Context, mint string) (*models.Transaction, error)
	CountFills(ctx context.Context, mint string) (int64, error)
	ListFills(ctx context.Context, filter TxFilter) ([]*models.Transaction, int64, error)

	// Settings
	LoadSettings(ctx context.Context) (*models.BotSettings, error)
	SaveSettings(ctx context.Context, settings *models.BotSettings) error

	// Alerts
	SaveAlert(ctx context.Context, alert *models.Alert) error
	UnreadAlerts(ctx context.Context) ([]*models.Alert, error)
	MarkAlertRead(ctx context.Context, id uint) error
	MarkAllAlertsRead(ctx context.Context) error

	// Token registry
	SaveToken(ctx context.Context, token *models.Token) error
	RecentTokenBySymbol(ctx context.Context, symbol string, since time.Time) (*models.Token, error)

	// Migrations
	RunMigrations() error
}
