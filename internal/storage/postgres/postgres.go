// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger adapts zap to the gorm logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresStorage implements the Storage interface.
type postgresStorage struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Storage, error) {
	gormLogger := newGormLogger(zapLogger.Named("gorm"))

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStorage{
		db:     db,
		logger: zapLogger,
	}, nil
}

func (p *postgresStorage) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(101)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(101)")

	err = p.db.AutoMigrate(
		&models.Transaction{},
		&models.BotSettings{},
		&models.Alert{},
		&models.Token{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (p *postgresStorage) AppendFill(ctx context.Context, tx *models.Transaction) error {
	return p.db.WithContext(ctx).Create(tx).Error
}

func (p *postgresStorage) FillsByToken(ctx context.Context, mint string) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := p.db.WithContext(ctx).
		Where("mint = ?", mint).
		Order("tx_time asc").
		Find(&txs).Error
	return txs, err
}

func (p *postgresStorage) LatestBuy(ctx context.Context, mint string) (*models.Transaction, error) {
	return p.latestBySwap(ctx, mint, models.SwapBuy)
}

func (p *postgresStorage) LatestSell(ctx context.Context, mint string) (*models.Transaction, error) {
	return p.latestBySwap(ctx, mint, models.SwapSell)
}

func (p *postgresStorage) latestBySwap(ctx context.Context, mint, swap string) (*models.Transaction, error) {
	var tx models.Transaction
	err := p.db.WithContext(ctx).
		Where("mint = ? AND swap = ?", mint, swap).
		Order("tx_time desc").
		First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (p *postgresStorage) CountFills(ctx context.Context, mint string) (int64, error) {
	var count int64
	err := p.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("mint = ?", mint).
		Count(&count).Error
	return count, err
}

// sortableTxColumns guards ORDER BY input from the API.
var sortableTxColumns = map[string]string{
	"tx_time":        "tx_time",
	"price":          "price_usd",
	"amount":         "amount_raw",
	"profit":         "profit_usd",
	"profit_percent": "profit_percent",
	"market_cap":     "market_cap_usd",
}

func (p *postgresStorage) ListFills(ctx context.Context, filter storage.TxFilter) ([]*models.Transaction, int64, error) {
	query := p.db.WithContext(ctx).Model(&models.Transaction{})

	if filter.Search != "" {
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where(
			"LOWER(mint) LIKE ? OR LOWER(tx_hash) LIKE ? OR LOWER(token_name) LIKE ? OR LOWER(token_symbol) LIKE ?",
			pattern, pattern, pattern, pattern)
	}
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() {
		query = query.Where("tx_time BETWEEN ? AND ?", filter.StartTime, filter.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	column, ok := sortableTxColumns[filter.SortField]
	if !ok {
		column = "tx_time"
	}
	direction := "asc"
	if filter.SortDesc {
		direction = "desc"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var txs []*models.Transaction
	err := query.
		Order(column + " " + direction).
		Limit(limit).
		Offset(filter.Offset).
		Find(&txs).Error
	return txs, total, err
}

func (p *postgresStorage) LoadSettings(ctx context.Context) (*models.BotSettings, error) {
	var settings models.BotSettings
	err := p.db.WithContext(ctx).First(&settings).Error
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (p *postgresStorage) SaveSettings(ctx context.Context, settings *models.BotSettings) error {
	var existing models.BotSettings
	err := p.db.WithContext(ctx).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p.db.WithContext(ctx).Create(settings).Error
	}
	if err != nil {
		return err
	}
	settings.ID = existing.ID
	return p.db.WithContext(ctx).Save(settings).Error
}

func (p *postgresStorage) SaveAlert(ctx context.Context, alert *models.Alert) error {
	return p.db.WithContext(ctx).Create(alert).Error
}

func (p *postgresStorage) UnreadAlerts(ctx context.Context) ([]*models.Alert, error) {
	var alerts []*models.Alert
	err := p.db.WithContext(ctx).
		Where("is_read = ?", false).
		Order("time desc").
		Find(&alerts).Error
	return alerts, err
}

func (p *postgresStorage) MarkAlertRead(ctx context.Context, id uint) error {
	return p.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", id).
		Update("is_read", true).Error
}

func (p *postgresStorage) MarkAllAlertsRead(ctx context.Context) error {
	return p.db.WithContext(ctx).Model(&models.Alert{}).
		Where("is_read = ?", false).
		Update("is_read", true).Error
}

func (p *postgresStorage) SaveToken(ctx context.Context, token *models.Token) error {
	return p.db.WithContext(ctx).
		Where(models.Token{Mint: token.Mint}).
		Assign(models.Token{Name: token.Name, Symbol: token.Symbol, DetectedAt: token.DetectedAt}).
		FirstOrCreate(token).Error
}

func (p *postgresStorage) RecentTokenBySymbol(ctx context.Context, symbol string, since time.Time) (*models.Token, error) {
	var token models.Token
	err := p.db.WithContext(ctx).
		Where("symbol = ? AND detected_at >= ?", symbol, since).
		Order("detected_at desc").
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// No prior launch with this symbol is not an error.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}
