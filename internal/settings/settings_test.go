// internal/settings/settings_test.go
package settings

import (
	"context"
	"testing"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSettingsStore struct {
	storage.Storage
	saved *models.BotSettings
	row   *models.BotSettings
}

func (f *fakeSettingsStore) LoadSettings(context.Context) (*models.BotSettings, error) {
	if f.row == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.row, nil
}

func (f *fakeSettingsStore) SaveSettings(_ context.Context, s *models.BotSettings) error {
	f.saved = s
	return nil
}

func TestNewServiceWritesDefaultsWhenEmpty(t *testing.T) {
	store := &fakeSettingsStore{}
	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, store.saved)

	assert.False(t, svc.IsRunning())
	assert.Equal(t, 30*time.Second, svc.BuyInterval())
	assert.Equal(t, 2*time.Second, svc.SellInterval())

	sell := svc.Sell()
	require.Len(t, sell.SaleRules, 4)
	assert.InDelta(t, 30.0, sell.LossExitPercent, 1e-9)
	assert.InDelta(t, 10.0, sell.Stagnation.PercentValue, 1e-9)
	assert.Equal(t, 30, sell.Stagnation.DurationSec)

	buy := svc.Buy()
	assert.True(t, buy.MarketCap.Enabled)
	assert.InDelta(t, 8000.0, buy.MarketCap.Min, 1e-9)
	assert.InDelta(t, 15000.0, buy.MarketCap.Max, 1e-9)
	assert.True(t, buy.Age.Enabled)
	assert.Equal(t, 30, buy.Age.End)
}

func TestNewServiceLoadsStoredSettings(t *testing.T) {
	store := &fakeSettingsStore{row: &models.BotSettings{
		MainConfig: []byte(`{"isRunning":true,"workingHours":{"start":"00:00","end":"23:59","enabled":false},"buyIntervalTime":10,"sellIntervalTime":1}`),
		BuyConfig:  []byte(`{"marketCap":{"min":5000,"max":20000,"enabled":true}}`),
		SellConfig: []byte(`{"saleRules":[{"percent":50,"revenue":20}],"lossExitPercent":40,"mcChange":{"percentValue":5,"duration":60}}`),
	}}

	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	assert.True(t, svc.IsRunning())
	assert.Equal(t, 10*time.Second, svc.BuyInterval())
	require.Len(t, svc.Sell().SaleRules, 1)
	assert.InDelta(t, 40.0, svc.Sell().LossExitPercent, 1e-9)
}

func TestSellReturnsDeepCopy(t *testing.T) {
	store := &fakeSettingsStore{}
	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	sell := svc.Sell()
	sell.SaleRules[0].SellPercent = 99

	assert.InDelta(t, 10.0, svc.Sell().SaleRules[0].SellPercent, 1e-9)
}

func TestSetRunningPersists(t *testing.T) {
	store := &fakeSettingsStore{}
	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	store.saved = nil
	require.NoError(t, svc.SetRunning(context.Background(), true))
	assert.True(t, svc.IsRunning())
	assert.NotNil(t, store.saved)

	// No-op when the flag is unchanged.
	store.saved = nil
	require.NoError(t, svc.SetRunning(context.Background(), true))
	assert.Nil(t, store.saved)
}

func TestInWorkingHours(t *testing.T) {
	store := &fakeSettingsStore{}
	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	// Default window is 05:00 to 21:30 UTC.
	inside := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	before := time.Date(2026, 8, 1, 4, 59, 0, 0, time.UTC)
	after := time.Date(2026, 8, 1, 21, 30, 0, 0, time.UTC)

	assert.True(t, svc.InWorkingHours(inside))
	assert.False(t, svc.InWorkingHours(before))
	assert.False(t, svc.InWorkingHours(after))
}

func TestInWorkingHoursWrapsMidnight(t *testing.T) {
	store := &fakeSettingsStore{}
	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	main := svc.Main()
	main.WorkingHours = WorkingHours{Start: "22:00", End: "03:00", Enabled: true}
	require.NoError(t, svc.SetMain(context.Background(), main))

	assert.True(t, svc.InWorkingHours(time.Date(2026, 8, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, svc.InWorkingHours(time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)))
	assert.False(t, svc.InWorkingHours(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)))
}

func TestInWorkingHoursDisabledAlwaysPasses(t *testing.T) {
	store := &fakeSettingsStore{}
	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	main := svc.Main()
	main.WorkingHours.Enabled = false
	require.NoError(t, svc.SetMain(context.Background(), main))

	assert.True(t, svc.InWorkingHours(time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)))
}

func TestIsSnipingRequiresBoth(t *testing.T) {
	store := &fakeSettingsStore{}
	svc, err := NewService(context.Background(), store, zap.NewNop())
	require.NoError(t, err)

	inside := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, svc.IsSniping(inside)) // not running

	require.NoError(t, svc.SetRunning(context.Background(), true))
	assert.True(t, svc.IsSniping(inside))

	outside := time.Date(2026, 8, 1, 23, 0, 0, 0, time.UTC)
	assert.False(t, svc.IsSniping(outside))
}
