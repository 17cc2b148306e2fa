// internal/monitor/monitor_test.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rovshanmuradov/pump-sniper/internal/oracle"
	"github.com/rovshanmuradov/pump-sniper/internal/position"
	"github.com/rovshanmuradov/pump-sniper/internal/settings"
	"github.com/rovshanmuradov/pump-sniper/internal/storage"
	"github.com/rovshanmuradov/pump-sniper/internal/storage/models"
	"github.com/rovshanmuradov/pump-sniper/internal/swap"
	"github.com/rovshanmuradov/pump-sniper/internal/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testMint = "MintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStorage struct {
	storage.Storage
	mu    sync.Mutex
	fills []*models.Transaction
}

func (f *fakeStorage) LoadSettings(context.Context) (*models.BotSettings, error) {
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStorage) SaveSettings(context.Context, *models.BotSettings) error { return nil }

func (f *fakeStorage) AppendFill(_ context.Context, tx *models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, tx)
	return nil
}

func (f *fakeStorage) FillsByToken(_ context.Context, mint string) ([]*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transaction
	for _, tx := range f.fills {
		if tx.Mint == mint {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (f *fakeStorage) fillCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fills)
}

type fakeOracle struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (o *fakeOracle) GetPrice(_ context.Context, mint string) (oracle.Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return oracle.Quote{PriceUSD: o.prices[mint], Venue: oracle.VenuePumpfun}, nil
}

func (o *fakeOracle) Forget(string) {}

func (o *fakeOracle) setPrice(mint string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[mint] = price
}

type fakeExecutor struct {
	calls      atomic.Int32
	inFlight   atomic.Int32
	maxSeen    atomic.Int32
	block      chan struct{} // when non-nil, Execute waits on it
	blockMint  string        // when set, only this mint blocks
	failErr    error         // when set, Execute fails
	lastAmount atomic.Value
}

func (e *fakeExecutor) Execute(_ context.Context, req swap.Request) (*swap.Fill, error) {
	e.calls.Add(1)
	cur := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		max := e.maxSeen.Load()
		if cur <= max || e.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if e.block != nil && (e.blockMint == "" || req.Mint == e.blockMint) {
		<-e.block
	}
	if e.failErr != nil {
		return nil, e.failErr
	}
	e.lastAmount.Store(req.AmountRaw)
	return &swap.Fill{
		TxHash:    "tx-sell",
		Venue:     oracle.VenuePumpfun,
		PriceUSD:  req.PriceHintUSD,
		InAmount:  req.AmountRaw,
		OutAmount: 1,
	}, nil
}

type fakeWallet struct{}

func (fakeWallet) TokenHoldings(context.Context) ([]wallet.TokenHolding, error) { return nil, nil }
func (fakeWallet) InvalidateBalance()                                           {}

type fakeWatcher struct {
	mu        sync.Mutex
	onChange  map[string]func()
	watches   int
	unwatched []string
	closed    bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{onChange: make(map[string]func())}
}

func (w *fakeWatcher) Watch(mint string, onChange func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange[mint] = onChange
	w.watches++
}

func (w *fakeWatcher) Unwatch(mint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.onChange, mint)
	w.unwatched = append(w.unwatched, mint)
}

func (w *fakeWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *fakeWatcher) fire(mint string) {
	w.mu.Lock()
	fn := w.onChange[mint]
	w.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (w *fakeWatcher) watching(mint string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.onChange[mint]
	return ok
}

type fixture struct {
	monitor  *Monitor
	store    *position.Store
	oracle   *fakeOracle
	executor *fakeExecutor
	storage  *fakeStorage
	watcher  *fakeWatcher
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	db := &fakeStorage{}
	svc, err := settings.NewService(context.Background(), db, zap.NewNop())
	require.NoError(t, err)

	priceOracle := &fakeOracle{prices: make(map[string]float64)}
	exec := &fakeExecutor{}
	store := position.NewStore(clock, zap.NewNop())
	watcher := newFakeWatcher()

	m := New(Config{
		Store:    store,
		Oracle:   priceOracle,
		Executor: exec,
		Settings: svc,
		Storage:  db,
		Wallet:   fakeWallet{},
		Watcher:  watcher,
		Clock:    clock,
		Logger:   zap.NewNop(),
	})

	return &fixture{
		monitor:  m,
		store:    store,
		oracle:   priceOracle,
		executor: exec,
		storage:  db,
		watcher:  watcher,
		clock:    clock,
	}
}

func (f *fixture) seed(t *testing.T, mint string, investedPrice, amountRaw float64) {
	t.Helper()
	_, err := f.store.SeedFromFill(position.SeedRequest{
		Mint:          mint,
		TokenSymbol:   "TEST",
		FillPriceUSD:  investedPrice,
		FillAmountRaw: amountRaw,
		// Zero duration disables the stagnation window for the test.
		Stagnation: settings.StagnationRule{PercentValue: 10, DurationSec: 0},
		Timestamp:  f.clock.Now(),
	})
	require.NoError(t, err)
}

func TestEvaluateExecutesStagedSell(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.12) // +12%: rules 0 and 1 fire

	f.monitor.evaluate(context.Background(), testMint, false)

	assert.Equal(t, int32(1), f.executor.calls.Load())
	assert.InDelta(t, 300.0, f.executor.lastAmount.Load().(float64), 1e-9)

	pos, ok := f.store.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, 2, pos.SellingStep)
	assert.InDelta(t, 700.0, pos.CurrentAmountRaw, 1e-9)
	assert.Equal(t, 1, f.storage.fillCount())
}

func TestEvaluateSingleFlightPerToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.12)
	f.executor.block = make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Force bypasses the debounce so the claim is what is tested.
			f.monitor.evaluate(context.Background(), testMint, true)
		}()
	}

	// Let both goroutines reach the claim before unblocking.
	time.Sleep(100 * time.Millisecond)
	close(f.executor.block)
	wg.Wait()

	assert.Equal(t, int32(1), f.executor.calls.Load())
}

func TestEvaluateConcurrencyBound(t *testing.T) {
	f := newFixture(t)
	mints := []string{
		"Mint1AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"Mint2AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"Mint3AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		"Mint4AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
	}
	for _, mint := range mints {
		f.seed(t, mint, 1.0, 1000)
		f.oracle.setPrice(mint, 1.12)
	}
	f.executor.block = make(chan struct{})

	var wg sync.WaitGroup
	for _, mint := range mints {
		wg.Add(1)
		go func(m string) {
			defer wg.Done()
			f.monitor.evaluate(context.Background(), m, true)
		}(mint)
	}

	time.Sleep(200 * time.Millisecond)
	close(f.executor.block)
	wg.Wait()

	assert.LessOrEqual(t, f.executor.maxSeen.Load(), int32(maxConcurrentEvals))
	// The token over the bound is skipped, not queued.
	assert.Equal(t, int32(maxConcurrentEvals), f.executor.calls.Load())
}

func TestEvaluateCooldownAfterSell(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.12)

	f.monitor.evaluate(context.Background(), testMint, false)
	require.Equal(t, int32(1), f.executor.calls.Load())

	// Inside the cooldown nothing runs, debounce aside.
	f.clock.advance(2 * time.Second)
	f.oracle.setPrice(testMint, 1.35)
	f.monitor.evaluate(context.Background(), testMint, false)
	assert.Equal(t, int32(1), f.executor.calls.Load())

	// Past the cooldown the next step fires.
	f.clock.advance(2 * time.Second)
	f.monitor.evaluate(context.Background(), testMint, false)
	assert.Equal(t, int32(2), f.executor.calls.Load())
}

func TestFailureCooldownOutlastsSuccessCooldown(t *testing.T) {
	require.Greater(t, cooldownAfterFail, cooldownAfterSell)

	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.12)
	f.executor.failErr = errors.New("venue down")

	f.monitor.evaluate(context.Background(), testMint, false)
	require.Equal(t, int32(1), f.executor.calls.Load())

	// A success would be allowed again by now; the failure still backs off.
	f.clock.advance(4 * time.Second)
	f.monitor.evaluate(context.Background(), testMint, false)
	assert.Equal(t, int32(1), f.executor.calls.Load())

	f.clock.advance(2 * time.Second)
	f.monitor.evaluate(context.Background(), testMint, false)
	assert.Equal(t, int32(2), f.executor.calls.Load())
}

func TestDebouncedTriggersCoalesceIntoTrailingPass(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.02) // no rule fires yet

	f.monitor.evaluate(context.Background(), testMint, false)
	require.Equal(t, int32(0), f.executor.calls.Load())

	// A burst inside the debounce window arms exactly one trailing pass.
	f.oracle.setPrice(testMint, 1.12)
	f.monitor.evaluate(context.Background(), testMint, false)
	f.monitor.evaluate(context.Background(), testMint, false)
	assert.Equal(t, int32(0), f.executor.calls.Load())

	// When the window closes the trailing pass reads the latest price.
	f.clock.advance(evalDebounce)
	require.Eventually(t, func() bool {
		return f.executor.calls.Load() == 1
	}, 4*time.Second, 20*time.Millisecond)
	assert.InDelta(t, 300.0, f.executor.lastAmount.Load().(float64), 1e-9)
}

func TestSweepDoesNotSerializeOnASlowToken(t *testing.T) {
	f := newFixture(t)
	slow := "Mint1AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	fast := "Mint2AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	for _, mint := range []string{slow, fast} {
		f.seed(t, mint, 1.0, 1000)
		f.oracle.setPrice(mint, 1.12)
	}
	f.executor.block = make(chan struct{})
	f.executor.blockMint = slow

	f.monitor.sweep(context.Background())

	// The fast token completes while the slow one is still confirming.
	require.Eventually(t, func() bool {
		pos, ok := f.store.Get(fast)
		return ok && pos.SellingStep == 2
	}, 2*time.Second, 10*time.Millisecond)

	close(f.executor.block)
	require.Eventually(t, func() bool {
		pos, ok := f.store.Get(slow)
		return ok && pos.SellingStep == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerWatchesAccountOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.0) // no rule fires

	f.monitor.Trigger(context.Background(), testMint)
	f.monitor.Trigger(context.Background(), testMint)

	assert.True(t, f.watcher.watching(testMint))
	f.watcher.mu.Lock()
	watches := f.watcher.watches
	f.watcher.mu.Unlock()
	assert.Equal(t, 1, watches)
}

func TestAccountChangeDrivesEvaluation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.02) // below any rule

	f.monitor.Trigger(context.Background(), testMint)
	require.True(t, f.watcher.watching(testMint))
	require.Eventually(t, func() bool {
		f.monitor.mu.Lock()
		defer f.monitor.mu.Unlock()
		_, ok := f.monitor.lastEval[testMint]
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// The curve moves: the subscription fires and the policy runs again.
	f.clock.advance(evalDebounce + time.Second)
	f.oracle.setPrice(testMint, 1.12)
	f.watcher.fire(testMint)

	require.Eventually(t, func() bool {
		return f.executor.calls.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 300.0, f.executor.lastAmount.Load().(float64), 1e-9)
}

func TestRetireUnwatchesAccount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 0.5) // stop loss, terminal

	f.monitor.Trigger(context.Background(), testMint)

	require.Eventually(t, func() bool {
		return !f.store.Has(testMint)
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, f.watcher.watching(testMint))
	f.watcher.mu.Lock()
	unwatched := append([]string(nil), f.watcher.unwatched...)
	f.watcher.mu.Unlock()
	assert.Contains(t, unwatched, testMint)
}

func TestStopClosesWatcher(t *testing.T) {
	f := newFixture(t)
	f.monitor.Start(context.Background())
	f.monitor.Stop()

	f.watcher.mu.Lock()
	closed := f.watcher.closed
	f.watcher.mu.Unlock()
	assert.True(t, closed)
}

func TestTerminalSellRetiresPosition(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 0.5) // -50%: stop loss

	f.monitor.evaluate(context.Background(), testMint, false)

	assert.Equal(t, int32(1), f.executor.calls.Load())
	assert.False(t, f.store.Has(testMint))
	require.Equal(t, 1, f.storage.fillCount())
	assert.Equal(t, models.SwapSell, f.storage.fills[0].Swap)
	assert.Negative(t, f.storage.fills[0].ProfitUSD)
}

func TestForceSellLiquidatesRegardlessOfPolicy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, testMint, 1.0, 1000)
	f.oracle.setPrice(testMint, 1.0) // no policy rule would fire

	require.NoError(t, f.monitor.ForceSell(context.Background(), testMint))

	assert.Equal(t, int32(1), f.executor.calls.Load())
	assert.InDelta(t, 1000.0, f.executor.lastAmount.Load().(float64), 1e-9)
	assert.False(t, f.store.Has(testMint))
}

func TestForceSellUnknownToken(t *testing.T) {
	f := newFixture(t)
	err := f.monitor.ForceSell(context.Background(), testMint)
	assert.ErrorIs(t, err, position.ErrNoPosition)
}

func TestSyncWalletAdoptsLedgerBackedHolding(t *testing.T) {
	f := newFixture(t)
	bought := f.clock.Now().Add(-time.Hour)
	require.NoError(t, f.storage.AppendFill(context.Background(), &models.Transaction{
		Mint: testMint, Swap: models.SwapBuy, PriceUSD: 1.0, AmountRaw: 1000,
		TokenSymbol: "TEST", TxTime: bought,
	}))
	f.oracle.setPrice(testMint, 1.1)

	f.monitor.adopt(context.Background(), testMint, 900)

	pos, ok := f.store.Get(testMint)
	require.True(t, ok)
	assert.InDelta(t, 900.0, pos.CurrentAmountRaw, 1e-9)
	assert.Equal(t, 0, pos.SellingStep)
}

func TestSyncWalletIgnoresForeignTokens(t *testing.T) {
	f := newFixture(t)
	// No ledger entry for this mint: the bot never bought it.
	f.monitor.adopt(context.Background(), testMint, 500)
	assert.False(t, f.store.Has(testMint))
}
