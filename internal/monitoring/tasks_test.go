package monitoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/binance"
	"cohort-trading-bot/internal/hybrid"
)

type fakeNotifier struct {
	sent   []string
	forced []bool
}

func (f *fakeNotifier) Send(text string, force bool) error {
	f.sent = append(f.sent, text)
	f.forced = append(f.forced, force)
	return nil
}

type fakeVenue struct {
	openOrders map[string][]binance.OpenOrder
	balance    float64
}

func (f *fakeVenue) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	return nil, nil
}
func (f *fakeVenue) GetCurrentPrice(symbol string) (float64, error) { return 100, nil }
func (f *fakeVenue) GetOpenOrders(symbol string) ([]binance.OpenOrder, error) {
	return f.openOrders[symbol], nil
}
func (f *fakeVenue) PlaceOrder(symbol, side string, quantity, price float64) (int64, error) {
	return 0, nil
}
func (f *fakeVenue) CancelOrder(symbol string, orderID int64) error { return nil }
func (f *fakeVenue) GetAccountBalance(asset string) (float64, error) {
	return f.balance, nil
}

func writeGrid(t *testing.T, dir, cohortName string, g *hybrid.GridState) {
	t.Helper()
	if err := hybrid.SaveGridState(dir, cohortName, g); err != nil {
		t.Fatal(err)
	}
}

// ============================================================================
// TEST: Reconciliation
// ============================================================================

func TestReconcileOrders_DetectsOrphansAndUnknowns(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, "balanced", &hybrid.GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]hybrid.GridOrder{
			"100": {Type: "BUY", Price: 49000, Quantity: 0.001, CreatedAt: time.Now()},
			"101": {Type: "SELL", Price: 51000, Quantity: 0.001, CreatedAt: time.Now()},
		},
	})

	venue := &fakeVenue{
		balance: 1000,
		openOrders: map[string][]binance.OpenOrder{
			// 100 rests, 101 is gone (orphan), 999 is unknown.
			"BTCUSDT": {
				{OrderID: 100, Symbol: "BTCUSDT", Side: "BUY"},
				{OrderID: 999, Symbol: "BTCUSDT", Side: "SELL"},
			},
		},
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(dir, venue, nil, notifier, false, zerolog.Nop())

	tasks.ReconcileOrders()

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "Orphans (state only): 1") {
		t.Errorf("orphan count missing: %s", notifier.sent[0])
	}
	if !strings.Contains(notifier.sent[0], "Unknown (venue only): 1") {
		t.Errorf("unknown count missing: %s", notifier.sent[0])
	}
	if !notifier.forced[0] {
		t.Error("reconciliation alerts must be forced")
	}
}

func TestReconcileOrders_CleanStateNoAlert(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, "balanced", &hybrid.GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]hybrid.GridOrder{
			"100": {Type: "BUY", Price: 49000, Quantity: 0.001, CreatedAt: time.Now()},
		},
	})

	venue := &fakeVenue{
		openOrders: map[string][]binance.OpenOrder{
			"BTCUSDT": {{OrderID: 100, Symbol: "BTCUSDT", Side: "BUY"}},
		},
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(dir, venue, nil, notifier, false, zerolog.Nop())

	tasks.ReconcileOrders()
	if len(notifier.sent) != 0 {
		t.Errorf("expected no alert, got %v", notifier.sent)
	}
}

// ============================================================================
// TEST: Plausibility
// ============================================================================

func TestPortfolioPlausibility_NegativeAllocation(t *testing.T) {
	dir := t.TempDir()
	if err := hybrid.SaveState(dir, "balanced", &hybrid.State{
		Mode:          hybrid.ModeGrid,
		ModeEnteredAt: time.Now(),
		Symbols: map[string]*hybrid.SymbolState{
			"BTCUSDT": {AllocationUSD: -50},
		},
	}); err != nil {
		t.Fatal(err)
	}

	notifier := &fakeNotifier{}
	tasks := NewTasks(dir, &fakeVenue{balance: 1000}, nil, notifier, false, zerolog.Nop())

	tasks.PortfolioPlausibility()
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "negative allocation") {
		t.Errorf("expected negative allocation alert, got %v", notifier.sent)
	}
}

func TestPortfolioPlausibility_ZeroBalance(t *testing.T) {
	dir := t.TempDir()
	if err := hybrid.SaveState(dir, "balanced", &hybrid.State{
		Mode:          hybrid.ModeGrid,
		ModeEnteredAt: time.Now(),
		Symbols:       map[string]*hybrid.SymbolState{"BTCUSDT": {AllocationUSD: 100}},
	}); err != nil {
		t.Fatal(err)
	}

	notifier := &fakeNotifier{}
	tasks := NewTasks(dir, &fakeVenue{balance: 0}, nil, notifier, false, zerolog.Nop())

	tasks.PortfolioPlausibility()
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "USDT balance") {
		t.Errorf("expected balance alert, got %v", notifier.sent)
	}
}

// ============================================================================
// TEST: Grid health
// ============================================================================

func TestGridHealthSummary_FailedFollowupAlert(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, "balanced", &hybrid.GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]hybrid.GridOrder{
			"42": {Type: "BUY", Price: 50000, Quantity: 0.001, CreatedAt: time.Now(), FailedFollowup: true},
		},
	})

	notifier := &fakeNotifier{}
	tasks := NewTasks(dir, &fakeVenue{}, nil, notifier, false, zerolog.Nop())

	tasks.GridHealthSummary()
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "balanced:BTCUSDT (1 failed)") {
		t.Errorf("alert missing failed grid: %s", notifier.sent[0])
	}
}

func TestGridHealthSummary_HealthyGridsSilent(t *testing.T) {
	dir := t.TempDir()
	writeGrid(t, dir, "balanced", &hybrid.GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]hybrid.GridOrder{
			"42": {Type: "BUY", Price: 50000, Quantity: 0.001, CreatedAt: time.Now()},
		},
	})

	notifier := &fakeNotifier{}
	tasks := NewTasks(dir, &fakeVenue{}, nil, notifier, false, zerolog.Nop())

	tasks.GridHealthSummary()
	if len(notifier.sent) != 0 {
		t.Errorf("healthy grids must not alert, got %v", notifier.sent)
	}
}

// ============================================================================
// TEST: Stale detection
// ============================================================================

func TestStaleDetection(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	writeGrid(t, dir, "balanced", &hybrid.GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]hybrid.GridOrder{
			"1": {Type: "BUY", Price: 49000, Quantity: 0.001, CreatedAt: now.Add(-45 * time.Minute)},
		},
	})

	notifier := &fakeNotifier{}
	tasks := NewTasks(dir, &fakeVenue{}, nil, notifier, false, zerolog.Nop())
	tasks.now = func() time.Time { return now }

	tasks.StaleDetection()
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "Stale Detection Warning") {
		t.Fatalf("expected stale alert, got %v", notifier.sent)
	}

	// Fresh activity stays silent.
	writeGrid(t, dir, "balanced", &hybrid.GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]hybrid.GridOrder{
			"2": {Type: "BUY", Price: 49000, Quantity: 0.001, CreatedAt: now.Add(-5 * time.Minute)},
		},
	})
	notifier.sent = nil
	tasks.StaleDetection()
	if len(notifier.sent) != 0 {
		t.Errorf("fresh activity must not alert, got %v", notifier.sent)
	}
}

// ============================================================================
// TEST: Tier health
// ============================================================================

type fakeHealthStore struct {
	tiers         []TierStatus
	trades24h     int
	lastDiscovery *time.Time
	total         int
	approved      int
	idleCoins     []string
}

func (f *fakeHealthStore) LastDiscoveryAt(ctx context.Context) (*time.Time, error) {
	return f.lastDiscovery, nil
}

func (f *fakeHealthStore) DiscoveryApprovalRate(ctx context.Context) (int, int, error) {
	return f.total, f.approved, nil
}

func (f *fakeHealthStore) IdleDiscoveredCoins(ctx context.Context) ([]string, error) {
	return f.idleCoins, nil
}

func (f *fakeHealthStore) TradesInLast24h(ctx context.Context) (int, error) {
	return f.trades24h, nil
}

func (f *fakeHealthStore) PortfolioTiers(ctx context.Context) ([]TierStatus, error) {
	return f.tiers, nil
}

func TestTierHealthCheck_DriftAlerts(t *testing.T) {
	store := &fakeHealthStore{
		tiers: []TierStatus{
			{TierName: "index_core", TargetPct: 60, CurrentPct: 66.5},
			{TierName: "trading", TargetPct: 30, CurrentPct: 28},
			{TierName: "cash_reserve", TargetPct: 10, CurrentPct: 5.5},
		},
		trades24h: 3,
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, store, notifier, true, zerolog.Nop())

	tasks.TierHealthCheck()
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "index_core: 66.5% vs target 60.0% (drift 6.5pp)") {
		t.Errorf("drift issue missing: %s", notifier.sent[0])
	}
	if strings.Contains(notifier.sent[0], "trading:") {
		t.Errorf("2pp drift must not alert: %s", notifier.sent[0])
	}
}

func TestTierHealthCheck_LowCashReserve(t *testing.T) {
	store := &fakeHealthStore{
		tiers: []TierStatus{
			{TierName: "cash_reserve", TargetPct: 5, CurrentPct: 2.1},
		},
		trades24h: 3,
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, store, notifier, true, zerolog.Nop())

	tasks.TierHealthCheck()
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "Cash reserve critically low: 2.1%") {
		t.Errorf("expected cash reserve alert, got %v", notifier.sent)
	}
}

func TestTierHealthCheck_NoTradeActivity(t *testing.T) {
	store := &fakeHealthStore{
		tiers: []TierStatus{
			{TierName: "trading", TargetPct: 30, CurrentPct: 31},
		},
		trades24h: 0,
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, store, notifier, true, zerolog.Nop())

	tasks.TierHealthCheck()
	if len(notifier.sent) != 1 || !strings.Contains(notifier.sent[0], "No trading activity in last 24h") {
		t.Errorf("expected trade activity alert, got %v", notifier.sent)
	}
}

func TestTierHealthCheck_HealthySilent(t *testing.T) {
	store := &fakeHealthStore{
		tiers: []TierStatus{
			{TierName: "index_core", TargetPct: 60, CurrentPct: 58},
			{TierName: "cash_reserve", TargetPct: 10, CurrentPct: 9},
		},
		trades24h: 5,
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, store, notifier, true, zerolog.Nop())

	tasks.TierHealthCheck()
	if len(notifier.sent) != 0 {
		t.Errorf("healthy tiers must not alert, got %v", notifier.sent)
	}
}

func TestTierHealthCheck_OptIn(t *testing.T) {
	store := &fakeHealthStore{trades24h: 0}
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, store, notifier, false, zerolog.Nop())

	tasks.TierHealthCheck()
	if len(notifier.sent) != 0 {
		t.Errorf("disabled check must stay silent, got %v", notifier.sent)
	}
}

// ============================================================================
// TEST: Discovery health
// ============================================================================

func TestDiscoveryHealthCheck_StaleAndSkewedApproval(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-72 * time.Hour)
	store := &fakeHealthStore{
		lastDiscovery: &last,
		total:         12,
		approved:      12,
		idleCoins:     []string{"PEPEUSDT"},
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, store, notifier, false, zerolog.Nop())
	tasks.now = func() time.Time { return now }

	tasks.DiscoveryHealthCheck()
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(notifier.sent))
	}
	if !strings.Contains(notifier.sent[0], "Last discovery was 72h ago (>48h)") {
		t.Errorf("stale discovery issue missing: %s", notifier.sent[0])
	}
	if !strings.Contains(notifier.sent[0], "AI approval rate 100% over 12 decisions") {
		t.Errorf("approval rate issue missing: %s", notifier.sent[0])
	}
	if !strings.Contains(notifier.sent[0], "Coins with no trades after 7d: PEPEUSDT") {
		t.Errorf("idle coin issue missing: %s", notifier.sent[0])
	}
}

func TestDiscoveryHealthCheck_HealthySilent(t *testing.T) {
	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	last := now.Add(-6 * time.Hour)
	store := &fakeHealthStore{
		lastDiscovery: &last,
		total:         20,
		approved:      9,
	}
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, store, notifier, false, zerolog.Nop())
	tasks.now = func() time.Time { return now }

	tasks.DiscoveryHealthCheck()
	if len(notifier.sent) != 0 {
		t.Errorf("healthy pipeline must not alert, got %v", notifier.sent)
	}
}

func TestDiscoveryHealthCheck_NoDiscoveriesYet(t *testing.T) {
	notifier := &fakeNotifier{}
	tasks := NewTasks(t.TempDir(), &fakeVenue{}, &fakeHealthStore{}, notifier, false, zerolog.Nop())

	tasks.DiscoveryHealthCheck()
	if len(notifier.sent) != 0 {
		t.Errorf("empty table must stay silent, got %v", notifier.sent)
	}
}
