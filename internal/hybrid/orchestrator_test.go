package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/binance"
	"cohort-trading-bot/internal/cohort"
	"cohort-trading-bot/internal/regime"
	"cohort-trading-bot/internal/risk"
	"cohort-trading-bot/internal/signals"
)

// fakeVenue is a scriptable venue client.
type fakeVenue struct {
	price       float64
	openOrders  map[string][]binance.OpenOrder
	placeErr    error
	placed      []string // "SIDE symbol"
	nextOrderID int64
	cancelled   []int64
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{price: 50000, openOrders: map[string][]binance.OpenOrder{}, nextOrderID: 100}
}

func (f *fakeVenue) GetKlines(symbol, interval string, limit int) ([]binance.Kline, error) {
	return nil, nil
}

func (f *fakeVenue) GetCurrentPrice(symbol string) (float64, error) { return f.price, nil }

func (f *fakeVenue) GetOpenOrders(symbol string) ([]binance.OpenOrder, error) {
	return f.openOrders[symbol], nil
}

func (f *fakeVenue) PlaceOrder(symbol, side string, quantity, price float64) (int64, error) {
	if f.placeErr != nil {
		return 0, f.placeErr
	}
	f.nextOrderID++
	f.placed = append(f.placed, side+" "+symbol)
	f.openOrders[symbol] = append(f.openOrders[symbol], binance.OpenOrder{
		OrderID: f.nextOrderID, Symbol: symbol, Side: side, Price: price, Quantity: quantity,
	})
	return f.nextOrderID, nil
}

func (f *fakeVenue) CancelOrder(symbol string, orderID int64) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeVenue) GetAccountBalance(asset string) (float64, error) { return 10000, nil }

type fakeFeatures struct {
	candidates []string
}

func (f *fakeFeatures) Features(ctx context.Context, symbol string) (signals.MarketFeatures, error) {
	return signals.MarketFeatures{
		FearGreed: 20, RSI: 25,
		MACDLine: 1, MACDSignal: 0.5, MACDHistogram: 0.2,
		Price: 50000, SMA20: 49000, SMA50: 48000,
		Volume: 2000, AvgVolume: 1000, PriceChange24h: 3,
		SocialScore: 70, AIDirection: "BULLISH", AIConfidence: 0.8, AIRiskLevel: "LOW",
	}, nil
}

func (f *fakeFeatures) RegimeFeatures(ctx context.Context) (regime.Features, error) {
	return regime.Features{Return7d: 1, Volatility7d: 1, FearGreedAvg: 50}, nil
}

func (f *fakeFeatures) CandidateSymbols(ctx context.Context) ([]string, error) {
	return f.candidates, nil
}

type uniformWeights struct{}

func (uniformWeights) GetWeights(ctx context.Context, r string) map[string]float64 {
	names := []string{"fear_greed", "rsi", "macd", "trend", "volume", "whale", "sentiment", "macro", "ai"}
	w := map[string]float64{}
	for _, n := range names {
		w[n] = 1.0 / float64(len(names))
	}
	return w
}

type fixedReturns struct{}

func (fixedReturns) HistoricalReturns(ctx context.Context, symbol string, lookbackDays int) []float64 {
	return risk.SyntheticReturns(symbol)
}

func newTestOrchestrator(t *testing.T, venue *fakeVenue, cfg Config) *Orchestrator {
	t.Helper()

	c := &cohort.Cohort{
		ID: "test-cohort", Name: "balanced", IsActive: true,
		Config:         cohort.Config{GridRangePct: 5, MinConfidence: 0.3, MaxFearGreed: 100, RiskTolerance: "medium"},
		CurrentCapital: 400,
	}

	return NewOrchestrator(cfg, c, Deps{
		Client:   venue,
		Detector: regime.NewDetector(zerolog.Nop()),
		Analyzer: signals.NewAnalyzer(uniformWeights{}, zerolog.Nop()),
		Sizer:    risk.NewSizer(fixedReturns{}, risk.DefaultCorrelationMatrix(), zerolog.Nop()),
		Features: &fakeFeatures{candidates: []string{"BTCUSDT", "ETHUSDT"}},
		DataDir:  t.TempDir(),
		Log:      zerolog.Nop(),
	})
}

// ============================================================================
// TEST: Hysteresis
// ============================================================================

func TestEvaluateTransition_Hysteresis(t *testing.T) {
	venue := newFakeVenue()
	o := newTestOrchestrator(t, venue, validConfig())

	base := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	now := base
	o.now = func() time.Time { return now }

	// Mode entered long ago, cooldown satisfied.
	o.state.Mode = ModeGrid
	o.state.ModeEnteredAt = base.Add(-48 * time.Hour)

	// Day 1 of BEAR at 0.8: duration gate fails.
	bear := regime.State{CurrentRegime: regime.Bear, RegimeProbability: 0.8, RegimeDurationDays: 1}
	if _, ok := o.evaluateTransition(bear); ok {
		t.Fatal("transition must not fire before min regime duration")
	}

	// Probability below the bar also fails.
	weak := regime.State{CurrentRegime: regime.Bear, RegimeProbability: 0.6, RegimeDurationDays: 3}
	if _, ok := o.evaluateTransition(weak); ok {
		t.Fatal("transition must not fire below min probability")
	}

	// Day 2 at 0.8: fires to CASH.
	bear.RegimeDurationDays = 2
	target, ok := o.evaluateTransition(bear)
	if !ok || target != ModeCash {
		t.Fatalf("expected GRID -> CASH, got %v %v", target, ok)
	}
	o.executeTransition(context.Background(), target, bear)

	// Another transition within the 24h cooldown is suppressed.
	now = now.Add(12 * time.Hour)
	bull := regime.State{CurrentRegime: regime.Bull, RegimeProbability: 0.9, RegimeDurationDays: 5}
	if _, ok := o.evaluateTransition(bull); ok {
		t.Fatal("transition within cooldown must be suppressed")
	}

	// After the cooldown it proceeds.
	now = now.Add(13 * time.Hour)
	target, ok = o.evaluateTransition(bull)
	if !ok || target != ModeGrid {
		t.Fatalf("expected CASH -> GRID after cooldown, got %v %v", target, ok)
	}
}

func TestEvaluateTransition_SwitchingDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.EnableModeSwitching = false
	o := newTestOrchestrator(t, newFakeVenue(), cfg)

	bear := regime.State{CurrentRegime: regime.Bear, RegimeProbability: 0.95, RegimeDurationDays: 10}
	if _, ok := o.evaluateTransition(bear); ok {
		t.Fatal("pinned mode must never transition")
	}
}

// ============================================================================
// TEST: Grid lifecycle
// ============================================================================

func TestOpenGrid_PlacesLevels(t *testing.T) {
	venue := newFakeVenue()
	o := newTestOrchestrator(t, venue, validConfig())

	if err := o.openGrid("BTCUSDT", 100); err != nil {
		t.Fatal(err)
	}

	grid := o.grids["BTCUSDT"]
	if grid == nil {
		t.Fatal("grid not tracked")
	}
	// 3 buy + 3 sell levels.
	if len(grid.ActiveOrders) != 6 {
		t.Fatalf("expected 6 orders, got %d", len(grid.ActiveOrders))
	}

	var buys, sells int
	for _, ord := range grid.ActiveOrders {
		switch ord.Type {
		case "BUY":
			buys++
			if ord.Price >= venue.price {
				t.Errorf("buy level %v not below anchor %v", ord.Price, venue.price)
			}
		case "SELL":
			sells++
			if ord.Price <= venue.price {
				t.Errorf("sell level %v not above anchor %v", ord.Price, venue.price)
			}
		}
	}
	if buys != 3 || sells != 3 {
		t.Errorf("expected 3 buys / 3 sells, got %d / %d", buys, sells)
	}
}

func TestOpenGrid_RejectsSubMinimumNotional(t *testing.T) {
	venue := newFakeVenue()
	o := newTestOrchestrator(t, venue, validConfig())

	// 12 USD over 3 levels = 4 USD per level, below the 5 USD floor.
	if err := o.openGrid("BTCUSDT", 12); err == nil {
		t.Fatal("expected sub-minimum notional rejection")
	}
}

func TestCheckGridFills_PlacesMirrorFollowup(t *testing.T) {
	venue := newFakeVenue()
	o := newTestOrchestrator(t, venue, validConfig())

	o.grids["BTCUSDT"] = &GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]GridOrder{
			"42": {Type: "BUY", Price: 50000, Quantity: 0.001, CreatedAt: time.Now()},
		},
	}
	// Venue reports no resting orders: order 42 filled.

	if err := o.checkGridFills("BTCUSDT"); err != nil {
		t.Fatal(err)
	}

	grid := o.grids["BTCUSDT"]
	if _, still := grid.ActiveOrders["42"]; still {
		t.Error("filled order should be replaced")
	}
	if len(venue.placed) != 1 || venue.placed[0] != "SELL BTCUSDT" {
		t.Errorf("expected one mirror SELL, got %v", venue.placed)
	}
	if grid.LastFill == nil || grid.LastFill.OrderID != "42" {
		t.Error("last fill not recorded")
	}
}

func TestCheckGridFills_FailedFollowupAnnotated(t *testing.T) {
	venue := newFakeVenue()
	o := newTestOrchestrator(t, venue, validConfig())

	o.grids["BTCUSDT"] = &GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]GridOrder{
			"42": {Type: "BUY", Price: 50000, Quantity: 0.001, CreatedAt: time.Now()},
		},
	}
	venue.placeErr = errors.New("transient venue failure")

	if err := o.checkGridFills("BTCUSDT"); err != nil {
		t.Fatal(err)
	}

	order, ok := o.grids["BTCUSDT"].ActiveOrders["42"]
	if !ok {
		t.Fatal("source order must stay tracked after failed follow-up")
	}
	if !order.FailedFollowup {
		t.Error("source order must be annotated failed_followup")
	}

	// The annotation is persisted for the monitoring layer.
	loaded, err := LoadGridState(o.dataDir, "BTCUSDT", o.cohortName)
	if err != nil || loaded == nil {
		t.Fatalf("grid state not persisted: %v", err)
	}
	if !loaded.ActiveOrders["42"].FailedFollowup {
		t.Error("failed_followup flag lost on persistence")
	}
}

// ============================================================================
// TEST: Allocation
// ============================================================================

func TestScanAndAllocate(t *testing.T) {
	venue := newFakeVenue()
	o := newTestOrchestrator(t, venue, validConfig())

	result, err := o.ScanAndAllocate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Allocations) == 0 {
		t.Fatal("expected allocations for bullish candidates")
	}
	if result.TotalAllocated > o.cfg.TotalInvestment+1e-9 {
		t.Errorf("allocated %v beyond total investment %v", result.TotalAllocated, o.cfg.TotalInvestment)
	}
	for symbol, alloc := range result.Allocations {
		if alloc < o.cfg.MinPositionUSD {
			t.Errorf("%s allocation %v below minimum", symbol, alloc)
		}
	}
}

// ============================================================================
// TEST: Trailing stop in HOLD
// ============================================================================

func TestMaintainTrailingStop(t *testing.T) {
	venue := newFakeVenue()
	o := newTestOrchestrator(t, venue, validConfig())

	hwm := 50000.0
	symState := &SymbolState{AllocationUSD: 100, Mode: ModeHold, HighWaterMark: &hwm}
	o.state.Symbols["BTCUSDT"] = symState

	// Above the HWM: mark moves up, no exit.
	venue.price = 51000
	if err := o.maintainTrailingStop("BTCUSDT", symState); err != nil {
		t.Fatal(err)
	}
	if *symState.HighWaterMark != 51000 {
		t.Errorf("expected HWM 51000, got %v", *symState.HighWaterMark)
	}

	// 5% drawdown: below the 7% stop, still holding.
	venue.price = 48450
	if err := o.maintainTrailingStop("BTCUSDT", symState); err != nil {
		t.Fatal(err)
	}
	if symState.AllocationUSD == 0 {
		t.Fatal("position exited before the stop")
	}

	// 8% drawdown: exit.
	venue.price = 46920
	if err := o.maintainTrailingStop("BTCUSDT", symState); err != nil {
		t.Fatal(err)
	}
	if symState.AllocationUSD != 0 || symState.HighWaterMark != nil {
		t.Error("position must be flat after trailing stop")
	}
	if len(venue.placed) != 1 || venue.placed[0] != "SELL BTCUSDT" {
		t.Errorf("expected one exit SELL, got %v", venue.placed)
	}
}
