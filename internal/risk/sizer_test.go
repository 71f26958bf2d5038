package risk

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/regime"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

type staticReturns struct {
	returns []float64
}

func (s staticReturns) HistoricalReturns(ctx context.Context, symbol string, lookbackDays int) []float64 {
	return s.returns
}

func newTestSizer(returns []float64) *Sizer {
	return NewSizer(staticReturns{returns: returns}, DefaultCorrelationMatrix(), zerolog.Nop())
}

func normalReturns(n int, mean, std float64) []float64 {
	rng := rand.New(rand.NewSource(7))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + rng.NormFloat64()*std
	}
	return out
}

// ============================================================================
// TEST: Sizing pipeline
// ============================================================================

func TestCalculatePositionSize_BearScenario(t *testing.T) {
	returns := normalReturns(50, 0.001, 0.03)
	s := newTestSizer(returns)

	res := s.CalculatePositionSize(context.Background(), Input{
		Symbol:           "BTCUSDT",
		PortfolioValue:   10000,
		SignalConfidence: 0.7,
		RiskBudget:       0.02,
		Regime:           regime.Bear,
		UseKelly:         true,
	})

	if res.RecommendedSize < 100 || res.RecommendedSize > 2500 {
		t.Errorf("recommended size %v outside [100, 2500]", res.RecommendedSize)
	}
	if !floatEquals(res.ExpectedMaxLoss, res.RecommendedSize*res.CVaRUsed, 1e-9) {
		t.Errorf("expected max loss %v != size*cvar %v", res.ExpectedMaxLoss, res.RecommendedSize*res.CVaRUsed)
	}

	base := CalculateRiskMetrics(returns)
	if res.CVaRUsed < 1.5*base.CVaR95-1e-9 {
		t.Errorf("BEAR must scale CVaR by 1.5: used %v, base %v", res.CVaRUsed, base.CVaR95)
	}
	if !floatEquals(res.ConfidenceMultiplier, 0.85, 1e-9) {
		t.Errorf("expected confidence multiplier 0.85, got %v", res.ConfidenceMultiplier)
	}
}

func TestCalculatePositionSize_ClampBounds(t *testing.T) {
	// Tiny CVaR makes the raw recommendation explode; the clamp holds.
	tight := make([]float64, 40)
	for i := range tight {
		tight[i] = 0.001
		if i%7 == 0 {
			tight[i] = -0.0005
		}
	}
	s := newTestSizer(tight)

	res := s.CalculatePositionSize(context.Background(), Input{
		Symbol:           "ETHUSDT",
		PortfolioValue:   10000,
		SignalConfidence: 1.0,
		UseKelly:         false,
	})

	if res.RecommendedSize < MinPositionPct*10000-1e-9 || res.RecommendedSize > MaxPositionPct*10000+1e-9 {
		t.Errorf("size %v escaped the clamp", res.RecommendedSize)
	}
	if !res.HitMaxPosition {
		t.Error("expected max-position constraint to be recorded")
	}
}

func TestCalculateRiskMetrics_FallbackDefaults(t *testing.T) {
	m := CalculateRiskMetrics([]float64{0.01, -0.02})
	if m.VaR95 != 0.05 || m.CVaR95 != 0.07 || m.Volatility != 0.30 {
		t.Errorf("unexpected fallback metrics: %+v", m)
	}
}

func TestCalculateRiskMetrics_CVaRAtLeastVaR(t *testing.T) {
	m := CalculateRiskMetrics(normalReturns(60, 0, 0.02))
	if m.CVaR95 < m.VaR95 {
		t.Errorf("cvar95 %v below var95 %v", m.CVaR95, m.VaR95)
	}
	if m.CVaR99 < m.CVaR95 {
		t.Errorf("cvar99 %v below cvar95 %v", m.CVaR99, m.CVaR95)
	}
}

// ============================================================================
// TEST: Correlation damping
// ============================================================================

func TestAdjustForCorrelation(t *testing.T) {
	s := newTestSizer(nil)

	// BTC vs existing ETH: rho 0.85 -> factor 1 - 0.15/0.3 = 0.5
	adjusted := s.AdjustForCorrelation(1000, "BTCUSDT", []Position{{Symbol: "ETHUSDT", Value: 500}})
	if !floatEquals(adjusted, 500, 1e-9) {
		t.Errorf("expected 500, got %v", adjusted)
	}

	// Unknown pair: no damping.
	adjusted = s.AdjustForCorrelation(1000, "DOGEUSDT", []Position{{Symbol: "LINKUSDT"}})
	if !floatEquals(adjusted, 1000, 1e-9) {
		t.Errorf("expected no damping, got %v", adjusted)
	}

	// Compounded damping floors at 0.3.
	existing := []Position{{Symbol: "ETHUSDT"}, {Symbol: "ETHUSDT"}, {Symbol: "ETHUSDT"}}
	adjusted = s.AdjustForCorrelation(1000, "BTCUSDT", existing)
	if !floatEquals(adjusted, 300, 1e-9) {
		t.Errorf("expected floor at 300, got %v", adjusted)
	}
}

// ============================================================================
// TEST: Risk budget and reduction triggers
// ============================================================================

func TestAvailableRiskBudget(t *testing.T) {
	s := newTestSizer(nil)

	open := []Position{
		{Symbol: "BTCUSDT", Value: 2000, CVaR: 0.10},
		{Symbol: "ETHUSDT", Value: 1000, CVaR: 0.05},
	}
	// Used: 0.2*0.10 + 0.1*0.05 = 0.025
	got := s.AvailableRiskBudget(10000, open)
	if !floatEquals(got, 0.075, 1e-9) {
		t.Errorf("expected 0.075, got %v", got)
	}

	// Saturated budget floors at zero.
	heavy := []Position{{Symbol: "SOLUSDT", Value: 10000, CVaR: 0.20}}
	if got := s.AvailableRiskBudget(10000, heavy); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestShouldReducePosition(t *testing.T) {
	s := newTestSizer(nil)

	// Trailing giveback: peaked above 5%, now under 3%.
	if reduce, frac := s.ShouldReducePosition(0.02, 0.06, 10, 0.8); !reduce || frac != 0.5 {
		t.Errorf("expected trailing halve, got %v %v", reduce, frac)
	}

	// Time decay after a week of nothing.
	if reduce, frac := s.ShouldReducePosition(0.005, 0.005, 169, 0.8); !reduce || frac != 1.0 {
		t.Errorf("expected full close, got %v %v", reduce, frac)
	}

	// Confidence collapse.
	if reduce, frac := s.ShouldReducePosition(0.04, 0.04, 10, 0.2); !reduce || frac != 0.5 {
		t.Errorf("expected confidence halve, got %v %v", reduce, frac)
	}

	// Healthy position stays.
	if reduce, _ := s.ShouldReducePosition(0.04, 0.04, 10, 0.8); reduce {
		t.Error("expected no reduction")
	}
}

func TestStopLossDistance_Clamped(t *testing.T) {
	if got := StopLossDistance(RiskMetrics{CVaR95: 0.005}, 2.0); got != 0.02 {
		t.Errorf("expected floor 0.02, got %v", got)
	}
	if got := StopLossDistance(RiskMetrics{CVaR95: 0.20}, 2.0); got != 0.15 {
		t.Errorf("expected cap 0.15, got %v", got)
	}
	if got := StopLossDistance(RiskMetrics{CVaR95: 0.04}, 2.0); !floatEquals(got, 0.08, 1e-9) {
		t.Errorf("expected 0.08, got %v", got)
	}
}

// ============================================================================
// TEST: Synthetic fallback returns
// ============================================================================

func TestSyntheticReturns_Deterministic(t *testing.T) {
	a := SyntheticReturns("BTCUSDT")
	b := SyntheticReturns("BTCUSDT")
	if len(a) != 30 {
		t.Fatalf("expected 30 returns, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("synthetic returns must be deterministic per symbol")
		}
	}
}
