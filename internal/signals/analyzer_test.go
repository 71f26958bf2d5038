package signals

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

type uniformWeights struct{}

func (uniformWeights) GetWeights(ctx context.Context, regime string) map[string]float64 {
	w := map[string]float64{}
	names := []string{"fear_greed", "rsi", "macd", "trend", "volume", "whale", "sentiment", "macro", "ai"}
	for _, n := range names {
		w[n] = 1.0 / float64(len(names))
	}
	return w
}

// ============================================================================
// TEST: Component ladders
// ============================================================================

func TestFearGreedSignal_Ladder(t *testing.T) {
	cases := []struct {
		fg   int
		want float64
	}{
		{0, 1.0}, {24, 1.0}, {25, 0.5}, {44, 0.5},
		{45, 0.0}, {55, 0.0}, {56, -0.5}, {74, -0.5},
		{75, -1.0}, {100, -1.0},
	}
	for _, tc := range cases {
		if got := FearGreedSignal(tc.fg); got != tc.want {
			t.Errorf("FearGreedSignal(%d) = %v, want %v", tc.fg, got, tc.want)
		}
	}
}

func TestRSISignal_Ladder(t *testing.T) {
	cases := []struct {
		rsi  float64
		want float64
	}{
		{15, 1.0}, {25, 0.7}, {35, 0.3}, {50, 0.0},
		{65, -0.3}, {75, -0.7}, {85, -1.0},
	}
	for _, tc := range cases {
		if got := RSISignal(tc.rsi); got != tc.want {
			t.Errorf("RSISignal(%v) = %v, want %v", tc.rsi, got, tc.want)
		}
	}
}

func TestWhaleSignal(t *testing.T) {
	if got := WhaleSignal(0, 0); got != 0 {
		t.Errorf("expected 0 for no flow, got %v", got)
	}
	if got := WhaleSignal(300, 100); !floatEquals(got, 0.5, 1e-9) {
		t.Errorf("expected 0.5, got %v", got)
	}
	if got := WhaleSignal(0, 500); got != -1 {
		t.Errorf("expected -1 for pure selling, got %v", got)
	}
}

func TestVolumeSignal(t *testing.T) {
	// High volume with rising price amplifies.
	if got := VolumeSignal(2000, 1000, 3.0); !floatEquals(got, 1.0, 1e-9) {
		t.Errorf("expected 1.0, got %v", got)
	}
	// Low volume zeroes the signal.
	if got := VolumeSignal(400, 1000, 3.0); got != 0 {
		t.Errorf("expected 0 for low volume, got %v", got)
	}
	// Mid volume is proportional.
	if got := VolumeSignal(1000, 1000, 2.0); !floatEquals(got, 0.2, 1e-9) {
		t.Errorf("expected 0.2, got %v", got)
	}
}

func TestMacroSignal_EventDamping(t *testing.T) {
	full := MacroSignal(600_000_000, "DOVISH", 0)
	if !floatEquals(full, 0.8, 1e-9) {
		t.Fatalf("expected 0.8, got %v", full)
	}
	damped := MacroSignal(600_000_000, "DOVISH", 1)
	if !floatEquals(damped, 0.4, 1e-9) {
		t.Errorf("expected halved signal before events, got %v", damped)
	}
}

func TestAISignal(t *testing.T) {
	if got := AISignal("BULLISH", 0.8); !floatEquals(got, 0.8, 1e-9) {
		t.Errorf("expected 0.8, got %v", got)
	}
	if got := AISignal("BEARISH", 0.5); !floatEquals(got, -0.5, 1e-9) {
		t.Errorf("expected -0.5, got %v", got)
	}
	if got := AISignal("NEUTRAL", 0.9); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

// ============================================================================
// TEST: Breakdown bounds and composites
// ============================================================================

func TestCompute_AllSignalsBounded(t *testing.T) {
	a := NewAnalyzer(uniformWeights{}, zerolog.Nop())

	news := -0.9
	prev := -2.5
	sma200 := 90.0
	f := MarketFeatures{
		FearGreed: 10, RSI: 12,
		MACDLine: 5, MACDSignal: 2, MACDHistogram: 3, PrevMACDHistogram: &prev,
		Price: 120, SMA20: 110, SMA50: 100, SMA200: &sma200,
		Volume: 5000, AvgVolume: 1000, PriceChange24h: 8,
		WhaleBuysUSD: 900, WhaleSellsUSD: 100,
		SocialScore: 95, NewsSentiment: &news,
		ETFFlow7d: 700_000_000, FedSentiment: "DOVISH",
		AIDirection: "BULLISH", AIConfidence: 0.9, AIRiskLevel: "LOW",
	}

	b := a.Compute(context.Background(), f, "")

	for name, s := range b.MathSignals() {
		if s < -1 || s > 1 {
			t.Errorf("signal %s = %v outside [-1, 1]", name, s)
		}
	}
	if b.FinalScore < -1 || b.FinalScore > 1 {
		t.Errorf("final score %v outside [-1, 1]", b.FinalScore)
	}
	if !floatEquals(b.MathComposite+b.AIComposite, b.FinalScore, 1e-9) {
		t.Errorf("final %v != math %v + ai %v", b.FinalScore, b.MathComposite, b.AIComposite)
	}
	if len(b.WeightsApplied) == 0 {
		t.Error("breakdown must record the weights applied")
	}
}

// ============================================================================
// TEST: Divergence
// ============================================================================

func TestDivergence_MathVsAI(t *testing.T) {
	a := NewAnalyzer(uniformWeights{}, zerolog.Nop())

	// Strongly bullish math picture, strongly bearish AI.
	f := MarketFeatures{
		FearGreed: 10, RSI: 15,
		MACDLine: 5, MACDSignal: 2, MACDHistogram: 1,
		Price: 120, SMA20: 110, SMA50: 100,
		Volume: 2000, AvgVolume: 1000, PriceChange24h: 5,
		WhaleBuysUSD: 800, WhaleSellsUSD: 200,
		SocialScore: 90,
		ETFFlow7d:   600_000_000,
		AIDirection: "BEARISH", AIConfidence: 0.9, AIRiskLevel: "HIGH",
	}

	b := a.Compute(context.Background(), f, "")
	if !b.HasDivergence {
		t.Fatal("expected divergence")
	}
	if b.DivergenceType != "math_ai_divergence" {
		t.Errorf("expected math_ai_divergence, got %s", b.DivergenceType)
	}
	if b.DivergenceStrength <= 0 {
		t.Errorf("expected positive strength, got %v", b.DivergenceStrength)
	}
}

func TestDivergence_Internal(t *testing.T) {
	a := NewAnalyzer(uniformWeights{}, zerolog.Nop())

	// 3+ strongly bullish and 3+ strongly bearish math signals with a
	// near-neutral aggregate so math-vs-AI cannot fire first.
	news := 1.0
	f := MarketFeatures{
		FearGreed: 10, // +1.0
		RSI:       85, // -1.0
		// macd strongly negative: line<signal, hist<0, line<0 -> -0.8
		MACDLine: -5, MACDSignal: 2, MACDHistogram: -1,
		// trend strongly positive: +0.7
		Price: 120, SMA20: 110, SMA50: 100,
		// volume high + falling price -> bearish
		Volume: 2600, AvgVolume: 1000, PriceChange24h: -4,
		// whale bullish
		WhaleBuysUSD: 1000, WhaleSellsUSD: 0,
		// sentiment bullish
		SocialScore: 95, NewsSentiment: &news,
		// macro bearish
		ETFFlow7d: -600_000_000, FedSentiment: "HAWKISH",
		AIDirection: "NEUTRAL", AIConfidence: 0.5, AIRiskLevel: "MEDIUM",
	}

	b := a.Compute(context.Background(), f, "")
	if !b.HasDivergence {
		t.Fatal("expected internal divergence")
	}
	if b.DivergenceType != "internal_divergence" {
		t.Errorf("expected internal_divergence, got %s", b.DivergenceType)
	}
}
