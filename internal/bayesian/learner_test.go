package bayesian

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

// fakeStore serves canned signal performance and records saves.
type fakeStore struct {
	performance map[string]*SignalPerformance
	saved       []*Weights
	cohortIDs   []string
}

func (f *fakeStore) LoadActiveWeights(ctx context.Context, regime, cohortID string) (*Weights, error) {
	return nil, nil
}

func (f *fakeStore) SaveWeights(ctx context.Context, w *Weights) error {
	f.saved = append(f.saved, w)
	return nil
}

func (f *fakeStore) SignalPerformance(ctx context.Context, cohortID string, lookbackDays int, regime string) (map[string]*SignalPerformance, error) {
	return f.performance, nil
}

func (f *fakeStore) ActiveCohortIDs(ctx context.Context) ([]string, error) {
	return f.cohortIDs, nil
}

func performanceWithTrades(n int) map[string]*SignalPerformance {
	return map[string]*SignalPerformance{
		"rsi": {
			SignalName:         "rsi",
			TotalTrades:        n,
			CorrectPredictions: n * 6 / 10,
			Accuracy:           0.6,
			CorrelationWithPnL: 0.4,
		},
	}
}

// ============================================================================
// TEST: Update gate
// ============================================================================

func TestUpdateWeights_GateBelowMinimum(t *testing.T) {
	store := &fakeStore{performance: performanceWithTrades(19)}
	l := NewLearner(context.Background(), store, zerolog.Nop())

	before := l.GetWeights(context.Background(), "")

	w, err := l.UpdateWeights(context.Background(), "", 30, "")
	if err != nil {
		t.Fatal(err)
	}
	if w.Confidence != 0 {
		t.Errorf("expected confidence 0, got %v", w.Confidence)
	}
	if w.SampleSize != 0 {
		t.Errorf("expected sample size 0, got %d", w.SampleSize)
	}
	for name, weight := range before {
		if !floatEquals(w.Weights[name], weight, 1e-12) {
			t.Errorf("weight %s changed below the gate: %v -> %v", name, weight, w.Weights[name])
		}
	}
	if len(store.saved) != 0 {
		t.Error("gated update must not persist")
	}
}

func TestUpdateWeights_ProceedsAtMinimum(t *testing.T) {
	store := &fakeStore{performance: performanceWithTrades(20)}
	l := NewLearner(context.Background(), store, zerolog.Nop())

	w, err := l.UpdateWeights(context.Background(), "", 30, "")
	if err != nil {
		t.Fatal(err)
	}
	if w.SampleSize != 20 {
		t.Errorf("expected sample size 20, got %d", w.SampleSize)
	}
	if !floatEquals(w.Confidence, 0.2, 1e-9) {
		t.Errorf("expected confidence 0.2, got %v", w.Confidence)
	}
	if len(store.saved) != 1 {
		t.Fatalf("expected 1 persisted row, got %d", len(store.saved))
	}
	// The observed signal gains weight over the uniform prior.
	if w.Weights["rsi"] <= 1.0/float64(len(SignalNames)) {
		t.Errorf("expected rsi weight above uniform, got %v", w.Weights["rsi"])
	}
}

// ============================================================================
// TEST: Weight vector invariants
// ============================================================================

func TestNormalizeWeights_Invariants(t *testing.T) {
	alphas := map[string]float64{}
	for i, name := range SignalNames {
		// Wildly skewed alphas to force clamping on both sides.
		alphas[name] = 1 + float64(i*i*40)
	}

	weights := NormalizeWeights(alphas)

	var sum float64
	for name, w := range weights {
		sum += w
		if w < MinWeight-1e-9 || w > MaxWeight+1e-9 {
			t.Errorf("weight %s=%v outside [%v, %v]", name, w, MinWeight, MaxWeight)
		}
	}
	if !floatEquals(sum, 1.0, 1e-3) {
		t.Errorf("weights must sum to 1, got %v", sum)
	}
}

// ============================================================================
// TEST: Signal combination
// ============================================================================

func TestCombineSignals_ClampedAndLinear(t *testing.T) {
	l := NewLearner(context.Background(), nil, zerolog.Nop())

	signals := map[string]float64{"rsi": 0.5, "trend": -0.2, "ai": 0.8}
	score, contributions := l.CombineSignals(context.Background(), signals, "")

	if score < -1 || score > 1 {
		t.Errorf("combined score %v outside [-1, 1]", score)
	}

	var sum float64
	for _, c := range contributions {
		sum += c
	}
	if !floatEquals(sum, score, 1e-9) {
		t.Errorf("contributions sum %v != score %v", sum, score)
	}

	// Linearity (inside the clamp): combine(2s) == 2*combine(s).
	doubled := map[string]float64{"rsi": 1.0, "trend": -0.4, "ai": 1.6}
	score2, _ := l.CombineSignals(context.Background(), doubled, "")
	if !floatEquals(score2, 2*score, 1e-9) {
		t.Errorf("expected linear combination, got %v vs 2*%v", score2, score)
	}
}

func TestComputePerformance(t *testing.T) {
	obs := [][2]float64{
		{0.8, 2.0},   // bullish signal, profit: correct
		{0.5, -1.0},  // bullish signal, loss: wrong
		{-0.6, -0.5}, // bearish signal, loss: correct
		{-0.4, 1.5},  // bearish signal, profit: wrong
	}
	perf := ComputePerformance("trend", obs)

	if perf.TotalTrades != 4 {
		t.Fatalf("expected 4 trades, got %d", perf.TotalTrades)
	}
	if perf.CorrectPredictions != 2 {
		t.Errorf("expected 2 correct, got %d", perf.CorrectPredictions)
	}
	if !floatEquals(perf.Accuracy, 0.5, 1e-9) {
		t.Errorf("expected accuracy 0.5, got %v", perf.Accuracy)
	}
}
