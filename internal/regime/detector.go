// Package regime classifies the market into BULL, BEAR, SIDEWAYS or
// TRANSITION from a 4-dimensional feature vector, using a persistence-
// biased Gaussian state model with a rule-based fallback.
package regime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Regime is a discrete market classification.
type Regime string

const (
	Bull       Regime = "BULL"
	Bear       Regime = "BEAR"
	Sideways   Regime = "SIDEWAYS"
	Transition Regime = "TRANSITION"
)

// Features is the observation vector one prediction is made from.
type Features struct {
	Return7d     float64 // percent
	Volatility7d float64 // percent
	VolumeTrend  float64
	FearGreedAvg float64
}

// State is one regime observation.
type State struct {
	CurrentRegime         Regime
	RegimeProbability     float64
	TransitionProbability float64
	RegimeDurationDays    int
	PreviousRegime        Regime // empty unless this observation changed regime

	Features Features

	ModelConfidence float64
	Timestamp       time.Time
}

// MinTrainingPoints is the number of extracted feature points required
// before the state model is used instead of the rules.
const MinTrainingPoints = 20

// RetrainThreshold is the number of new feature points that triggers a
// refit on the weekly update.
const RetrainThreshold = 30

// Detector tracks the current regime and its duration across predictions.
type Detector struct {
	mu sync.Mutex

	model       *stateModel
	fitted      bool
	pointsSince int

	currentRegime Regime
	regimeStart   time.Time

	now func() time.Time
	log zerolog.Logger
}

func NewDetector(log zerolog.Logger) *Detector {
	return &Detector{
		model:         newStateModel(),
		currentRegime: Sideways,
		regimeStart:   time.Now().UTC(),
		now:           func() time.Time { return time.Now().UTC() },
		log:           log.With().Str("component", "regime").Logger(),
	}
}

// Fit trains the state model. Fewer than MinTrainingPoints feature points
// leaves the detector on the rule-based path.
func (d *Detector) Fit(features []Features) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(features) < MinTrainingPoints {
		d.log.Warn().Int("points", len(features)).Int("min", MinTrainingPoints).
			Msg("not enough feature points to train, staying rule-based")
		return
	}

	d.model.fit(features)
	d.fitted = true
	d.pointsSince = 0
	d.log.Info().Int("points", len(features)).Msg("state model trained")
}

// ObservePoint counts feature points accrued since the last fit; the
// weekly update refits once RetrainThreshold is reached.
func (d *Detector) ObservePoint() {
	d.mu.Lock()
	d.pointsSince++
	d.mu.Unlock()
}

// ShouldRetrain reports whether enough new points accrued for a refit.
func (d *Detector) ShouldRetrain() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pointsSince >= RetrainThreshold
}

// Predict classifies the current market from one feature vector and
// updates the tracked regime duration.
func (d *Detector) Predict(f Features) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	var regime Regime
	var prob, transition float64

	if d.fitted {
		regime, prob, transition = d.model.predict(f, d.currentRegime)
	} else {
		regime, prob, transition = ruleBased(f)
	}

	now := d.now()
	var previous Regime
	if regime != d.currentRegime {
		previous = d.currentRegime
		d.regimeStart = now
		d.currentRegime = regime
	}

	return State{
		CurrentRegime:         regime,
		RegimeProbability:     prob,
		TransitionProbability: transition,
		RegimeDurationDays:    int(now.Sub(d.regimeStart).Hours() / 24),
		PreviousRegime:        previous,
		Features:              f,
		ModelConfidence:       prob,
		Timestamp:             now,
	}
}

// Current returns the tracked regime without making a prediction.
func (d *Detector) Current() Regime {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentRegime
}

// ruleBased is the authoritative fallback classification.
//
//	BULL:     return > 5% or (return > 0 and F&G > 55)
//	BEAR:     return < -5% or (return < 0 and F&G < 30)
//	SIDEWAYS: otherwise
//
// Confidence is 0.9 beyond +/-10%, 0.7 otherwise; SIDEWAYS confidence is
// 0.8 in a calm market.
func ruleBased(f Features) (Regime, float64, float64) {
	confidence := 0.7

	switch {
	case f.Return7d > 5 || (f.Return7d > 0 && f.FearGreedAvg > 55):
		if f.Return7d > 10 {
			confidence = 0.9
		}
		return Bull, confidence, 0.1

	case f.Return7d < -5 || (f.Return7d < 0 && f.FearGreedAvg < 30):
		if f.Return7d < -10 {
			confidence = 0.9
		}
		return Bear, confidence, 0.1

	default:
		if f.Return7d > -2 && f.Return7d < 2 && f.Volatility7d < 2 {
			confidence = 0.8
		}
		return Sideways, confidence, 0.2
	}
}

// TradingRules are the regime-specific strategy parameters.
type TradingRules struct {
	PositionSizeMultiplier float64
	StopLossPct            float64
	TakeProfitPct          float64
	GridBias               string // buy_heavy, sell_heavy, balanced
	MinConfidence          float64
}

// AdjustedWeights returns the closed-form regime-specific signal weights.
func AdjustedWeights(r Regime) map[string]float64 {
	switch r {
	case Bull:
		return map[string]float64{
			"fear_greed": 0.10, "rsi": 0.10, "macd": 0.15, "trend": 0.25,
			"volume": 0.10, "whale": 0.05, "sentiment": 0.05, "macro": 0.05, "ai": 0.15,
		}
	case Bear:
		return map[string]float64{
			"fear_greed": 0.25, "rsi": 0.15, "macd": 0.10, "trend": 0.05,
			"volume": 0.05, "whale": 0.10, "sentiment": 0.10, "macro": 0.05, "ai": 0.15,
		}
	default:
		return map[string]float64{
			"fear_greed": 0.10, "rsi": 0.25, "macd": 0.15, "trend": 0.05,
			"volume": 0.05, "whale": 0.05, "sentiment": 0.10, "macro": 0.05, "ai": 0.20,
		}
	}
}

// Rules returns the closed-form regime trading rules.
func Rules(r Regime) TradingRules {
	switch r {
	case Bull:
		return TradingRules{PositionSizeMultiplier: 1.2, StopLossPct: 7, TakeProfitPct: 15, GridBias: "buy_heavy", MinConfidence: 0.4}
	case Bear:
		return TradingRules{PositionSizeMultiplier: 0.7, StopLossPct: 5, TakeProfitPct: 8, GridBias: "sell_heavy", MinConfidence: 0.6}
	default:
		return TradingRules{PositionSizeMultiplier: 1.0, StopLossPct: 5, TakeProfitPct: 10, GridBias: "balanced", MinConfidence: 0.5}
	}
}
