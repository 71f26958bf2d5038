// Package bayesian learns signal weights from historical trade outcomes
// using a Dirichlet posterior over the fixed signal set.
package bayesian

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/metrics"
)

// SignalNames is the fixed, ordered signal set. The order is part of the
// wire and storage contract.
var SignalNames = []string{
	"fear_greed",
	"rsi",
	"macd",
	"trend",
	"volume",
	"whale",
	"sentiment",
	"macro",
	"ai",
}

const (
	// PriorStrength is the uniform Dirichlet prior alpha.
	PriorStrength = 10.0

	// MinTradesForUpdate gates posterior updates.
	MinTradesForUpdate = 20

	// MinWeight keeps every signal from being ignored entirely.
	MinWeight = 0.02

	// MaxWeight prevents a single signal from dominating.
	MaxWeight = 0.30
)

// DefaultWeights returns the uniform weight vector.
func DefaultWeights() map[string]float64 {
	w := make(map[string]float64, len(SignalNames))
	for _, name := range SignalNames {
		w[name] = 1.0 / float64(len(SignalNames))
	}
	return w
}

// SignalPerformance holds rolling per-signal counters used in updates.
type SignalPerformance struct {
	SignalName         string
	TotalTrades        int
	CorrectPredictions int
	Accuracy           float64
	CorrelationWithPnL float64
	RegimePerformance  map[string]float64
}

// Weights is one learned weight vector for a (cohort, regime) key.
type Weights struct {
	Weights     map[string]float64
	AlphaValues map[string]float64
	Confidence  float64
	LastUpdated time.Time
	SampleSize  int
	Regime      string // empty = global
	CohortID    string // empty = all cohorts
}

// Store is the persistence surface the learner needs. Implementations
// must deactivate the previous active row for the same (regime, cohort)
// key and insert the new one in a single transaction.
type Store interface {
	LoadActiveWeights(ctx context.Context, regime, cohortID string) (*Weights, error)
	SaveWeights(ctx context.Context, w *Weights) error
	SignalPerformance(ctx context.Context, cohortID string, lookbackDays int, regime string) (map[string]*SignalPerformance, error)
	ActiveCohortIDs(ctx context.Context) ([]string, error)
}

// Learner maintains the current weight vector and runs posterior updates.
type Learner struct {
	store Store
	log   zerolog.Logger

	currentWeights map[string]float64
	alphaValues    map[string]float64
}

// NewLearner builds a learner seeded with the uniform prior, then loads
// the last persisted global weights if any.
func NewLearner(ctx context.Context, store Store, log zerolog.Logger) *Learner {
	l := &Learner{
		store:          store,
		log:            log.With().Str("component", "bayesian").Logger(),
		currentWeights: DefaultWeights(),
		alphaValues:    make(map[string]float64, len(SignalNames)),
	}
	for _, name := range SignalNames {
		l.alphaValues[name] = PriorStrength
	}

	if store != nil {
		if saved, err := store.LoadActiveWeights(ctx, "", ""); err == nil && saved != nil {
			if len(saved.Weights) > 0 {
				l.currentWeights = saved.Weights
			}
			if len(saved.AlphaValues) > 0 {
				l.alphaValues = saved.AlphaValues
			}
			l.log.Info().Msg("loaded persisted weights")
		}
	}
	return l
}

// GetWeights returns the current weight vector, preferring a persisted
// regime-specific vector when one exists.
func (l *Learner) GetWeights(ctx context.Context, regime string) map[string]float64 {
	if regime != "" && l.store != nil {
		if w, err := l.store.LoadActiveWeights(ctx, regime, ""); err == nil && w != nil && len(w.Weights) > 0 {
			return copyWeights(w.Weights)
		}
	}
	return copyWeights(l.currentWeights)
}

// UpdateWeights recomputes the posterior from signal performance over the
// lookback window. Below MinTradesForUpdate total trades the previous
// weights are returned unchanged with Confidence 0 and SampleSize 0.
func (l *Learner) UpdateWeights(ctx context.Context, cohortID string, lookbackDays int, regime string) (*Weights, error) {
	var performance map[string]*SignalPerformance
	if l.store != nil {
		var err error
		performance, err = l.store.SignalPerformance(ctx, cohortID, lookbackDays, regime)
		if err != nil {
			return nil, err
		}
	}

	totalTrades := 0
	for _, p := range performance {
		totalTrades += p.TotalTrades
	}

	if totalTrades < MinTradesForUpdate {
		l.log.Info().Int("trades", totalTrades).Int("min", MinTradesForUpdate).
			Msg("not enough trades for weight update")
		return &Weights{
			Weights:     copyWeights(l.currentWeights),
			AlphaValues: copyWeights(l.alphaValues),
			Confidence:  0,
			LastUpdated: time.Now().UTC(),
			SampleSize:  0,
			Regime:      regime,
			CohortID:    cohortID,
		}, nil
	}

	newAlphas := computePosteriorAlphas(performance)
	newWeights := NormalizeWeights(newAlphas)
	confidence := math.Min(1, float64(totalTrades)/100)

	l.alphaValues = newAlphas
	l.currentWeights = newWeights

	result := &Weights{
		Weights:     copyWeights(newWeights),
		AlphaValues: copyWeights(newAlphas),
		Confidence:  confidence,
		LastUpdated: time.Now().UTC(),
		SampleSize:  totalTrades,
		Regime:      regime,
		CohortID:    cohortID,
	}

	if l.store != nil {
		if err := l.store.SaveWeights(ctx, result); err != nil {
			l.log.Error().Err(err).Msg("failed to persist weights")
		}
	}

	l.log.Info().Int("trades", totalTrades).Float64("confidence", confidence).
		Str("regime", regime).Msg("weights updated")
	return result, nil
}

// computePosteriorAlphas applies the posterior update
// alpha_i = prior + (accuracy + max(0, correlation)*0.5) * sqrt(n).
// Signals without observations keep the prior.
func computePosteriorAlphas(performance map[string]*SignalPerformance) map[string]float64 {
	alphas := make(map[string]float64, len(SignalNames))
	for _, name := range SignalNames {
		perf := performance[name]
		if perf == nil || perf.TotalTrades == 0 {
			alphas[name] = PriorStrength
			continue
		}

		correlationBonus := math.Max(0, perf.CorrelationWithPnL) * 0.5
		sampleWeight := math.Sqrt(float64(perf.TotalTrades))
		alphas[name] = PriorStrength + (perf.Accuracy+correlationBonus)*sampleWeight
	}
	return alphas
}

// NormalizeWeights maps alphas to the Dirichlet mean, clamps each weight
// to [MinWeight, MaxWeight], then renormalizes to sum 1.
func NormalizeWeights(alphas map[string]float64) map[string]float64 {
	var totalAlpha float64
	for _, a := range alphas {
		totalAlpha += a
	}
	if totalAlpha == 0 {
		return DefaultWeights()
	}

	constrained := make(map[string]float64, len(alphas))
	for name, alpha := range alphas {
		constrained[name] = alpha / totalAlpha
	}

	// Renormalizing can push a clamped weight back past its bound, so
	// clamp and renormalize until the sum settles at 1.
	for iter := 0; iter < 100; iter++ {
		var total float64
		for name, w := range constrained {
			w = math.Max(MinWeight, math.Min(MaxWeight, w))
			constrained[name] = w
			total += w
		}
		for name := range constrained {
			constrained[name] /= total
		}
		if math.Abs(total-1) < 1e-12 {
			break
		}
	}
	return constrained
}

// WeeklyUpdateResult summarizes a batch update run.
type WeeklyUpdateResult struct {
	Timestamp time.Time
	Updates   []string
	Errors    []string
}

// WeeklyUpdate runs the global update, one update per regime and one per
// active cohort. Each passes the sample gate independently.
func (l *Learner) WeeklyUpdate(ctx context.Context) WeeklyUpdateResult {
	result := WeeklyUpdateResult{Timestamp: time.Now().UTC()}

	if w, err := l.UpdateWeights(ctx, "", 30, ""); err != nil {
		result.Errors = append(result.Errors, "global: "+err.Error())
	} else if w.SampleSize >= MinTradesForUpdate {
		result.Updates = append(result.Updates, "global")
	}

	for _, regime := range []string{"BULL", "BEAR", "SIDEWAYS"} {
		w, err := l.UpdateWeights(ctx, "", 60, regime)
		if err != nil {
			result.Errors = append(result.Errors, "regime "+regime+": "+err.Error())
			continue
		}
		if w.SampleSize >= MinTradesForUpdate {
			result.Updates = append(result.Updates, "regime_"+regime)
		}
	}

	if l.store != nil {
		cohortIDs, err := l.store.ActiveCohortIDs(ctx)
		if err != nil {
			result.Errors = append(result.Errors, "cohort ids: "+err.Error())
		}
		for _, id := range cohortIDs {
			w, err := l.UpdateWeights(ctx, id, 30, "")
			if err != nil {
				result.Errors = append(result.Errors, "cohort "+id+": "+err.Error())
				continue
			}
			if w.SampleSize >= MinTradesForUpdate {
				result.Updates = append(result.Updates, "cohort_"+id)
			}
		}
	}

	l.log.Info().Int("updates", len(result.Updates)).Int("errors", len(result.Errors)).
		Msg("weekly bayesian update finished")
	return result
}

// CombineSignals produces the weighted composite score clamped to [-1, 1]
// and the per-signal contribution map.
func (l *Learner) CombineSignals(ctx context.Context, signals map[string]float64, regime string) (float64, map[string]float64) {
	weights := l.GetWeights(ctx, regime)

	var combined float64
	contributions := make(map[string]float64, len(weights))
	for name, weight := range weights {
		contribution := weight * signals[name]
		combined += contribution
		contributions[name] = contribution
	}

	combined = math.Max(-1, math.Min(1, combined))
	return combined, contributions
}

// ExpectedAccuracy is the weight-weighted average signal accuracy over
// the last 30 days; a diagnostic for how well the weights track reality.
func (l *Learner) ExpectedAccuracy(ctx context.Context) float64 {
	if l.store == nil {
		return 0
	}
	performance, err := l.store.SignalPerformance(ctx, "", 30, "")
	if err != nil || len(performance) == 0 {
		return 0
	}

	var weighted float64
	for name, weight := range l.currentWeights {
		if perf := performance[name]; perf != nil {
			weighted += weight * perf.Accuracy
		}
	}
	return weighted
}

// ComputePerformance derives accuracy and PnL correlation from raw
// (signal value, pnl) observations for one signal.
func ComputePerformance(name string, observations [][2]float64) *SignalPerformance {
	perf := &SignalPerformance{SignalName: name}

	sigs := make([]float64, 0, len(observations))
	pnls := make([]float64, 0, len(observations))
	for _, obs := range observations {
		signal, pnl := obs[0], obs[1]
		sigs = append(sigs, signal)
		pnls = append(pnls, pnl)

		perf.TotalTrades++
		if (signal > 0 && pnl > 0) || (signal < 0 && pnl <= 0) {
			perf.CorrectPredictions++
		}
	}

	if perf.TotalTrades > 0 {
		perf.Accuracy = float64(perf.CorrectPredictions) / float64(perf.TotalTrades)
	}
	if corr := metrics.CorrelationWithPnL(sigs, pnls); corr.Valid {
		perf.CorrelationWithPnL = corr.Value
	}
	return perf
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
