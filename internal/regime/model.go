package regime

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// stateModel is a 3-state Gaussian observation model with a fixed
// persistence-biased transition matrix. Per-state diagonal Gaussians are
// fitted from rule-labelled training points; prediction combines the
// observation likelihoods with the transition prior from the tracked
// regime, which is the filtering step of an HMM with known transitions.
type stateModel struct {
	states []Regime
	means  [][]float64
	vars   [][]float64
	trans  [][]float64
}

func newStateModel() *stateModel {
	return &stateModel{
		states: []Regime{Bull, Bear, Sideways},
		trans: [][]float64{
			{0.90, 0.05, 0.05}, // BULL persists
			{0.05, 0.90, 0.05}, // BEAR persists
			{0.10, 0.10, 0.80}, // SIDEWAYS switches more often
		},
	}
}

func featureVector(f Features) []float64 {
	return []float64{f.Return7d, f.Volatility7d, f.VolumeTrend, f.FearGreedAvg}
}

// fit estimates per-state Gaussians by partitioning the training points
// with the rule-based labels.
func (m *stateModel) fit(features []Features) {
	buckets := make(map[Regime][][]float64, len(m.states))
	for _, f := range features {
		label, _, _ := ruleBased(f)
		buckets[label] = append(buckets[label], featureVector(f))
	}

	dim := 4
	m.means = make([][]float64, len(m.states))
	m.vars = make([][]float64, len(m.states))

	for i, state := range m.states {
		points := buckets[state]
		m.means[i] = make([]float64, dim)
		m.vars[i] = make([]float64, dim)

		if len(points) == 0 {
			// Unobserved state: wide, uninformative Gaussian.
			for d := 0; d < dim; d++ {
				m.means[i][d] = 0
				m.vars[i][d] = 100
			}
			m.means[i][3] = 50
			continue
		}

		for d := 0; d < dim; d++ {
			col := make([]float64, len(points))
			for j, p := range points {
				col[j] = p[d]
			}
			mean := stat.Mean(col, nil)
			variance := stat.MomentAbout(2, col, mean, nil)
			// Floor keeps near-constant training columns from collapsing
			// the likelihood to zero off the observed value.
			if variance < 0.25 {
				variance = 0.25
			}
			m.means[i][d] = mean
			m.vars[i][d] = variance
		}
	}
}

// predict runs one filtering step from the current regime.
func (m *stateModel) predict(f Features, current Regime) (Regime, float64, float64) {
	x := featureVector(f)

	currentIdx := 2
	for i, s := range m.states {
		if s == current {
			currentIdx = i
		}
	}

	posterior := make([]float64, len(m.states))
	var total float64
	for i := range m.states {
		prior := m.trans[currentIdx][i]
		posterior[i] = prior * m.likelihood(i, x)
		total += posterior[i]
	}

	if total == 0 || math.IsNaN(total) {
		return ruleBased(f)
	}

	best := 0
	for i := range posterior {
		posterior[i] /= total
		if posterior[i] > posterior[best] {
			best = i
		}
	}

	transition := 1 - m.trans[best][best]
	return m.states[best], posterior[best], transition
}

// likelihood is the diagonal-Gaussian density of x under state i, up to a
// constant shared across states.
func (m *stateModel) likelihood(i int, x []float64) float64 {
	var logL float64
	for d := range x {
		diff := x[d] - m.means[i][d]
		logL += -0.5*diff*diff/m.vars[i][d] - 0.5*math.Log(m.vars[i][d])
	}
	return math.Exp(logL)
}
