// Package cycle manages fixed-duration trading cycles per cohort and
// closes them with a full metric snapshot.
package cycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/metrics"
)

// DurationDays is the fixed cycle length.
const DurationDays = 7

// Cycle is one trading cycle bound to a cohort.
type Cycle struct {
	ID          string
	CohortID    string
	CohortName  string
	CycleNumber int
	StartDate   time.Time
	EndDate     *time.Time
	Status      string // active, completed, cancelled

	StartingCapital float64
	EndingCapital   *float64
	TradesCount     int

	TotalPnL      *float64
	TotalPnLPct   *float64
	WinningTrades int
	LosingTrades  int
	MaxDrawdown   *float64

	Sharpe        *float64
	Sortino       *float64
	Calmar        *float64
	KellyFraction *float64
	VaR95         *float64
	CVaR95        *float64

	AvgFearGreed      *float64
	DominantRegime    string
	BTCPerformancePct *float64

	SignalPerformance map[string]float64
	BestPatterns      []string
	WorstPatterns     []string

	PlaybookVersionAtStart *int
	PlaybookVersionAtEnd   *int
}

// CycleTrade is the per-trade slice of a cycle used at closure.
type CycleTrade struct {
	Timestamp time.Time
	ReturnPct float64 // decimal fraction
	NetFlow   float64 // signed USD effect on capital
	Regime    string
	FearGreed float64
	Won       bool
}

// Store is the persistence surface for cycles.
type Store interface {
	ActiveCycles(ctx context.Context) ([]*Cycle, error)
	NextCycleNumber(ctx context.Context, cohortID string) (int, error)
	InsertCycle(ctx context.Context, c *Cycle) error
	CloseCycle(ctx context.Context, c *Cycle) error
	CompletedCycles(ctx context.Context, cohortID string, limit int) ([]*Cycle, error)
	CycleTrades(ctx context.Context, cycleID string) ([]CycleTrade, error)
	BTCPerformancePct(ctx context.Context, since time.Time) (*float64, error)
	SignalPerformanceSummary(ctx context.Context, cycleID string) (map[string]float64, error)
	CurrentPlaybookVersion(ctx context.Context) (*int, error)
}

// Manager tracks the active cycle per cohort and performs open/close.
type Manager struct {
	mu     sync.Mutex
	store  Store
	log    zerolog.Logger
	active map[string]*Cycle // cohortID -> cycle

	now func() time.Time
}

func NewManager(ctx context.Context, store Store, log zerolog.Logger) *Manager {
	m := &Manager{
		store:  store,
		log:    log.With().Str("component", "cycle").Logger(),
		active: make(map[string]*Cycle),
		now:    func() time.Time { return time.Now().UTC() },
	}

	if store != nil {
		cycles, err := store.ActiveCycles(ctx)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to load active cycles")
		}
		for _, c := range cycles {
			m.active[c.CohortID] = c
		}
		m.log.Info().Int("active", len(m.active)).Msg("active cycles loaded")
	}
	return m
}

// StartCycle opens a new cycle for a cohort with the next dense cycle
// number. A cohort may have at most one active cycle.
func (m *Manager) StartCycle(ctx context.Context, cohortID, cohortName string, startingCapital float64) (*Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[cohortID]; exists {
		return nil, fmt.Errorf("cohort %s already has an active cycle", cohortID)
	}
	if startingCapital == 0 {
		startingCapital = 1000
	}

	number := 1
	var playbookVersion *int
	if m.store != nil {
		var err error
		number, err = m.store.NextCycleNumber(ctx, cohortID)
		if err != nil {
			return nil, fmt.Errorf("next cycle number: %w", err)
		}
		playbookVersion, _ = m.store.CurrentPlaybookVersion(ctx)
	}

	c := &Cycle{
		CohortID:               cohortID,
		CohortName:             cohortName,
		CycleNumber:            number,
		StartDate:              m.now(),
		Status:                 "active",
		StartingCapital:        startingCapital,
		PlaybookVersionAtStart: playbookVersion,
	}

	if m.store != nil {
		if err := m.store.InsertCycle(ctx, c); err != nil {
			return nil, fmt.Errorf("insert cycle: %w", err)
		}
	}

	m.active[cohortID] = c
	m.log.Info().Str("cohort", cohortName).Int("cycle", number).Msg("cycle started")
	return c, nil
}

// CloseCycle completes the active cycle of a cohort. The end-of-cycle
// metrics are always computed from the cycle's trades; precomputed
// metrics cannot be passed in.
func (m *Manager) CloseCycle(ctx context.Context, cohortID string) (*Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.active[cohortID]
	if !ok {
		return nil, fmt.Errorf("no active cycle for cohort %s", cohortID)
	}

	var trades []CycleTrade
	if m.store != nil {
		var err error
		trades, err = m.store.CycleTrades(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("cycle trades: %w", err)
		}
	}

	m.applyCloseMetrics(ctx, c, trades)

	end := m.now()
	c.EndDate = &end
	c.Status = "completed"
	if m.store != nil {
		c.PlaybookVersionAtEnd, _ = m.store.CurrentPlaybookVersion(ctx)
		if err := m.store.CloseCycle(ctx, c); err != nil {
			return nil, fmt.Errorf("close cycle: %w", err)
		}
	}

	delete(m.active, cohortID)
	m.log.Info().Str("cohort", c.CohortName).Int("cycle", c.CycleNumber).
		Float64("ending_capital", *c.EndingCapital).Msg("cycle closed")
	return c, nil
}

// CancelCycle aborts the active cycle without metrics.
func (m *Manager) CancelCycle(ctx context.Context, cohortID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.active[cohortID]
	if !ok {
		return fmt.Errorf("no active cycle for cohort %s", cohortID)
	}

	end := m.now()
	c.EndDate = &end
	c.Status = "cancelled"
	if m.store != nil {
		if err := m.store.CloseCycle(ctx, c); err != nil {
			return err
		}
	}
	delete(m.active, cohortID)
	return nil
}

func (m *Manager) applyCloseMetrics(ctx context.Context, c *Cycle, trades []CycleTrade) {
	var netFlow float64
	returns := dailyReturns(trades)
	regimeCounts := make(map[string]int)
	var fgSum float64
	fgCount := 0

	for _, t := range trades {
		netFlow += t.NetFlow
		if t.Won {
			c.WinningTrades++
		} else {
			c.LosingTrades++
		}
		if t.Regime != "" {
			regimeCounts[t.Regime]++
		}
		if t.FearGreed > 0 {
			fgSum += t.FearGreed
			fgCount++
		}
	}

	c.TradesCount = len(trades)

	ending := c.StartingCapital + netFlow
	c.EndingCapital = &ending
	pnl := ending - c.StartingCapital
	c.TotalPnL = &pnl
	pnlPct := pnl / c.StartingCapital * 100
	c.TotalPnLPct = &pnlPct

	bundle := metrics.CalculateAll(returns)
	c.Sharpe = optional(bundle.Sharpe)
	c.Sortino = optional(bundle.Sortino)
	c.Calmar = optional(bundle.Calmar)
	c.MaxDrawdown = optional(bundle.MaxDrawdown)
	c.VaR95 = optional(bundle.VaR95)
	c.CVaR95 = optional(bundle.CVaR95)
	c.KellyFraction = optional(bundle.Kelly)

	if fgCount > 0 {
		avg := fgSum / float64(fgCount)
		c.AvgFearGreed = &avg
	}
	c.DominantRegime = dominantRegime(regimeCounts)

	if m.store != nil {
		c.BTCPerformancePct, _ = m.store.BTCPerformancePct(ctx, c.StartDate)
		c.SignalPerformance, _ = m.store.SignalPerformanceSummary(ctx, c.ID)
	}
}

// dailyReturns buckets per-trade returns by calendar day.
func dailyReturns(trades []CycleTrade) []float64 {
	byDay := make(map[string]float64)
	var days []string
	for _, t := range trades {
		day := t.Timestamp.UTC().Format("2006-01-02")
		if _, seen := byDay[day]; !seen {
			days = append(days, day)
		}
		byDay[day] += t.ReturnPct
	}
	sort.Strings(days)

	out := make([]float64, 0, len(days))
	for _, day := range days {
		out = append(out, byDay[day])
	}
	return out
}

// dominantRegime is the mode over per-trade regimes; ties break to
// SIDEWAYS.
func dominantRegime(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}

	best := ""
	bestCount := -1
	tied := false
	for _, r := range []string{"BULL", "BEAR", "SIDEWAYS", "TRANSITION"} {
		n, ok := counts[r]
		if !ok {
			continue
		}
		if n > bestCount {
			best, bestCount, tied = r, n, false
		} else if n == bestCount {
			tied = true
		}
	}
	if tied {
		return "SIDEWAYS"
	}
	return best
}

func optional(v metrics.Value) *float64 {
	if !v.Valid {
		return nil
	}
	val := v.Value
	return &val
}

// ShouldStartNewCycle is true when the cohort has no active cycle or the
// active one has run its full duration.
func (m *Manager) ShouldStartNewCycle(cohortID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.active[cohortID]
	if !ok {
		return true
	}
	return m.now().Sub(c.StartDate) >= DurationDays*24*time.Hour
}

// ActiveCycle returns the cohort's active cycle, if any.
func (m *Manager) ActiveCycle(cohortID string) *Cycle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[cohortID]
}

// CycleComparison returns the last n completed cycles, newest first.
func (m *Manager) CycleComparison(ctx context.Context, cohortID string, n int) ([]*Cycle, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.CompletedCycles(ctx, cohortID, n)
}
