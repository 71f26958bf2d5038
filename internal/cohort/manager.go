// Package cohort manages the declarative catalog of strategy variants,
// each with its own configuration and capital.
package cohort

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config is the per-cohort strategy configuration.
type Config struct {
	GridRangePct  float64 `json:"grid_range_pct"`
	MinConfidence float64 `json:"min_confidence"`
	MinFearGreed  int     `json:"min_fear_greed"`
	MaxFearGreed  int     `json:"max_fear_greed"`
	UsePlaybook   bool    `json:"use_playbook"`
	RiskTolerance string  `json:"risk_tolerance"` // low, medium, high
	Frozen        bool    `json:"frozen"`
}

// Validate checks the config ranges.
func (c Config) Validate() []error {
	var errs []error
	if c.GridRangePct < 1 || c.GridRangePct > 30 {
		errs = append(errs, fmt.Errorf("grid_range_pct must be within [1, 30], got %v", c.GridRangePct))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence must be within [0, 1], got %v", c.MinConfidence))
	}
	if c.MinFearGreed < 0 || c.MaxFearGreed > 100 || c.MinFearGreed > c.MaxFearGreed {
		errs = append(errs, fmt.Errorf("fear_greed bounds invalid: [%d, %d]", c.MinFearGreed, c.MaxFearGreed))
	}
	switch c.RiskTolerance {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("risk_tolerance must be low/medium/high, got %q", c.RiskTolerance))
	}
	return errs
}

// Cohort is one named, capital-isolated strategy variant.
type Cohort struct {
	ID              string
	Name            string
	Description     string
	Config          Config
	StartingCapital float64
	CurrentCapital  float64
	IsActive        bool
	CreatedAt       time.Time
}

// ShouldTrade is the sole trading gate a cohort exports.
func (c *Cohort) ShouldTrade(confidence float64, fearGreed int) bool {
	if !c.IsActive {
		return false
	}
	if confidence < c.Config.MinConfidence {
		return false
	}
	if fearGreed < c.Config.MinFearGreed {
		return false
	}
	return fearGreed <= c.Config.MaxFearGreed
}

// ComparisonRow is one row of the cross-cohort comparison view.
type ComparisonRow struct {
	CohortName  string
	CycleNumber int
	TotalPnLPct *float64
	Sharpe      *float64
	WinRate     *float64
	TradesCount int
}

// Store is the persistence surface for cohorts.
type Store interface {
	ActiveCohorts(ctx context.Context) ([]*Cohort, error)
	UpdateCapital(ctx context.Context, name string, newCapital float64) error
	ComparisonReport(ctx context.Context, limit int) ([]ComparisonRow, error)
}

// Manager loads and serves the cohort catalog.
type Manager struct {
	mu      sync.RWMutex
	store   Store
	log     zerolog.Logger
	cohorts map[string]*Cohort
}

// NewManager loads cohorts from the store; without a reachable store it
// falls back to the built-in defaults.
func NewManager(ctx context.Context, store Store, log zerolog.Logger) *Manager {
	m := &Manager{
		store:   store,
		log:     log.With().Str("component", "cohort").Logger(),
		cohorts: make(map[string]*Cohort),
	}

	loaded := false
	if store != nil {
		cohorts, err := store.ActiveCohorts(ctx)
		if err != nil {
			m.log.Error().Err(err).Msg("failed to load cohorts, using defaults")
		} else if len(cohorts) > 0 {
			for _, c := range cohorts {
				m.cohorts[c.Name] = c
			}
			loaded = true
		}
	}

	if !loaded {
		m.createDefaults()
	}
	m.log.Info().Int("cohorts", len(m.cohorts)).Msg("cohorts loaded")
	return m
}

// createDefaults installs the in-memory fallback catalog.
func (m *Manager) createDefaults() {
	defaults := []struct {
		name, description string
		config            Config
	}{
		{
			"conservative", "Tight grids, high confidence bar",
			Config{GridRangePct: 2.0, MinConfidence: 0.7, MaxFearGreed: 40, RiskTolerance: "low"},
		},
		{
			"balanced", "Standard grids, playbook-driven",
			Config{GridRangePct: 5.0, MinConfidence: 0.5, MaxFearGreed: 100, UsePlaybook: true, RiskTolerance: "medium"},
		},
		{
			"aggressive", "Wide grids, higher risk",
			Config{GridRangePct: 8.0, MinConfidence: 0.3, MaxFearGreed: 100, RiskTolerance: "high"},
		},
		{
			"baseline", "Frozen control, no mutations",
			Config{GridRangePct: 5.0, MinConfidence: 0.5, MaxFearGreed: 100, RiskTolerance: "medium", Frozen: true},
		},
	}

	for _, d := range defaults {
		m.cohorts[d.name] = &Cohort{
			ID:              "default-" + d.name,
			Name:            d.name,
			Description:     d.description,
			Config:          d.config,
			StartingCapital: 1000,
			CurrentCapital:  1000,
			IsActive:        true,
			CreatedAt:       time.Now().UTC(),
		}
	}
	m.log.Info().Msg("default cohorts created (memory mode)")
}

// Get returns a cohort by name.
func (m *Manager) Get(name string) *Cohort {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cohorts[name]
}

// ActiveCohorts enumerates the active cohorts.
func (m *Manager) ActiveCohorts() []*Cohort {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Cohort, 0, len(m.cohorts))
	for _, c := range m.cohorts {
		if c.IsActive {
			out = append(out, c)
		}
	}
	return out
}

// TradingCohorts returns the active cohorts whose gate passes for the
// current conditions.
func (m *Manager) TradingCohorts(confidence float64, fearGreed int) []*Cohort {
	var out []*Cohort
	for _, c := range m.ActiveCohorts() {
		if c.ShouldTrade(confidence, fearGreed) {
			out = append(out, c)
		}
	}
	return out
}

// UpdateCapital sets a cohort's current capital. Frozen cohorts reject
// mutations.
func (m *Manager) UpdateCapital(ctx context.Context, name string, newCapital float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cohorts[name]
	if !ok {
		return fmt.Errorf("cohort %q not found", name)
	}
	if c.Config.Frozen {
		return fmt.Errorf("cohort %q is frozen", name)
	}

	c.CurrentCapital = newCapital
	if m.store != nil {
		if err := m.store.UpdateCapital(ctx, name, newCapital); err != nil {
			return fmt.Errorf("persist capital: %w", err)
		}
	}
	return nil
}

// ComparisonReport produces the cross-cohort comparison view.
func (m *Manager) ComparisonReport(ctx context.Context) ([]ComparisonRow, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ComparisonReport(ctx, 50)
}
