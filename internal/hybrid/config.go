// Package hybrid runs one regime-adaptive strategy instance per cohort:
// a hysteresis-protected mode machine over HOLD/GRID/CASH with per-symbol
// grid trading.
package hybrid

import (
	"fmt"
	"os"
	"strconv"

	"cohort-trading-bot/internal/cohort"
)

// Config drives one hybrid orchestrator instance.
type Config struct {
	InitialMode          Mode
	EnableModeSwitching  bool

	// Hysteresis against mode flip-flopping.
	MinRegimeProbability  float64
	MinRegimeDurationDays int
	ModeCooldownHours     int

	// HOLD mode.
	HoldTrailingStopPct float64

	// GRID mode.
	GridRangePercent float64
	NumGrids         int

	// CASH mode.
	CashExitTimeoutHours float64

	// Multi-coin allocation.
	MaxSymbols      int
	MinPositionUSD  float64
	TotalInvestment float64

	// Coin selection.
	MinConfidence float64

	ConstraintsPreset string
}

// Validate collects configuration errors; any error is fatal at startup.
func (c Config) Validate() []error {
	var errs []error

	switch c.InitialMode {
	case ModeHold, ModeGrid, ModeCash:
	default:
		errs = append(errs, fmt.Errorf("initial_mode must be HOLD, GRID, or CASH, got %q", c.InitialMode))
	}

	if c.MinRegimeProbability < 0.5 || c.MinRegimeProbability > 1.0 {
		errs = append(errs, fmt.Errorf("min_regime_probability must be between 0.5 and 1.0, got %v", c.MinRegimeProbability))
	}
	if c.MinRegimeDurationDays < 0 {
		errs = append(errs, fmt.Errorf("min_regime_duration_days must be non-negative"))
	}
	if c.ModeCooldownHours < 0 {
		errs = append(errs, fmt.Errorf("mode_cooldown_hours must be non-negative"))
	}
	if c.HoldTrailingStopPct <= 0 || c.HoldTrailingStopPct > 50 {
		errs = append(errs, fmt.Errorf("hold_trailing_stop_pct must be between 0 and 50, got %v", c.HoldTrailingStopPct))
	}
	if c.GridRangePercent < 1 || c.GridRangePercent > 30 {
		errs = append(errs, fmt.Errorf("grid_range_percent must be within [1, 30], got %v", c.GridRangePercent))
	}
	if c.NumGrids < 1 || c.NumGrids > 50 {
		errs = append(errs, fmt.Errorf("num_grids must be within [1, 50], got %d", c.NumGrids))
	}
	if c.TotalInvestment < 10 {
		errs = append(errs, fmt.Errorf("total_investment must be at least 10 USD, got %v", c.TotalInvestment))
	}
	if c.MaxSymbols < 1 || c.MaxSymbols > 20 {
		errs = append(errs, fmt.Errorf("max_symbols must be between 1 and 20, got %d", c.MaxSymbols))
	}
	if c.MinPositionUSD < 5 {
		errs = append(errs, fmt.Errorf("min_position_usd must be at least 5 (venue minimum), got %v", c.MinPositionUSD))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_confidence must be between 0.0 and 1.0, got %v", c.MinConfidence))
	}

	switch c.ConstraintsPreset {
	case "small", "conservative", "balanced", "aggressive":
	default:
		errs = append(errs, fmt.Errorf("constraints_preset must be small/conservative/balanced/aggressive, got %q", c.ConstraintsPreset))
	}

	return errs
}

// FromEnv loads a config entirely from HYBRID_* environment variables.
func FromEnv() Config {
	return Config{
		InitialMode:           Mode(envOr("HYBRID_INITIAL_MODE", "GRID")),
		EnableModeSwitching:   envOr("HYBRID_ENABLE_MODE_SWITCHING", "true") == "true",
		MinRegimeProbability:  envFloat("HYBRID_MIN_REGIME_PROBABILITY", 0.75),
		MinRegimeDurationDays: envInt("HYBRID_MIN_REGIME_DURATION_DAYS", 2),
		ModeCooldownHours:     envInt("HYBRID_MODE_COOLDOWN_HOURS", 24),
		HoldTrailingStopPct:   envFloat("HYBRID_HOLD_TRAILING_STOP_PCT", 7.0),
		GridRangePercent:      envFloat("GRID_RANGE_PERCENT", 5.0),
		NumGrids:              envInt("NUM_GRIDS", 3),
		CashExitTimeoutHours:  envFloat("HYBRID_CASH_EXIT_TIMEOUT_HOURS", 2.0),
		MaxSymbols:            envInt("HYBRID_MAX_SYMBOLS", 8),
		MinPositionUSD:        envFloat("HYBRID_MIN_POSITION_USD", 10.0),
		TotalInvestment:       envFloat("HYBRID_TOTAL_INVESTMENT", 400.0),
		MinConfidence:         envFloat("HYBRID_MIN_CONFIDENCE", 0.3),
		ConstraintsPreset:     envOr("HYBRID_CONSTRAINTS_PRESET", "small"),
	}
}

// FromCohort derives a config from a cohort's settings, with env
// fallbacks for fields the cohort config does not carry. Risk
// differentiation between cohorts comes from grid range and confidence;
// small budgets keep the "small" constraints preset so per-grid
// notionals stay above the venue minimum.
func FromCohort(c *cohort.Cohort) Config {
	cfg := FromEnv()
	cfg.MinConfidence = c.Config.MinConfidence
	cfg.GridRangePercent = c.Config.GridRangePct
	cfg.TotalInvestment = c.CurrentCapital
	cfg.ConstraintsPreset = "small"

	if c.CurrentCapital < 200 {
		cfg.NumGrids = 2
		cfg.MaxSymbols = 2
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
