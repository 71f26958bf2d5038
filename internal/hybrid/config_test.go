package hybrid

import (
	"testing"
)

// ============================================================================
// TEST: Config validation
// ============================================================================

func validConfig() Config {
	return Config{
		InitialMode:           ModeGrid,
		EnableModeSwitching:   true,
		MinRegimeProbability:  0.75,
		MinRegimeDurationDays: 2,
		ModeCooldownHours:     24,
		HoldTrailingStopPct:   7.0,
		GridRangePercent:      5.0,
		NumGrids:              3,
		CashExitTimeoutHours:  2.0,
		MaxSymbols:            8,
		MinPositionUSD:        10.0,
		TotalInvestment:       400.0,
		MinConfidence:         0.3,
		ConstraintsPreset:     "small",
	}
}

func TestConfigValidate_Defaults(t *testing.T) {
	if errs := validConfig().Validate(); len(errs) != 0 {
		t.Fatalf("expected valid config, got %v", errs)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.InitialMode = "PANIC" }},
		{"probability too low", func(c *Config) { c.MinRegimeProbability = 0.4 }},
		{"probability too high", func(c *Config) { c.MinRegimeProbability = 1.1 }},
		{"negative duration", func(c *Config) { c.MinRegimeDurationDays = -1 }},
		{"negative cooldown", func(c *Config) { c.ModeCooldownHours = -1 }},
		{"trailing stop zero", func(c *Config) { c.HoldTrailingStopPct = 0 }},
		{"trailing stop too wide", func(c *Config) { c.HoldTrailingStopPct = 60 }},
		{"tiny investment", func(c *Config) { c.TotalInvestment = 5 }},
		{"too many symbols", func(c *Config) { c.MaxSymbols = 25 }},
		{"position below venue minimum", func(c *Config) { c.MinPositionUSD = 2 }},
		{"confidence out of range", func(c *Config) { c.MinConfidence = 1.5 }},
		{"unknown preset", func(c *Config) { c.ConstraintsPreset = "reckless" }},
	}

	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(&cfg)
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.InitialMode != ModeGrid {
		t.Errorf("expected GRID default, got %s", cfg.InitialMode)
	}
	if cfg.MinRegimeProbability != 0.75 || cfg.MinRegimeDurationDays != 2 || cfg.ModeCooldownHours != 24 {
		t.Errorf("unexpected hysteresis defaults: %+v", cfg)
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("env defaults must validate: %v", errs)
	}
}
