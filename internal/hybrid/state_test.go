package hybrid

import (
	"reflect"
	"testing"
	"time"
)

// ============================================================================
// TEST: State file round-trips
// ============================================================================

func TestHybridState_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	hwm := 105.5
	original := &State{
		Mode:          ModeGrid,
		ModeEnteredAt: time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
		Symbols: map[string]*SymbolState{
			"BTCUSDT": {AllocationUSD: 250, Mode: ModeGrid},
			"ETHUSDT": {AllocationUSD: 150, Mode: ModeHold, HighWaterMark: &hwm},
		},
		LastRegime:            "BULL",
		LastRegimeProbability: 0.82,
		LastRegimeSeenAt:      time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}

	if err := SaveState(dir, "balanced", original); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadState(dir, "balanced")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(original, loaded) {
		t.Errorf("round-trip mismatch:\nsaved:  %+v\nloaded: %+v", original, loaded)
	}
}

func TestGridState_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	original := &GridState{
		Symbol: "BTCUSDT",
		ActiveOrders: map[string]GridOrder{
			"1001": {Type: "BUY", Price: 49000, Quantity: 0.001, CreatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)},
			"1002": {Type: "SELL", Price: 52000, Quantity: 0.001, CreatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC), FailedFollowup: true},
		},
		LowerBound: 47500,
		UpperBound: 52500,
		LastFill: &FillRecord{
			OrderID: "1000", Type: "BUY", Price: 50000, Quantity: 0.001,
			FilledAt: time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC),
		},
	}

	if err := SaveGridState(dir, "balanced", original); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadGridState(dir, "BTCUSDT", "balanced")
	if err != nil {
		t.Fatal(err)
	}

	// Timestamp is stamped on save; compare the rest.
	original.Timestamp = loaded.Timestamp
	if !reflect.DeepEqual(original, loaded) {
		t.Errorf("round-trip mismatch:\nsaved:  %+v\nloaded: %+v", original, loaded)
	}
}

func TestLoadState_Missing(t *testing.T) {
	s, err := LoadState(t.TempDir(), "nobody")
	if err != nil || s != nil {
		t.Errorf("missing state must be (nil, nil), got (%v, %v)", s, err)
	}
}

func TestLoadAllGridStates(t *testing.T) {
	dir := t.TempDir()

	for _, tc := range []struct{ symbol, cohort string }{
		{"BTCUSDT", "balanced"},
		{"ETHUSDT", "balanced"},
		{"BTCUSDT", "aggressive"},
	} {
		g := &GridState{Symbol: tc.symbol, ActiveOrders: map[string]GridOrder{}}
		if err := SaveGridState(dir, tc.cohort, g); err != nil {
			t.Fatal(err)
		}
	}

	states, err := LoadAllGridStates(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 3 {
		t.Fatalf("expected 3 grid states, got %d", len(states))
	}
	if _, ok := states["balanced:BTCUSDT"]; !ok {
		t.Error("missing balanced:BTCUSDT key")
	}
	if _, ok := states["aggressive:BTCUSDT"]; !ok {
		t.Error("missing aggressive:BTCUSDT key")
	}
}
