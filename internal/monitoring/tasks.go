// Package monitoring runs the periodic reconciliation, plausibility and
// health tasks. Tasks only read persisted snapshots; they never mutate
// strategy state — inconsistencies are reported, not healed.
package monitoring

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/binance"
	"cohort-trading-bot/internal/hybrid"
	"cohort-trading-bot/internal/notification"
)

// TierStatus is one portfolio tier's allocation against its target.
type TierStatus struct {
	TierName   string
	TargetPct  float64
	CurrentPct float64
}

// HealthStore is the subset of the repository the health tasks read.
type HealthStore interface {
	LastDiscoveryAt(ctx context.Context) (*time.Time, error)
	DiscoveryApprovalRate(ctx context.Context) (total, approved int, err error)
	IdleDiscoveredCoins(ctx context.Context) ([]string, error)
	TradesInLast24h(ctx context.Context) (int, error)
	PortfolioTiers(ctx context.Context) ([]TierStatus, error)
}

// Tasks holds the shared dependencies of all monitoring tasks.
type Tasks struct {
	dataDir  string
	client   binance.VenueClient
	store    HealthStore
	notifier notification.Notifier
	log      zerolog.Logger

	tierCheckEnabled bool

	now func() time.Time
}

func NewTasks(dataDir string, client binance.VenueClient, store HealthStore, notifier notification.Notifier, tierCheckEnabled bool, log zerolog.Logger) *Tasks {
	return &Tasks{
		dataDir:          dataDir,
		client:           client,
		store:            store,
		notifier:         notifier,
		tierCheckEnabled: tierCheckEnabled,
		log:              log.With().Str("component", "monitoring").Logger(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tasks) alert(text string) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Send(text, true); err != nil {
		t.log.Error().Err(err).Msg("alert dispatch failed")
	}
}

// ReconcileOrders compares grid state files with the venue's open orders.
// ORPHAN: tracked but not at the venue. UNKNOWN: at the venue but not
// tracked anywhere.
func (t *Tasks) ReconcileOrders() {
	t.log.Info().Msg("running order reconciliation")

	gridStates, err := hybrid.LoadAllGridStates(t.dataDir)
	if err != nil || len(gridStates) == 0 {
		t.log.Info().Msg("no grid state files, skipping reconciliation")
		return
	}

	// Tracked order IDs grouped by symbol.
	stateOrders := make(map[string]map[int64]bool)
	for _, state := range gridStates {
		if state.Symbol == "" {
			continue
		}
		if stateOrders[state.Symbol] == nil {
			stateOrders[state.Symbol] = make(map[int64]bool)
		}
		for id := range state.ActiveOrders {
			if n, err := strconv.ParseInt(id, 10, 64); err == nil {
				stateOrders[state.Symbol][n] = true
			}
		}
	}

	totalOrphans, totalUnknown := 0, 0
	for symbol, tracked := range stateOrders {
		open, err := t.client.GetOpenOrders(symbol)
		if err != nil {
			t.log.Error().Err(err).Str("symbol", symbol).Msg("reconciliation fetch failed")
			continue
		}

		venueIDs := make(map[int64]bool, len(open))
		for _, o := range open {
			venueIDs[o.OrderID] = true
		}

		for id := range tracked {
			if !venueIDs[id] {
				totalOrphans++
				t.log.Warn().Str("symbol", symbol).Int64("order", id).
					Msg("ORPHAN order (tracked but not at venue)")
			}
		}
		for id := range venueIDs {
			if !tracked[id] {
				totalUnknown++
				t.log.Warn().Str("symbol", symbol).Int64("order", id).
					Msg("UNKNOWN order (at venue but not tracked)")
			}
		}
	}

	if totalOrphans > 0 || totalUnknown > 0 {
		t.alert(fmt.Sprintf(
			"Order Reconciliation\n\nOrphans (state only): %d\nUnknown (venue only): %d",
			totalOrphans, totalUnknown))
	} else {
		t.log.Info().Int("symbols", len(stateOrders)).Msg("reconciliation OK")
	}
}

// OrderTimeoutCheck counts stale grid orders. Informational: grid levels
// far from price are expected to rest for a while.
func (t *Tasks) OrderTimeoutCheck() {
	gridStates, err := hybrid.LoadAllGridStates(t.dataDir)
	if err != nil || len(gridStates) == 0 {
		return
	}

	now := t.now()
	total, stale6h, stale24h := 0, 0, 0
	for _, state := range gridStates {
		for _, order := range state.ActiveOrders {
			total++
			age := now.Sub(order.CreatedAt)
			switch {
			case age > 24*time.Hour:
				stale24h++
			case age > 6*time.Hour:
				stale6h++
			}
		}
	}

	t.log.Info().Int("total", total).Int("stale_6h", stale6h).Int("stale_24h", stale24h).
		Msg("order timeout check")
	if stale24h > 0 {
		t.log.Warn().Int("count", stale24h).Msg("orders older than 24h, grid may need recalibration")
	}
}

// PortfolioPlausibility verifies allocation math across cohorts and the
// venue USDT balance.
func (t *Tasks) PortfolioPlausibility() {
	t.log.Info().Msg("running portfolio plausibility check")

	hybridStates, err := hybrid.LoadAllHybridStates(t.dataDir)
	if err != nil || len(hybridStates) == 0 {
		t.log.Info().Msg("no hybrid state files, skipping plausibility check")
		return
	}

	var issues []string
	for cohortName, state := range hybridStates {
		var total float64
		for symbol, symState := range state.Symbols {
			total += symState.AllocationUSD
			if symState.AllocationUSD < 0 {
				issues = append(issues, fmt.Sprintf("%s:%s has negative allocation $%.2f",
					cohortName, symbol, symState.AllocationUSD))
			}
		}
		if total > 0 {
			t.log.Info().Str("cohort", cohortName).Float64("allocated", total).
				Int("symbols", len(state.Symbols)).Msg("cohort allocation")
		}
	}

	balance, err := t.client.GetAccountBalance("USDT")
	if err != nil {
		t.log.Warn().Err(err).Msg("could not check USDT balance")
	} else if balance <= 0 {
		issues = append(issues, fmt.Sprintf("USDT balance is $%.2f", balance))
	}

	if len(issues) > 0 {
		t.alert("Portfolio plausibility issues:\n- " + strings.Join(issues, "\n- "))
	} else {
		t.log.Info().Msg("portfolio plausibility OK")
	}
}

// GridHealthSummary reports per-grid order counts and alerts on failed
// follow-ups.
func (t *Tasks) GridHealthSummary() {
	gridStates, err := hybrid.LoadAllGridStates(t.dataDir)
	if err != nil || len(gridStates) == 0 {
		t.log.Info().Msg("no grid state files")
		return
	}

	totalBuy, totalSell := 0, 0
	var emptyGrids, failedFollowups []string

	for key, state := range gridStates {
		nBuy, nSell, nFailed := 0, 0, 0
		for _, order := range state.ActiveOrders {
			switch order.Type {
			case binance.SideBuy:
				nBuy++
			case binance.SideSell:
				nSell++
			}
			if order.FailedFollowup {
				nFailed++
			}
		}
		totalBuy += nBuy
		totalSell += nSell

		if len(state.ActiveOrders) == 0 {
			emptyGrids = append(emptyGrids, key)
		}
		if nFailed > 0 {
			failedFollowups = append(failedFollowups, fmt.Sprintf("%s (%d failed)", key, nFailed))
		}
	}

	t.log.Info().Int("grids", len(gridStates)).Int("buys", totalBuy).Int("sells", totalSell).
		Strs("empty", emptyGrids).Msg("grid health summary")

	if len(failedFollowups) > 0 {
		t.alert("Grid Health Warning\n\nFailed follow-ups:\n- " + strings.Join(failedFollowups, "\n- "))
	}
}

// StaleDetection alerts when the newest grid order across all grids is
// older than 30 minutes.
func (t *Tasks) StaleDetection() {
	gridStates, err := hybrid.LoadAllGridStates(t.dataDir)
	if err != nil || len(gridStates) == 0 {
		t.log.Info().Msg("no grid state files, skipping stale detection")
		return
	}

	var newest time.Time
	for _, state := range gridStates {
		for _, order := range state.ActiveOrders {
			if order.CreatedAt.After(newest) {
				newest = order.CreatedAt
			}
		}
	}
	if newest.IsZero() {
		t.log.Warn().Msg("stale detection: no order timestamps in grid states")
		return
	}

	age := t.now().Sub(newest)
	if age > 30*time.Minute {
		t.alert(fmt.Sprintf(
			"Stale Detection Warning\n\nNo new order activity for %.0f min\nLast activity: %s",
			age.Minutes(), newest.Format("15:04:05")))
	} else {
		t.log.Info().Float64("minutes", age.Minutes()).Msg("stale detection OK")
	}
}

// TierHealthCheck is the opt-in portfolio tier check: tier drift beyond
// 5pp of target, cash reserve below 3%, or no trading activity in the
// last 24 hours.
func (t *Tasks) TierHealthCheck() {
	if !t.tierCheckEnabled || t.store == nil {
		return
	}
	t.log.Info().Msg("running tier health check")
	ctx := context.Background()

	var issues []string

	tiers, err := t.store.PortfolioTiers(ctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("tier health query failed")
		return
	}
	for _, tier := range tiers {
		drift := tier.CurrentPct - tier.TargetPct
		if drift < 0 {
			drift = -drift
		}
		if drift > 5.0 {
			issues = append(issues, fmt.Sprintf("%s: %.1f%% vs target %.1f%% (drift %.1fpp)",
				tier.TierName, tier.CurrentPct, tier.TargetPct, drift))
		}

		if tier.TierName == "cash_reserve" && tier.CurrentPct < 3.0 {
			issues = append(issues, fmt.Sprintf("Cash reserve critically low: %.1f%%", tier.CurrentPct))
		}
	}

	trades, err := t.store.TradesInLast24h(ctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("tier health query failed")
		return
	}
	if trades == 0 {
		issues = append(issues, "No trading activity in last 24h")
	}

	if len(issues) > 0 {
		t.alert("Tier Health Issues:\n- " + strings.Join(issues, "\n- "))
	} else {
		t.log.Info().Msg("tier health OK")
	}
}

// DiscoveryHealthCheck validates the coin-discovery pipeline: recency,
// plausible AI approval rates, and post-add trading activity.
func (t *Tasks) DiscoveryHealthCheck() {
	if t.store == nil {
		return
	}
	t.log.Info().Msg("running discovery health check")
	ctx := context.Background()

	var issues []string

	last, err := t.store.LastDiscoveryAt(ctx)
	if err != nil {
		t.log.Debug().Err(err).Msg("discovery health query failed")
		return
	}
	if last == nil {
		t.log.Info().Msg("discovery health: no discoveries yet")
		return
	}
	if age := t.now().Sub(*last); age > 48*time.Hour {
		issues = append(issues, fmt.Sprintf("Last discovery was %.0fh ago (>48h)", age.Hours()))
	}

	total, approved, err := t.store.DiscoveryApprovalRate(ctx)
	if err == nil && total >= 10 {
		rate := float64(approved) / float64(total) * 100
		if rate == 0 {
			issues = append(issues, fmt.Sprintf("AI approval rate 0%% over %d decisions", total))
		} else if rate == 100 {
			issues = append(issues, fmt.Sprintf("AI approval rate 100%% over %d decisions", total))
		}
	}

	if idle, err := t.store.IdleDiscoveredCoins(ctx); err == nil && len(idle) > 0 {
		if len(idle) > 5 {
			idle = idle[:5]
		}
		issues = append(issues, "Coins with no trades after 7d: "+strings.Join(idle, ", "))
	}

	if len(issues) > 0 {
		t.alert("Discovery Health Issues:\n- " + strings.Join(issues, "\n- "))
	} else {
		t.log.Info().Msg("discovery health OK")
	}
}
