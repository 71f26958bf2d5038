package hybrid

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/binance"
	"cohort-trading-bot/internal/cohort"
	"cohort-trading-bot/internal/regime"
	"cohort-trading-bot/internal/risk"
	"cohort-trading-bot/internal/signals"
)

// FeatureSource supplies the feature bundles the decision engine consumes.
// Indicator computation happens upstream of this interface.
type FeatureSource interface {
	Features(ctx context.Context, symbol string) (signals.MarketFeatures, error)
	RegimeFeatures(ctx context.Context) (regime.Features, error)
	CandidateSymbols(ctx context.Context) ([]string, error)
}

// DecisionRecorder persists signal breakdowns and sizing decisions.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, cohortID, symbol string, b *signals.Breakdown, regimeState regime.State, sizedUSD float64) error
}

// AllocationResult reports one scan-and-allocate pass.
type AllocationResult struct {
	Allocations    map[string]float64
	TotalAllocated float64
}

// Orchestrator runs the hybrid strategy for a single cohort. It owns its
// state exclusively; only the venue client is shared across cohorts.
type Orchestrator struct {
	cfg        Config
	cohortRef  *cohort.Cohort
	cohortName string
	cohortID   string

	client   binance.VenueClient
	detector *regime.Detector
	analyzer *signals.Analyzer
	sizer    *risk.Sizer
	features FeatureSource
	recorder DecisionRecorder

	dataDir string
	log     zerolog.Logger

	state *State
	grids map[string]*GridState

	now func() time.Time
}

// Deps bundles the injected collaborators.
type Deps struct {
	Client   binance.VenueClient
	Detector *regime.Detector
	Analyzer *signals.Analyzer
	Sizer    *risk.Sizer
	Features FeatureSource
	Recorder DecisionRecorder
	DataDir  string
	Log      zerolog.Logger
}

// NewOrchestrator builds one per-cohort instance. The config must have
// been validated.
func NewOrchestrator(cfg Config, c *cohort.Cohort, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		cohortRef:  c,
		cohortName: c.Name,
		cohortID:   c.ID,
		client:     deps.Client,
		detector:   deps.Detector,
		analyzer:   deps.Analyzer,
		sizer:      deps.Sizer,
		features:   deps.Features,
		recorder:   deps.Recorder,
		dataDir:    deps.DataDir,
		log:        deps.Log.With().Str("component", "hybrid").Str("cohort", c.Name).Logger(),
		state: &State{
			Mode:          cfg.InitialMode,
			ModeEnteredAt: time.Now().UTC(),
			Symbols:       make(map[string]*SymbolState),
		},
		grids: make(map[string]*GridState),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Mode returns the current strategy mode.
func (o *Orchestrator) Mode() Mode { return o.state.Mode }

// LoadPersistedState restores the hybrid and grid state files written by
// a previous run.
func (o *Orchestrator) LoadPersistedState() error {
	s, err := LoadState(o.dataDir, o.cohortName)
	if err != nil {
		return fmt.Errorf("load hybrid state: %w", err)
	}
	if s != nil {
		o.state = s
	}

	for symbol := range o.state.Symbols {
		g, err := LoadGridState(o.dataDir, symbol, o.cohortName)
		if err != nil {
			o.log.Warn().Err(err).Str("symbol", symbol).Msg("grid state load failed")
			continue
		}
		if g != nil {
			o.grids[symbol] = g
		}
	}

	o.log.Info().Str("mode", string(o.state.Mode)).Int("symbols", len(o.state.Symbols)).
		Msg("state restored")
	return nil
}

// SaveStateFiles persists the hybrid state and every tracked grid.
func (o *Orchestrator) SaveStateFiles() error {
	if err := SaveState(o.dataDir, o.cohortName, o.state); err != nil {
		return err
	}
	for _, g := range o.grids {
		if err := SaveGridState(o.dataDir, o.cohortName, g); err != nil {
			return err
		}
	}
	return nil
}

// Tick runs one decision round: regime, mode machine, per-symbol signal
// and position maintenance, state persistence. Per-symbol errors are
// isolated; the tick continues with the remaining symbols.
func (o *Orchestrator) Tick(ctx context.Context) error {
	regimeFeatures, err := o.features.RegimeFeatures(ctx)
	if err != nil {
		return fmt.Errorf("regime features: %w", err)
	}
	regimeState := o.detector.Predict(regimeFeatures)
	o.trackRegime(regimeState)

	if target, ok := o.evaluateTransition(regimeState); ok {
		o.executeTransition(ctx, target, regimeState)
	}

	for symbol, symState := range o.state.Symbols {
		if symState.AllocationUSD <= 0 {
			continue
		}
		if err := o.tickSymbol(ctx, symbol, symState, regimeState); err != nil {
			o.log.Error().Err(err).Str("symbol", symbol).Msg("symbol tick failed")
		}
	}

	return o.SaveStateFiles()
}

func (o *Orchestrator) trackRegime(s regime.State) {
	if o.state.LastRegime != string(s.CurrentRegime) {
		o.state.LastRegimeSeenAt = s.Timestamp
	}
	o.state.LastRegime = string(s.CurrentRegime)
	o.state.LastRegimeProbability = s.RegimeProbability
}

// hysteresisSatisfied is the common transition predicate: regime
// probability, regime duration, and mode cooldown must all pass.
func (o *Orchestrator) hysteresisSatisfied(s regime.State) bool {
	if s.RegimeProbability < o.cfg.MinRegimeProbability {
		return false
	}
	if s.RegimeDurationDays < o.cfg.MinRegimeDurationDays {
		return false
	}
	cooldown := time.Duration(o.cfg.ModeCooldownHours) * time.Hour
	return o.now().Sub(o.state.ModeEnteredAt) >= cooldown
}

// evaluateTransition applies the mode machine with hysteresis.
func (o *Orchestrator) evaluateTransition(s regime.State) (Mode, bool) {
	if !o.cfg.EnableModeSwitching {
		return "", false
	}

	switch o.state.Mode {
	case ModeHold:
		if !o.hysteresisSatisfied(s) {
			return "", false
		}
		switch s.CurrentRegime {
		case regime.Bull, regime.Sideways:
			return ModeGrid, true
		case regime.Bear:
			return ModeCash, true
		}

	case ModeGrid:
		if s.CurrentRegime == regime.Bear && o.hysteresisSatisfied(s) {
			return ModeCash, true
		}
		// Extended uptrend with a fully drained grid: switch to holding.
		if s.CurrentRegime == regime.Bull && o.hysteresisSatisfied(s) &&
			s.RegimeDurationDays >= 2*o.cfg.MinRegimeDurationDays && o.allGridsClosed() {
			return ModeHold, true
		}

	case ModeCash:
		if (s.CurrentRegime == regime.Bull || s.CurrentRegime == regime.Sideways) && o.hysteresisSatisfied(s) {
			return ModeGrid, true
		}
		// Trailing re-entry into HOLD once the cash timeout elapsed.
		timeout := time.Duration(o.cfg.CashExitTimeoutHours * float64(time.Hour))
		if s.CurrentRegime != regime.Bear && o.now().Sub(o.state.ModeEnteredAt) >= timeout &&
			o.hysteresisSatisfied(s) {
			return ModeHold, true
		}
	}

	return "", false
}

func (o *Orchestrator) allGridsClosed() bool {
	for symbol := range o.grids {
		if !o.gridFullyClosed(symbol) {
			return false
		}
	}
	return true
}

// executeTransition performs the side effects of a mode change and stamps
// the new mode.
func (o *Orchestrator) executeTransition(ctx context.Context, target Mode, s regime.State) {
	from := o.state.Mode
	o.log.Info().Str("from", string(from)).Str("to", string(target)).
		Str("regime", string(s.CurrentRegime)).Float64("probability", s.RegimeProbability).
		Msg("mode transition")

	switch target {
	case ModeCash:
		o.exitAllPositions()
	case ModeGrid:
		o.enterGridMode(ctx)
	case ModeHold:
		o.armTrailingStops()
	}

	o.state.Mode = target
	o.state.ModeEnteredAt = o.now()
	for _, symState := range o.state.Symbols {
		symState.Mode = target
	}
}

// exitAllPositions closes every grid and liquidates holdings into USDT.
func (o *Orchestrator) exitAllPositions() {
	for symbol := range o.grids {
		o.closeGrid(symbol)
	}

	for symbol, symState := range o.state.Symbols {
		if symState.AllocationUSD <= 0 {
			continue
		}
		price, err := o.client.GetCurrentPrice(symbol)
		if err != nil {
			o.log.Error().Err(err).Str("symbol", symbol).Msg("exit price fetch failed")
			continue
		}
		qty := symState.AllocationUSD / price
		if _, err := o.client.PlaceOrder(symbol, binance.SideSell, qty, price); err != nil {
			o.log.Error().Err(err).Str("symbol", symbol).Msg("position exit failed")
			continue
		}
		symState.HighWaterMark = nil
	}
}

// enterGridMode opens a grid for every allocated symbol.
func (o *Orchestrator) enterGridMode(ctx context.Context) {
	if len(o.state.Symbols) == 0 {
		if _, err := o.ScanAndAllocate(ctx); err != nil {
			o.log.Error().Err(err).Msg("allocation on grid entry failed")
		}
	}

	for symbol, symState := range o.state.Symbols {
		if symState.AllocationUSD < o.cfg.MinPositionUSD {
			continue
		}
		if _, exists := o.grids[symbol]; exists {
			continue
		}
		if err := o.openGrid(symbol, symState.AllocationUSD); err != nil {
			o.log.Error().Err(err).Str("symbol", symbol).Msg("grid open failed")
		}
	}
}

// armTrailingStops seeds the high-water mark of every holding.
func (o *Orchestrator) armTrailingStops() {
	for symbol, symState := range o.state.Symbols {
		if symState.AllocationUSD <= 0 {
			continue
		}
		price, err := o.client.GetCurrentPrice(symbol)
		if err != nil {
			continue
		}
		hwm := price
		symState.HighWaterMark = &hwm
	}
}

// tickSymbol runs the per-symbol decision path for one tick.
func (o *Orchestrator) tickSymbol(ctx context.Context, symbol string, symState *SymbolState, regimeState regime.State) error {
	features, err := o.features.Features(ctx, symbol)
	if err != nil {
		return fmt.Errorf("features: %w", err)
	}

	breakdown := o.analyzer.Compute(ctx, features, string(regimeState.CurrentRegime))

	confidence := (breakdown.FinalScore + 1) / 2
	if !o.cohortRef.ShouldTrade(confidence, features.FearGreed) {
		return nil
	}

	sized := o.sizer.CalculatePositionSize(ctx, risk.Input{
		Symbol:           symbol,
		PortfolioValue:   o.cfg.TotalInvestment,
		SignalConfidence: confidence,
		Regime:           regimeState.CurrentRegime,
		UseKelly:         true,
	})
	damped := o.sizer.AdjustForCorrelation(sized.RecommendedSize, symbol, o.existingPositions(symbol))

	if o.recorder != nil {
		if err := o.recorder.RecordDecision(ctx, o.cohortID, symbol, breakdown, regimeState, damped); err != nil {
			o.log.Warn().Err(err).Str("symbol", symbol).Msg("decision persistence failed")
		}
	}

	switch o.state.Mode {
	case ModeGrid:
		if err := o.checkGridFills(symbol); err != nil {
			return err
		}
	case ModeHold:
		return o.maintainTrailingStop(symbol, symState)
	}
	return nil
}

func (o *Orchestrator) existingPositions(except string) []risk.Position {
	var out []risk.Position
	for symbol, symState := range o.state.Symbols {
		if symbol == except || symState.AllocationUSD <= 0 {
			continue
		}
		out = append(out, risk.Position{Symbol: symbol, Value: symState.AllocationUSD})
	}
	return out
}

// maintainTrailingStop exits a holding once it draws down from its peak
// by the configured percentage.
func (o *Orchestrator) maintainTrailingStop(symbol string, symState *SymbolState) error {
	price, err := o.client.GetCurrentPrice(symbol)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	if symState.HighWaterMark == nil || price > *symState.HighWaterMark {
		hwm := price
		symState.HighWaterMark = &hwm
		return nil
	}

	drawdown := (*symState.HighWaterMark - price) / *symState.HighWaterMark * 100
	if drawdown < o.cfg.HoldTrailingStopPct {
		return nil
	}

	o.log.Info().Str("symbol", symbol).Float64("drawdown_pct", drawdown).
		Msg("trailing stop hit, exiting position")

	qty := symState.AllocationUSD / price
	if _, err := o.client.PlaceOrder(symbol, binance.SideSell, qty, price); err != nil {
		return fmt.Errorf("trailing stop exit: %w", err)
	}
	symState.AllocationUSD = 0
	symState.HighWaterMark = nil
	return nil
}

// ScanAndAllocate ranks candidate symbols by composite score and greedily
// partitions the total investment across the top picks. Runs at startup
// and on mode changes.
func (o *Orchestrator) ScanAndAllocate(ctx context.Context) (*AllocationResult, error) {
	candidates, err := o.features.CandidateSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("candidate symbols: %w", err)
	}

	type scored struct {
		symbol string
		score  float64
	}
	var ranked []scored
	for _, symbol := range candidates {
		features, err := o.features.Features(ctx, symbol)
		if err != nil {
			o.log.Warn().Err(err).Str("symbol", symbol).Msg("candidate features failed")
			continue
		}
		b := o.analyzer.Compute(ctx, features, o.state.LastRegime)

		confidence := (b.FinalScore + 1) / 2
		if confidence < o.cfg.MinConfidence || b.FinalScore <= 0 {
			continue
		}
		ranked = append(ranked, scored{symbol: symbol, score: b.FinalScore})
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > o.cfg.MaxSymbols {
		ranked = ranked[:o.cfg.MaxSymbols]
	}

	result := &AllocationResult{Allocations: make(map[string]float64)}
	if len(ranked) == 0 {
		return result, nil
	}

	share := o.cfg.TotalInvestment / float64(len(ranked))
	if share < o.cfg.MinPositionUSD {
		// Fewer, larger positions instead of sub-minimum dust.
		n := int(o.cfg.TotalInvestment / o.cfg.MinPositionUSD)
		if n == 0 {
			return result, nil
		}
		if n < len(ranked) {
			ranked = ranked[:n]
		}
		share = o.cfg.TotalInvestment / float64(len(ranked))
	}

	o.state.Symbols = make(map[string]*SymbolState, len(ranked))
	for _, r := range ranked {
		alloc := share
		damped := o.sizer.AdjustForCorrelation(alloc, r.symbol, o.existingPositions(r.symbol))
		if damped < o.cfg.MinPositionUSD {
			continue
		}
		o.state.Symbols[r.symbol] = &SymbolState{
			AllocationUSD: damped,
			Mode:          o.state.Mode,
		}
		result.Allocations[r.symbol] = damped
		result.TotalAllocated += damped
	}

	o.log.Info().Int("symbols", len(result.Allocations)).
		Float64("total", result.TotalAllocated).Msg("allocation complete")
	return result, o.SaveStateFiles()
}

// Status summarizes the instance for the operator surface.
func (o *Orchestrator) Status() map[string]interface{} {
	symbols := make(map[string]float64, len(o.state.Symbols))
	for s, st := range o.state.Symbols {
		symbols[s] = st.AllocationUSD
	}
	return map[string]interface{}{
		"cohort":          o.cohortName,
		"mode":            o.state.Mode,
		"mode_entered_at": o.state.ModeEnteredAt,
		"last_regime":     o.state.LastRegime,
		"symbols":         symbols,
	}
}
