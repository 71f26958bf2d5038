package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cohort-trading-bot/internal/bayesian"
	"cohort-trading-bot/internal/cohort"
	"cohort-trading-bot/internal/cycle"
	"cohort-trading-bot/internal/metrics"
	"cohort-trading-bot/internal/monitoring"
	"cohort-trading-bot/internal/regime"
	"cohort-trading-bot/internal/signals"
)

// Repository provides data access for the decision engine. It implements
// the store interfaces of the cohort, cycle, bayesian and risk packages.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// COHORTS
// ============================================================================

// ActiveCohorts loads the active cohort catalog.
func (r *Repository) ActiveCohorts(ctx context.Context) ([]*cohort.Cohort, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, name, description, config, starting_capital, current_capital, is_active, created_at
		FROM cohorts
		WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cohorts []*cohort.Cohort
	for rows.Next() {
		var (
			c         cohort.Cohort
			id        uuid.UUID
			configRaw []byte
		)
		if err := rows.Scan(&id, &c.Name, &c.Description, &configRaw,
			&c.StartingCapital, &c.CurrentCapital, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ID = id.String()
		if err := json.Unmarshal(configRaw, &c.Config); err != nil {
			return nil, fmt.Errorf("cohort %s config: %w", c.Name, err)
		}
		cohorts = append(cohorts, &c)
	}
	return cohorts, rows.Err()
}

// UpdateCapital persists a cohort's capital change.
func (r *Repository) UpdateCapital(ctx context.Context, name string, newCapital float64) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE cohorts SET current_capital = $2, updated_at = NOW() WHERE name = $1
	`, name, newCapital)
	return err
}

// ComparisonReport reads the cross-cohort comparison view.
func (r *Repository) ComparisonReport(ctx context.Context, limit int) ([]cohort.ComparisonRow, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT cohort_name, cycle_number, total_pnl_pct, sharpe_ratio, win_rate, trades_count
		FROM v_cohort_comparison
		ORDER BY cycle_number DESC, total_pnl_pct DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var report []cohort.ComparisonRow
	for rows.Next() {
		var row cohort.ComparisonRow
		if err := rows.Scan(&row.CohortName, &row.CycleNumber, &row.TotalPnLPct,
			&row.Sharpe, &row.WinRate, &row.TradesCount); err != nil {
			return nil, err
		}
		report = append(report, row)
	}
	return report, rows.Err()
}

// ============================================================================
// TRADING CYCLES
// ============================================================================

const cycleColumns = `
	id, cohort_id, cycle_number, start_date, end_date, status,
	starting_capital, ending_capital, trades_count,
	total_pnl, total_pnl_pct, winning_trades, losing_trades, max_drawdown,
	sharpe_ratio, sortino_ratio, calmar_ratio, kelly_fraction, var_95, cvar_95,
	avg_fear_greed, dominant_regime, btc_performance_pct,
	playbook_version_at_start, playbook_version_at_end`

func scanCycle(row pgx.Row) (*cycle.Cycle, error) {
	var (
		c                  cycle.Cycle
		id, cohortID       uuid.UUID
		dominantRegime     *string
	)
	err := row.Scan(&id, &cohortID, &c.CycleNumber, &c.StartDate, &c.EndDate, &c.Status,
		&c.StartingCapital, &c.EndingCapital, &c.TradesCount,
		&c.TotalPnL, &c.TotalPnLPct, &c.WinningTrades, &c.LosingTrades, &c.MaxDrawdown,
		&c.Sharpe, &c.Sortino, &c.Calmar, &c.KellyFraction, &c.VaR95, &c.CVaR95,
		&c.AvgFearGreed, &dominantRegime, &c.BTCPerformancePct,
		&c.PlaybookVersionAtStart, &c.PlaybookVersionAtEnd)
	if err != nil {
		return nil, err
	}
	c.ID = id.String()
	c.CohortID = cohortID.String()
	if dominantRegime != nil {
		c.DominantRegime = *dominantRegime
	}
	return &c, nil
}

// ActiveCycles loads every active cycle with its cohort name.
func (r *Repository) ActiveCycles(ctx context.Context) ([]*cycle.Cycle, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+cycleColumns+`
		FROM trading_cycles
		WHERE status = 'active'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*cycle.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// NextCycleNumber returns the next dense cycle number for a cohort.
func (r *Repository) NextCycleNumber(ctx context.Context, cohortID string) (int, error) {
	var next int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(cycle_number), 0) + 1 FROM trading_cycles WHERE cohort_id = $1
	`, cohortID).Scan(&next)
	return next, err
}

// InsertCycle inserts a new active cycle, assigning its ID.
func (r *Repository) InsertCycle(ctx context.Context, c *cycle.Cycle) error {
	id := uuid.New()
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trading_cycles (id, cohort_id, cycle_number, start_date, status, starting_capital, playbook_version_at_start)
		VALUES ($1, $2, $3, $4, 'active', $5, $6)
	`, id, c.CohortID, c.CycleNumber, c.StartDate, c.StartingCapital, c.PlaybookVersionAtStart)
	if err != nil {
		return err
	}
	c.ID = id.String()
	return nil
}

// CloseCycle writes the closure columns. Completed rows are written once
// and never mutated afterwards.
func (r *Repository) CloseCycle(ctx context.Context, c *cycle.Cycle) error {
	signalPerf, _ := json.Marshal(c.SignalPerformance)
	best, _ := json.Marshal(c.BestPatterns)
	worst, _ := json.Marshal(c.WorstPatterns)

	_, err := r.db.Pool.Exec(ctx, `
		UPDATE trading_cycles SET
			end_date = $2, status = $3, closed_at = NOW(),
			ending_capital = $4, trades_count = $5,
			total_pnl = $6, total_pnl_pct = $7,
			winning_trades = $8, losing_trades = $9, max_drawdown = $10,
			sharpe_ratio = $11, sortino_ratio = $12, calmar_ratio = $13,
			kelly_fraction = $14, var_95 = $15, cvar_95 = $16,
			avg_fear_greed = $17, dominant_regime = NULLIF($18, ''), btc_performance_pct = $19,
			signal_performance = $20, best_patterns = $21, worst_patterns = $22,
			playbook_version_at_end = $23
		WHERE id = $1 AND status = 'active'
	`, c.ID, c.EndDate, c.Status, c.EndingCapital, c.TradesCount,
		c.TotalPnL, c.TotalPnLPct, c.WinningTrades, c.LosingTrades, c.MaxDrawdown,
		c.Sharpe, c.Sortino, c.Calmar, c.KellyFraction, c.VaR95, c.CVaR95,
		c.AvgFearGreed, c.DominantRegime, c.BTCPerformancePct,
		signalPerf, best, worst, c.PlaybookVersionAtEnd)
	return err
}

// CompletedCycles returns the last n completed cycles, newest first.
func (r *Repository) CompletedCycles(ctx context.Context, cohortID string, limit int) ([]*cycle.Cycle, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+cycleColumns+`
		FROM trading_cycles
		WHERE cohort_id = $1 AND status = 'completed'
		ORDER BY cycle_number DESC
		LIMIT $2
	`, cohortID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*cycle.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// CycleTrades loads the closed trades of one cycle.
func (r *Repository) CycleTrades(ctx context.Context, cycleID string) ([]cycle.CycleTrade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT created_at, COALESCE(pnl_pct, 0), COALESCE(value_usd, 0),
		       COALESCE(regime, ''), COALESCE(fear_greed, 0)
		FROM trade_pairs
		WHERE cycle_id = $1 AND status = 'closed'
		ORDER BY created_at
	`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []cycle.CycleTrade
	for rows.Next() {
		var (
			t         cycle.CycleTrade
			pnlPct    float64
			valueUSD  float64
			fearGreed int
		)
		if err := rows.Scan(&t.Timestamp, &pnlPct, &valueUSD, &t.Regime, &fearGreed); err != nil {
			return nil, err
		}
		t.ReturnPct = pnlPct / 100
		t.NetFlow = valueUSD * pnlPct / 100
		t.FearGreed = float64(fearGreed)
		t.Won = pnlPct > 0
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// BTCPerformancePct is the benchmark move over the cycle window.
func (r *Repository) BTCPerformancePct(ctx context.Context, since time.Time) (*float64, error) {
	var startPrice, endPrice *float64
	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT btc_price FROM market_snapshots WHERE timestamp >= $1 ORDER BY timestamp LIMIT 1),
			(SELECT btc_price FROM market_snapshots ORDER BY timestamp DESC LIMIT 1)
	`, since).Scan(&startPrice, &endPrice)
	if err != nil {
		return nil, err
	}
	if startPrice == nil || endPrice == nil || *startPrice == 0 {
		return nil, nil
	}
	perf := (*endPrice - *startPrice) / *startPrice * 100
	return &perf, nil
}

// SignalPerformanceSummary aggregates per-signal accuracy over a cycle.
func (r *Repository) SignalPerformanceSummary(ctx context.Context, cycleID string) (map[string]float64, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT
			AVG(CASE WHEN fear_greed_signal > 0.3 AND was_correct THEN 1
			         WHEN fear_greed_signal > 0.3 THEN 0 END),
			AVG(CASE WHEN rsi_signal > 0.3 AND was_correct THEN 1
			         WHEN rsi_signal > 0.3 THEN 0 END),
			AVG(CASE WHEN macd_signal > 0.3 AND was_correct THEN 1
			         WHEN macd_signal > 0.3 THEN 0 END),
			AVG(CASE WHEN trend_signal > 0.3 AND was_correct THEN 1
			         WHEN trend_signal > 0.3 THEN 0 END),
			AVG(CASE WHEN ai_direction_signal > 0.3 AND was_correct THEN 1
			         WHEN ai_direction_signal > 0.3 THEN 0 END)
		FROM signal_components
		WHERE cycle_id = $1 AND was_correct IS NOT NULL
	`, cycleID)

	var fearGreed, rsi, macd, trend, ai *float64
	if err := row.Scan(&fearGreed, &rsi, &macd, &trend, &ai); err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for name, v := range map[string]*float64{
		"fear_greed_accuracy": fearGreed,
		"rsi_accuracy":        rsi,
		"macd_accuracy":       macd,
		"trend_accuracy":      trend,
		"ai_accuracy":         ai,
	} {
		if v != nil {
			out[name] = *v
		}
	}
	return out, nil
}

// CurrentPlaybookVersion returns the newest playbook version, if any.
func (r *Repository) CurrentPlaybookVersion(ctx context.Context) (*int, error) {
	var version *int
	err := r.db.Pool.QueryRow(ctx, `SELECT MAX(version) FROM playbook_versions`).Scan(&version)
	return version, err
}

// ============================================================================
// BAYESIAN WEIGHTS
// ============================================================================

// LoadActiveWeights reads the active weight row for a (regime, cohort)
// key; empty strings mean the global row.
func (r *Repository) LoadActiveWeights(ctx context.Context, regimeKey, cohortID string) (*bayesian.Weights, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT weights, alpha_values, confidence, sample_size, created_at
		FROM signal_weights
		WHERE regime IS NOT DISTINCT FROM NULLIF($1, '')
		  AND cohort_id IS NOT DISTINCT FROM NULLIF($2, '')::uuid
		  AND is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1
	`, regimeKey, cohortID)

	var (
		w                     bayesian.Weights
		weightsRaw, alphasRaw []byte
	)
	err := row.Scan(&weightsRaw, &alphasRaw, &w.Confidence, &w.SampleSize, &w.LastUpdated)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(weightsRaw, &w.Weights); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(alphasRaw, &w.AlphaValues); err != nil {
		return nil, err
	}
	w.Regime = regimeKey
	w.CohortID = cohortID
	return &w, nil
}

// SaveWeights deactivates the previous active row for the key and
// inserts the new one in a single transaction.
func (r *Repository) SaveWeights(ctx context.Context, w *bayesian.Weights) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE signal_weights SET is_active = FALSE
		WHERE regime IS NOT DISTINCT FROM NULLIF($1, '')
		  AND cohort_id IS NOT DISTINCT FROM NULLIF($2, '')::uuid
	`, w.Regime, w.CohortID); err != nil {
		return err
	}

	weightsRaw, err := json.Marshal(w.Weights)
	if err != nil {
		return err
	}
	alphasRaw, err := json.Marshal(w.AlphaValues)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO signal_weights (cohort_id, regime, weights, alpha_values, confidence, sample_size, is_active)
		VALUES (NULLIF($1, '')::uuid, NULLIF($2, ''), $3, $4, $5, $6, TRUE)
	`, w.CohortID, w.Regime, weightsRaw, alphasRaw, w.Confidence, w.SampleSize); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SignalPerformance joins signal components with closed trade outcomes
// and derives per-signal accuracy and PnL correlation.
func (r *Repository) SignalPerformance(ctx context.Context, cohortID string, lookbackDays int, regimeKey string) (map[string]*bayesian.SignalPerformance, error) {
	query := `
		SELECT sc.fear_greed_signal, sc.rsi_signal, sc.macd_signal, sc.trend_signal,
		       sc.volume_signal, sc.whale_signal, sc.sentiment_signal, sc.macro_signal,
		       sc.ai_direction_signal, tp.pnl_pct
		FROM signal_components sc
		JOIN trade_pairs tp ON sc.trade_id = tp.entry_trade_id
		LEFT JOIN regime_history rh ON DATE(sc.created_at) = DATE(rh.timestamp)
		WHERE sc.created_at >= NOW() - make_interval(days => $1)
		  AND tp.status = 'closed'
		  AND ($2 = '' OR sc.cohort_id = NULLIF($2, '')::uuid)
		  AND ($3 = '' OR rh.regime = $3)
	`
	rows, err := r.db.Pool.Query(ctx, query, lookbackDays, cohortID, regimeKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations := make(map[string][][2]float64, len(bayesian.SignalNames))
	for rows.Next() {
		var sigs [9]*float64
		var pnlPct *float64
		if err := rows.Scan(&sigs[0], &sigs[1], &sigs[2], &sigs[3], &sigs[4],
			&sigs[5], &sigs[6], &sigs[7], &sigs[8], &pnlPct); err != nil {
			return nil, err
		}

		pnl := 0.0
		if pnlPct != nil {
			pnl = *pnlPct
		}
		for i, name := range bayesian.SignalNames {
			if sigs[i] != nil {
				observations[name] = append(observations[name], [2]float64{*sigs[i], pnl})
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	performance := make(map[string]*bayesian.SignalPerformance, len(bayesian.SignalNames))
	for _, name := range bayesian.SignalNames {
		performance[name] = bayesian.ComputePerformance(name, observations[name])
	}
	return performance, nil
}

// ActiveCohortIDs lists the IDs of active cohorts.
func (r *Repository) ActiveCohortIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id FROM cohorts WHERE is_active = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id.String())
	}
	return ids, rows.Err()
}

// ============================================================================
// RISK / RETURNS
// ============================================================================

// TradeReturns loads realized per-trade returns for a symbol as decimal
// fractions.
func (r *Repository) TradeReturns(ctx context.Context, symbol string, lookbackDays int) ([]float64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT pnl_pct FROM trade_pairs
		WHERE symbol = $1 AND status = 'closed'
		  AND created_at >= NOW() - make_interval(days => $2)
		ORDER BY created_at
	`, symbol, lookbackDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var returns []float64
	for rows.Next() {
		var pnlPct *float64
		if err := rows.Scan(&pnlPct); err != nil {
			return nil, err
		}
		if pnlPct != nil {
			returns = append(returns, *pnlPct/100)
		}
	}
	return returns, rows.Err()
}

// ============================================================================
// DECISIONS, REGIME HISTORY, SNAPSHOTS
// ============================================================================

// RecordDecision persists a signal breakdown for one decision.
func (r *Repository) RecordDecision(ctx context.Context, cohortID, symbol string, b *signals.Breakdown, regimeState regime.State, sizedUSD float64) error {
	weightsRaw, err := json.Marshal(b.WeightsApplied)
	if err != nil {
		return err
	}

	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO signal_components (
			cohort_id, symbol,
			fear_greed_signal, rsi_signal, macd_signal, trend_signal,
			volume_signal, whale_signal, sentiment_signal, macro_signal,
			ai_direction_signal, ai_confidence, ai_risk_level, playbook_alignment_score,
			weights_applied, math_composite_score, ai_composite_score, final_score,
			has_divergence, divergence_type, divergence_strength
		) VALUES (
			NULLIF($1, '')::uuid, $2,
			$3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, NULLIF($20, ''), $21
		)
	`, cohortID, symbol,
		b.FearGreedSignal, b.RSISignal, b.MACDSignal, b.TrendSignal,
		b.VolumeSignal, b.WhaleSignal, b.SentimentSignal, b.MacroSignal,
		b.AIDirectionSignal, b.AIConfidence, b.AIRiskLevel, b.PlaybookAlignment,
		weightsRaw, b.MathComposite, b.AIComposite, b.FinalScore,
		b.HasDivergence, b.DivergenceType, b.DivergenceStrength)
	return err
}

// SaveRegimeState appends one regime observation to the history.
func (r *Repository) SaveRegimeState(ctx context.Context, s regime.State) error {
	var previous *string
	if s.PreviousRegime != "" {
		p := string(s.PreviousRegime)
		previous = &p
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO regime_history (
			regime, regime_probability, transition_probability,
			return_7d, volatility_7d, volume_trend, fear_greed_avg,
			model_confidence, previous_regime, regime_duration_hours
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, string(s.CurrentRegime), s.RegimeProbability, s.TransitionProbability,
		s.Features.Return7d, s.Features.Volatility7d, s.Features.VolumeTrend, s.Features.FearGreedAvg,
		s.ModelConfidence, previous, s.RegimeDurationDays*24)
	return err
}

// SaveCalculationSnapshot persists a metric bundle so no computation is
// ever lost.
func (r *Repository) SaveCalculationSnapshot(ctx context.Context, cohortID, cycleID string, m metrics.RiskMetrics, portfolioValue float64, currentRegime string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO calculation_snapshots (
			cohort_id, cycle_id,
			sharpe_ratio, sortino_ratio, calmar_ratio, kelly_fraction,
			var_95, var_99, cvar_95, cvar_99, max_drawdown,
			win_rate, profit_factor, portfolio_value, current_regime
		) VALUES (
			NULLIF($1, '')::uuid, NULLIF($2, '')::uuid,
			$3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, NULLIF($15, '')
		)
	`, cohortID, cycleID,
		nullable(m.Sharpe), nullable(m.Sortino), nullable(m.Calmar), nullable(m.Kelly),
		nullable(m.VaR95), nullable(m.VaR99), nullable(m.CVaR95), nullable(m.CVaR99), nullable(m.MaxDrawdown),
		nullable(m.WinRate), nullable(m.ProfitFactor), portfolioValue, currentRegime)
	return err
}

func nullable(v metrics.Value) *float64 {
	if !v.Valid {
		return nil
	}
	val := v.Value
	return &val
}

// ============================================================================
// MONITORING QUERIES
// ============================================================================

// LastDiscoveryAt returns the newest coin discovery timestamp.
func (r *Repository) LastDiscoveryAt(ctx context.Context) (*time.Time, error) {
	var last *time.Time
	err := r.db.Pool.QueryRow(ctx, `SELECT MAX(discovered_at) FROM coin_discoveries`).Scan(&last)
	return last, err
}

// DiscoveryApprovalRate returns (total, approved) over the last 30 days.
func (r *Repository) DiscoveryApprovalRate(ctx context.Context) (total, approved int, err error) {
	err = r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN ai_approved THEN 1 ELSE 0 END), 0)
		FROM coin_discoveries
		WHERE discovered_at > NOW() - INTERVAL '30 days'
	`).Scan(&total, &approved)
	return total, approved, err
}

// IdleDiscoveredCoins lists coins added over 7 days ago with no trades.
func (r *Repository) IdleDiscoveredCoins(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol FROM coin_discoveries
		WHERE was_added = TRUE AND was_deactivated = FALSE
		  AND discovered_at < NOW() - INTERVAL '7 days'
		  AND total_trades = 0
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		symbols = append(symbols, s)
	}
	return symbols, rows.Err()
}

// TradesInLast24h counts recent trade activity.
func (r *Repository) TradesInLast24h(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM trade_pairs WHERE created_at > NOW() - INTERVAL '24 hours'
	`).Scan(&n)
	return n, err
}

// InsertCohort seeds a cohort row (used on first run against an empty
// database).
func (r *Repository) InsertCohort(ctx context.Context, c *cohort.Cohort) error {
	configRaw, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	id := uuid.New()
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO cohorts (id, name, description, config, starting_capital, current_capital, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING
	`, id, c.Name, c.Description, configRaw, c.StartingCapital, c.CurrentCapital, c.IsActive)
	if err != nil {
		return err
	}
	c.ID = id.String()
	return nil
}

// ============================================================================
// MARKET SNAPSHOTS
// ============================================================================

// LatestFearGreed returns the most recent fear & greed reading.
func (r *Repository) LatestFearGreed(ctx context.Context) (int, error) {
	var fg *int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT fear_greed FROM market_snapshots
		WHERE fear_greed IS NOT NULL
		ORDER BY timestamp DESC LIMIT 1
	`).Scan(&fg)
	if err != nil || fg == nil {
		return 0, err
	}
	return *fg, nil
}

// BTCPriceSeries returns daily-averaged BTC prices over the window,
// oldest first.
func (r *Repository) BTCPriceSeries(ctx context.Context, days int) ([]float64, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT AVG(btc_price)
		FROM market_snapshots
		WHERE timestamp > NOW() - make_interval(days => $1)
		  AND btc_price IS NOT NULL
		GROUP BY DATE_TRUNC('day', timestamp)
		ORDER BY DATE_TRUNC('day', timestamp)
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// SaveMarketSnapshot appends one market snapshot.
func (r *Repository) SaveMarketSnapshot(ctx context.Context, btcPrice, volume24h float64, fearGreed int) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO market_snapshots (btc_price, volume_24h, fear_greed)
		VALUES ($1, $2, $3)
	`, btcPrice, volume24h, fearGreed)
	return err
}

// PortfolioTiers returns the active portfolio tiers with their target
// and current allocation percentages.
func (r *Repository) PortfolioTiers(ctx context.Context) ([]monitoring.TierStatus, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT tier_name, target_pct, COALESCE(current_pct, 0)
		FROM portfolio_tiers
		WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []monitoring.TierStatus
	for rows.Next() {
		var t monitoring.TierStatus
		if err := rows.Scan(&t.TierName, &t.TargetPct, &t.CurrentPct); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}
