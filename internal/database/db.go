// Package database wraps the PostgreSQL pool and the repositories the
// decision engine persists through.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewDB connects using a DATABASE_URL-style DSN.
func NewDB(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{Pool: pool, log: log.With().Str("component", "database").Logger()}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema used by this core.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cohorts (
			id UUID PRIMARY KEY,
			name VARCHAR(50) UNIQUE NOT NULL,
			description TEXT,
			config JSONB NOT NULL,
			starting_capital DECIMAL(20, 8) NOT NULL,
			current_capital DECIMAL(20, 8) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS trading_cycles (
			id UUID PRIMARY KEY,
			cohort_id UUID NOT NULL REFERENCES cohorts(id),
			cycle_number INTEGER NOT NULL,
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			starting_capital DECIMAL(20, 8) NOT NULL,
			ending_capital DECIMAL(20, 8),
			trades_count INTEGER NOT NULL DEFAULT 0,
			total_pnl DECIMAL(20, 8),
			total_pnl_pct DECIMAL(10, 4),
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			max_drawdown DECIMAL(10, 6),
			sharpe_ratio DECIMAL(10, 4),
			sortino_ratio DECIMAL(10, 4),
			calmar_ratio DECIMAL(10, 4),
			kelly_fraction DECIMAL(10, 6),
			var_95 DECIMAL(10, 6),
			cvar_95 DECIMAL(10, 6),
			avg_fear_greed DECIMAL(6, 2),
			dominant_regime VARCHAR(20),
			btc_performance_pct DECIMAL(10, 4),
			signal_performance JSONB,
			best_patterns JSONB,
			worst_patterns JSONB,
			playbook_version_at_start INTEGER,
			playbook_version_at_end INTEGER,
			closed_at TIMESTAMPTZ,
			UNIQUE (cohort_id, cycle_number)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_cycle
			ON trading_cycles(cohort_id) WHERE status = 'active'`,

		`CREATE TABLE IF NOT EXISTS signal_components (
			id BIGSERIAL PRIMARY KEY,
			trade_id VARCHAR(64),
			cycle_id UUID,
			cohort_id UUID,
			symbol VARCHAR(20),
			fear_greed_signal DECIMAL(5, 4),
			rsi_signal DECIMAL(5, 4),
			macd_signal DECIMAL(5, 4),
			trend_signal DECIMAL(5, 4),
			volume_signal DECIMAL(5, 4),
			whale_signal DECIMAL(5, 4),
			sentiment_signal DECIMAL(5, 4),
			macro_signal DECIMAL(5, 4),
			ai_direction_signal DECIMAL(5, 4),
			ai_confidence DECIMAL(5, 4),
			ai_risk_level VARCHAR(10),
			playbook_alignment_score DECIMAL(5, 4),
			weights_applied JSONB,
			math_composite_score DECIMAL(6, 4),
			ai_composite_score DECIMAL(6, 4),
			final_score DECIMAL(6, 4),
			has_divergence BOOLEAN NOT NULL DEFAULT FALSE,
			divergence_type VARCHAR(30),
			divergence_strength DECIMAL(5, 4),
			was_correct BOOLEAN,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_components_cohort ON signal_components(cohort_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS signal_weights (
			id BIGSERIAL PRIMARY KEY,
			cohort_id UUID,
			regime VARCHAR(20),
			weights JSONB NOT NULL,
			alpha_values JSONB NOT NULL,
			confidence DECIMAL(5, 4) NOT NULL,
			sample_size INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_weights_key ON signal_weights(regime, cohort_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS calculation_snapshots (
			id BIGSERIAL PRIMARY KEY,
			cycle_id UUID,
			cohort_id UUID,
			trade_id VARCHAR(64),
			sharpe_ratio DECIMAL(10, 4),
			sortino_ratio DECIMAL(10, 4),
			calmar_ratio DECIMAL(10, 4),
			kelly_fraction DECIMAL(10, 6),
			var_95 DECIMAL(10, 6),
			var_99 DECIMAL(10, 6),
			cvar_95 DECIMAL(10, 6),
			cvar_99 DECIMAL(10, 6),
			max_drawdown DECIMAL(10, 6),
			win_rate DECIMAL(5, 4),
			profit_factor DECIMAL(10, 4),
			portfolio_value DECIMAL(20, 8),
			current_regime VARCHAR(20),
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS regime_history (
			id BIGSERIAL PRIMARY KEY,
			regime VARCHAR(20) NOT NULL,
			regime_probability DECIMAL(5, 4),
			transition_probability DECIMAL(5, 4),
			return_7d DECIMAL(10, 4),
			volatility_7d DECIMAL(10, 4),
			volume_trend DECIMAL(10, 4),
			fear_greed_avg DECIMAL(6, 2),
			model_confidence DECIMAL(5, 4),
			previous_regime VARCHAR(20),
			regime_duration_hours INTEGER,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS market_snapshots (
			id BIGSERIAL PRIMARY KEY,
			btc_price DECIMAL(20, 8),
			volume_24h DECIMAL(24, 2),
			fear_greed INTEGER,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_snapshots_time ON market_snapshots(timestamp)`,

		`CREATE TABLE IF NOT EXISTS trade_pairs (
			id BIGSERIAL PRIMARY KEY,
			cohort_id UUID,
			cycle_id UUID,
			symbol VARCHAR(20) NOT NULL,
			entry_trade_id VARCHAR(64),
			exit_trade_id VARCHAR(64),
			pnl_pct DECIMAL(10, 4),
			value_usd DECIMAL(20, 8),
			regime VARCHAR(20),
			fear_greed INTEGER,
			status VARCHAR(20) NOT NULL DEFAULT 'open',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_pairs_cycle ON trade_pairs(cycle_id)`,

		`CREATE TABLE IF NOT EXISTS playbook_versions (
			version INTEGER PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_pairs_symbol ON trade_pairs(symbol, status, created_at)`,

		`CREATE TABLE IF NOT EXISTS portfolio_tiers (
			id BIGSERIAL PRIMARY KEY,
			tier_name VARCHAR(50) UNIQUE NOT NULL,
			target_pct DECIMAL(6, 2) NOT NULL,
			current_pct DECIMAL(6, 2),
			current_value_usd DECIMAL(20, 8),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS coin_discoveries (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			ai_approved BOOLEAN,
			was_added BOOLEAN NOT NULL DEFAULT FALSE,
			was_deactivated BOOLEAN NOT NULL DEFAULT FALSE,
			total_trades INTEGER NOT NULL DEFAULT 0,
			discovered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE OR REPLACE VIEW v_cohort_comparison AS
			SELECT c.name AS cohort_name,
			       tc.cycle_number,
			       tc.total_pnl_pct,
			       tc.sharpe_ratio,
			       CASE WHEN tc.trades_count > 0
			            THEN tc.winning_trades::decimal / tc.trades_count
			            ELSE NULL END AS win_rate,
			       tc.trades_count
			FROM trading_cycles tc
			JOIN cohorts c ON c.id = tc.cohort_id
			WHERE tc.status = 'completed'`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.log.Info().Msg("migrations complete")
	return nil
}
