// Package database is the authoritative store: schema, models and access
// methods over PostgreSQL.
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

// NewDB connects and verifies the pool.
func NewDB(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
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
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dblog := log.With().Str("component", "database").Logger()
	dblog.Info().Msg("connected to PostgreSQL")
	return &DB{Pool: pool, log: dblog}, nil
}

// Close closes the database connection.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema. Statements are idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS operator (
			id SERIAL PRIMARY KEY,
			kalshi_api_key_id VARCHAR(100),
			kalshi_private_key_enc TEXT,
			trading_mode VARCHAR(10) NOT NULL DEFAULT 'manual',
			demo_mode BOOLEAN NOT NULL DEFAULT TRUE,
			max_trade_size_cents INTEGER NOT NULL DEFAULT 500,
			daily_loss_limit_cents INTEGER NOT NULL DEFAULT 2000,
			max_daily_exposure_cents INTEGER NOT NULL DEFAULT 5000,
			min_ev_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.05,
			cooldown_minutes_per_loss INTEGER NOT NULL DEFAULT 60,
			consecutive_loss_limit INTEGER NOT NULL DEFAULT 3,
			kelly_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			kelly_fraction DOUBLE PRECISION NOT NULL DEFAULT 0.25,
			max_bankroll_pct_per_trade DOUBLE PRECISION NOT NULL DEFAULT 0.05,
			max_contracts_per_trade INTEGER NOT NULL DEFAULT 10,
			active_cities TEXT NOT NULL DEFAULT 'NYC,CHI,MIA,AUS',
			notifications_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			push_subscription TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS weather_forecast (
			id SERIAL PRIMARY KEY,
			city VARCHAR(8) NOT NULL,
			forecast_date DATE NOT NULL,
			forecast_high_f DOUBLE PRECISION NOT NULL,
			forecast_low_f DOUBLE PRECISION,
			humidity_pct DOUBLE PRECISION,
			wind_mph DOUBLE PRECISION,
			cloud_cover_pct DOUBLE PRECISION,
			source VARCHAR(32) NOT NULL,
			raw_data JSONB,
			fetched_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_forecast_city_date ON weather_forecast(city, forecast_date)`,

		`CREATE TABLE IF NOT EXISTS prediction (
			id SERIAL PRIMARY KEY,
			city VARCHAR(8) NOT NULL,
			prediction_date DATE NOT NULL,
			ensemble_mean_f DOUBLE PRECISION NOT NULL,
			ensemble_std_f DOUBLE PRECISION NOT NULL,
			confidence VARCHAR(8) NOT NULL,
			model_sources TEXT NOT NULL,
			brackets JSONB NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prediction_city_date ON prediction(city, prediction_date)`,
		`CREATE INDEX IF NOT EXISTS idx_prediction_city_generated ON prediction(city, generated_at)`,

		`CREATE TABLE IF NOT EXISTS trade (
			id SERIAL PRIMARY KEY,
			operator_id INTEGER NOT NULL REFERENCES operator(id),
			kalshi_order_id VARCHAR(64),
			city VARCHAR(8) NOT NULL,
			trade_date DATE NOT NULL,
			market_ticker VARCHAR(64) NOT NULL,
			bracket_label VARCHAR(32) NOT NULL,
			side VARCHAR(3) NOT NULL,
			price_cents INTEGER NOT NULL CHECK (price_cents BETWEEN 1 AND 99),
			quantity INTEGER NOT NULL CHECK (quantity >= 1),
			model_prob DOUBLE PRECISION,
			market_prob DOUBLE PRECISION,
			entry_ev DOUBLE PRECISION,
			confidence VARCHAR(8),
			status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
			settlement_temp_f DOUBLE PRECISION,
			settlement_source VARCHAR(32),
			pnl_cents INTEGER,
			fees_cents INTEGER,
			narrative TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			settled_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_operator_status ON trade(operator_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_operator_date ON trade(operator_id, trade_date)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trade_order_id ON trade(kalshi_order_id) WHERE kalshi_order_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS pending_trade (
			id SERIAL PRIMARY KEY,
			operator_id INTEGER NOT NULL REFERENCES operator(id),
			city VARCHAR(8) NOT NULL,
			trade_date DATE NOT NULL,
			market_ticker VARCHAR(64) NOT NULL,
			bracket_label VARCHAR(32) NOT NULL,
			side VARCHAR(3) NOT NULL,
			price_cents INTEGER NOT NULL CHECK (price_cents BETWEEN 1 AND 99),
			quantity INTEGER NOT NULL CHECK (quantity >= 1),
			model_prob DOUBLE PRECISION,
			market_prob DOUBLE PRECISION,
			entry_ev DOUBLE PRECISION,
			confidence VARCHAR(8),
			reasoning TEXT,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			acted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_status_expires ON pending_trade(status, expires_at)`,

		`CREATE TABLE IF NOT EXISTS settlement (
			id SERIAL PRIMARY KEY,
			city VARCHAR(8) NOT NULL,
			settlement_date DATE NOT NULL,
			observed_high_f DOUBLE PRECISION NOT NULL,
			observed_low_f DOUBLE PRECISION,
			source VARCHAR(32) NOT NULL DEFAULT 'NWS_CLI',
			raw_report TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (city, settlement_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_city_date ON settlement(city, settlement_date)`,

		`CREATE TABLE IF NOT EXISTS daily_risk_state (
			id SERIAL PRIMARY KEY,
			operator_id INTEGER NOT NULL REFERENCES operator(id),
			trading_day DATE NOT NULL,
			total_loss_cents INTEGER NOT NULL DEFAULT 0,
			total_exposure_cents INTEGER NOT NULL DEFAULT 0,
			consecutive_losses INTEGER NOT NULL DEFAULT 0,
			trades_count INTEGER NOT NULL DEFAULT 0,
			cooldown_until TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (operator_id, trading_day)
		)`,

		`CREATE TABLE IF NOT EXISTS log_entry (
			id SERIAL PRIMARY KEY,
			level VARCHAR(8) NOT NULL,
			component VARCHAR(32),
			message TEXT NOT NULL,
			fields JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_created ON log_entry(created_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.log.Info().Int("statements", len(migrations)).Msg("migrations complete")
	return nil
}
