package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const operatorColumns = `id, kalshi_api_key_id, kalshi_private_key_enc, trading_mode, demo_mode,
	max_trade_size_cents, daily_loss_limit_cents, max_daily_exposure_cents,
	min_ev_threshold, cooldown_minutes_per_loss, consecutive_loss_limit,
	kelly_enabled, kelly_fraction, max_bankroll_pct_per_trade, max_contracts_per_trade,
	active_cities, notifications_enabled, push_subscription, created_at`

func scanOperator(row pgx.Row) (*Operator, error) {
	op := &Operator{}
	err := row.Scan(
		&op.ID, &op.KalshiAPIKeyID, &op.KalshiPrivateKeyEnc, &op.TradingMode, &op.DemoMode,
		&op.MaxTradeSizeCents, &op.DailyLossLimitCents, &op.MaxDailyExposureCents,
		&op.MinEVThreshold, &op.CooldownMinutesPerLoss, &op.ConsecutiveLossLimit,
		&op.KellyEnabled, &op.KellyFraction, &op.MaxBankrollPctPerTrade, &op.MaxContractsPerTrade,
		&op.ActiveCities, &op.NotificationsEnabled, &op.PushSubscription, &op.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return op, nil
}

// GetOperator returns the operator, or nil when none is configured yet
// (the fresh-install case).
func (r *Repository) GetOperator(ctx context.Context) (*Operator, error) {
	op, err := scanOperator(r.db.Pool.QueryRow(ctx,
		`SELECT `+operatorColumns+` FROM operator ORDER BY id LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return op, err
}

// CreateOperator inserts the operator row and fills in its id.
func (r *Repository) CreateOperator(ctx context.Context, op *Operator) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO operator (
			kalshi_api_key_id, kalshi_private_key_enc, trading_mode, demo_mode,
			max_trade_size_cents, daily_loss_limit_cents, max_daily_exposure_cents,
			min_ev_threshold, cooldown_minutes_per_loss, consecutive_loss_limit,
			kelly_enabled, kelly_fraction, max_bankroll_pct_per_trade, max_contracts_per_trade,
			active_cities, notifications_enabled, push_subscription
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id, created_at`,
		op.KalshiAPIKeyID, op.KalshiPrivateKeyEnc, op.TradingMode, op.DemoMode,
		op.MaxTradeSizeCents, op.DailyLossLimitCents, op.MaxDailyExposureCents,
		op.MinEVThreshold, op.CooldownMinutesPerLoss, op.ConsecutiveLossLimit,
		op.KellyEnabled, op.KellyFraction, op.MaxBankrollPctPerTrade, op.MaxContractsPerTrade,
		op.ActiveCities, op.NotificationsEnabled, op.PushSubscription,
	).Scan(&op.ID, &op.CreatedAt)
}

// UpdateOperator persists mode, credentials and risk parameters.
func (r *Repository) UpdateOperator(ctx context.Context, op *Operator) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE operator SET
			kalshi_api_key_id = $2, kalshi_private_key_enc = $3,
			trading_mode = $4, demo_mode = $5,
			max_trade_size_cents = $6, daily_loss_limit_cents = $7, max_daily_exposure_cents = $8,
			min_ev_threshold = $9, cooldown_minutes_per_loss = $10, consecutive_loss_limit = $11,
			kelly_enabled = $12, kelly_fraction = $13, max_bankroll_pct_per_trade = $14,
			max_contracts_per_trade = $15, active_cities = $16,
			notifications_enabled = $17, push_subscription = $18
		WHERE id = $1`,
		op.ID,
		op.KalshiAPIKeyID, op.KalshiPrivateKeyEnc,
		op.TradingMode, op.DemoMode,
		op.MaxTradeSizeCents, op.DailyLossLimitCents, op.MaxDailyExposureCents,
		op.MinEVThreshold, op.CooldownMinutesPerLoss, op.ConsecutiveLossLimit,
		op.KellyEnabled, op.KellyFraction, op.MaxBankrollPctPerTrade,
		op.MaxContractsPerTrade, op.ActiveCities,
		op.NotificationsEnabled, op.PushSubscription,
	)
	return err
}
