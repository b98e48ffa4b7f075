package database

import (
	"context"
	"time"
)

// GetOrCreateRiskState returns the counters for (operator, trading day),
// creating a zeroed row on first touch of the day. The unique index makes
// concurrent creation safe.
func (r *Repository) GetOrCreateRiskState(ctx context.Context, operatorID int64, day time.Time) (*DailyRiskState, error) {
	s := &DailyRiskState{}
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO daily_risk_state (operator_id, trading_day)
		VALUES ($1, $2)
		ON CONFLICT (operator_id, trading_day) DO UPDATE SET updated_at = NOW()
		RETURNING id, operator_id, trading_day, total_loss_cents, total_exposure_cents,
		          consecutive_losses, trades_count, cooldown_until, updated_at`,
		operatorID, day).Scan(
		&s.ID, &s.OperatorID, &s.TradingDay, &s.TotalLossCents, &s.TotalExposureCents,
		&s.ConsecutiveLosses, &s.TradesCount, &s.CooldownUntil, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AddExposure counts a submitted trade against the day's exposure.
func (r *Repository) AddExposure(ctx context.Context, operatorID int64, day time.Time, costCents int) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE daily_risk_state SET
			total_exposure_cents = total_exposure_cents + $3,
			trades_count = trades_count + 1,
			updated_at = NOW()
		WHERE operator_id = $1 AND trading_day = $2`,
		operatorID, day, costCents)
	return err
}

// RecordLoss adds a realized loss, bumps the consecutive-loss counter and
// arms the cooldown.
func (r *Repository) RecordLoss(ctx context.Context, operatorID int64, day time.Time, lossCents int, cooldownUntil time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE daily_risk_state SET
			total_loss_cents = total_loss_cents + $3,
			consecutive_losses = consecutive_losses + 1,
			cooldown_until = $4,
			updated_at = NOW()
		WHERE operator_id = $1 AND trading_day = $2`,
		operatorID, day, lossCents, cooldownUntil)
	return err
}

// RecordWin clears the consecutive-loss streak.
func (r *Repository) RecordWin(ctx context.Context, operatorID int64, day time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE daily_risk_state SET
			consecutive_losses = 0,
			updated_at = NOW()
		WHERE operator_id = $1 AND trading_day = $2`,
		operatorID, day)
	return err
}
