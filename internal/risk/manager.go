// Package risk enforces the per-day gates consulted before every order
// submission, and maintains the loss/cooldown counters updated at
// settlement.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bozbot/internal/database"
	"bozbot/internal/ev"
	"bozbot/internal/stations"
)

// Trading window in local standard time: 06:00 through 23:00 inclusive.
const (
	windowOpenMinute  = 6 * 60
	windowCloseMinute = 23 * 60
)

// Rejection reasons, stable strings used in logs and metrics.
const (
	ReasonTradingWindow = "trading_window"
	ReasonCooldown      = "cooldown"
	ReasonDailyLoss     = "daily_loss"
	ReasonExposure      = "exposure"
	ReasonTradeSize     = "trade_size"
)

// RejectionError reports which gate blocked a signal.
type RejectionError struct {
	Reason string
	Detail string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("risk rejected (%s): %s", e.Reason, e.Detail)
}

// Store is the persistence surface of the manager.
type Store interface {
	GetOrCreateRiskState(ctx context.Context, operatorID int64, day time.Time) (*database.DailyRiskState, error)
	AddExposure(ctx context.Context, operatorID int64, day time.Time, costCents int) error
	RecordLoss(ctx context.Context, operatorID int64, day time.Time, lossCents int, cooldownUntil time.Time) error
	RecordWin(ctx context.Context, operatorID int64, day time.Time) error
}

// Manager evaluates the gates in order against the day's counters.
type Manager struct {
	store Store
	log   zerolog.Logger
}

func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log.With().Str("component", "risk").Logger()}
}

// MarketsOpen reports whether the moment falls inside the trading window
// in local standard time. True at 06:00 and 23:00, false at 05:59 and
// 23:01.
func MarketsOpen(station stations.Station, now time.Time) bool {
	local := station.LocalTime(now)
	minute := local.Hour()*60 + local.Minute()
	return minute >= windowOpenMinute && minute <= windowCloseMinute
}

// StateForDay loads (or lazily creates) the counters for the operator's
// current trading day. A new day starts with a fresh row and no cooldown.
func (m *Manager) StateForDay(ctx context.Context, operatorID int64, day time.Time) (*database.DailyRiskState, error) {
	return m.store.GetOrCreateRiskState(ctx, operatorID, day)
}

// CheckSignal runs gates 2-5 (the window gate is per cycle, not per
// signal) and returns a RejectionError naming the first gate that fails.
func (m *Manager) CheckSignal(op *database.Operator, state *database.DailyRiskState, signal ev.TradeSignal, now time.Time) error {
	if state.CooldownUntil != nil && state.CooldownUntil.After(now) {
		return &RejectionError{Reason: ReasonCooldown,
			Detail: fmt.Sprintf("cooldown until %s", state.CooldownUntil.Format(time.RFC3339))}
	}
	if state.ConsecutiveLosses >= op.ConsecutiveLossLimit {
		return &RejectionError{Reason: ReasonCooldown,
			Detail: fmt.Sprintf("%d consecutive losses (limit %d)", state.ConsecutiveLosses, op.ConsecutiveLossLimit)}
	}

	if state.TotalLossCents+signal.WorstCaseLossCents() > op.DailyLossLimitCents {
		return &RejectionError{Reason: ReasonDailyLoss,
			Detail: fmt.Sprintf("loss %d¢ + worst case %d¢ exceeds limit %d¢",
				state.TotalLossCents, signal.WorstCaseLossCents(), op.DailyLossLimitCents)}
	}

	if state.TotalExposureCents+signal.CostCents() > op.MaxDailyExposureCents {
		return &RejectionError{Reason: ReasonExposure,
			Detail: fmt.Sprintf("exposure %d¢ + cost %d¢ exceeds limit %d¢",
				state.TotalExposureCents, signal.CostCents(), op.MaxDailyExposureCents)}
	}

	if signal.CostCents() > op.MaxTradeSizeCents {
		return &RejectionError{Reason: ReasonTradeSize,
			Detail: fmt.Sprintf("cost %d¢ exceeds max trade size %d¢", signal.CostCents(), op.MaxTradeSizeCents)}
	}
	return nil
}

// RegisterSubmission counts a submitted order against the day's exposure.
func (m *Manager) RegisterSubmission(ctx context.Context, op *database.Operator, day time.Time, costCents int) error {
	return m.store.AddExposure(ctx, op.ID, day, costCents)
}

// RegisterSettlement updates the streak counters after a trade settles. A
// loss arms the per-loss cooldown; a win clears the streak.
func (m *Manager) RegisterSettlement(ctx context.Context, op *database.Operator, day time.Time, won bool, lossCents int, now time.Time) error {
	if won {
		return m.store.RecordWin(ctx, op.ID, day)
	}
	cooldownUntil := now.Add(time.Duration(op.CooldownMinutesPerLoss) * time.Minute)
	m.log.Info().Int64("operator", op.ID).Int("loss_cents", lossCents).
		Time("cooldown_until", cooldownUntil).Msg("loss recorded, cooldown armed")
	return m.store.RecordLoss(ctx, op.ID, day, lossCents, cooldownUntil)
}
