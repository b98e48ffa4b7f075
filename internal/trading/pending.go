package trading

import (
	"context"
	"fmt"
	"time"

	"bozbot/internal/database"
	"bozbot/internal/events"
	"bozbot/internal/market"
)

// Approve moves a PENDING trade through APPROVED and submits the order.
// On gateway success the row becomes EXECUTED and the Trade is created in
// the same transaction; on failure the row is REJECTED.
func (e *Executor) Approve(ctx context.Context, pendingID int64, now time.Time) (*database.Trade, error) {
	pending, err := e.store.GetPendingTrade(ctx, pendingID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("pending trade %d not found", pendingID)
	}
	if pending.Status != database.PendingPending {
		return nil, fmt.Errorf("pending trade %d is %s, not approvable", pendingID, pending.Status)
	}
	if now.After(pending.ExpiresAt) {
		return nil, fmt.Errorf("pending trade %d expired at %s", pendingID, pending.ExpiresAt.Format(time.RFC3339))
	}

	ok, err := e.store.TransitionPending(ctx, pendingID, database.PendingPending, database.PendingApproved)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("pending trade %d left PENDING concurrently", pendingID)
	}

	op, err := e.store.GetOperator(ctx)
	if err != nil {
		return nil, err
	}
	gw, err := e.gateways(ctx, op)
	if err != nil {
		return nil, err
	}
	defer gw.Close()

	order, err := gw.PlaceOrder(ctx, pending.MarketTicker, market.Side(pending.Side), pending.PriceCents, pending.Quantity)
	if err != nil {
		if _, terr := e.store.TransitionPending(ctx, pendingID, database.PendingApproved, database.PendingRejected); terr != nil {
			e.log.Error().Err(terr).Int64("pending_id", pendingID).Msg("rejection transition failed")
		}
		return nil, fmt.Errorf("order submission failed: %w", err)
	}

	trade := &database.Trade{
		OperatorID:    pending.OperatorID,
		KalshiOrderID: &order.OrderID,
		City:          pending.City,
		TradeDate:     pending.TradeDate,
		MarketTicker:  pending.MarketTicker,
		BracketLabel:  pending.BracketLabel,
		Side:          pending.Side,
		PriceCents:    pending.PriceCents,
		Quantity:      pending.Quantity,
		ModelProb:     pending.ModelProb,
		MarketProb:    pending.MarketProb,
		EntryEV:       pending.EntryEV,
		Confidence:    pending.Confidence,
		Status:        database.TradeOpen,
	}
	if err := e.store.ExecutePending(ctx, pendingID, trade); err != nil {
		return nil, err
	}

	if err := e.risk.RegisterSubmission(ctx, op, pending.TradeDate, trade.CostCents()); err != nil {
		e.log.Error().Err(err).Msg("exposure update failed")
	}

	e.publisher.Publish(ctx, events.EventTradeExecuted, map[string]any{
		"trade_id":   trade.ID,
		"pending_id": pendingID,
		"city":       trade.City,
		"bracket":    trade.BracketLabel,
		"side":       trade.Side,
		"price":      trade.PriceCents,
		"qty":        trade.Quantity,
	})
	e.log.Info().Int64("pending_id", pendingID).Int64("trade_id", trade.ID).Msg("pending trade executed")
	return trade, nil
}

// Reject terminates a PENDING trade without executing it.
func (e *Executor) Reject(ctx context.Context, pendingID int64) error {
	ok, err := e.store.TransitionPending(ctx, pendingID, database.PendingPending, database.PendingRejected)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("pending trade %d is not PENDING", pendingID)
	}
	e.log.Info().Int64("pending_id", pendingID).Msg("pending trade rejected")
	return nil
}

// ExpirePending transitions every PENDING trade past its TTL to EXPIRED
// and publishes trade.expired per row. Idempotent: terminal rows are
// untouched by the guarded UPDATE.
func (e *Executor) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.store.ExpirePendingTrades(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, p := range expired {
		e.publisher.Publish(ctx, events.EventTradeExpired, map[string]any{
			"pending_id": p.ID,
			"city":       p.City,
			"bracket":    p.BracketLabel,
		})
		e.log.Info().Int64("pending_id", p.ID).Str("city", p.City).Msg("pending trade expired")
	}
	return len(expired), nil
}

// SyncOrders reconciles open positions against the gateway's resting
// orders and publishes trade.synced with the counts. Read-only: positions
// settle through the CLI path, not through order state.
func (e *Executor) SyncOrders(ctx context.Context) error {
	op, err := e.store.GetOperator(ctx)
	if err != nil {
		return err
	}
	if op == nil {
		return nil
	}
	gw, err := e.gateways(ctx, op)
	if err != nil {
		return err
	}
	defer gw.Close()

	orders, err := gw.GetOrders(ctx, "resting")
	if err != nil {
		return err
	}
	open, err := e.store.OpenTrades(ctx, op.ID)
	if err != nil {
		return err
	}

	resting := make(map[string]bool, len(orders))
	for _, o := range orders {
		resting[o.OrderID] = true
	}
	var matched int
	for _, t := range open {
		if t.KalshiOrderID != nil && resting[*t.KalshiOrderID] {
			matched++
		}
	}

	e.publisher.Publish(ctx, events.EventTradeSynced, map[string]any{
		"open_trades":    len(open),
		"resting_orders": len(orders),
		"matched":        matched,
	})
	e.log.Info().Int("open", len(open)).Int("resting", len(orders)).
		Int("matched", matched).Msg("order sync completed")
	return nil
}
