// Package trading runs the per-cycle decision loop: latest prediction ×
// live prices → EV signals → risk gates → auto-execute or queue for
// approval. It also owns the pending-trade state machine.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bozbot/internal/database"
	"bozbot/internal/ev"
	"bozbot/internal/events"
	"bozbot/internal/market"
	"bozbot/internal/risk"
	"bozbot/internal/stations"
)

// pendingTTL is how long a queued manual-mode trade waits for approval.
const pendingTTL = 2 * time.Hour

// Store is the persistence surface of the executor.
type Store interface {
	GetOperator(ctx context.Context) (*database.Operator, error)
	LatestPrediction(ctx context.Context, city string, date time.Time) (*database.Prediction, error)
	NewestForecastAge(ctx context.Context, city string, date time.Time) (time.Time, error)
	HasOpenPosition(ctx context.Context, operatorID int64, city string, date time.Time, bracketLabel string) (bool, error)
	InsertTrade(ctx context.Context, t *database.Trade) error
	InsertPendingTrade(ctx context.Context, p *database.PendingTrade) error
	GetPendingTrade(ctx context.Context, id int64) (*database.PendingTrade, error)
	TransitionPending(ctx context.Context, id int64, fromStatus, toStatus string) (bool, error)
	ExecutePending(ctx context.Context, pendingID int64, t *database.Trade) error
	ExpirePendingTrades(ctx context.Context, now time.Time) ([]database.PendingTrade, error)
	OpenTrades(ctx context.Context, operatorID int64) ([]database.Trade, error)
}

// GatewayFactory builds a market gateway for the operator's credentials.
// The executor opens one gateway per cycle and closes it when done.
type GatewayFactory func(ctx context.Context, op *database.Operator) (market.Gateway, error)

// Publisher emits domain events best-effort.
type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, data map[string]any)
}

// Notifier delivers push notifications when the operator opted in.
type Notifier interface {
	Notify(ctx context.Context, op *database.Operator, title, body string)
}

// CycleResult summarizes one trading_cycle invocation.
type CycleResult struct {
	Status         string `json:"status"`
	SignalsFound   int    `json:"signals_found"`
	TradesExecuted int    `json:"trades_executed"`
	TradesQueued   int    `json:"trades_queued"`
	Rejected       int    `json:"rejected"`
	CitiesSkipped  int    `json:"cities_skipped"`
}

// Executor drives the decision loop and the approval path.
type Executor struct {
	store     Store
	gateways  GatewayFactory
	risk      *risk.Manager
	publisher Publisher
	notifier  Notifier
	log       zerolog.Logger
}

func NewExecutor(store Store, gateways GatewayFactory, riskMgr *risk.Manager, publisher Publisher, notifier Notifier, log zerolog.Logger) *Executor {
	return &Executor{
		store:     store,
		gateways:  gateways,
		risk:      riskMgr,
		publisher: publisher,
		notifier:  notifier,
		log:       log.With().Str("component", "trading").Logger(),
	}
}

// RunCycle executes one full decision pass over the operator's active
// cities. A fresh install (no operator row) completes as a no-op.
func (e *Executor) RunCycle(ctx context.Context, now time.Time) (*CycleResult, error) {
	result := &CycleResult{Status: "completed"}

	op, err := e.store.GetOperator(ctx)
	if err != nil {
		return nil, err
	}
	if op == nil {
		e.log.Debug().Msg("no operator configured, cycle is a no-op")
		return result, nil
	}

	gw, err := e.gateways(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("open market gateway: %w", err)
	}
	defer gw.Close()

	sizing := ev.Sizing{
		KellyEnabled:  op.KellyEnabled,
		KellyFraction: op.KellyFraction,
		MaxContracts:  op.MaxContractsPerTrade,
	}
	if op.KellyEnabled {
		balance, berr := gw.GetBalance(ctx)
		if berr != nil {
			e.log.Warn().Err(berr).Msg("balance unavailable, Kelly sizing disabled for cycle")
			sizing.KellyEnabled = false
		} else {
			sizing.BankrollCents = balance
		}
	}

	for _, city := range op.Cities() {
		if err := e.runCity(ctx, op, gw, city, now, sizing, result); err != nil {
			return nil, err
		}
	}

	e.log.Info().
		Int("signals", result.SignalsFound).
		Int("executed", result.TradesExecuted).
		Int("queued", result.TradesQueued).
		Int("rejected", result.Rejected).
		Msg("trading cycle completed")
	return result, nil
}

// runCity scans one city. Validation failures and gateway hiccups skip the
// city; only storage and configuration errors propagate.
func (e *Executor) runCity(ctx context.Context, op *database.Operator, gw market.Gateway, city string, now time.Time, sizing ev.Sizing, result *CycleResult) error {
	station, err := stations.Get(city)
	if err != nil {
		return err // unknown city is a configuration error
	}
	if !risk.MarketsOpen(station, now) {
		e.log.Debug().Str("city", city).Msg("outside trading window")
		result.CitiesSkipped++
		return nil
	}

	day := station.TradingDay(now)
	state, err := e.risk.StateForDay(ctx, op.ID, day)
	if err != nil {
		return err
	}

	pred, err := e.store.LatestPrediction(ctx, city, day)
	if err != nil {
		return err
	}
	newest, err := e.store.NewestForecastAge(ctx, city, day)
	if err != nil {
		return err
	}

	eventTicker, err := market.BuildEventTicker(city, day)
	if err != nil {
		return err
	}
	markets, err := gw.GetEventMarkets(ctx, eventTicker)
	if err != nil {
		e.log.Warn().Err(err).Str("city", city).Msg("markets unavailable, city skipped")
		result.CitiesSkipped++
		return nil
	}

	if verr := ev.ValidateCycle(pred, markets, newest, now); verr != nil {
		e.log.Warn().Err(verr).Str("city", city).Msg("cycle validation failed, city skipped")
		result.CitiesSkipped++
		return nil
	}

	signals := ev.ScanAllBrackets(pred, markets, op.MinEVThreshold, sizing)
	result.SignalsFound += len(signals)

	for _, sig := range signals {
		dup, err := e.store.HasOpenPosition(ctx, op.ID, sig.City, sig.TradeDate, sig.BracketLabel)
		if err != nil {
			return err
		}
		if dup {
			e.log.Debug().Str("bracket", sig.BracketLabel).Msg("position already open, signal skipped")
			continue
		}

		if rerr := e.risk.CheckSignal(op, state, sig, now); rerr != nil {
			result.Rejected++
			e.log.Info().Err(rerr).Str("city", city).Str("bracket", sig.BracketLabel).Msg("signal rejected")
			continue
		}

		if op.TradingMode == database.ModeAuto {
			if e.execute(ctx, op, gw, state, day, sig) {
				result.TradesExecuted++
			}
		} else {
			if err := e.queue(ctx, op, sig, now); err != nil {
				return err
			}
			result.TradesQueued++
		}
	}
	return nil
}

// execute submits the order and books the trade. A gateway failure is
// logged and dropped; the next cycle re-scans.
func (e *Executor) execute(ctx context.Context, op *database.Operator, gw market.Gateway, state *database.DailyRiskState, day time.Time, sig ev.TradeSignal) bool {
	order, err := gw.PlaceOrder(ctx, sig.MarketTicker, sig.Side, sig.PriceCents, sig.Qty)
	if err != nil {
		e.log.Error().Err(err).Str("ticker", sig.MarketTicker).Msg("order submission failed, signal dropped")
		return false
	}

	trade := tradeFromSignal(op.ID, sig)
	trade.KalshiOrderID = &order.OrderID
	if err := e.store.InsertTrade(ctx, trade); err != nil {
		e.log.Error().Err(err).Str("order_id", order.OrderID).Msg("trade insert failed after fill")
		return false
	}

	if err := e.risk.RegisterSubmission(ctx, op, day, sig.CostCents()); err != nil {
		e.log.Error().Err(err).Msg("exposure update failed")
	}
	// Later signals in this cycle must see the new exposure.
	state.TotalExposureCents += sig.CostCents()
	state.TradesCount++

	e.publisher.Publish(ctx, events.EventTradeExecuted, map[string]any{
		"trade_id": trade.ID,
		"city":     sig.City,
		"bracket":  sig.BracketLabel,
		"side":     string(sig.Side),
		"price":    sig.PriceCents,
		"qty":      sig.Qty,
		"ev":       sig.EV,
	})
	e.log.Info().Int64("trade_id", trade.ID).Str("city", sig.City).
		Str("bracket", sig.BracketLabel).Str("side", string(sig.Side)).
		Int("price_cents", sig.PriceCents).Int("qty", sig.Qty).
		Msg("trade executed")
	return true
}

// queue writes a pending trade for manual approval.
func (e *Executor) queue(ctx context.Context, op *database.Operator, sig ev.TradeSignal, now time.Time) error {
	pending := &database.PendingTrade{
		OperatorID:   op.ID,
		City:         sig.City,
		TradeDate:    sig.TradeDate,
		MarketTicker: sig.MarketTicker,
		BracketLabel: sig.BracketLabel,
		Side:         string(sig.Side),
		PriceCents:   sig.PriceCents,
		Quantity:     sig.Qty,
		ModelProb:    sig.ModelP,
		MarketProb:   sig.MarketP,
		EntryEV:      sig.EV,
		Confidence:   sig.Confidence,
		Reasoning:    sig.Reasoning,
		Status:       database.PendingPending,
		ExpiresAt:    now.Add(pendingTTL),
	}
	if err := e.store.InsertPendingTrade(ctx, pending); err != nil {
		return err
	}

	e.publisher.Publish(ctx, events.EventTradeQueued, map[string]any{
		"pending_id": pending.ID,
		"city":       sig.City,
		"bracket":    sig.BracketLabel,
		"side":       string(sig.Side),
		"price":      sig.PriceCents,
		"qty":        sig.Qty,
		"expires_at": pending.ExpiresAt.UTC().Format(time.RFC3339),
	})
	if e.notifier != nil && op.NotificationsEnabled {
		e.notifier.Notify(ctx, op,
			"Trade approval needed",
			fmt.Sprintf("%s %s %s %d¢ ×%d (EV %+.3f)", sig.City, sig.BracketLabel, sig.Side, sig.PriceCents, sig.Qty, sig.EV))
	}
	e.log.Info().Int64("pending_id", pending.ID).Str("city", sig.City).
		Str("bracket", sig.BracketLabel).Msg("trade queued for approval")
	return nil
}

func tradeFromSignal(operatorID int64, sig ev.TradeSignal) *database.Trade {
	return &database.Trade{
		OperatorID:   operatorID,
		City:         sig.City,
		TradeDate:    sig.TradeDate,
		MarketTicker: sig.MarketTicker,
		BracketLabel: sig.BracketLabel,
		Side:         string(sig.Side),
		PriceCents:   sig.PriceCents,
		Quantity:     sig.Qty,
		ModelProb:    sig.ModelP,
		MarketProb:   sig.MarketP,
		EntryEV:      sig.EV,
		Confidence:   sig.Confidence,
		Status:       database.TradeOpen,
	}
}
