// Package ev scans a prediction against live market prices and emits
// trade signals for every bracket and side whose edge clears the
// operator's threshold.
package ev

import (
	"fmt"
	"math"
	"time"

	"bozbot/internal/database"
	"bozbot/internal/market"
)

// maxForecastAge is the staleness gate: predictions built on forecasts
// older than this must not trade.
const maxForecastAge = 120 * time.Minute

// probabilitySumTolerance bounds the allowed drift of the bracket sum
// from 1.0.
const probabilitySumTolerance = 0.01

// ValidationError aborts the whole cycle cleanly; nothing trades.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TradeSignal is one actionable edge found by the scan.
type TradeSignal struct {
	City         string
	TradeDate    time.Time
	MarketTicker string
	BracketLabel string
	Side         market.Side
	PriceCents   int
	Qty          int
	ModelP       float64
	MarketP      float64
	EV           float64
	Confidence   string
	Reasoning    string
}

// CostCents is the cash needed to enter the signal.
func (s TradeSignal) CostCents() int { return s.PriceCents * s.Qty }

// WorstCaseLossCents is the loss if the position settles against us.
func (s TradeSignal) WorstCaseLossCents() int { return s.PriceCents * s.Qty }

// Sizing carries the operator's Kelly parameters plus the live bankroll.
type Sizing struct {
	KellyEnabled  bool
	KellyFraction float64
	MaxContracts  int
	BankrollCents int64
}

// ValidateCycle applies the pre-scan gates. A nil prediction, a NaN or
// non-closed probability vector, an out-of-domain price, or stale
// forecasts each abort the cycle.
func ValidateCycle(pred *database.Prediction, markets []market.Market, newestForecast, now time.Time) error {
	if pred == nil {
		return validationErrorf("no prediction available")
	}

	var sum float64
	for _, b := range pred.Brackets {
		if math.IsNaN(b.Probability) {
			return validationErrorf("bracket %q probability is NaN", b.Label)
		}
		sum += b.Probability
	}
	if math.Abs(sum-1.0) > probabilitySumTolerance {
		return validationErrorf("bracket probabilities sum to %.4f", sum)
	}

	for _, m := range markets {
		for _, price := range []int{m.YesAsk, m.NoAsk} {
			if price != 0 && (price < 1 || price > 99) {
				return validationErrorf("market %s price %d¢ outside [1,99]", m.Ticker, price)
			}
		}
	}

	if newestForecast.IsZero() || now.Sub(newestForecast) > maxForecastAge {
		return validationErrorf("newest forecast is stale (fetched %s)", newestForecast)
	}
	return nil
}

// ScanAllBrackets computes the EV for every bracket × side and returns a
// signal for each one at or above minEV. Brackets without a market quote
// are skipped.
func ScanAllBrackets(pred *database.Prediction, markets []market.Market, minEV float64, sizing Sizing) []TradeSignal {
	byTicker := make(map[string]market.Market, len(markets))
	for _, m := range markets {
		byTicker[m.Ticker] = m
	}

	var signals []TradeSignal
	for _, b := range pred.Brackets {
		m, ok := byTicker[b.Ticker]
		if !ok {
			continue
		}

		sides := []struct {
			side   market.Side
			price  int
			modelP float64
		}{
			{market.SideYes, m.YesAsk, b.Probability},
			{market.SideNo, m.NoAsk, 1 - b.Probability},
		}

		for _, s := range sides {
			marketP := float64(s.price) / 100
			if marketP <= 0 || marketP >= 1 {
				continue
			}
			ev := s.modelP - marketP
			if ev < minEV {
				continue
			}

			qty := 1
			if sizing.KellyEnabled {
				qty = kellyQty(s.modelP, marketP, s.price, sizing)
			}

			signals = append(signals, TradeSignal{
				City:         pred.City,
				TradeDate:    pred.PredictionDate,
				MarketTicker: m.Ticker,
				BracketLabel: b.Label,
				Side:         s.side,
				PriceCents:   s.price,
				Qty:          qty,
				ModelP:       s.modelP,
				MarketP:      marketP,
				EV:           ev,
				Confidence:   pred.Confidence,
				Reasoning: fmt.Sprintf("%s %s: model %.1f%% vs market %.0f%% (EV %+.3f, ensemble %.1f±%.1f°F)",
					b.Label, s.side, s.modelP*100, marketP*100, ev, pred.EnsembleMeanF, pred.EnsembleStdF),
			})
		}
	}
	return signals
}

// kellyQty sizes a position by fractional Kelly, clamped to
// [1, MaxContracts].
func kellyQty(modelP, marketP float64, priceCents int, sizing Sizing) int {
	edge := (modelP - marketP) / (1 - marketP)
	qty := int(math.Floor(edge * sizing.KellyFraction * float64(sizing.BankrollCents) / float64(priceCents)))
	if qty < 1 {
		return 1
	}
	if sizing.MaxContracts > 0 && qty > sizing.MaxContracts {
		return sizing.MaxContracts
	}
	return qty
}
