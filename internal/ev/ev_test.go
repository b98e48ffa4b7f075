package ev

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bozbot/internal/database"
	"bozbot/internal/market"
)

var scanDate = time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)

func testPrediction(probs map[string]float64) *database.Prediction {
	pred := &database.Prediction{
		City:           "NYC",
		PredictionDate: scanDate,
		EnsembleMeanF:  55.1,
		EnsembleStdF:   1.2,
		Confidence:     "high",
	}
	for ticker, p := range probs {
		pred.Brackets = append(pred.Brackets, database.BracketProbability{
			Label: ticker, Ticker: ticker, Probability: p,
		})
	}
	return pred
}

func TestValidateCycleGates(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-10 * time.Minute)
	valid := testPrediction(map[string]float64{"A": 0.7, "B": 0.3})

	assert.NoError(t, ValidateCycle(valid, nil, fresh, now))

	err := ValidateCycle(nil, nil, fresh, now)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	nan := testPrediction(map[string]float64{"A": math.NaN(), "B": 0.3})
	assert.ErrorAs(t, ValidateCycle(nan, nil, fresh, now), &ve)

	open := testPrediction(map[string]float64{"A": 0.7, "B": 0.5})
	assert.ErrorAs(t, ValidateCycle(open, nil, fresh, now), &ve)

	badPrice := []market.Market{{Ticker: "A", YesAsk: 120}}
	assert.ErrorAs(t, ValidateCycle(valid, badPrice, fresh, now), &ve)

	stale := now.Add(-3 * time.Hour)
	assert.ErrorAs(t, ValidateCycle(valid, nil, stale, now), &ve)
	assert.ErrorAs(t, ValidateCycle(valid, nil, time.Time{}, now), &ve)
}

func TestScanEmitsSignalAboveThreshold(t *testing.T) {
	// Happy-path numbers: model 0.30 vs market 22¢ on yes → EV 0.08.
	pred := testPrediction(map[string]float64{"55-56F": 0.30, "57-58F": 0.70})
	markets := []market.Market{
		{Ticker: "55-56F", YesAsk: 22, NoAsk: 80},
		{Ticker: "57-58F", YesAsk: 68, NoAsk: 34},
	}

	signals := ScanAllBrackets(pred, markets, 0.05, Sizing{})
	require.Len(t, signals, 1)

	s := signals[0]
	assert.Equal(t, "55-56F", s.MarketTicker)
	assert.Equal(t, market.SideYes, s.Side)
	assert.Equal(t, 22, s.PriceCents)
	assert.Equal(t, 1, s.Qty)
	assert.InDelta(t, 0.08, s.EV, 1e-9)
	assert.InDelta(t, 0.30, s.ModelP, 1e-9)
	assert.InDelta(t, 0.22, s.MarketP, 1e-9)
	assert.Equal(t, 22, s.CostCents())
}

func TestScanNoSignalBelowThreshold(t *testing.T) {
	pred := testPrediction(map[string]float64{"A": 0.5, "B": 0.5})
	markets := []market.Market{
		{Ticker: "A", YesAsk: 50, NoAsk: 52},
		{Ticker: "B", YesAsk: 49, NoAsk: 53},
	}
	signals := ScanAllBrackets(pred, markets, 0.05, Sizing{})
	assert.Empty(t, signals)
}

func TestScanNoSideSignals(t *testing.T) {
	// Model says 10%, market asks 30¢ for yes → the no side carries the
	// edge: model 0.90 vs market 0.72.
	pred := testPrediction(map[string]float64{"A": 0.10, "B": 0.90})
	markets := []market.Market{{Ticker: "A", YesAsk: 30, NoAsk: 72}}

	signals := ScanAllBrackets(pred, markets, 0.05, Sizing{})
	require.Len(t, signals, 1)
	assert.Equal(t, market.SideNo, signals[0].Side)
	assert.InDelta(t, 0.18, signals[0].EV, 1e-9)
}

func TestScanSkipsDegeneratePrices(t *testing.T) {
	pred := testPrediction(map[string]float64{"A": 0.9, "B": 0.1})
	markets := []market.Market{{Ticker: "A", YesAsk: 0, NoAsk: 0}}
	signals := ScanAllBrackets(pred, markets, 0.0, Sizing{})
	assert.Empty(t, signals)
}

func TestScanSkipsBracketsWithoutMarket(t *testing.T) {
	pred := testPrediction(map[string]float64{"A": 0.9, "B": 0.1})
	signals := ScanAllBrackets(pred, nil, 0.0, Sizing{})
	assert.Empty(t, signals)
}

func TestKellySizing(t *testing.T) {
	pred := testPrediction(map[string]float64{"A": 0.40, "B": 0.60})
	markets := []market.Market{{Ticker: "A", YesAsk: 20, NoAsk: 82}}

	sizing := Sizing{
		KellyEnabled:  true,
		KellyFraction: 0.25,
		MaxContracts:  10,
		BankrollCents: 100_000,
	}
	signals := ScanAllBrackets(pred, markets, 0.05, sizing)
	require.Len(t, signals, 1)

	// edge = (0.40-0.20)/(1-0.20) = 0.25; qty = floor(0.25*0.25*100000/20)
	// = 312, clamped to 10.
	assert.Equal(t, 10, signals[0].Qty)
}

func TestKellyFloorsAtOne(t *testing.T) {
	pred := testPrediction(map[string]float64{"A": 0.30, "B": 0.70})
	markets := []market.Market{{Ticker: "A", YesAsk: 22, NoAsk: 80}}

	sizing := Sizing{KellyEnabled: true, KellyFraction: 0.25, MaxContracts: 10, BankrollCents: 100}
	signals := ScanAllBrackets(pred, markets, 0.05, sizing)
	require.Len(t, signals, 1)
	assert.Equal(t, 1, signals[0].Qty)
}
