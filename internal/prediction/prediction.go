// Package prediction turns the latest forecasts for a city into a
// per-bracket probability distribution, blending the raw source mean with
// the ML ensemble when models are loaded.
package prediction

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"bozbot/internal/database"
	"bozbot/internal/events"
	"bozbot/internal/features"
	"bozbot/internal/market"
	"bozbot/internal/stations"
	"bozbot/internal/weather"
)

// minStdF floors the distribution width so a tight source agreement never
// collapses the CDF to a spike.
const minStdF = 1.0

// Confidence thresholds on the source spread.
const (
	highConfidenceSpreadF   = 2.0
	mediumConfidenceSpreadF = 4.0
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	LatestForecasts(ctx context.Context, city string, date time.Time) ([]database.WeatherForecast, error)
	InsertPrediction(ctx context.Context, p *database.Prediction) error
}

// Predictor is the ensemble surface: weighted mean over loaded models.
type Predictor interface {
	Predict(features []float64) (value float64, contributors []string, ok bool)
}

// Publisher emits domain events best-effort.
type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, data map[string]any)
}

// Pipeline generates and persists predictions.
type Pipeline struct {
	store     Store
	gateway   market.Gateway
	predictor Predictor
	publisher Publisher
	log       zerolog.Logger
}

func NewPipeline(store Store, gateway market.Gateway, predictor Predictor, publisher Publisher, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		gateway:   gateway,
		predictor: predictor,
		publisher: publisher,
		log:       log.With().Str("component", "prediction").Logger(),
	}
}

// Run generates predictions for today and tomorrow (local standard time)
// for every given city, skipping cities that fail.
func (p *Pipeline) Run(ctx context.Context, cities []string, now time.Time) error {
	var lastErr error
	for _, city := range cities {
		station, err := stations.Get(city)
		if err != nil {
			return err // unknown city is a configuration error
		}
		today := station.TradingDay(now)
		for _, date := range []time.Time{today, today.AddDate(0, 0, 1)} {
			if _, err := p.Generate(ctx, city, date); err != nil {
				lastErr = err
				p.log.Warn().Err(err).Str("city", city).
					Time("date", date).Msg("prediction skipped")
			}
		}
	}
	return lastErr
}

// Generate builds and persists one prediction for (city, date).
func (p *Pipeline) Generate(ctx context.Context, city string, date time.Time) (*database.Prediction, error) {
	rows, err := p.store.LatestForecasts(ctx, city, date)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("prediction %s %s: %d sources, need at least 2",
			city, date.Format("2006-01-02"), len(rows))
	}

	highs := make([]float64, len(rows))
	sources := make([]string, len(rows))
	for i, r := range rows {
		highs[i] = r.ForecastHighF
		sources[i] = r.Source
	}
	mean := stat.Mean(highs, nil)
	spread := stat.StdDev(highs, nil)
	if len(highs) < 2 || math.IsNaN(spread) {
		spread = 0
	}

	// The ensemble refines the mean when any model is loaded; the raw
	// source mean stands otherwise.
	usedMean := mean
	if p.predictor != nil {
		vec := features.Extract(city, date, latestBySource(rows))
		if v, contributors, ok := p.predictor.Predict(vec); ok {
			usedMean = v
			sources = append(sources, contributors...)
		}
	}

	confidence := "low"
	switch {
	case spread < highConfidenceSpreadF:
		confidence = "high"
	case spread < mediumConfidenceSpreadF:
		confidence = "medium"
	}

	brackets := p.loadBrackets(ctx, city, date, usedMean)
	probs := BracketProbabilities(brackets, usedMean, spread)

	pred := &database.Prediction{
		City:           city,
		PredictionDate: date,
		EnsembleMeanF:  usedMean,
		EnsembleStdF:   spread,
		Confidence:     confidence,
		ModelSources:   strings.Join(sources, ","),
		Brackets:       probs,
		GeneratedAt:    time.Now().UTC(),
	}
	if err := p.store.InsertPrediction(ctx, pred); err != nil {
		return nil, err
	}

	if p.publisher != nil {
		p.publisher.Publish(ctx, events.EventPredictionUpdated, map[string]any{
			"city":       city,
			"date":       date.Format("2006-01-02"),
			"mean_f":     usedMean,
			"std_f":      spread,
			"confidence": confidence,
		})
	}

	p.log.Info().Str("city", city).Time("date", date).
		Float64("mean_f", usedMean).Float64("spread_f", spread).
		Str("confidence", confidence).Int("brackets", len(probs)).
		Msg("prediction generated")
	return pred, nil
}

// loadBrackets asks the gateway for the day's bracket set and falls back
// to a synthetic ladder centred on the mean when the gateway fails.
func (p *Pipeline) loadBrackets(ctx context.Context, city string, date time.Time, mean float64) []market.Bracket {
	eventTicker, err := market.BuildEventTicker(city, date)
	if err == nil && p.gateway != nil {
		markets, gerr := p.gateway.GetEventMarkets(ctx, eventTicker)
		if gerr == nil && len(markets) > 0 {
			brackets := make([]market.Bracket, 0, len(markets))
			for _, m := range markets {
				b, berr := market.BracketFromMarket(m)
				if berr != nil {
					continue
				}
				brackets = append(brackets, b)
			}
			if len(brackets) > 0 {
				return sortBrackets(brackets)
			}
		}
		if gerr != nil {
			p.log.Warn().Err(gerr).Str("event", eventTicker).Msg("gateway brackets unavailable, using synthetic")
		}
	}
	return SyntheticBrackets(mean)
}

// SyntheticBrackets builds the fallback six-bracket ladder: four 2°F
// middle brackets around the mean plus open-ended catch-alls.
func SyntheticBrackets(mean float64) []market.Bracket {
	c := math.Round(mean)
	f := func(v float64) *float64 { return &v }

	brackets := []market.Bracket{
		{Label: fmt.Sprintf("Below %dF", int(c-4)), UpperF: f(c - 4.01)},
	}
	for _, floor := range []float64{c - 4, c - 2, c, c + 2} {
		brackets = append(brackets, market.Bracket{
			Label:  fmt.Sprintf("%d-%dF", int(floor), int(floor+2)),
			LowerF: f(floor),
			UpperF: f(floor + 1.99),
		})
	}
	brackets = append(brackets, market.Bracket{
		Label: fmt.Sprintf("%dF or above", int(c+4)), LowerF: f(c + 4),
	})
	return brackets
}

// BracketProbabilities integrates N(mean, max(std, 1.0)) over each
// bracket and normalizes so the probabilities sum to exactly 1.0.
func BracketProbabilities(brackets []market.Bracket, mean, std float64) []database.BracketProbability {
	dist := distuv.Normal{Mu: mean, Sigma: math.Max(std, minStdF)}

	out := make([]database.BracketProbability, len(brackets))
	var total float64
	for i, b := range brackets {
		lower, upper := 0.0, 1.0
		if b.LowerF != nil {
			lower = dist.CDF(*b.LowerF)
		}
		if b.UpperF != nil {
			upper = dist.CDF(*b.UpperF)
		}
		prob := upper - lower
		if prob < 0 {
			prob = 0
		}
		out[i] = database.BracketProbability{
			Label:       b.Label,
			LowerF:      b.LowerF,
			UpperF:      b.UpperF,
			Probability: prob,
			Ticker:      b.Ticker,
		}
		total += prob
	}

	if total > 0 {
		for i := range out {
			out[i].Probability /= total
		}
	} else {
		// Degenerate case: spread the mass uniformly.
		for i := range out {
			out[i].Probability = 1 / float64(len(out))
		}
	}
	return out
}

// sortBrackets orders ascending by temperature with the bottom-edge
// bracket first and the top-edge bracket last.
func sortBrackets(brackets []market.Bracket) []market.Bracket {
	sort.SliceStable(brackets, func(i, j int) bool {
		li, lj := brackets[i].LowerF, brackets[j].LowerF
		if li == nil {
			return lj != nil
		}
		if lj == nil {
			return false
		}
		return *li < *lj
	})
	return brackets
}

// latestBySource reshapes DB rows into the normalized form the feature
// extractor consumes.
func latestBySource(rows []database.WeatherForecast) map[string]weather.WeatherData {
	out := make(map[string]weather.WeatherData, len(rows))
	for _, r := range rows {
		wd := weather.WeatherData{
			City:          r.City,
			Date:          r.ForecastDate,
			ForecastHighF: r.ForecastHighF,
			Source:        r.Source,
			Variables:     make(map[string]float64),
			FetchedAt:     r.FetchedAt,
		}
		if r.ForecastLowF != nil {
			wd.Variables[weather.VarLowF] = *r.ForecastLowF
		}
		if r.HumidityPct != nil {
			wd.Variables[weather.VarHumidity] = *r.HumidityPct
		}
		if r.WindMph != nil {
			wd.Variables[weather.VarWindMph] = *r.WindMph
		}
		if r.CloudCoverPct != nil {
			wd.Variables[weather.VarCloudCover] = *r.CloudCoverPct
		}
		out[r.Source] = wd
	}
	return out
}
