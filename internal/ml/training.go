package ml

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Sample is one training example: the feature vector extracted from the
// forecasts for (city, date) and the settled actual high.
type Sample struct {
	City     string
	Date     time.Time
	Features []float64
	Target   float64
}

// minTrainingSamples is the floor below which training is refused
// outright rather than producing a meaningless fit.
const minTrainingSamples = 30

// ChronoSplit splits samples 80/20 preserving order, so evaluation never
// sees the past. Samples must already be sorted by date.
func ChronoSplit(samples []Sample) (train, test []Sample) {
	cut := len(samples) * 8 / 10
	return samples[:cut], samples[cut:]
}

// TrainAll trains every model on the chronological split, saves the
// accepted ones and refreshes the ensemble weights. It returns per-model
// metrics keyed by model name.
func TrainAll(ensemble *Ensemble, samples []Sample, log zerolog.Logger) (map[string]Metrics, error) {
	if len(samples) < minTrainingSamples {
		return nil, fmt.Errorf("train: %d samples, need at least %d", len(samples), minTrainingSamples)
	}

	train, test := ChronoSplit(samples)
	xTrain, yTrain := unzip(train)
	xTest, yTest := unzip(test)

	log = log.With().Str("component", "training").Logger()
	log.Info().Int("train", len(train)).Int("test", len(test)).Msg("training models")

	results := make(map[string]Metrics)
	for _, m := range ensemble.models {
		metrics, err := m.Train(xTrain, yTrain, xTest, yTest)
		if err != nil {
			log.Error().Err(err).Str("model", m.Name()).Msg("training failed")
			continue
		}
		results[m.Name()] = metrics

		evt := log.Info().Str("model", m.Name()).
			Float64("rmse", metrics.RMSE).
			Float64("mae", metrics.MAE).
			Float64("train_rmse", metrics.TrainRMSE).
			Bool("accepted", metrics.Accepted)
		if !metrics.Accepted {
			evt.Msg("model rejected, not saving")
			continue
		}
		evt.Msg("model accepted")

		if err := m.Save(); err != nil {
			log.Error().Err(err).Str("model", m.Name()).Msg("saving model artifact failed")
		}
		if err := saveJSON(metaPath(m), metrics); err != nil {
			log.Warn().Err(err).Str("model", m.Name()).Msg("saving model metadata failed")
		}
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("train: every model failed")
	}
	if err := ensemble.SetWeights(results); err != nil {
		log.Error().Err(err).Msg("persisting ensemble weights failed")
	}
	return results, nil
}

type artifactPather interface{ artifactPath() string }

func (g *GBTRegressor) artifactPath() string    { return g.path }
func (f *ForestRegressor) artifactPath() string { return f.path }
func (r *RidgeRegressor) artifactPath() string  { return r.path }

func metaPath(m Regressor) string {
	if p, ok := m.(artifactPather); ok {
		path := p.artifactPath()
		if n := len(path); n > 5 && path[n-5:] == ".json" {
			return path[:n-5] + "_meta.json"
		}
		return path + "_meta.json"
	}
	return m.Name() + "_meta.json"
}

func unzip(samples []Sample) ([][]float64, []float64) {
	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Features
		y[i] = s.Target
	}
	return x, y
}
