package ml

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// zeroRMSESentinel stands in for 1/rmse when a model reports a perfect
// validation score, so weighting stays finite.
const zeroRMSESentinel = 1e6

type weightsArtifact struct {
	Weights   map[string]float64 `json:"weights"`
	RMSE      map[string]float64 `json:"rmse"`
	TrainedAt time.Time          `json:"trained_at"`
}

// Ensemble combines the regressors by inverse-RMSE weighting. Weights are
// recomputed on train and persisted so a restart restores them with the
// model artifacts.
type Ensemble struct {
	models      []Regressor
	weightsPath string
	log         zerolog.Logger

	mu      sync.RWMutex
	weights map[string]float64
}

func NewEnsemble(models []Regressor, weightsPath string, log zerolog.Logger) *Ensemble {
	return &Ensemble{
		models:      models,
		weightsPath: weightsPath,
		log:         log.With().Str("component", "ensemble").Logger(),
		weights:     make(map[string]float64),
	}
}

// Load restores every model artifact plus the weight file. It returns the
// number of models that loaded.
func (e *Ensemble) Load() int {
	loaded := 0
	for _, m := range e.models {
		if m.Load() {
			loaded++
			e.log.Info().Str("model", m.Name()).Msg("model artifact loaded")
		}
	}

	var art weightsArtifact
	if err := loadJSON(e.weightsPath, &art); err == nil && len(art.Weights) > 0 {
		e.mu.Lock()
		e.weights = art.Weights
		e.mu.Unlock()
	} else if loaded > 0 {
		// No weight file: fall back to equal weights over loaded models.
		e.mu.Lock()
		for _, m := range e.models {
			if m.IsAvailable() {
				e.weights[m.Name()] = 1 / float64(loaded)
			}
		}
		e.mu.Unlock()
	}
	return loaded
}

// SetWeights computes inverse-RMSE weights over the accepted models and
// persists them.
func (e *Ensemble) SetWeights(metrics map[string]Metrics) error {
	inv := make(map[string]float64)
	var total float64
	for name, m := range metrics {
		if !m.Accepted {
			continue
		}
		w := zeroRMSESentinel
		if m.RMSE > 0 {
			w = 1 / m.RMSE
		}
		inv[name] = w
		total += w
	}

	weights := make(map[string]float64, len(inv))
	rmses := make(map[string]float64, len(inv))
	for name, w := range inv {
		weights[name] = w / total
		rmses[name] = metrics[name].RMSE
	}

	e.mu.Lock()
	e.weights = weights
	e.mu.Unlock()

	return saveJSON(e.weightsPath, weightsArtifact{
		Weights:   weights,
		RMSE:      rmses,
		TrainedAt: time.Now().UTC(),
	})
}

// Weights returns a copy of the current weight map.
func (e *Ensemble) Weights() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.weights))
	for k, v := range e.weights {
		out[k] = v
	}
	return out
}

// Available reports whether any weighted model can predict.
func (e *Ensemble) Available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, m := range e.models {
		if m.IsAvailable() && e.weights[m.Name()] > 0 {
			return true
		}
	}
	return false
}

// Predict returns the weighted mean over the models that produced a
// value, with the contributor names. ok is false when no model was
// usable; the caller falls back to the raw forecast mean.
func (e *Ensemble) Predict(features []float64) (value float64, contributors []string, ok bool) {
	e.mu.RLock()
	weights := e.weights
	e.mu.RUnlock()

	var sum, wsum float64
	for _, m := range e.models {
		w := weights[m.Name()]
		if w <= 0 || !m.IsAvailable() {
			continue
		}
		v, err := m.Predict(features)
		if err != nil {
			e.log.Warn().Err(err).Str("model", m.Name()).Msg("model predict failed")
			continue
		}
		sum += w * v
		wsum += w
		contributors = append(contributors, m.Name())
	}
	if wsum == 0 {
		return 0, nil, false
	}
	return sum / wsum, contributors, true
}
