// Package ml implements the native regressors behind the temperature
// ensemble: a gradient-boosted tree, a random forest and a ridge model,
// combined by inverse-RMSE weighting. Trained models persist as JSON
// artifacts so a restart reloads them without retraining.
package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// AcceptRMSE is the validation-RMSE ceiling for a model to be saved and
// participate in the ensemble.
const AcceptRMSE = 5.0

// Metrics summarizes one model's training run.
type Metrics struct {
	RMSE      float64 `json:"rmse"`
	MAE       float64 `json:"mae"`
	TrainRMSE float64 `json:"train_rmse"`
	Accepted  bool    `json:"accepted"`
	Samples   int     `json:"samples"`
}

// Regressor is the contract every ensemble member satisfies. Predict
// validates the feature dimensionality and returns an error for an
// unloaded model.
type Regressor interface {
	Name() string
	// IsAvailable reports whether the model has trained state in memory.
	IsAvailable() bool
	// Load restores persisted state; false means no usable artifact.
	Load() bool
	Save() error
	Train(xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) (Metrics, error)
	Predict(features []float64) (float64, error)
}

func validateDim(name string, features []float64, want int) error {
	if len(features) != want {
		return fmt.Errorf("%s: feature dim %d, want %d", name, len(features), want)
	}
	return nil
}

// saveJSON writes v atomically: temp file in the same directory, then
// rename.
func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func rmse(pred, actual []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range pred {
		d := pred[i] - actual[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pred)))
}

func mae(pred, actual []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range pred {
		sum += math.Abs(pred[i] - actual[i])
	}
	return sum / float64(len(pred))
}

// medianFill computes the per-feature median over non-NaN training
// entries. Features that are NaN everywhere fill with 0.
func medianFill(x [][]float64, dim int) []float64 {
	fill := make([]float64, dim)
	col := make([]float64, 0, len(x))
	for j := 0; j < dim; j++ {
		col = col[:0]
		for _, row := range x {
			if !math.IsNaN(row[j]) {
				col = append(col, row[j])
			}
		}
		if len(col) == 0 {
			fill[j] = 0
			continue
		}
		fill[j] = median(col)
	}
	return fill
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// impute replaces NaNs with the persisted fill vector, copying the row.
func impute(features, fill []float64) []float64 {
	out := append([]float64(nil), features...)
	for j, v := range out {
		if math.IsNaN(v) {
			out[j] = fill[j]
		}
	}
	return out
}
