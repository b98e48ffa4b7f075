package ml

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticData builds a learnable regression problem: the target is a
// blend of the first two features plus small noise, like a high that
// tracks two model forecasts.
func syntheticData(n int, withNaN bool) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(7))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		row := make([]float64, 5)
		base := 40 + rng.Float64()*40
		row[0] = base + rng.NormFloat64()
		row[1] = base + rng.NormFloat64()
		row[2] = rng.Float64() * 100
		row[3] = rng.Float64() * 20
		row[4] = float64(i % 12)
		if withNaN && i%7 == 0 {
			row[1] = math.NaN()
		}
		x[i] = row
		y[i] = 0.6*row[0] + 0.4*base + rng.NormFloat64()*0.5
	}
	return x, y
}

func splitXY(x [][]float64, y []float64) ([][]float64, []float64, [][]float64, []float64) {
	cut := len(x) * 8 / 10
	return x[:cut], y[:cut], x[cut:], y[cut:]
}

func TestGBTTrainPredictSaveLoad(t *testing.T) {
	x, y := syntheticData(250, true)
	xtr, ytr, xte, yte := splitXY(x, y)

	path := filepath.Join(t.TempDir(), "gbt_temp.json")
	g := NewGBT(path, nil)

	m, err := g.Train(xtr, ytr, xte, yte)
	require.NoError(t, err)
	assert.True(t, m.Accepted, "rmse %.2f should clear the acceptance bar", m.RMSE)
	assert.Less(t, m.RMSE, 3.0)
	assert.Equal(t, 250, m.Samples)
	require.True(t, g.IsAvailable())

	pred, err := g.Predict(x[0])
	require.NoError(t, err)
	assert.InDelta(t, y[0], pred, 6.0)

	require.NoError(t, g.Save())

	reloaded := NewGBT(path, nil)
	require.True(t, reloaded.Load())
	pred2, err := reloaded.Predict(x[0])
	require.NoError(t, err)
	assert.Equal(t, pred, pred2, "reload must reproduce predictions exactly")
}

func TestGBTHandlesNaNOnPredict(t *testing.T) {
	x, y := syntheticData(250, true)
	xtr, ytr, xte, yte := splitXY(x, y)
	g := NewGBT(filepath.Join(t.TempDir(), "gbt_temp.json"), nil)
	_, err := g.Train(xtr, ytr, xte, yte)
	require.NoError(t, err)

	probe := append([]float64(nil), x[3]...)
	probe[1] = math.NaN()
	pred, err := g.Predict(probe)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(pred))
}

func TestPredictValidatesDimension(t *testing.T) {
	x, y := syntheticData(250, false)
	xtr, ytr, xte, yte := splitXY(x, y)
	g := NewGBT(filepath.Join(t.TempDir(), "gbt_temp.json"), nil)
	_, err := g.Train(xtr, ytr, xte, yte)
	require.NoError(t, err)

	_, err = g.Predict([]float64{1, 2, 3})
	assert.Error(t, err)
}

func TestPredictUnloadedModel(t *testing.T) {
	g := NewGBT(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.False(t, g.Load())
	_, err := g.Predict(make([]float64, 5))
	assert.Error(t, err)
}

func TestForestImputesWithTrainingMedians(t *testing.T) {
	x, y := syntheticData(250, true)
	xtr, ytr, xte, yte := splitXY(x, y)

	path := filepath.Join(t.TempDir(), "rf_temp.json")
	f := NewForest(path, nil)
	m, err := f.Train(xtr, ytr, xte, yte)
	require.NoError(t, err)
	assert.True(t, m.Accepted, "rmse %.2f", m.RMSE)

	require.NoError(t, f.Save())
	reloaded := NewForest(path, nil)
	require.True(t, reloaded.Load())
	reloaded.mu.RLock()
	fill := reloaded.model.MedianFill
	reloaded.mu.RUnlock()
	require.Len(t, fill, 5)

	probe := make([]float64, 5)
	for i := range probe {
		probe[i] = math.NaN()
	}
	pred, err := reloaded.Predict(probe)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(pred), "all-NaN input imputes to medians")
}

func TestRidgeRecoversLinearRelation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 200
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		a, b := rng.Float64()*50, rng.Float64()*50
		x[i] = []float64{a, b, rng.Float64()}
		y[i] = 10 + 2*a - 0.5*b
	}
	xtr, ytr, xte, yte := splitXY(x, y)

	r := NewRidge(filepath.Join(t.TempDir(), "ridge_temp.json"), nil)
	m, err := r.Train(xtr, ytr, xte, yte)
	require.NoError(t, err)
	assert.Less(t, m.RMSE, 1.0)
	assert.True(t, m.Accepted)

	pred, err := r.Predict([]float64{20, 10, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 10+2*20-0.5*10, pred, 1.5)
}

func TestEnsembleInverseRMSEWeights(t *testing.T) {
	e := NewEnsemble(nil, filepath.Join(t.TempDir(), "ml_weights.json"), zerolog.Nop())
	require.NoError(t, e.SetWeights(map[string]Metrics{
		"gbt":    {RMSE: 2.0, Accepted: true},
		"forest": {RMSE: 4.0, Accepted: true},
		"ridge":  {RMSE: 8.0, Accepted: false}, // rejected models get no weight
	}))

	w := e.Weights()
	require.Len(t, w, 2)
	var sum float64
	for _, v := range w {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
	assert.InDelta(t, 2.0, w["gbt"]/w["forest"], 1e-9, "half the RMSE, twice the weight")
	assert.Zero(t, w["ridge"])
}

func TestEnsembleEqualRMSEEqualWeights(t *testing.T) {
	e := NewEnsemble(nil, filepath.Join(t.TempDir(), "ml_weights.json"), zerolog.Nop())
	require.NoError(t, e.SetWeights(map[string]Metrics{
		"gbt":    {RMSE: 3.0, Accepted: true},
		"forest": {RMSE: 3.0, Accepted: true},
	}))
	w := e.Weights()
	assert.InDelta(t, 0.5, w["gbt"], 1e-9)
	assert.InDelta(t, 0.5, w["forest"], 1e-9)
}

func TestEnsembleZeroRMSESentinel(t *testing.T) {
	e := NewEnsemble(nil, filepath.Join(t.TempDir(), "ml_weights.json"), zerolog.Nop())
	require.NoError(t, e.SetWeights(map[string]Metrics{
		"gbt":    {RMSE: 0, Accepted: true},
		"forest": {RMSE: 2.0, Accepted: true},
	}))
	w := e.Weights()
	assert.Greater(t, w["gbt"], 0.99, "perfect model dominates")
}

func TestEnsemblePredictWeightedMean(t *testing.T) {
	dir := t.TempDir()
	x, y := syntheticData(250, true)
	xtr, ytr, xte, yte := splitXY(x, y)

	g := NewGBT(filepath.Join(dir, "gbt_temp.json"), nil)
	f := NewForest(filepath.Join(dir, "rf_temp.json"), nil)
	e := NewEnsemble([]Regressor{g, f}, filepath.Join(dir, "ml_weights.json"), zerolog.Nop())

	gm, err := g.Train(xtr, ytr, xte, yte)
	require.NoError(t, err)
	fm, err := f.Train(xtr, ytr, xte, yte)
	require.NoError(t, err)
	require.NoError(t, e.SetWeights(map[string]Metrics{"gbt": gm, "forest": fm}))

	val, contributors, ok := e.Predict(x[0])
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"gbt", "forest"}, contributors)

	gp, _ := g.Predict(x[0])
	fp, _ := f.Predict(x[0])
	w := e.Weights()
	assert.InDelta(t, w["gbt"]*gp+w["forest"]*fp, val, 1e-9)
}

func TestEnsemblePredictNoModels(t *testing.T) {
	e := NewEnsemble(nil, filepath.Join(t.TempDir(), "ml_weights.json"), zerolog.Nop())
	_, _, ok := e.Predict(make([]float64, 5))
	assert.False(t, ok)
}

func TestTrainAllEndToEnd(t *testing.T) {
	dir := t.TempDir()
	x, y := syntheticData(250, true)

	samples := make([]Sample, len(x))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range samples {
		samples[i] = Sample{
			City: "NYC", Date: base.AddDate(0, 0, i),
			Features: x[i], Target: y[i],
		}
	}

	models := []Regressor{
		NewGBT(filepath.Join(dir, "gbt_temp.json"), nil),
		NewForest(filepath.Join(dir, "rf_temp.json"), nil),
		NewRidge(filepath.Join(dir, "ridge_temp.json"), nil),
	}
	e := NewEnsemble(models, filepath.Join(dir, "ml_weights.json"), zerolog.Nop())

	results, err := TrainAll(e, samples, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, e.Available())

	// A fresh ensemble over the same paths restores artifacts and weights.
	fresh := NewEnsemble([]Regressor{
		NewGBT(filepath.Join(dir, "gbt_temp.json"), nil),
		NewForest(filepath.Join(dir, "rf_temp.json"), nil),
		NewRidge(filepath.Join(dir, "ridge_temp.json"), nil),
	}, filepath.Join(dir, "ml_weights.json"), zerolog.Nop())
	loaded := fresh.Load()
	assert.GreaterOrEqual(t, loaded, 1)

	_, contributors, ok := fresh.Predict(x[0])
	require.True(t, ok)
	assert.NotEmpty(t, contributors)
}

func TestTrainAllTooFewSamples(t *testing.T) {
	e := NewEnsemble(nil, filepath.Join(t.TempDir(), "ml_weights.json"), zerolog.Nop())
	_, err := TrainAll(e, make([]Sample, 5), zerolog.Nop())
	assert.Error(t, err)
}

func TestChronoSplitPreservesOrder(t *testing.T) {
	samples := make([]Sample, 10)
	for i := range samples {
		samples[i].Target = float64(i)
	}
	train, test := ChronoSplit(samples)
	require.Len(t, train, 8)
	require.Len(t, test, 2)
	assert.Equal(t, 7.0, train[7].Target)
	assert.Equal(t, 8.0, test[0].Target)
}
