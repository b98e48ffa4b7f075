package ml

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// ridgeLambda is the L2 penalty. The intercept column is not penalized.
const ridgeLambda = 1.0

type ridgeArtifact struct {
	Weights      []float64 `json:"weights"` // Weights[0] is the intercept
	MedianFill   []float64 `json:"median_fill"`
	FeatureDim   int       `json:"feature_dim"`
	FeatureNames []string  `json:"feature_names"`
	TrainedAt    time.Time `json:"trained_at"`
}

// RidgeRegressor is a closed-form L2-regularized linear model, solved as
// (XᵀX + λI)β = Xᵀy. Like the forest it imputes NaN with persisted
// training medians.
type RidgeRegressor struct {
	path  string
	names []string

	mu    sync.RWMutex
	model *ridgeArtifact
}

func NewRidge(path string, featureNames []string) *RidgeRegressor {
	return &RidgeRegressor{path: path, names: featureNames}
}

func (r *RidgeRegressor) Name() string { return "ridge" }

func (r *RidgeRegressor) IsAvailable() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.model != nil && len(r.model.Weights) > 0
}

func (r *RidgeRegressor) Load() bool {
	var art ridgeArtifact
	if err := loadJSON(r.path, &art); err != nil || len(art.Weights) == 0 {
		return false
	}
	r.mu.Lock()
	r.model = &art
	r.mu.Unlock()
	return true
}

func (r *RidgeRegressor) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.model == nil {
		return fmt.Errorf("ridge: no trained model to save")
	}
	return saveJSON(r.path, r.model)
}

func (r *RidgeRegressor) Train(xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) (Metrics, error) {
	n := len(xTrain)
	if n == 0 {
		return Metrics{}, fmt.Errorf("ridge: empty training set")
	}
	dim := len(xTrain[0])
	fill := medianFill(xTrain, dim)

	// Design matrix with a leading intercept column.
	X := mat.NewDense(n, dim+1, nil)
	for i, row := range xTrain {
		X.Set(i, 0, 1)
		imp := impute(row, fill)
		for j, v := range imp {
			X.Set(i, j+1, v)
		}
	}
	yv := mat.NewVecDense(n, yTrain)

	var xtx mat.Dense
	xtx.Mul(X.T(), X)
	for j := 1; j <= dim; j++ {
		xtx.Set(j, j, xtx.At(j, j)+ridgeLambda)
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), yv)

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return Metrics{}, fmt.Errorf("ridge: solve normal equations: %w", err)
	}

	art := &ridgeArtifact{
		Weights:      make([]float64, dim+1),
		MedianFill:   fill,
		FeatureDim:   dim,
		FeatureNames: r.names,
		TrainedAt:    time.Now().UTC(),
	}
	for j := 0; j <= dim; j++ {
		art.Weights[j] = beta.AtVec(j)
	}

	r.mu.Lock()
	r.model = art
	r.mu.Unlock()

	trainOut := make([]float64, len(xTrain))
	for i, row := range xTrain {
		trainOut[i] = r.score(art, impute(row, fill))
	}
	testOut := make([]float64, len(xTest))
	for i, row := range xTest {
		testOut[i] = r.score(art, impute(row, fill))
	}

	m := Metrics{
		RMSE:      rmse(testOut, yTest),
		MAE:       mae(testOut, yTest),
		TrainRMSE: rmse(trainOut, yTrain),
		Samples:   len(xTrain) + len(xTest),
	}
	m.Accepted = m.RMSE <= AcceptRMSE
	return m, nil
}

func (r *RidgeRegressor) Predict(features []float64) (float64, error) {
	r.mu.RLock()
	model := r.model
	r.mu.RUnlock()
	if model == nil || len(model.Weights) == 0 {
		return 0, fmt.Errorf("ridge: model not loaded")
	}
	if err := validateDim(r.Name(), features, model.FeatureDim); err != nil {
		return 0, err
	}
	return r.score(model, impute(features, model.MedianFill)), nil
}

func (r *RidgeRegressor) score(model *ridgeArtifact, imputed []float64) float64 {
	out := model.Weights[0]
	for j, v := range imputed {
		out += model.Weights[j+1] * v
	}
	return out
}
