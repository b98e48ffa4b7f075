package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	forestTrees   = 100
	forestDepth   = 8
	forestMinLeaf = 3
)

type forestArtifact struct {
	Trees        []*treeNode `json:"trees"`
	MedianFill   []float64   `json:"median_fill"`
	FeatureDim   int         `json:"feature_dim"`
	FeatureNames []string    `json:"feature_names"`
	TrainedAt    time.Time   `json:"trained_at"`
}

// ForestRegressor is a bootstrap-aggregated ensemble of regression trees.
// The trees cannot route NaN, so training medians are persisted and used
// as the imputation fill on predict.
type ForestRegressor struct {
	path  string
	names []string
	seed  int64

	mu    sync.RWMutex
	model *forestArtifact
}

func NewForest(path string, featureNames []string) *ForestRegressor {
	return &ForestRegressor{path: path, names: featureNames, seed: 1}
}

func (f *ForestRegressor) Name() string { return "forest" }

func (f *ForestRegressor) IsAvailable() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.model != nil && len(f.model.Trees) > 0
}

func (f *ForestRegressor) Load() bool {
	var art forestArtifact
	if err := loadJSON(f.path, &art); err != nil || len(art.Trees) == 0 {
		return false
	}
	f.mu.Lock()
	f.model = &art
	f.mu.Unlock()
	return true
}

func (f *ForestRegressor) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.model == nil {
		return fmt.Errorf("forest: no trained model to save")
	}
	return saveJSON(f.path, f.model)
}

func (f *ForestRegressor) Train(xTrain [][]float64, yTrain []float64, xTest [][]float64, yTest []float64) (Metrics, error) {
	if len(xTrain) < 2*forestMinLeaf {
		return Metrics{}, fmt.Errorf("forest: %d training rows, need at least %d", len(xTrain), 2*forestMinLeaf)
	}
	dim := len(xTrain[0])
	fill := medianFill(xTrain, dim)

	imputedTrain := make([][]float64, len(xTrain))
	for i, row := range xTrain {
		imputedTrain[i] = impute(row, fill)
	}

	art := &forestArtifact{
		MedianFill:   fill,
		FeatureDim:   dim,
		FeatureNames: f.names,
		TrainedAt:    time.Now().UTC(),
	}

	rng := rand.New(rand.NewSource(f.seed))
	maxFeatures := int(math.Ceil(math.Sqrt(float64(dim))))
	params := treeParams{maxDepth: forestDepth, minSamplesLeaf: forestMinLeaf, maxFeatures: maxFeatures}

	n := len(imputedTrain)
	for t := 0; t < forestTrees; t++ {
		boot := make([]int, n)
		for i := range boot {
			boot[i] = rng.Intn(n)
		}
		art.Trees = append(art.Trees, fitTree(imputedTrain, yTrain, boot, params, rng))
	}

	f.mu.Lock()
	f.model = art
	f.mu.Unlock()

	trainOut := make([]float64, len(xTrain))
	for i, row := range xTrain {
		trainOut[i] = f.score(art, impute(row, fill))
	}
	testOut := make([]float64, len(xTest))
	for i, row := range xTest {
		testOut[i] = f.score(art, impute(row, fill))
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

func (f *ForestRegressor) Predict(features []float64) (float64, error) {
	f.mu.RLock()
	model := f.model
	f.mu.RUnlock()
	if model == nil || len(model.Trees) == 0 {
		return 0, fmt.Errorf("forest: model not loaded")
	}
	if err := validateDim(f.Name(), features, model.FeatureDim); err != nil {
		return 0, err
	}
	return f.score(model, impute(features, model.MedianFill)), nil
}

func (f *ForestRegressor) score(model *forestArtifact, imputed []float64) float64 {
	var sum float64
	for _, t := range model.Trees {
		sum += t.predict(imputed)
	}
	return sum / float64(len(model.Trees))
}
