package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bozbot/internal/database"
	"bozbot/internal/features"
	"bozbot/internal/ml"
	"bozbot/internal/prediction"
	"bozbot/internal/settlement"
	"bozbot/internal/stations"
	"bozbot/internal/trading"
	"bozbot/internal/weather"
)

// trainingLookback bounds how far back the training set reaches.
const trainingLookback = 2 * 365 * 24 * time.Hour

// JobStore is the slice of the repository the job bodies touch directly;
// the domain components carry their own surfaces.
type JobStore interface {
	GetOperator(ctx context.Context) (*database.Operator, error)
	InsertForecast(ctx context.Context, f *database.WeatherForecast) error
	ForecastHistory(ctx context.Context, city string, from, to time.Time) ([]database.WeatherForecast, error)
	SettlementHistory(ctx context.Context, city string, from, to time.Time) ([]database.Settlement, error)
}

// Jobs wires the domain components into worker job bodies.
type Jobs struct {
	repo     JobStore
	weather  *weather.Client
	pipeline *prediction.Pipeline
	executor *trading.Executor
	settler  *settlement.Settler
	ensemble *ml.Ensemble
	log      zerolog.Logger
}

func NewJobs(repo JobStore, weatherClient *weather.Client, pipeline *prediction.Pipeline, executor *trading.Executor, settler *settlement.Settler, ensemble *ml.Ensemble, log zerolog.Logger) *Jobs {
	return &Jobs{
		repo:     repo,
		weather:  weatherClient,
		pipeline: pipeline,
		executor: executor,
		settler:  settler,
		ensemble: ensemble,
		log:      log.With().Str("component", "jobs").Logger(),
	}
}

// RegisterAll attaches every job to the pool with its execution contract.
func (j *Jobs) RegisterAll(pool *Pool) {
	pool.Register(JobSpec{
		Name: JobFetchForecasts, SoftTimeout: 240 * time.Second, HardTimeout: 300 * time.Second,
		MaxRetries: 3, Backoff: 60 * time.Second, Run: j.FetchForecasts,
	})
	pool.Register(JobSpec{
		Name: JobFetchCLIReports, SoftTimeout: 240 * time.Second, HardTimeout: 300 * time.Second,
		MaxRetries: 3, Backoff: 120 * time.Second, Run: j.FetchCLIReports,
	})
	pool.Register(JobSpec{
		Name: JobGeneratePredictions, SoftTimeout: 240 * time.Second, HardTimeout: 300 * time.Second,
		MaxRetries: 2, Backoff: 60 * time.Second, Run: j.GeneratePredictions,
	})
	pool.Register(JobSpec{
		Name: JobTradingCycle, SoftTimeout: 180 * time.Second, HardTimeout: 240 * time.Second,
		MaxRetries: 2, Backoff: 30 * time.Second, Run: j.TradingCycle,
	})
	pool.Register(JobSpec{
		Name: JobExpirePending, SoftTimeout: 120 * time.Second, HardTimeout: 180 * time.Second,
		MaxRetries: 0, Run: j.ExpirePending,
	})
	pool.Register(JobSpec{
		Name: JobSettleTrades, SoftTimeout: 300 * time.Second, HardTimeout: 360 * time.Second,
		MaxRetries: 2, Backoff: 60 * time.Second, Run: j.SettleTrades,
	})
	pool.Register(JobSpec{
		Name: JobTrainModels, SoftTimeout: 600 * time.Second, HardTimeout: 720 * time.Second,
		MaxRetries: 0, Run: j.TrainModels,
	})
}

// activeCities resolves the city list: the operator's selection when one
// exists, the full catalog otherwise so data accrues before setup.
func (j *Jobs) activeCities(ctx context.Context) ([]string, error) {
	op, err := j.repo.GetOperator(ctx)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return stations.Codes(), nil
	}
	return op.Cities(), nil
}

// FetchForecasts pulls every source for every city and appends the
// normalized rows. Cities fan out concurrently; a failed city is logged
// and the rest proceed.
func (j *Jobs) FetchForecasts(ctx context.Context) error {
	cities, err := j.activeCities(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, city := range cities {
		station, err := stations.Get(city)
		if err != nil {
			return err
		}
		g.Go(func() error {
			rows, err := j.weather.FetchAll(ctx, station)
			if err != nil {
				j.log.Warn().Err(err).Str("city", station.City).Msg("all sources failed")
				return nil
			}
			for i := range rows {
				if err := j.repo.InsertForecast(ctx, forecastRow(&rows[i])); err != nil {
					return err
				}
			}
			j.log.Info().Str("city", station.City).Int("rows", len(rows)).Msg("forecasts stored")
			return nil
		})
	}
	return g.Wait()
}

// FetchCLIReports records yesterday's observed highs.
func (j *Jobs) FetchCLIReports(ctx context.Context) error {
	cities, err := j.activeCities(ctx)
	if err != nil {
		return err
	}
	return j.settler.FetchCLIReports(ctx, cities)
}

// GeneratePredictions refreshes today's and tomorrow's predictions.
func (j *Jobs) GeneratePredictions(ctx context.Context) error {
	cities, err := j.activeCities(ctx)
	if err != nil {
		return err
	}
	return j.pipeline.Run(ctx, cities, time.Now())
}

// TradingCycle runs one decision pass.
func (j *Jobs) TradingCycle(ctx context.Context) error {
	_, err := j.executor.RunCycle(ctx, time.Now())
	return err
}

// ExpirePending times out stale approval requests.
func (j *Jobs) ExpirePending(ctx context.Context) error {
	_, err := j.executor.ExpirePending(ctx, time.Now())
	return err
}

// SettleTrades closes open trades against recorded settlements.
func (j *Jobs) SettleTrades(ctx context.Context) error {
	_, err := j.settler.SettleTrades(ctx, time.Now())
	return err
}

// TrainModels rebuilds the ensemble from settled history.
func (j *Jobs) TrainModels(ctx context.Context) error {
	samples, err := j.BuildTrainingSamples(ctx, time.Now())
	if err != nil {
		return err
	}
	results, err := ml.TrainAll(j.ensemble, samples, j.log)
	if err != nil {
		return err
	}
	j.log.Info().Int("models", len(results)).Int("samples", len(samples)).Msg("training finished")
	return nil
}

// BuildTrainingSamples pivots forecast history against settlements: one
// sample per (city, date) that has both at least one forecast and an
// observed high. Samples come back sorted by date for the chronological
// split.
func (j *Jobs) BuildTrainingSamples(ctx context.Context, now time.Time) ([]ml.Sample, error) {
	from := now.Add(-trainingLookback)

	var samples []ml.Sample
	for _, city := range stations.Codes() {
		forecasts, err := j.repo.ForecastHistory(ctx, city, from, now)
		if err != nil {
			return nil, err
		}
		settlements, err := j.repo.SettlementHistory(ctx, city, from, now)
		if err != nil {
			return nil, err
		}

		highs := make(map[time.Time]float64, len(settlements))
		for _, s := range settlements {
			highs[s.SettlementDate] = s.ObservedHighF
		}

		byDate := make(map[time.Time]map[string]weather.WeatherData)
		for i := range forecasts {
			f := &forecasts[i]
			if _, ok := byDate[f.ForecastDate]; !ok {
				byDate[f.ForecastDate] = make(map[string]weather.WeatherData)
			}
			byDate[f.ForecastDate][f.Source] = forecastData(f)
		}

		for date, sources := range byDate {
			target, ok := highs[date]
			if !ok {
				continue
			}
			samples = append(samples, ml.Sample{
				City:     city,
				Date:     date,
				Features: features.Extract(city, date, sources),
				Target:   target,
			})
		}
	}

	sort.Slice(samples, func(i, k int) bool {
		return samples[i].Date.Before(samples[k].Date)
	})
	return samples, nil
}

// forecastRow maps a normalized source reading to its persisted shape.
func forecastRow(w *weather.WeatherData) *database.WeatherForecast {
	row := &database.WeatherForecast{
		City:          w.City,
		ForecastDate:  w.Date,
		ForecastHighF: w.ForecastHighF,
		Source:        w.Source,
		RawData:       w.RawData,
		FetchedAt:     w.FetchedAt,
	}
	if v, ok := w.Var(weather.VarLowF); ok {
		row.ForecastLowF = &v
	}
	if v, ok := w.Var(weather.VarHumidity); ok {
		row.HumidityPct = &v
	}
	if v, ok := w.Var(weather.VarWindMph); ok {
		row.WindMph = &v
	}
	if v, ok := w.Var(weather.VarCloudCover); ok {
		row.CloudCoverPct = &v
	}
	return row
}

// forecastData is the inverse mapping used when pivoting history into
// feature vectors.
func forecastData(f *database.WeatherForecast) weather.WeatherData {
	wd := weather.WeatherData{
		City:          f.City,
		Date:          f.ForecastDate,
		ForecastHighF: f.ForecastHighF,
		Source:        f.Source,
		Variables:     make(map[string]float64),
		FetchedAt:     f.FetchedAt,
	}
	if f.ForecastLowF != nil {
		wd.Variables[weather.VarLowF] = *f.ForecastLowF
	}
	if f.HumidityPct != nil {
		wd.Variables[weather.VarHumidity] = *f.HumidityPct
	}
	if f.WindMph != nil {
		wd.Variables[weather.VarWindMph] = *f.WindMph
	}
	if f.CloudCoverPct != nil {
		wd.Variables[weather.VarCloudCover] = *f.CloudCoverPct
	}
	return wd
}
