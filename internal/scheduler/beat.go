package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job names, shared between the beat calendar and the worker registry.
const (
	JobFetchForecasts      = "fetch_forecasts"
	JobFetchCLIReports     = "fetch_cli_reports"
	JobGeneratePredictions = "generate_predictions"
	JobTradingCycle        = "trading_cycle"
	JobExpirePending       = "expire_pending"
	JobSettleTrades        = "settle_trades"
	JobTrainModels         = "train_models"
)

// calendar is the fixed emission schedule, evaluated in the operator's
// timezone. Predictions run 5 minutes after forecast fetches and
// settlement an hour after the CLI fetch; both offsets are advisory.
var calendar = []struct {
	name string
	spec string
}{
	{JobFetchForecasts, "*/30 * * * *"},
	{JobFetchCLIReports, "0 8 * * *"},
	{JobGeneratePredictions, "5,35 * * * *"},
	{JobTradingCycle, "*/15 * * * *"},
	{JobExpirePending, "*/5 * * * *"},
	{JobSettleTrades, "0 9 * * *"},
	{JobTrainModels, "0 3 * * 0"},
}

// Beat emits task requests on the calendar. It never touches domain
// state; workers do all the work.
type Beat struct {
	cron   *cron.Cron
	broker *Broker
	log    zerolog.Logger
}

func NewBeat(broker *Broker, tz *time.Location, log zerolog.Logger) (*Beat, error) {
	b := &Beat{
		cron:   cron.New(cron.WithLocation(tz)),
		broker: broker,
		log:    log.With().Str("component", "beat").Logger(),
	}
	for _, entry := range calendar {
		name := entry.name
		if _, err := b.cron.AddFunc(entry.spec, func() { b.emit(name) }); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Beat) emit(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.broker.Enqueue(ctx, name); err != nil {
		b.log.Error().Err(err).Str("task", name).Msg("enqueue failed")
		return
	}
	b.log.Debug().Str("task", name).Msg("task emitted")
}

// Start begins emitting on schedule.
func (b *Beat) Start() { b.cron.Start() }

// Stop halts the calendar and waits for in-flight emissions.
func (b *Beat) Stop() {
	<-b.cron.Stop().Done()
}
