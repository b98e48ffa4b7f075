package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bozbot/internal/database"
	"bozbot/internal/events"
	"bozbot/internal/risk"
	"bozbot/internal/stations"
	"bozbot/internal/weather"
)

var settleDay = time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC)

type fakeStore struct {
	operator    *database.Operator
	settlements map[string]*database.Settlement
	open        []database.Trade
	settled     []*database.Trade
	inserted    int
}

func newStore() *fakeStore {
	return &fakeStore{
		operator:    &database.Operator{ID: 1, CooldownMinutesPerLoss: 60, ConsecutiveLossLimit: 3},
		settlements: make(map[string]*database.Settlement),
	}
}

func key(city string, date time.Time) string {
	return city + date.Format("2006-01-02")
}

func (s *fakeStore) InsertSettlementIfAbsent(ctx context.Context, row *database.Settlement) (bool, error) {
	k := key(row.City, row.SettlementDate)
	if _, ok := s.settlements[k]; ok {
		return false, nil
	}
	s.settlements[k] = row
	s.inserted++
	return true, nil
}

func (s *fakeStore) GetSettlement(ctx context.Context, city string, date time.Time) (*database.Settlement, error) {
	return s.settlements[key(city, date)], nil
}

func (s *fakeStore) GetOperator(ctx context.Context) (*database.Operator, error) {
	return s.operator, nil
}

func (s *fakeStore) OpenTrades(ctx context.Context, operatorID int64) ([]database.Trade, error) {
	return s.open, nil
}

func (s *fakeStore) SettleTrade(ctx context.Context, t *database.Trade) error {
	s.settled = append(s.settled, t)
	return nil
}

type fakeFetcher struct {
	reports map[string]*weather.CLIReport
	fails   map[string]bool
}

func (f *fakeFetcher) FetchCLI(ctx context.Context, station stations.Station) (*weather.CLIReport, error) {
	if f.fails[station.City] {
		return nil, errors.New("report not yet issued")
	}
	return f.reports[station.City], nil
}

type fakeRiskStore struct {
	losses, wins  int
	lossDay       time.Time
	winDay        time.Time
	cooldownUntil time.Time
}

func (s *fakeRiskStore) GetOrCreateRiskState(ctx context.Context, operatorID int64, day time.Time) (*database.DailyRiskState, error) {
	return &database.DailyRiskState{OperatorID: operatorID, TradingDay: day}, nil
}

func (s *fakeRiskStore) AddExposure(ctx context.Context, operatorID int64, day time.Time, costCents int) error {
	return nil
}

func (s *fakeRiskStore) RecordLoss(ctx context.Context, operatorID int64, day time.Time, lossCents int, cooldownUntil time.Time) error {
	s.losses++
	s.lossDay = day
	s.cooldownUntil = cooldownUntil
	return nil
}

func (s *fakeRiskStore) RecordWin(ctx context.Context, operatorID int64, day time.Time) error {
	s.wins++
	s.winDay = day
	return nil
}

type fakePublisher struct {
	published []events.EventType
}

func (p *fakePublisher) Publish(ctx context.Context, eventType events.EventType, data map[string]any) {
	p.published = append(p.published, eventType)
}

type fixture struct {
	store     *fakeStore
	fetcher   *fakeFetcher
	riskStore *fakeRiskStore
	publisher *fakePublisher
	settler   *Settler
}

func newFixture() *fixture {
	f := &fixture{
		store:     newStore(),
		fetcher:   &fakeFetcher{reports: make(map[string]*weather.CLIReport), fails: make(map[string]bool)},
		riskStore: &fakeRiskStore{},
		publisher: &fakePublisher{},
	}
	f.settler = NewSettler(f.store, f.fetcher, risk.NewManager(f.riskStore, zerolog.Nop()), f.publisher, zerolog.Nop())
	return f
}

func openTrade(side string, price, qty int, bracket string) database.Trade {
	return database.Trade{
		ID: 1, OperatorID: 1, City: "NYC", TradeDate: settleDay,
		MarketTicker: "KXHIGHNY-26FEB18-B55.5", BracketLabel: bracket,
		Side: side, PriceCents: price, Quantity: qty,
		ModelProb: 0.30, MarketProb: 0.22, Status: database.TradeOpen,
	}
}

func TestFetchCLIReportsRecordsHigh(t *testing.T) {
	f := newFixture()
	f.fetcher.reports["NYC"] = &weather.CLIReport{
		StationID: "KNYC", ReportDate: settleDay, HighF: 54, RawText: "...",
	}

	require.NoError(t, f.settler.FetchCLIReports(context.Background(), []string{"NYC"}))
	row := f.store.settlements[key("NYC", settleDay)]
	require.NotNil(t, row)
	assert.Equal(t, 54.0, row.ObservedHighF)
	assert.Equal(t, weather.SourceCLI, row.Source)

	// Re-run is a no-op.
	require.NoError(t, f.settler.FetchCLIReports(context.Background(), []string{"NYC"}))
	assert.Equal(t, 1, f.store.inserted)
}

func TestFetchCLIReportsCityIsolation(t *testing.T) {
	f := newFixture()
	f.fetcher.fails["NYC"] = true
	f.fetcher.reports["CHI"] = &weather.CLIReport{
		StationID: "KMDW", ReportDate: settleDay, HighF: 41,
	}

	err := f.settler.FetchCLIReports(context.Background(), []string{"NYC", "CHI"})
	require.Error(t, err)
	assert.Nil(t, f.store.settlements[key("NYC", settleDay)])
	assert.NotNil(t, f.store.settlements[key("CHI", settleDay)])
}

func TestSettleWinningYes(t *testing.T) {
	f := newFixture()
	f.store.open = []database.Trade{openTrade("yes", 22, 1, "54-55F")}
	f.store.settlements[key("NYC", settleDay)] = &database.Settlement{
		City: "NYC", SettlementDate: settleDay, ObservedHighF: 54, Source: weather.SourceCLI,
	}

	n, err := f.settler.SettleTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, f.store.settled, 1)
	tr := f.store.settled[0]
	assert.Equal(t, database.TradeWon, tr.Status)
	require.NotNil(t, tr.PnLCents)
	assert.Equal(t, 78, *tr.PnLCents) // (100-22)×1
	assert.Equal(t, 1, f.riskStore.wins)
	assert.Contains(t, f.publisher.published, events.EventTradeSettled)
	require.NotNil(t, tr.Narrative)
	assert.Contains(t, *tr.Narrative, "WON")
}

func TestSettleLosingYes(t *testing.T) {
	f := newFixture()
	f.store.open = []database.Trade{openTrade("yes", 22, 1, "55-56F")}
	f.store.settlements[key("NYC", settleDay)] = &database.Settlement{
		City: "NYC", SettlementDate: settleDay, ObservedHighF: 54, Source: weather.SourceCLI,
	}

	_, err := f.settler.SettleTrades(context.Background(), time.Now())
	require.NoError(t, err)

	tr := f.store.settled[0]
	assert.Equal(t, database.TradeLost, tr.Status)
	assert.Equal(t, -22, *tr.PnLCents)
	assert.Equal(t, 1, f.riskStore.losses)
}

func TestSettleNoSideInvertsOutcome(t *testing.T) {
	f := newFixture()
	f.store.open = []database.Trade{openTrade("no", 80, 2, "55-56F")}
	f.store.settlements[key("NYC", settleDay)] = &database.Settlement{
		City: "NYC", SettlementDate: settleDay, ObservedHighF: 54, Source: weather.SourceCLI,
	}

	_, err := f.settler.SettleTrades(context.Background(), time.Now())
	require.NoError(t, err)

	// High outside the bracket: the no side wins.
	tr := f.store.settled[0]
	assert.Equal(t, database.TradeWon, tr.Status)
	assert.Equal(t, 40, *tr.PnLCents) // (100-80)×2
}

func TestSettleKeysRiskCountersToCurrentDay(t *testing.T) {
	f := newFixture()
	f.store.open = []database.Trade{openTrade("yes", 22, 1, "55-56F")}
	f.store.settlements[key("NYC", settleDay)] = &database.Settlement{
		City: "NYC", SettlementDate: settleDay, ObservedHighF: 54, Source: weather.SourceCLI,
	}
	f.store.operator.CooldownMinutesPerLoss = 60

	// Settlement runs the morning after the trade's day. The loss and its
	// cooldown must land in the row the gates read that morning, not in
	// yesterday's row where nothing would ever see them.
	now := time.Date(2026, 2, 19, 14, 0, 0, 0, time.UTC) // 09:00 in New York
	_, err := f.settler.SettleTrades(context.Background(), now)
	require.NoError(t, err)

	nyc, err := stations.Get("NYC")
	require.NoError(t, err)
	assert.Equal(t, nyc.TradingDay(now), f.riskStore.lossDay)
	assert.NotEqual(t, settleDay, f.riskStore.lossDay)
	assert.Equal(t, now.Add(60*time.Minute), f.riskStore.cooldownUntil)
}

func TestSettleWinKeysToCurrentDay(t *testing.T) {
	f := newFixture()
	f.store.open = []database.Trade{openTrade("yes", 22, 1, "54-55F")}
	f.store.settlements[key("NYC", settleDay)] = &database.Settlement{
		City: "NYC", SettlementDate: settleDay, ObservedHighF: 54, Source: weather.SourceCLI,
	}

	now := time.Date(2026, 2, 19, 14, 0, 0, 0, time.UTC)
	_, err := f.settler.SettleTrades(context.Background(), now)
	require.NoError(t, err)

	nyc, err := stations.Get("NYC")
	require.NoError(t, err)
	assert.Equal(t, nyc.TradingDay(now), f.riskStore.winDay)
}

func TestSettleSkipsUnreportedDays(t *testing.T) {
	f := newFixture()
	f.store.open = []database.Trade{openTrade("yes", 22, 1, "55-56F")}

	n, err := f.settler.SettleTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.store.settled)
}

func TestSettleNoOperatorIsNoop(t *testing.T) {
	f := newFixture()
	f.store.operator = nil

	n, err := f.settler.SettleTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestParseBracketLabel(t *testing.T) {
	b, err := ParseBracketLabel("55-56F")
	require.NoError(t, err)
	assert.True(t, b.Contains(55))
	assert.True(t, b.Contains(56))
	assert.False(t, b.Contains(57))
	assert.False(t, b.Contains(54))

	b, err = ParseBracketLabel("Below 48F")
	require.NoError(t, err)
	assert.True(t, b.Contains(47))
	assert.True(t, b.Contains(-5))
	assert.False(t, b.Contains(48))

	b, err = ParseBracketLabel("80F or above")
	require.NoError(t, err)
	assert.True(t, b.Contains(80))
	assert.True(t, b.Contains(101))
	assert.False(t, b.Contains(79))

	_, err = ParseBracketLabel("whatever")
	assert.Error(t, err)
}
