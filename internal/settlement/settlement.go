// Package settlement ingests NWS climate reports as the settlement
// authority and closes open trades against the observed daily highs.
package settlement

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"bozbot/internal/database"
	"bozbot/internal/events"
	"bozbot/internal/market"
	"bozbot/internal/risk"
	"bozbot/internal/stations"
	"bozbot/internal/weather"
)

// Store is the persistence surface of the settler.
type Store interface {
	InsertSettlementIfAbsent(ctx context.Context, s *database.Settlement) (bool, error)
	GetSettlement(ctx context.Context, city string, date time.Time) (*database.Settlement, error)
	GetOperator(ctx context.Context) (*database.Operator, error)
	OpenTrades(ctx context.Context, operatorID int64) ([]database.Trade, error)
	SettleTrade(ctx context.Context, t *database.Trade) error
}

// CLIFetcher pulls the raw climate report for a station.
type CLIFetcher interface {
	FetchCLI(ctx context.Context, station stations.Station) (*weather.CLIReport, error)
}

// Publisher emits domain events best-effort.
type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, data map[string]any)
}

// Settler fetches climate reports and settles trades against them.
type Settler struct {
	store     Store
	fetcher   CLIFetcher
	risk      *risk.Manager
	publisher Publisher
	log       zerolog.Logger
}

func NewSettler(store Store, fetcher CLIFetcher, riskMgr *risk.Manager, publisher Publisher, log zerolog.Logger) *Settler {
	return &Settler{
		store:     store,
		fetcher:   fetcher,
		risk:      riskMgr,
		publisher: publisher,
		log:       log.With().Str("component", "settlement").Logger(),
	}
}

// FetchCLIReports pulls each city's latest climate report and records the
// observed high. A failure in one city never blocks the others; the
// (city, date) uniqueness makes re-runs no-ops.
func (s *Settler) FetchCLIReports(ctx context.Context, cities []string) error {
	var lastErr error
	for _, city := range cities {
		station, err := stations.Get(city)
		if err != nil {
			return err // unknown city is a configuration error
		}
		report, err := s.fetcher.FetchCLI(ctx, station)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Str("city", city).Msg("CLI report unavailable")
			continue
		}

		row := &database.Settlement{
			City:           city,
			SettlementDate: report.ReportDate,
			ObservedHighF:  report.HighF,
			ObservedLowF:   report.LowF,
			Source:         weather.SourceCLI,
			RawReport:      report.RawText,
		}
		inserted, err := s.store.InsertSettlementIfAbsent(ctx, row)
		if err != nil {
			lastErr = err
			s.log.Error().Err(err).Str("city", city).Msg("settlement insert failed")
			continue
		}
		if inserted {
			s.log.Info().Str("city", city).Time("date", report.ReportDate).
				Float64("high_f", report.HighF).Msg("settlement recorded")
		}
	}
	return lastErr
}

// SettleTrades closes every OPEN trade whose (city, date) has a recorded
// settlement. Each trade commits individually, so a partial failure
// settles the remainder on the next run.
func (s *Settler) SettleTrades(ctx context.Context, now time.Time) (int, error) {
	op, err := s.store.GetOperator(ctx)
	if err != nil {
		return 0, err
	}
	if op == nil {
		return 0, nil
	}

	open, err := s.store.OpenTrades(ctx, op.ID)
	if err != nil {
		return 0, err
	}

	var settled int
	var lastErr error
	for i := range open {
		trade := &open[i]
		row, err := s.store.GetSettlement(ctx, trade.City, trade.TradeDate)
		if err != nil {
			lastErr = err
			continue
		}
		if row == nil {
			continue // no report yet; next run picks it up
		}
		if err := s.settleOne(ctx, op, trade, row, now); err != nil {
			lastErr = err
			s.log.Error().Err(err).Int64("trade_id", trade.ID).Msg("settle failed")
			continue
		}
		settled++
	}
	return settled, lastErr
}

func (s *Settler) settleOne(ctx context.Context, op *database.Operator, trade *database.Trade, row *database.Settlement, now time.Time) error {
	station, err := stations.Get(trade.City)
	if err != nil {
		return err
	}
	bracket, err := ParseBracketLabel(trade.BracketLabel)
	if err != nil {
		return err
	}

	inBracket := bracket.Contains(row.ObservedHighF)
	won := inBracket
	if market.Side(trade.Side) == market.SideNo {
		won = !inBracket
	}

	var pnl int
	if won {
		trade.Status = database.TradeWon
		pnl = (100 - trade.PriceCents) * trade.Quantity
	} else {
		trade.Status = database.TradeLost
		pnl = -trade.PriceCents * trade.Quantity
	}

	narrative := Narrative(trade, row, won)
	settledAt := now
	fees := 0

	trade.SettlementTempF = &row.ObservedHighF
	trade.SettlementSource = &row.Source
	trade.PnLCents = &pnl
	trade.FeesCents = &fees
	trade.Narrative = &narrative
	trade.SettledAt = &settledAt

	if err := s.store.SettleTrade(ctx, trade); err != nil {
		return err
	}

	lossCents := 0
	if !won {
		lossCents = -pnl
	}
	// Counters key to the day the gates are reading right now, not the
	// trade's day: settlement runs the morning after, and a cooldown or
	// loss recorded in yesterday's row would never block anything.
	if err := s.risk.RegisterSettlement(ctx, op, station.TradingDay(now), won, lossCents, now); err != nil {
		s.log.Error().Err(err).Int64("trade_id", trade.ID).Msg("risk counters update failed")
	}

	s.publisher.Publish(ctx, events.EventTradeSettled, map[string]any{
		"trade_id":  trade.ID,
		"city":      trade.City,
		"bracket":   trade.BracketLabel,
		"side":      trade.Side,
		"won":       won,
		"pnl_cents": pnl,
		"high_f":    row.ObservedHighF,
	})
	s.log.Info().Int64("trade_id", trade.ID).Str("city", trade.City).
		Bool("won", won).Int("pnl_cents", pnl).Msg("trade settled")
	return nil
}

var (
	rangeLabel = regexp.MustCompile(`^(-?\d+)-(-?\d+)F$`)
	belowLabel = regexp.MustCompile(`^Below (-?\d+)F$`)
	aboveLabel = regexp.MustCompile(`^(-?\d+)F or above$`)
)

// ParseBracketLabel recovers the settlement interval from a display label.
// Ranges are inclusive of both printed degrees; "Below 48F" wins on any
// high under 48; "80F or above" on any high of 80 or more.
func ParseBracketLabel(label string) (market.Bracket, error) {
	f := func(v float64) *float64 { return &v }

	if m := rangeLabel.FindStringSubmatch(label); m != nil {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		return market.Bracket{Label: label, LowerF: f(lo), UpperF: f(hi + 0.99)}, nil
	}
	if m := belowLabel.FindStringSubmatch(label); m != nil {
		capF, _ := strconv.ParseFloat(m[1], 64)
		return market.Bracket{Label: label, UpperF: f(capF - 0.01)}, nil
	}
	if m := aboveLabel.FindStringSubmatch(label); m != nil {
		floor, _ := strconv.ParseFloat(m[1], 64)
		return market.Bracket{Label: label, LowerF: f(floor)}, nil
	}
	return market.Bracket{}, fmt.Errorf("unparseable bracket label %q", label)
}

// Narrative renders the post-mortem line stored on the settled trade.
func Narrative(trade *database.Trade, row *database.Settlement, won bool) string {
	outcome := "LOST"
	pnl := -trade.PriceCents * trade.Quantity
	if won {
		outcome = "WON"
		pnl = (100 - trade.PriceCents) * trade.Quantity
	}
	return fmt.Sprintf("%s %s: observed high %.0f°F, %s %s @ %d¢ ×%d %s (P&L %+d¢, model %.0f%% vs market %.0f%%)",
		trade.City, trade.TradeDate.Format("2006-01-02"), row.ObservedHighF,
		trade.BracketLabel, trade.Side, trade.PriceCents, trade.Quantity, outcome,
		pnl, trade.ModelProb*100, trade.MarketProb*100)
}
