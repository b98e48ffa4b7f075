// Package market defines the gateway the trading loop talks to and the
// bracket model derived from market strike prices.
package market

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"bozbot/internal/stations"
)

// Side of a binary contract.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Market is a live price snapshot for one bracket contract.
type Market struct {
	Ticker      string   `json:"ticker"`
	EventTicker string   `json:"event_ticker"`
	Status      string   `json:"status"`
	YesBid      int      `json:"yes_bid"`
	YesAsk      int      `json:"yes_ask"`
	NoBid       int      `json:"no_bid"`
	NoAsk       int      `json:"no_ask"`
	LastPrice   int      `json:"last_price"`
	Volume      int      `json:"volume"`
	FloorStrike *float64 `json:"floor_strike"`
	CapStrike   *float64 `json:"cap_strike"`
}

// Order is the gateway's view of a submitted order.
type Order struct {
	OrderID       string `json:"order_id"`
	Ticker        string `json:"ticker"`
	Side          Side   `json:"side"`
	Status        string `json:"status"`
	PriceCents    int    `json:"price_cents"`
	Count         int    `json:"count"`
	ClientOrderID string `json:"client_order_id"`
}

// Gateway abstracts the exchange. The trading loop only ever sees this
// interface; the Kalshi client and the test fakes both satisfy it.
type Gateway interface {
	GetEventMarkets(ctx context.Context, eventTicker string) ([]Market, error)
	GetMarket(ctx context.Context, ticker string) (*Market, error)
	GetOrders(ctx context.Context, status string) ([]Order, error)
	PlaceOrder(ctx context.Context, ticker string, side Side, priceCents, qty int) (*Order, error)
	GetBalance(ctx context.Context) (int64, error)
	Close() error
}

// Bracket is one temperature interval with its market attachment. LowerF
// is nil for the bottom-edge bracket and UpperF nil for the top edge.
type Bracket struct {
	Label  string   `json:"label"`
	LowerF *float64 `json:"lower_f"`
	UpperF *float64 `json:"upper_f"`
	Ticker string   `json:"ticker,omitempty"`
}

// Contains reports whether an observed high settles inside the bracket,
// treating missing edges as unbounded.
func (b Bracket) Contains(highF float64) bool {
	if b.LowerF != nil && highF < *b.LowerF {
		return false
	}
	if b.UpperF != nil && highF > *b.UpperF {
		return false
	}
	return true
}

// BracketFromMarket derives the bracket interval and display label from a
// market's strikes. Strikes sit just inside the advertised degree bounds
// (a "55-56F" bracket carries floor 54.5ish and cap 55.99), so labels
// floor the strike and nudge the cap up before flooring.
func BracketFromMarket(m Market) (Bracket, error) {
	b := Bracket{Ticker: m.Ticker, LowerF: m.FloorStrike, UpperF: m.CapStrike}
	switch {
	case m.FloorStrike == nil && m.CapStrike == nil:
		return Bracket{}, fmt.Errorf("market %s has no strikes", m.Ticker)
	case m.FloorStrike == nil:
		b.Label = fmt.Sprintf("Below %dF", int(math.Floor(*m.CapStrike+0.01)))
	case m.CapStrike == nil:
		b.Label = fmt.Sprintf("%dF or above", int(math.Floor(*m.FloorStrike)))
	default:
		b.Label = fmt.Sprintf("%d-%dF", int(math.Floor(*m.FloorStrike)), int(math.Floor(*m.CapStrike+0.01)))
	}
	return b, nil
}

// BuildEventTicker names the day's bracket set for a city, e.g.
// KXHIGHNY-26FEB18.
func BuildEventTicker(city string, date time.Time) (string, error) {
	station, err := stations.Get(city)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%02d%s%02d",
		station.Series,
		date.Year()%100,
		strings.ToUpper(date.Month().String()[:3]),
		date.Day(),
	), nil
}
