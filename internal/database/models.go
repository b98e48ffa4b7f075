package database

import (
	"strings"
	"time"
)

// Trading modes.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

// Trade statuses. A trade leaves OPEN at most once.
const (
	TradeOpen     = "OPEN"
	TradeWon      = "WON"
	TradeLost     = "LOST"
	TradeCanceled = "CANCELED"
)

// Pending-trade statuses. EXECUTED, REJECTED and EXPIRED are terminal.
const (
	PendingPending  = "PENDING"
	PendingApproved = "APPROVED"
	PendingRejected = "REJECTED"
	PendingExpired  = "EXPIRED"
	PendingExecuted = "EXECUTED"
)

// Operator holds the single operator's credentials and risk parameters.
type Operator struct {
	ID                     int64     `json:"id"`
	KalshiAPIKeyID         *string   `json:"kalshi_api_key_id,omitempty"`
	KalshiPrivateKeyEnc    *string   `json:"-"`
	TradingMode            string    `json:"trading_mode"`
	DemoMode               bool      `json:"demo_mode"`
	MaxTradeSizeCents      int       `json:"max_trade_size_cents"`
	DailyLossLimitCents    int       `json:"daily_loss_limit_cents"`
	MaxDailyExposureCents  int       `json:"max_daily_exposure_cents"`
	MinEVThreshold         float64   `json:"min_ev_threshold"`
	CooldownMinutesPerLoss int       `json:"cooldown_minutes_per_loss"`
	ConsecutiveLossLimit   int       `json:"consecutive_loss_limit"`
	KellyEnabled           bool      `json:"kelly_enabled"`
	KellyFraction          float64   `json:"kelly_fraction"`
	MaxBankrollPctPerTrade float64   `json:"max_bankroll_pct_per_trade"`
	MaxContractsPerTrade   int       `json:"max_contracts_per_trade"`
	ActiveCities           string    `json:"active_cities"` // comma-joined city codes
	NotificationsEnabled   bool      `json:"notifications_enabled"`
	PushSubscription       *string   `json:"push_subscription,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// Cities returns the active city codes as a slice.
func (o *Operator) Cities() []string {
	if o.ActiveCities == "" {
		return nil
	}
	parts := strings.Split(o.ActiveCities, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

// WeatherForecast is one normalized forecast row. Rows accumulate; the
// newest per source wins downstream.
type WeatherForecast struct {
	ID            int64     `json:"id"`
	City          string    `json:"city"`
	ForecastDate  time.Time `json:"forecast_date"`
	ForecastHighF float64   `json:"forecast_high_f"`
	ForecastLowF  *float64  `json:"forecast_low_f,omitempty"`
	HumidityPct   *float64  `json:"humidity_pct,omitempty"`
	WindMph       *float64  `json:"wind_mph,omitempty"`
	CloudCoverPct *float64  `json:"cloud_cover_pct,omitempty"`
	Source        string    `json:"source"`
	RawData       []byte    `json:"-"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// BracketProbability is one entry of a prediction's bracket distribution.
// LowerF is nil on the bottom-edge bracket, UpperF on the top edge.
type BracketProbability struct {
	Label       string   `json:"label"`
	LowerF      *float64 `json:"lower_f"`
	UpperF      *float64 `json:"upper_f"`
	Probability float64  `json:"probability"`
	Ticker      string   `json:"ticker,omitempty"`
}

// Prediction is one ensemble output for (city, date).
type Prediction struct {
	ID             int64                `json:"id"`
	City           string               `json:"city"`
	PredictionDate time.Time            `json:"prediction_date"`
	EnsembleMeanF  float64              `json:"ensemble_mean_f"`
	EnsembleStdF   float64              `json:"ensemble_std_f"`
	Confidence     string               `json:"confidence"`
	ModelSources   string               `json:"model_sources"` // comma-joined
	Brackets       []BracketProbability `json:"brackets"`
	GeneratedAt    time.Time            `json:"generated_at"`
}

// Trade is an executed position.
type Trade struct {
	ID               int64      `json:"id"`
	OperatorID       int64      `json:"operator_id"`
	KalshiOrderID    *string    `json:"kalshi_order_id,omitempty"`
	City             string     `json:"city"`
	TradeDate        time.Time  `json:"trade_date"`
	MarketTicker     string     `json:"market_ticker"`
	BracketLabel     string     `json:"bracket_label"`
	Side             string     `json:"side"`
	PriceCents       int        `json:"price_cents"`
	Quantity         int        `json:"quantity"`
	ModelProb        float64    `json:"model_prob"`
	MarketProb       float64    `json:"market_prob"`
	EntryEV          float64    `json:"entry_ev"`
	Confidence       string     `json:"confidence"`
	Status           string     `json:"status"`
	SettlementTempF  *float64   `json:"settlement_temp_f,omitempty"`
	SettlementSource *string    `json:"settlement_source,omitempty"`
	PnLCents         *int       `json:"pnl_cents,omitempty"`
	FeesCents        *int       `json:"fees_cents,omitempty"`
	Narrative        *string    `json:"narrative,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

// CostCents is the entry cost of the position.
func (t *Trade) CostCents() int { return t.PriceCents * t.Quantity }

// PendingTrade is an approval-waiting item in manual mode.
type PendingTrade struct {
	ID           int64      `json:"id"`
	OperatorID   int64      `json:"operator_id"`
	City         string     `json:"city"`
	TradeDate    time.Time  `json:"trade_date"`
	MarketTicker string     `json:"market_ticker"`
	BracketLabel string     `json:"bracket_label"`
	Side         string     `json:"side"`
	PriceCents   int        `json:"price_cents"`
	Quantity     int        `json:"quantity"`
	ModelProb    float64    `json:"model_prob"`
	MarketProb   float64    `json:"market_prob"`
	EntryEV      float64    `json:"entry_ev"`
	Confidence   string     `json:"confidence"`
	Reasoning    string     `json:"reasoning"`
	Status       string     `json:"status"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
}

// Settlement is the observed daily high for (city, date). Unique per key;
// a second write is skipped, never overwritten.
type Settlement struct {
	ID             int64     `json:"id"`
	City           string    `json:"city"`
	SettlementDate time.Time `json:"settlement_date"`
	ObservedHighF  float64   `json:"observed_high_f"`
	ObservedLowF   *float64  `json:"observed_low_f,omitempty"`
	Source         string    `json:"source"`
	RawReport      string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// DailyRiskState carries the per-day counters consulted before every
// submission.
type DailyRiskState struct {
	ID                 int64      `json:"id"`
	OperatorID         int64      `json:"operator_id"`
	TradingDay         time.Time  `json:"trading_day"`
	TotalLossCents     int        `json:"total_loss_cents"`
	TotalExposureCents int        `json:"total_exposure_cents"`
	ConsecutiveLosses  int        `json:"consecutive_losses"`
	TradesCount        int        `json:"trades_count"`
	CooldownUntil      *time.Time `json:"cooldown_until,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
