// Package weather fetches numerical forecasts from the NWS and Open-Meteo
// and normalizes every source-specific shape into a common WeatherData
// value. It also parses the NWS daily climate (CLI) text product used for
// settlement.
package weather

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source labels. These are the only values that appear in
// weather_forecast.source.
const (
	SourceNWS     = "NWS"
	SourceNWSGrid = "NWS:gridpoint"
	SourceOMGFS   = "Open-Meteo:GFS"
	SourceOMECMWF = "Open-Meteo:ECMWF"
	SourceOMICON  = "Open-Meteo:ICON"
	SourceCLI     = "NWS_CLI"
)

// ModelSources lists the per-model sources used as regressor features, in
// feature-vector order.
var ModelSources = []string{SourceNWS, SourceOMECMWF, SourceOMGFS, SourceOMICON}

// Supplementary variable keys in WeatherData.Variables.
const (
	VarLowF       = "forecast_low_f"
	VarHumidity   = "humidity_pct"
	VarWindMph    = "wind_mph"
	VarCloudCover = "cloud_cover_pct"
	VarDewpointF  = "dewpoint_f"
	VarPressure   = "pressure_hpa"
)

// WeatherData is the normalized form of one forecast for one city and one
// target date from one source.
type WeatherData struct {
	City          string
	Date          time.Time // target date, UTC midnight
	ForecastHighF float64
	Source        string
	ModelRun      time.Time
	Variables     map[string]float64 // missing supplementary values are absent
	RawData       json.RawMessage
	FetchedAt     time.Time
}

// Var returns a supplementary variable and whether it was present.
func (w WeatherData) Var(key string) (float64, bool) {
	v, ok := w.Variables[key]
	return v, ok
}

// ParseError reports a structural problem in an upstream response or text
// product.
type ParseError struct {
	Source string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Source, e.Reason)
}

func parseErrorf(source, format string, args ...any) *ParseError {
	return &ParseError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
