// Package stations holds the fixed catalog of cities the agent trades,
// along with the unit conversions shared by the weather normalizers.
package stations

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Station describes one tradeable city: its weather station, its NWS
// forecast office, and the Kalshi series that settles on its daily high.
type Station struct {
	City       string // short city code: NYC, CHI, MIA, AUS
	Name       string
	StationID  string // ICAO identifier of the climate station
	CLIOffice  string // NWS office that issues the CLI product
	CLIStation string // issuedby parameter for the CLI product
	Series     string // Kalshi event series, e.g. KXHIGHNY
	Lat        float64
	Lon        float64
	Timezone   string // IANA name, for display and Open-Meteo requests
	// UTCOffset is the fixed local-standard-time offset in hours. Trading
	// and settlement days follow the settlement authority's calendar,
	// which ignores DST.
	UTCOffset int
}

var catalog = map[string]Station{
	"NYC": {
		City: "NYC", Name: "New York City", StationID: "KNYC",
		CLIOffice: "OKX", CLIStation: "NYC", Series: "KXHIGHNY",
		Lat: 40.7831, Lon: -73.9712, Timezone: "America/New_York", UTCOffset: -5,
	},
	"CHI": {
		City: "CHI", Name: "Chicago", StationID: "KMDW",
		CLIOffice: "LOT", CLIStation: "MDW", Series: "KXHIGHCHI",
		Lat: 41.7868, Lon: -87.7522, Timezone: "America/Chicago", UTCOffset: -6,
	},
	"MIA": {
		City: "MIA", Name: "Miami", StationID: "KMIA",
		CLIOffice: "MFL", CLIStation: "MIA", Series: "KXHIGHMIA",
		Lat: 25.7906, Lon: -80.3164, Timezone: "America/New_York", UTCOffset: -5,
	},
	"AUS": {
		City: "AUS", Name: "Austin", StationID: "KAUS",
		CLIOffice: "EWX", CLIStation: "AUS", Series: "KXHIGHAUS",
		Lat: 30.1945, Lon: -97.6699, Timezone: "America/Chicago", UTCOffset: -6,
	},
}

// Get returns the station for a city code.
func Get(city string) (Station, error) {
	s, ok := catalog[strings.ToUpper(city)]
	if !ok {
		return Station{}, fmt.Errorf("unknown city code %q", city)
	}
	return s, nil
}

// MustGet panics on an unknown city code. Used at startup where an unknown
// code in ACTIVE_CITIES is a configuration error.
func MustGet(city string) Station {
	s, err := Get(city)
	if err != nil {
		panic(err)
	}
	return s
}

// All returns every station in the catalog in a stable order.
func All() []Station {
	return []Station{catalog["NYC"], catalog["CHI"], catalog["MIA"], catalog["AUS"]}
}

// Codes returns the city codes in catalog order.
func Codes() []string {
	return []string{"NYC", "CHI", "MIA", "AUS"}
}

// localStandard is the fixed-offset location used for trading-day math.
func (s Station) localStandard() *time.Location {
	return time.FixedZone(s.City+"-LST", s.UTCOffset*3600)
}

// TradingDay returns the calendar day at the station in local standard time
// (DST-insensitive), truncated to midnight UTC for storage.
func (s Station) TradingDay(now time.Time) time.Time {
	local := now.In(s.localStandard())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// LocalTime returns the moment in the station's local standard time.
func (s Station) LocalTime(now time.Time) time.Time {
	return now.In(s.localStandard())
}

// LocalHour returns the hour of day at the station in local standard time.
func (s Station) LocalHour(now time.Time) int {
	return now.In(s.localStandard()).Hour()
}

// round1 rounds to one decimal place. Conversions round per step, so a
// C→F→C round trip may drift by up to 0.1.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// CToF converts Celsius to Fahrenheit, rounded to one decimal.
func CToF(c float64) float64 {
	return round1(c*9/5 + 32)
}

// FToC converts Fahrenheit to Celsius, rounded to one decimal.
func FToC(f float64) float64 {
	return round1((f - 32) * 5 / 9)
}

// KmhToMph converts km/h to mph, rounded to one decimal.
func KmhToMph(kmh float64) float64 {
	return round1(kmh * 0.621371)
}

// PaToHpa converts pascals to hectopascals.
func PaToHpa(pa float64) float64 {
	return pa / 100
}
