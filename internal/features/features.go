// Package features builds the fixed-order regressor input vector from the
// latest normalized forecasts for one city and date.
package features

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"bozbot/internal/stations"
	"bozbot/internal/weather"
)

// Dim is the feature-vector length. Regressors validate it on predict.
const Dim = 21

// Names lists the components in vector order, persisted alongside trained
// model artifacts.
var Names = []string{
	"nws_high_f", "ecmwf_high_f", "gfs_high_f", "icon_high_f",
	"nws_low_f", "ecmwf_low_f", "gfs_low_f", "icon_low_f",
	"nws_humidity_pct", "nws_wind_mph", "nws_cloud_cover_pct",
	"source_spread_f", "source_count",
	"month", "day_of_year", "month_sin", "month_cos",
	"city_nyc", "city_chi", "city_mia", "city_aus",
}

// Extract builds the vector from the latest row per source. Missing
// per-source values are NaN; tree models consume them directly and the
// others impute.
func Extract(city string, date time.Time, latest map[string]weather.WeatherData) []float64 {
	v := make([]float64, Dim)
	for i := range v {
		v[i] = math.NaN()
	}

	var highs []float64
	for i, source := range weather.ModelSources {
		row, ok := latest[source]
		if !ok {
			continue
		}
		v[i] = row.ForecastHighF
		highs = append(highs, row.ForecastHighF)
		if low, ok := row.Var(weather.VarLowF); ok {
			v[4+i] = low
		}
	}

	// NWS supplementary variables; the gridpoint row backfills what the
	// period forecast does not carry (cloud cover in particular).
	if hum, ok := nwsVar(latest, weather.VarHumidity); ok {
		v[8] = hum
	}
	if wind, ok := nwsVar(latest, weather.VarWindMph); ok {
		v[9] = wind
	}
	if sky, ok := nwsVar(latest, weather.VarCloudCover); ok {
		v[10] = sky
	}

	if len(highs) >= 2 {
		v[11] = stat.StdDev(highs, nil)
	} else if len(highs) == 1 {
		v[11] = 0
	}
	v[12] = float64(len(highs))

	month := float64(date.Month())
	v[13] = month
	v[14] = float64(date.YearDay())
	v[15] = math.Sin(2 * math.Pi * month / 12)
	v[16] = math.Cos(2 * math.Pi * month / 12)

	for i, code := range stations.Codes() {
		if city == code {
			v[17+i] = 1
		} else {
			v[17+i] = 0
		}
	}

	return v
}

func nwsVar(latest map[string]weather.WeatherData, key string) (float64, bool) {
	if row, ok := latest[weather.SourceNWS]; ok {
		if val, ok := row.Var(key); ok {
			return val, true
		}
	}
	if row, ok := latest[weather.SourceNWSGrid]; ok {
		if val, ok := row.Var(key); ok {
			return val, true
		}
	}
	return 0, false
}
