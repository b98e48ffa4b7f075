package weather

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bozbot/internal/stations"
)

var testStation = stations.MustGet("NYC")

func TestNormalizeNWSForecast(t *testing.T) {
	raw := []byte(`{
		"properties": {
			"updateTime": "2026-02-18T10:00:00Z",
			"periods": [
				{
					"name": "Today",
					"startTime": "2026-02-18T06:00:00-05:00",
					"isDaytime": true,
					"temperature": 48,
					"temperatureUnit": "F",
					"windSpeed": "10 to 15 mph",
					"relativeHumidity": {"value": 62}
				},
				{
					"name": "Tonight",
					"startTime": "2026-02-18T18:00:00-05:00",
					"isDaytime": false,
					"temperature": 33,
					"temperatureUnit": "F",
					"windSpeed": "5 mph",
					"relativeHumidity": {"value": 78}
				},
				{
					"name": "Thursday",
					"startTime": "2026-02-19T06:00:00-05:00",
					"isDaytime": true,
					"temperature": 10,
					"temperatureUnit": "C",
					"windSpeed": "calm",
					"relativeHumidity": {"value": null}
				}
			]
		}
	}`)

	now := time.Now()
	rows, err := NormalizeNWSForecast(testStation, raw, now)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "NYC", first.City)
	assert.Equal(t, SourceNWS, first.Source)
	assert.Equal(t, time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, 48.0, first.ForecastHighF)
	low, ok := first.Var(VarLowF)
	require.True(t, ok)
	assert.Equal(t, 33.0, low)
	wind, ok := first.Var(VarWindMph)
	require.True(t, ok)
	assert.Equal(t, 15.0, wind, "wind range keeps the upper bound")
	hum, ok := first.Var(VarHumidity)
	require.True(t, ok)
	assert.Equal(t, 62.0, hum)

	// Celsius periods are converted, unparseable wind is dropped.
	second := rows[1]
	assert.Equal(t, 50.0, second.ForecastHighF)
	_, ok = second.Var(VarWindMph)
	assert.False(t, ok)
	_, ok = second.Var(VarHumidity)
	assert.False(t, ok)
}

func TestNormalizeNWSForecastNoPeriods(t *testing.T) {
	_, err := NormalizeNWSForecast(testStation, []byte(`{"properties":{"periods":[]}}`), time.Now())
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestNormalizeNWSGridUnits(t *testing.T) {
	raw := []byte(`{
		"properties": {
			"updateTime": "2026-02-18T09:30:00Z",
			"maxTemperature": {
				"uom": "wmoUnit:degC",
				"values": [
					{"validTime": "2026-02-18T06:00:00+00:00/PT12H", "value": 10},
					{"validTime": "2026-02-18T18:00:00+00:00/PT6H", "value": 7},
					{"validTime": "2026-02-19T06:00:00+00:00/PT12H", "value": 0}
				]
			},
			"minTemperature": {
				"uom": "wmoUnit:degC",
				"values": [{"validTime": "2026-02-18T06:00:00+00:00/PT12H", "value": -5}]
			},
			"dewpoint": {
				"uom": "wmoUnit:degC",
				"values": [{"validTime": "2026-02-18T06:00:00+00:00/PT1H", "value": 5}]
			},
			"windSpeed": {
				"uom": "wmoUnit:km_h-1",
				"values": [{"validTime": "2026-02-18T06:00:00+00:00/PT1H", "value": 20}]
			},
			"skyCover": {
				"uom": "wmoUnit:percent",
				"values": [{"validTime": "2026-02-18T06:00:00+00:00/PT1H", "value": 45}]
			},
			"pressure": {
				"uom": "wmoUnit:Pa",
				"values": [{"validTime": "2026-02-18T06:00:00+00:00/PT1H", "value": 101300}]
			}
		}
	}`)

	rows, err := NormalizeNWSGrid(testStation, raw, time.Now())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	day := rows[0]
	assert.Equal(t, SourceNWSGrid, day.Source)
	assert.Equal(t, 50.0, day.ForecastHighF, "first value per day, converted to F")

	low, _ := day.Var(VarLowF)
	assert.Equal(t, 23.0, low)
	dew, _ := day.Var(VarDewpointF)
	assert.Equal(t, 41.0, dew)
	wind, _ := day.Var(VarWindMph)
	assert.InDelta(t, 12.4, wind, 0.05)
	sky, _ := day.Var(VarCloudCover)
	assert.Equal(t, 45.0, sky)
	press, _ := day.Var(VarPressure)
	assert.Equal(t, 1013.0, press)

	assert.Equal(t, 32.0, rows[1].ForecastHighF)
	assert.True(t, rows[0].Date.Before(rows[1].Date))
}

const omNested = `{
	"gfs_seamless": {
		"daily": {
			"time": ["2026-02-18", "2026-02-19"],
			"temperature_2m_max": [49.1, 44.3],
			"temperature_2m_min": [34.2, 30.0],
			"windspeed_10m_max": [12.5, 18.0]
		}
	},
	"ecmwf_ifs025": {
		"daily": {
			"time": ["2026-02-18"],
			"temperature_2m_max": [50.4],
			"temperature_2m_min": [35.1],
			"windspeed_10m_max": [11.0]
		}
	}
}`

const omSuffixed = `{
	"daily": {
		"time": ["2026-02-18", "2026-02-19"],
		"temperature_2m_max_gfs_seamless": [49.1, 44.3],
		"temperature_2m_min_gfs_seamless": [34.2, 30.0],
		"windspeed_10m_max_gfs_seamless": [12.5, 18.0],
		"temperature_2m_max_ecmwf_ifs025": [50.4, null],
		"temperature_2m_min_ecmwf_ifs025": [35.1, null],
		"windspeed_10m_max_ecmwf_ifs025": [11.0, null]
	}
}`

func TestNormalizeOpenMeteoNestedAndSuffixedAgree(t *testing.T) {
	now := time.Now()

	fromNested, err := NormalizeOpenMeteo(testStation, []byte(omNested), now)
	require.NoError(t, err)
	fromSuffixed, err := NormalizeOpenMeteo(testStation, []byte(omSuffixed), now)
	require.NoError(t, err)

	index := func(rows []WeatherData) map[string]WeatherData {
		out := make(map[string]WeatherData)
		for _, r := range rows {
			out[r.Source+"|"+r.Date.Format("2006-01-02")] = r
		}
		return out
	}
	nested, suffixed := index(fromNested), index(fromSuffixed)
	require.Len(t, nested, 3)
	require.Len(t, suffixed, 3)

	for key, n := range nested {
		s, ok := suffixed[key]
		require.True(t, ok, key)
		assert.Equal(t, n.ForecastHighF, s.ForecastHighF, key)
		assert.Equal(t, n.Variables, s.Variables, key)
	}

	gfs := nested["Open-Meteo:GFS|2026-02-18"]
	assert.Equal(t, 49.1, gfs.ForecastHighF)
	low, _ := gfs.Var(VarLowF)
	assert.Equal(t, 34.2, low)
}

func TestNormalizeOpenMeteoNoModels(t *testing.T) {
	_, err := NormalizeOpenMeteo(testStation, []byte(`{"latitude": 40.78}`), time.Now())
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestLatestPerSource(t *testing.T) {
	base := time.Now()
	rows := []WeatherData{
		{Source: SourceNWS, ForecastHighF: 48, FetchedAt: base},
		{Source: SourceNWS, ForecastHighF: 51, FetchedAt: base.Add(time.Hour)},
		{Source: SourceOMGFS, ForecastHighF: 49, FetchedAt: base},
	}
	latest := LatestPerSource(rows)
	require.Len(t, latest, 2)
	assert.Equal(t, 51.0, latest[SourceNWS].ForecastHighF)
	assert.Equal(t, 49.0, latest[SourceOMGFS].ForecastHighF)
}
