package weather

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bozbot/internal/stations"
)

// --- NWS period forecast ---

type nwsForecastResponse struct {
	Properties struct {
		Updated time.Time `json:"updateTime"`
		Periods []struct {
			Name             string    `json:"name"`
			StartTime        time.Time `json:"startTime"`
			IsDaytime        bool      `json:"isDaytime"`
			Temperature      float64   `json:"temperature"`
			TemperatureUnit  string    `json:"temperatureUnit"`
			WindSpeed        string    `json:"windSpeed"`
			RelativeHumidity struct {
				Value *float64 `json:"value"`
			} `json:"relativeHumidity"`
		} `json:"periods"`
	} `json:"properties"`
}

var windRe = regexp.MustCompile(`(\d+)\s*mph`)

// parseWindMph extracts the upper bound from strings like "10 to 15 mph".
func parseWindMph(s string) (float64, bool) {
	matches := windRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1]
	v, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizeNWSForecast converts an NWS period-forecast body into one
// WeatherData per target date. Daytime periods carry the high; the
// following night period carries the low.
func NormalizeNWSForecast(station stations.Station, raw []byte, fetchedAt time.Time) ([]WeatherData, error) {
	var resp nwsForecastResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, parseErrorf(SourceNWS, "decode forecast: %v", err)
	}
	if len(resp.Properties.Periods) == 0 {
		return nil, parseErrorf(SourceNWS, "no forecast periods")
	}

	byDate := make(map[time.Time]*WeatherData)
	var order []time.Time

	for _, p := range resp.Properties.Periods {
		date := time.Date(p.StartTime.Year(), p.StartTime.Month(), p.StartTime.Day(), 0, 0, 0, 0, time.UTC)
		temp := p.Temperature
		if strings.EqualFold(p.TemperatureUnit, "C") {
			temp = stations.CToF(temp)
		}

		if p.IsDaytime {
			wd, ok := byDate[date]
			if !ok {
				wd = &WeatherData{
					City:      station.City,
					Date:      date,
					Source:    SourceNWS,
					ModelRun:  resp.Properties.Updated,
					Variables: make(map[string]float64),
					RawData:   raw,
					FetchedAt: fetchedAt,
				}
				byDate[date] = wd
				order = append(order, date)
			}
			wd.ForecastHighF = temp
			if p.RelativeHumidity.Value != nil {
				wd.Variables[VarHumidity] = *p.RelativeHumidity.Value
			}
			if mph, ok := parseWindMph(p.WindSpeed); ok {
				wd.Variables[VarWindMph] = mph
			}
		} else if wd, ok := byDate[date]; ok {
			wd.Variables[VarLowF] = temp
		}
	}

	out := make([]WeatherData, 0, len(order))
	for _, d := range order {
		out = append(out, *byDate[d])
	}
	if len(out) == 0 {
		return nil, parseErrorf(SourceNWS, "no daytime periods")
	}
	return out, nil
}

// --- NWS gridpoint raw ---

type gridValue struct {
	ValidTime string  `json:"validTime"`
	Value     float64 `json:"value"`
}

type gridSeries struct {
	UOM    string      `json:"uom"`
	Values []gridValue `json:"values"`
}

type nwsGridResponse struct {
	Properties struct {
		UpdateTime     time.Time  `json:"updateTime"`
		MaxTemperature gridSeries `json:"maxTemperature"`
		MinTemperature gridSeries `json:"minTemperature"`
		Dewpoint       gridSeries `json:"dewpoint"`
		WindSpeed      gridSeries `json:"windSpeed"`
		SkyCover       gridSeries `json:"skyCover"`
		Pressure       gridSeries `json:"pressure"`
	} `json:"properties"`
}

// gridValidDate extracts the date from an ISO-8601 interval like
// "2026-02-18T06:00:00+00:00/PT12H".
func gridValidDate(validTime string) (time.Time, bool) {
	idx := strings.Index(validTime, "/")
	if idx > 0 {
		validTime = validTime[:idx]
	}
	ts, err := time.Parse(time.RFC3339, validTime)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), true
}

func dailyFirst(series gridSeries) map[time.Time]float64 {
	out := make(map[time.Time]float64)
	for _, v := range series.Values {
		date, ok := gridValidDate(v.ValidTime)
		if !ok {
			continue
		}
		if _, seen := out[date]; !seen {
			out[date] = v.Value
		}
	}
	return out
}

// NormalizeNWSGrid converts a raw gridpoint body into per-day WeatherData.
// Gridpoint temperatures and dew points are Celsius, wind is km/h and
// pressure is pascals; everything is converted on the way in.
func NormalizeNWSGrid(station stations.Station, raw []byte, fetchedAt time.Time) ([]WeatherData, error) {
	var resp nwsGridResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, parseErrorf(SourceNWSGrid, "decode gridpoint: %v", err)
	}

	maxByDate := dailyFirst(resp.Properties.MaxTemperature)
	if len(maxByDate) == 0 {
		return nil, parseErrorf(SourceNWSGrid, "no maxTemperature values")
	}
	minByDate := dailyFirst(resp.Properties.MinTemperature)
	dewByDate := dailyFirst(resp.Properties.Dewpoint)
	windByDate := dailyFirst(resp.Properties.WindSpeed)
	skyByDate := dailyFirst(resp.Properties.SkyCover)
	pressByDate := dailyFirst(resp.Properties.Pressure)

	var dates []time.Time
	for d := range maxByDate {
		dates = append(dates, d)
	}
	sortTimes(dates)

	out := make([]WeatherData, 0, len(dates))
	for _, d := range dates {
		wd := WeatherData{
			City:          station.City,
			Date:          d,
			ForecastHighF: stations.CToF(maxByDate[d]),
			Source:        SourceNWSGrid,
			ModelRun:      resp.Properties.UpdateTime,
			Variables:     make(map[string]float64),
			RawData:       raw,
			FetchedAt:     fetchedAt,
		}
		if v, ok := minByDate[d]; ok {
			wd.Variables[VarLowF] = stations.CToF(v)
		}
		if v, ok := dewByDate[d]; ok {
			wd.Variables[VarDewpointF] = stations.CToF(v)
		}
		if v, ok := windByDate[d]; ok {
			wd.Variables[VarWindMph] = stations.KmhToMph(v)
		}
		if v, ok := skyByDate[d]; ok {
			wd.Variables[VarCloudCover] = v
		}
		if v, ok := pressByDate[d]; ok {
			wd.Variables[VarPressure] = stations.PaToHpa(v)
		}
		out = append(out, wd)
	}
	return out, nil
}

func sortTimes(ts []time.Time) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].Before(ts[j-1]); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

// --- Open-Meteo multi-model ---

// openMeteoModels maps Open-Meteo model identifiers to source labels.
var openMeteoModels = map[string]string{
	"gfs_seamless":  SourceOMGFS,
	"ecmwf_ifs025":  SourceOMECMWF,
	"icon_seamless": SourceOMICON,
}

type omDaily struct {
	Time []string `json:"time"`
	// Remaining daily columns vary by model and suffix; captured raw.
	Columns map[string][]*float64 `json:"-"`
}

func (d *omDaily) UnmarshalJSON(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	d.Columns = make(map[string][]*float64)
	for k, v := range fields {
		if k == "time" {
			if err := json.Unmarshal(v, &d.Time); err != nil {
				return err
			}
			continue
		}
		var col []*float64
		if err := json.Unmarshal(v, &col); err != nil {
			continue // non-numeric column, e.g. units echo
		}
		d.Columns[k] = col
	}
	return nil
}

// NormalizeOpenMeteo converts an Open-Meteo multi-model response into one
// WeatherData per (model, date). Per-model daily blocks may be nested
// under the model name or suffix-keyed inside a shared daily block; the
// nested form is tried first.
func NormalizeOpenMeteo(station stations.Station, raw []byte, fetchedAt time.Time) ([]WeatherData, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, parseErrorf("Open-Meteo", "decode response: %v", err)
	}

	var out []WeatherData
	for model, source := range openMeteoModels {
		var daily *omDaily

		// Nested form: {"gfs_seamless": {"daily": {...}}}
		if blob, ok := top[model]; ok {
			var nested struct {
				Daily omDaily `json:"daily"`
			}
			if err := json.Unmarshal(blob, &nested); err == nil && len(nested.Daily.Time) > 0 {
				daily = &nested.Daily
			}
		}

		// Suffix form: shared daily block with columns like
		// "temperature_2m_max_gfs_seamless".
		if daily == nil {
			if blob, ok := top["daily"]; ok {
				var shared omDaily
				if err := json.Unmarshal(blob, &shared); err == nil {
					daily = stripModelSuffix(&shared, model)
				}
			}
		}

		if daily == nil || len(daily.Time) == 0 {
			continue
		}

		rows := extractOpenMeteoDaily(station, source, daily, raw, fetchedAt)
		out = append(out, rows...)
	}

	if len(out) == 0 {
		return nil, parseErrorf("Open-Meteo", "no model data in response")
	}
	return out, nil
}

// stripModelSuffix remaps suffix-keyed columns ("temperature_2m_max_gfs_seamless")
// back to their standard variable names for one model.
func stripModelSuffix(shared *omDaily, model string) *omDaily {
	suffix := "_" + model
	remapped := &omDaily{Time: shared.Time, Columns: make(map[string][]*float64)}
	for k, col := range shared.Columns {
		if strings.HasSuffix(k, suffix) {
			remapped.Columns[strings.TrimSuffix(k, suffix)] = col
		}
	}
	if len(remapped.Columns) == 0 {
		return nil
	}
	return remapped
}

func extractOpenMeteoDaily(station stations.Station, source string, daily *omDaily, raw []byte, fetchedAt time.Time) []WeatherData {
	highs := daily.Columns["temperature_2m_max"]
	lows := daily.Columns["temperature_2m_min"]
	winds := daily.Columns["windspeed_10m_max"]

	var out []WeatherData
	for i, ds := range daily.Time {
		if i >= len(highs) || highs[i] == nil {
			continue
		}
		date, err := time.Parse("2006-01-02", ds)
		if err != nil {
			continue
		}
		wd := WeatherData{
			City:          station.City,
			Date:          date,
			ForecastHighF: *highs[i],
			Source:        source,
			Variables:     make(map[string]float64),
			RawData:       raw,
			FetchedAt:     fetchedAt,
		}
		if i < len(lows) && lows[i] != nil {
			wd.Variables[VarLowF] = *lows[i]
		}
		if i < len(winds) && winds[i] != nil {
			wd.Variables[VarWindMph] = *winds[i]
		}
		out = append(out, wd)
	}
	return out
}

// LatestPerSource keeps only the newest row (by FetchedAt) for each
// source, preserving no particular order.
func LatestPerSource(rows []WeatherData) map[string]WeatherData {
	latest := make(map[string]WeatherData)
	for _, r := range rows {
		cur, ok := latest[r.Source]
		if !ok || r.FetchedAt.After(cur.FetchedAt) {
			latest[r.Source] = r
		}
	}
	return latest
}
