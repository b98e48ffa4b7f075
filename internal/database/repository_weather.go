package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertForecast appends a forecast row. Duplicates are tolerated;
// downstream dedup takes the newest per source.
func (r *Repository) InsertForecast(ctx context.Context, f *WeatherForecast) error {
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO weather_forecast (
			city, forecast_date, forecast_high_f, forecast_low_f,
			humidity_pct, wind_mph, cloud_cover_pct, source, raw_data, fetched_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		f.City, f.ForecastDate, f.ForecastHighF, f.ForecastLowF,
		f.HumidityPct, f.WindMph, f.CloudCoverPct, f.Source, f.RawData, f.FetchedAt,
	).Scan(&f.ID)
}

// LatestForecasts returns the newest row per source for (city, date).
func (r *Repository) LatestForecasts(ctx context.Context, city string, date time.Time) ([]WeatherForecast, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT ON (source)
			id, city, forecast_date, forecast_high_f, forecast_low_f,
			humidity_pct, wind_mph, cloud_cover_pct, source, fetched_at
		FROM weather_forecast
		WHERE city = $1 AND forecast_date = $2
		ORDER BY source, fetched_at DESC`,
		city, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WeatherForecast
	for rows.Next() {
		var f WeatherForecast
		if err := rows.Scan(
			&f.ID, &f.City, &f.ForecastDate, &f.ForecastHighF, &f.ForecastLowF,
			&f.HumidityPct, &f.WindMph, &f.CloudCoverPct, &f.Source, &f.FetchedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// NewestForecastAge returns the fetched-at of the freshest forecast row
// for (city, date), used by the staleness validation gate.
func (r *Repository) NewestForecastAge(ctx context.Context, city string, date time.Time) (time.Time, error) {
	var newest *time.Time
	err := r.db.Pool.QueryRow(ctx, `
		SELECT MAX(fetched_at) FROM weather_forecast
		WHERE city = $1 AND forecast_date = $2`,
		city, date).Scan(&newest)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil || newest == nil {
		return time.Time{}, err
	}
	return *newest, nil
}

// ForecastHistory returns the latest-per-(date, source) forecasts for a
// city across a date range. Training pivots these against settlements.
func (r *Repository) ForecastHistory(ctx context.Context, city string, from, to time.Time) ([]WeatherForecast, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT ON (forecast_date, source)
			id, city, forecast_date, forecast_high_f, forecast_low_f,
			humidity_pct, wind_mph, cloud_cover_pct, source, fetched_at
		FROM weather_forecast
		WHERE city = $1 AND forecast_date BETWEEN $2 AND $3
		ORDER BY forecast_date, source, fetched_at DESC`,
		city, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WeatherForecast
	for rows.Next() {
		var f WeatherForecast
		if err := rows.Scan(
			&f.ID, &f.City, &f.ForecastDate, &f.ForecastHighF, &f.ForecastLowF,
			&f.HumidityPct, &f.WindMph, &f.CloudCoverPct, &f.Source, &f.FetchedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
