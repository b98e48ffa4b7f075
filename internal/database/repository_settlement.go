package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertSettlementIfAbsent writes the settlement unless (city, date)
// already exists. Returns true when a row was inserted; an existing row
// is never overwritten.
func (r *Repository) InsertSettlementIfAbsent(ctx context.Context, s *Settlement) (bool, error) {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO settlement (
			city, settlement_date, observed_high_f, observed_low_f, source, raw_report
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (city, settlement_date) DO NOTHING
		RETURNING id, created_at`,
		s.City, s.SettlementDate, s.ObservedHighF, s.ObservedLowF, s.Source, s.RawReport,
	).Scan(&s.ID, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil // conflict: row already present
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetSettlement returns the settlement for (city, date), nil when absent.
func (r *Repository) GetSettlement(ctx context.Context, city string, date time.Time) (*Settlement, error) {
	s := &Settlement{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, city, settlement_date, observed_high_f, observed_low_f, source, raw_report, created_at
		FROM settlement
		WHERE city = $1 AND settlement_date = $2`,
		city, date).Scan(
		&s.ID, &s.City, &s.SettlementDate, &s.ObservedHighF, &s.ObservedLowF,
		&s.Source, &s.RawReport, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SettlementHistory returns settlements for a city in a date range,
// oldest first, for the training pivot.
func (r *Repository) SettlementHistory(ctx context.Context, city string, from, to time.Time) ([]Settlement, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, city, settlement_date, observed_high_f, observed_low_f, source, raw_report, created_at
		FROM settlement
		WHERE city = $1 AND settlement_date BETWEEN $2 AND $3
		ORDER BY settlement_date`,
		city, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Settlement
	for rows.Next() {
		var s Settlement
		if err := rows.Scan(
			&s.ID, &s.City, &s.SettlementDate, &s.ObservedHighF, &s.ObservedLowF,
			&s.Source, &s.RawReport, &s.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
