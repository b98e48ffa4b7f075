package database

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// InsertPrediction appends a prediction row; consumers always take the
// newest.
func (r *Repository) InsertPrediction(ctx context.Context, p *Prediction) error {
	brackets, err := json.Marshal(p.Brackets)
	if err != nil {
		return err
	}
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO prediction (
			city, prediction_date, ensemble_mean_f, ensemble_std_f,
			confidence, model_sources, brackets, generated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id`,
		p.City, p.PredictionDate, p.EnsembleMeanF, p.EnsembleStdF,
		p.Confidence, p.ModelSources, brackets, p.GeneratedAt,
	).Scan(&p.ID)
}

// LatestPrediction returns the newest prediction for (city, date), or nil
// when none exists.
func (r *Repository) LatestPrediction(ctx context.Context, city string, date time.Time) (*Prediction, error) {
	p := &Prediction{}
	var brackets []byte
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, city, prediction_date, ensemble_mean_f, ensemble_std_f,
		       confidence, model_sources, brackets, generated_at
		FROM prediction
		WHERE city = $1 AND prediction_date = $2
		ORDER BY generated_at DESC
		LIMIT 1`,
		city, date).Scan(
		&p.ID, &p.City, &p.PredictionDate, &p.EnsembleMeanF, &p.EnsembleStdF,
		&p.Confidence, &p.ModelSources, &brackets, &p.GeneratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(brackets, &p.Brackets); err != nil {
		return nil, err
	}
	return p, nil
}
