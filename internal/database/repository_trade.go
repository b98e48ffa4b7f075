package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const tradeColumns = `id, operator_id, kalshi_order_id, city, trade_date, market_ticker,
	bracket_label, side, price_cents, quantity, model_prob, market_prob, entry_ev,
	confidence, status, settlement_temp_f, settlement_source, pnl_cents, fees_cents,
	narrative, created_at, settled_at`

func scanTrade(row pgx.Row) (*Trade, error) {
	t := &Trade{}
	err := row.Scan(
		&t.ID, &t.OperatorID, &t.KalshiOrderID, &t.City, &t.TradeDate, &t.MarketTicker,
		&t.BracketLabel, &t.Side, &t.PriceCents, &t.Quantity, &t.ModelProb, &t.MarketProb,
		&t.EntryEV, &t.Confidence, &t.Status, &t.SettlementTempF, &t.SettlementSource,
		&t.PnLCents, &t.FeesCents, &t.Narrative, &t.CreatedAt, &t.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// InsertTrade writes a new OPEN trade.
func (r *Repository) InsertTrade(ctx context.Context, t *Trade) error {
	return r.insertTrade(ctx, r.db.Pool, t)
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) insertTrade(ctx context.Context, q execQuerier, t *Trade) error {
	if t.Status == "" {
		t.Status = TradeOpen
	}
	return q.QueryRow(ctx, `
		INSERT INTO trade (
			operator_id, kalshi_order_id, city, trade_date, market_ticker,
			bracket_label, side, price_cents, quantity, model_prob, market_prob,
			entry_ev, confidence, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at`,
		t.OperatorID, t.KalshiOrderID, t.City, t.TradeDate, t.MarketTicker,
		t.BracketLabel, t.Side, t.PriceCents, t.Quantity, t.ModelProb, t.MarketProb,
		t.EntryEV, t.Confidence, t.Status,
	).Scan(&t.ID, &t.CreatedAt)
}

// OpenTrades returns every OPEN trade for the operator.
func (r *Repository) OpenTrades(ctx context.Context, operatorID int64) ([]Trade, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade WHERE operator_id = $1 AND status = $2 ORDER BY id`,
		operatorID, TradeOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// RecentTrades returns the operator's newest trades across all statuses.
func (r *Repository) RecentTrades(ctx context.Context, operatorID int64, limit int) ([]Trade, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trade WHERE operator_id = $1 ORDER BY created_at DESC LIMIT $2`,
		operatorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// HasOpenPosition reports whether an OPEN trade or live pending trade
// already covers (operator, city, date, bracket). Checked before emitting
// a signal so a re-scan never doubles a position.
func (r *Repository) HasOpenPosition(ctx context.Context, operatorID int64, city string, date time.Time, bracketLabel string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trade
			WHERE operator_id = $1 AND city = $2 AND trade_date = $3
			  AND bracket_label = $4 AND status = $5
		) OR EXISTS (
			SELECT 1 FROM pending_trade
			WHERE operator_id = $1 AND city = $2 AND trade_date = $3
			  AND bracket_label = $4 AND status IN ($6, $7)
		)`,
		operatorID, city, date, bracketLabel,
		TradeOpen, PendingPending, PendingApproved,
	).Scan(&exists)
	return exists, err
}

// SettleTrade transitions an OPEN trade to WON or LOST with its
// settlement fields. The WHERE guard makes retries no-ops.
func (r *Repository) SettleTrade(ctx context.Context, t *Trade) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trade SET
			status = $2, settlement_temp_f = $3, settlement_source = $4,
			pnl_cents = $5, fees_cents = $6, narrative = $7, settled_at = $8
		WHERE id = $1 AND status = $9`,
		t.ID, t.Status, t.SettlementTempF, t.SettlementSource,
		t.PnLCents, t.FeesCents, t.Narrative, t.SettledAt, TradeOpen)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("trade already settled")
	}
	return nil
}

// DailyPnL sums realized P&L for (operator, trade day).
func (r *Repository) DailyPnL(ctx context.Context, operatorID int64, day time.Time) (int, error) {
	var pnl int
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(pnl_cents), 0) FROM trade
		WHERE operator_id = $1 AND trade_date = $2 AND pnl_cents IS NOT NULL`,
		operatorID, day).Scan(&pnl)
	return pnl, err
}

// --- pending trades ---

const pendingColumns = `id, operator_id, city, trade_date, market_ticker, bracket_label,
	side, price_cents, quantity, model_prob, market_prob, entry_ev, confidence,
	reasoning, status, expires_at, created_at, acted_at`

func scanPending(row pgx.Row) (*PendingTrade, error) {
	p := &PendingTrade{}
	err := row.Scan(
		&p.ID, &p.OperatorID, &p.City, &p.TradeDate, &p.MarketTicker, &p.BracketLabel,
		&p.Side, &p.PriceCents, &p.Quantity, &p.ModelProb, &p.MarketProb, &p.EntryEV,
		&p.Confidence, &p.Reasoning, &p.Status, &p.ExpiresAt, &p.CreatedAt, &p.ActedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// InsertPendingTrade queues a signal for manual approval.
func (r *Repository) InsertPendingTrade(ctx context.Context, p *PendingTrade) error {
	if p.Status == "" {
		p.Status = PendingPending
	}
	return r.db.Pool.QueryRow(ctx, `
		INSERT INTO pending_trade (
			operator_id, city, trade_date, market_ticker, bracket_label,
			side, price_cents, quantity, model_prob, market_prob, entry_ev,
			confidence, reasoning, status, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id, created_at`,
		p.OperatorID, p.City, p.TradeDate, p.MarketTicker, p.BracketLabel,
		p.Side, p.PriceCents, p.Quantity, p.ModelProb, p.MarketProb, p.EntryEV,
		p.Confidence, p.Reasoning, p.Status, p.ExpiresAt,
	).Scan(&p.ID, &p.CreatedAt)
}

// GetPendingTrade fetches one pending trade, nil when absent.
func (r *Repository) GetPendingTrade(ctx context.Context, id int64) (*PendingTrade, error) {
	p, err := scanPending(r.db.Pool.QueryRow(ctx,
		`SELECT `+pendingColumns+` FROM pending_trade WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// ListPendingTrades returns non-terminal pending trades for the operator.
func (r *Repository) ListPendingTrades(ctx context.Context, operatorID int64) ([]PendingTrade, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+pendingColumns+` FROM pending_trade
		 WHERE operator_id = $1 AND status = $2 ORDER BY created_at DESC`,
		operatorID, PendingPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingTrade
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// TransitionPending moves a pending trade from one status to another,
// stamping acted_at. The WHERE guard enforces exactly one terminal
// transition; false means the row was not in fromStatus.
func (r *Repository) TransitionPending(ctx context.Context, id int64, fromStatus, toStatus string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE pending_trade SET status = $3, acted_at = NOW()
		WHERE id = $1 AND status = $2`,
		id, fromStatus, toStatus)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ExecutePending finalizes an approved pending trade and creates its
// Trade row in the same transaction.
func (r *Repository) ExecutePending(ctx context.Context, pendingID int64, t *Trade) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE pending_trade SET status = $2, acted_at = NOW()
		WHERE id = $1 AND status = $3`,
		pendingID, PendingExecuted, PendingApproved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("pending trade not in APPROVED state")
	}

	if err := r.insertTrade(ctx, tx, t); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ExpirePendingTrades transitions every PENDING row past its TTL to
// EXPIRED and returns the affected rows. Terminal rows are untouched.
func (r *Repository) ExpirePendingTrades(ctx context.Context, now time.Time) ([]PendingTrade, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE pending_trade SET status = $1, acted_at = NOW()
		WHERE status = $2 AND expires_at <= $3
		RETURNING `+pendingColumns,
		PendingExpired, PendingPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingTrade
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
