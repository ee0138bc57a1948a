package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scalper/internal/models"
)

// RouteRepository - журнал исполнений роутера (route_reports + route_fills)
type RouteRepository struct {
	db *sql.DB
}

// NewRouteRepository создает новый экземпляр репозитория
func NewRouteRepository(db *sql.DB) *RouteRepository {
	return &RouteRepository{db: db}
}

// Save сохраняет отчёт вместе с исполнениями в одной транзакции.
// После успешной записи report.ID заполнен.
func (r *RouteRepository) Save(ctx context.Context, report *models.RouteReport) error {
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op после Commit

	query := `
		INSERT INTO route_reports (symbol, side, requested_qty, limit_price, accepted, avg_fill_price,
			filled_qty, slippage_bp, latency_ms, reason, final_state, attempts, used_market, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	var id int64
	err = tx.QueryRowContext(ctx, query,
		report.Symbol,
		string(report.Side),
		report.RequestedQty,
		report.LimitPrice,
		report.Accepted,
		report.AvgFillPrice,
		report.FilledQty,
		report.SlippageBp,
		report.LatencyMs,
		report.Reason,
		string(report.FinalState),
		report.Attempts,
		report.UsedMarket,
		report.CreatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert route report: %w", err)
	}

	for _, f := range report.Fills {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO route_fills (report_id, order_id, price, quantity, filled_at)
			VALUES ($1, $2, $3, $4, $5)`,
			id, f.OrderID, f.Price, f.Quantity, f.Time,
		)
		if err != nil {
			return fmt.Errorf("insert route fill: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	report.ID = id
	return nil
}

// Recent возвращает последние отчёты по символу (без исполнений), новые первыми
func (r *RouteRepository) Recent(ctx context.Context, symbol string, limit int) ([]*models.RouteReport, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, symbol, side, requested_qty, limit_price, accepted, avg_fill_price,
			filled_qty, slippage_bp, latency_ms, reason, final_state, attempts, used_market, created_at
		FROM route_reports
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*models.RouteReport
	for rows.Next() {
		rep := &models.RouteReport{}
		var side, state string
		err := rows.Scan(
			&rep.ID,
			&rep.Symbol,
			&side,
			&rep.RequestedQty,
			&rep.LimitPrice,
			&rep.Accepted,
			&rep.AvgFillPrice,
			&rep.FilledQty,
			&rep.SlippageBp,
			&rep.LatencyMs,
			&rep.Reason,
			&state,
			&rep.Attempts,
			&rep.UsedMarket,
			&rep.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		rep.Side = models.Side(side)
		rep.FinalState = models.RouteState(state)
		reports = append(reports, rep)
	}

	return reports, rows.Err()
}
