package repository

import (
	"context"
	"database/sql"
	"time"

	"scalper/internal/models"
)

// OutcomeRepository - история исходов сделок для восстановления cooldown
type OutcomeRepository struct {
	db *sql.DB
}

// NewOutcomeRepository создает новый экземпляр репозитория
func NewOutcomeRepository(db *sql.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Insert записывает исход и заполняет ev.ID
func (r *OutcomeRepository) Insert(ctx context.Context, ev *models.OutcomeEvent) error {
	query := `
		INSERT INTO outcome_events (symbol, kind, occurred_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	return r.db.QueryRowContext(ctx, query, ev.Symbol, string(ev.Kind), ev.Time).Scan(&ev.ID)
}

// Since возвращает исходы начиная с since в хронологическом порядке
func (r *OutcomeRepository) Since(ctx context.Context, since time.Time) ([]models.OutcomeEvent, error) {
	query := `
		SELECT id, symbol, kind, occurred_at
		FROM outcome_events
		WHERE occurred_at >= $1
		ORDER BY occurred_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.OutcomeEvent
	for rows.Next() {
		var ev models.OutcomeEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.Symbol, &kind, &ev.Time); err != nil {
			return nil, err
		}
		ev.Kind = models.OutcomeKind(kind)
		events = append(events, ev)
	}

	return events, rows.Err()
}

// DeleteBefore удаляет исходы старше before (ретеншн)
func (r *OutcomeRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM outcome_events WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
