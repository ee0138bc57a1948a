package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"scalper/internal/models"
)

// ============================================================
// OutcomeRepository Tests
// ============================================================

func TestOutcomeRepositoryInsert(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO outcome_events`).
					WithArgs("BTCUSDT", "stop", now).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
			},
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO outcome_events`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			ev := &models.OutcomeEvent{Symbol: "BTCUSDT", Kind: models.OutcomeStop, Time: now}
			err = NewOutcomeRepository(db).Insert(context.Background(), ev)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if ev.ID != 3 {
					t.Errorf("expected ID=3, got %d", ev.ID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestOutcomeRepositorySince(t *testing.T) {
	now := time.Now()
	since := now.Add(-time.Hour)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "symbol", "kind", "occurred_at"}).
		AddRow(1, "BTCUSDT", "stop", now.Add(-2*time.Minute)).
		AddRow(2, "BTCUSDT", "target", now.Add(-time.Minute))
	mock.ExpectQuery(`SELECT .+ FROM outcome_events WHERE occurred_at >= \$1`).
		WithArgs(since).
		WillReturnRows(rows)

	events, err := NewOutcomeRepository(db).Since(context.Background(), since)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != models.OutcomeStop || events[1].Kind != models.OutcomeTarget {
		t.Errorf("kinds = %s, %s", events[0].Kind, events[1].Kind)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestOutcomeRepositorySince_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM outcome_events`).WillReturnError(errors.New("timeout"))

	if _, err := NewOutcomeRepository(db).Since(context.Background(), time.Now()); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestOutcomeRepositoryDeleteBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectExec(`DELETE FROM outcome_events WHERE occurred_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := NewOutcomeRepository(db).DeleteBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteBefore: %v", err)
	}
	if n != 4 {
		t.Errorf("deleted = %d, want 4", n)
	}
}
