package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGRepoCreatePendingMapsUniqueViolation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	run := Run{
		ID:        "run-1",
		UserID:    "user-1",
		ModelUsed: "claude-sonnet-4-20250514",
		StartedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO archive_runs").
		WithArgs(
			run.ID,
			run.UserID,
			StatusPending,
			"",
			0,
			0,
			run.ModelUsed,
			sqlmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "archive_runs_one_active"})

	err = repo.CreatePending(context.Background(), run)
	if !errors.Is(err, ErrRunActive) {
		t.Fatalf("got %v, want ErrRunActive", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetLatestForUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}
	started := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	completed := started.Add(10 * time.Minute)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "status", "phase", "total_drawings", "analyzed_count",
		"error_message", "model_used", "started_at", "completed_at",
	}).AddRow("run-1", "user-1", StatusComplete, PhaseDone, 42, 42, nil, "claude-sonnet-4-20250514", started, completed)

	mock.ExpectQuery("SELECT (.+) FROM archive_runs").
		WithArgs("user-1").
		WillReturnRows(rows)

	run, err := repo.GetLatestForUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetLatestForUser: %v", err)
	}
	if run.ID != "run-1" || run.Status != StatusComplete || run.AnalyzedCount != 42 {
		t.Errorf("unexpected run %+v", run)
	}
	if run.CompletedAt == nil || !run.CompletedAt.Equal(completed) {
		t.Errorf("completed_at = %v, want %v", run.CompletedAt, completed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoUpdatesRequireExistingRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := &PGRepo{DB: db}

	mock.ExpectExec("UPDATE archive_runs").
		WithArgs("missing", 7).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.SetAnalyzedCount(context.Background(), "missing", 7)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
