package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maco21496/remindandpay-live/internal/domain"
)

var runColumnNames = []string{
	"id", "user_id", "rule_id", "run_scheduled_at", "run_started_at", "run_finished_at",
	"status", "total_customers", "jobs_enqueued", "jobs_succeeded", "jobs_failed",
	"error_text", "created_at",
}

func TestCreateOrGet_Idempotent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	sched := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)

	// First call: insert lands, select returns the fresh row.
	mock.ExpectExec("ON CONFLICT \\(rule_id, run_scheduled_at\\) DO NOTHING").
		WithArgs(int64(7), int64(3), sched).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("FROM statement_runs").
		WithArgs(int64(3), sched).
		WillReturnRows(sqlmock.NewRows(runColumnNames).
			AddRow(55, 7, 3, sched, nil, nil, "queued", 0, 0, 0, 0, nil, sched))

	// Second call for the same (rule, slot): insert is a no-op, same row back.
	mock.ExpectExec("ON CONFLICT \\(rule_id, run_scheduled_at\\) DO NOTHING").
		WithArgs(int64(7), int64(3), sched).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM statement_runs").
		WithArgs(int64(3), sched).
		WillReturnRows(sqlmock.NewRows(runColumnNames).
			AddRow(55, 7, 3, sched, nil, nil, "queued", 0, 0, 0, 0, nil, sched))

	repo := NewRunRepo(db)
	first, err := repo.CreateOrGet(context.Background(), 7, 3, sched)
	require.NoError(t, err)
	second, err := repo.CreateOrGet(context.Background(), 7, 3, sched)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same slot resolves to the same run")
	assert.Equal(t, domain.RunQueued, first.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcome_CounterArgs(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewRunRepo(db)

	mock.ExpectExec("UPDATE statement_runs").
		WithArgs(int64(55), 1, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RecordOutcome(context.Background(), 55, true))

	mock.ExpectExec("UPDATE statement_runs").
		WithArgs(int64(55), 0, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.RecordOutcome(context.Background(), 55, false))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCounts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("UPDATE statement_runs").
		WithArgs(int64(55), 12, 10).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRunRepo(db)
	require.NoError(t, repo.SetCounts(context.Background(), 55, 12, 10))
}

func TestSetCounts_ReEvaluatesClosure(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Workers can record every outcome before the enqueue loop writes the
	// counts; the counts UPDATE must therefore carry its own done-check so
	// such a run doesn't stay processing forever.
	mock.ExpectExec(`jobs_succeeded \+ jobs_failed >= \$3 THEN 'done'`).
		WithArgs(int64(55), 3, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRunRepo(db)
	require.NoError(t, repo.SetCounts(context.Background(), 55, 3, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}
