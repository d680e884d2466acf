package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/applypilot/internal/attempt"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const sqlInsertOutcome = `
        INSERT INTO "application_outcomes" (attempt_id, job_reference, applied, reason, state, iterations, duration_ms, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (attempt_id) DO NOTHING;`

func newStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, "", zap.NewNop())
	require.NoError(t, err)
	return s, mockPool
}

func TestNewStore(t *testing.T) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()

	pingErr := errors.New("database unavailable")
	mockPool.ExpectPing().WillReturnError(pingErr)

	_, err = New(context.Background(), mockPool, "outcomes", zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestEmit(t *testing.T) {
	ctx := context.Background()
	finished := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	o := attempt.Outcome{
		JobReference: "https://jobs.example.com/42",
		Applied:      true,
		Reason:       "Confirmed",
		AttemptID:    "a-1",
		State:        "Succeeded",
		Iterations:   4,
		Duration:     1500 * time.Millisecond,
		FinishedAt:   finished,
	}

	t.Run("inserts the outcome", func(t *testing.T) {
		s, mockPool := newStore(t)
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WithArgs("a-1", o.JobReference, true, "Confirmed", "Succeeded", 4, int64(1500), finished).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.Emit(ctx, o))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		s, mockPool := newStore(t)
		dbErr := errors.New("connection reset")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WithArgs("a-1", o.JobReference, true, "Confirmed", "Succeeded", 4, int64(1500), finished).
			WillReturnError(dbErr)

		err := s.Emit(ctx, o)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), o.JobReference)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	s, mockPool := newStore(t)
	mockPool.ExpectExec(`CREATE TABLE IF NOT EXISTS "application_outcomes"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestAppliedJobs(t *testing.T) {
	s, mockPool := newStore(t)
	rows := pgxmock.NewRows([]string{"job_reference"}).
		AddRow("job-1").
		AddRow("job-7")
	mockPool.ExpectQuery(`SELECT DISTINCT job_reference\s+FROM "application_outcomes"\s+WHERE applied`).
		WillReturnRows(rows)

	jobs, err := s.AppliedJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-7"}, jobs)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
