package farms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"carboniq/farm-portal/farm-portal-backend/internal/verification"
	"carboniq/farm-portal/farm-portal-backend/pkg/workflows"
)

func newSQLRepository(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return NewRepository(db), sqlMock
}

func TestRepositoryApplyResult_OnlyUpdatesPendingFarms(t *testing.T) {
	repo, sqlMock := newSQLRepository(t)
	credits, confidence := 1.2, 0.9
	result := &verification.Result{
		Status:          verification.StatusVerified,
		CarbonCredits:   &credits,
		ConfidenceScore: &confidence,
		EvaluatedAt:     time.Now(),
	}

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(`UPDATE "farms" SET .+ WHERE \(?id = \$\d+ AND verification_status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	sqlMock.ExpectCommit()

	applied, err := repo.ApplyResult(context.Background(), uuid.New(), result)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRepositoryApplyResult_RollsBackOnError(t *testing.T) {
	repo, sqlMock := newSQLRepository(t)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(`UPDATE "farms" SET`).WillReturnError(errors.New("deadlock detected"))
	sqlMock.ExpectRollback()

	applied, err := repo.ApplyResult(context.Background(), uuid.New(), &verification.Result{
		Status:           verification.StatusRejected,
		RejectionReasons: []string{verification.ReasonImageryAnomaly},
		EvaluatedAt:      time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.False(t, applied)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRepositoryClaimDueJobs_LocksAndLeases(t *testing.T) {
	repo, sqlMock := newSQLRepository(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := time.Minute
	first, second := uuid.New(), uuid.New()

	rows := sqlmock.NewRows([]string{"id", "farm_id", "status", "attempts", "last_error", "next_attempt_at", "created_at", "updated_at"}).
		AddRow(first.String(), uuid.NewString(), "pending", 0, "", now.Add(-time.Minute), now, now).
		AddRow(second.String(), uuid.NewString(), "pending", 2, "timeout", now, now, now)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`SELECT \* FROM "verification_jobs" WHERE status = \$1 AND next_attempt_at <= \$2 ORDER BY next_attempt_at ASC LIMIT (\$3|10) FOR UPDATE SKIP LOCKED`).
		WillReturnRows(rows)
	sqlMock.ExpectExec(`UPDATE "verification_jobs" SET "next_attempt_at"=\$1,"updated_at"=\$2 WHERE id IN \(\$3,\$4\)`).
		WithArgs(now.Add(lease), now, first, second).
		WillReturnResult(sqlmock.NewResult(0, 2))
	sqlMock.ExpectCommit()

	jobs, err := repo.ClaimDueJobs(context.Background(), now, lease, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first, jobs[0].ID)
	assert.Equal(t, 2, jobs[1].Attempts)
	assert.Equal(t, now.Add(lease), jobs[0].NextAttemptAt)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRepositoryClaimDueJobs_NothingDue(t *testing.T) {
	repo, sqlMock := newSQLRepository(t)

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "farm_id", "status"}))
	sqlMock.ExpectCommit()

	jobs, err := repo.ClaimDueJobs(context.Background(), time.Now(), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRepositoryEnqueueStale(t *testing.T) {
	repo, sqlMock := newSQLRepository(t)
	cutoff := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	sqlMock.ExpectExec(`INSERT INTO verification_jobs \(id, farm_id, status, attempts, next_attempt_at, created_at, updated_at\)\s+` +
		`SELECT gen_random_uuid\(\), f\.id, \$1, 0, NOW\(\), NOW\(\), NOW\(\)\s+FROM farms f\s+` +
		`WHERE f\.verification_status = \$2\s+AND f\.created_at < \$3\s+` +
		`AND NOT EXISTS \(SELECT 1 FROM verification_jobs j WHERE j\.farm_id = f\.id\)`).
		WithArgs(string(JobPending), workflows.StatusPending, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.EnqueueStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestRepositoryEnqueueStale_Error(t *testing.T) {
	repo, sqlMock := newSQLRepository(t)
	sqlMock.ExpectExec(`INSERT INTO verification_jobs`).WillReturnError(errors.New("relation does not exist"))

	_, err := repo.EnqueueStale(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enqueue stale farms")
}
