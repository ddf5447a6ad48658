package data_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrylabs/quarry/internal/data"
	"github.com/quarrylabs/quarry/internal/domain/model"
)

const selectStatusForUpdate = `SELECT status FROM jobs WHERE job_key = $1 FOR UPDATE`
const selectResultForUpdate = `SELECT result FROM jobs WHERE job_key = $1 FOR UPDATE`

func newStatusRepo(t *testing.T) (*data.StatusRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := data.NewStatusRepo(data.StatusRepoOptions{
		DB:           db,
		TimeProvider: data.NewFixedTimeProvider(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return repo, mock
}

func TestStatusRepo_UpdateStatusInsertsMissingRow(t *testing.T) {
	repo, mock := newStatusRepo(t)

	// The message-queue path has no pre-existing jobs row; the first
	// transition creates it.
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectStatusForUpdate)).
		WithArgs("job-2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs("job-2", model.JobStatusProcessing, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "job-2", model.JobStatusProcessing, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepo_UpdateStatusRepeatIsNoOp(t *testing.T) {
	repo, mock := newStatusRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectStatusForUpdate)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "job-1", model.JobStatusFailed, "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepo_UpdateStatusRefusesBackwardTransition(t *testing.T) {
	repo, mock := newStatusRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectStatusForUpdate)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))
	mock.ExpectCommit()

	// No UPDATE expected: a completed job never goes back to processing.
	err := repo.UpdateStatus(context.Background(), "job-1", model.JobStatusProcessing, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepo_UpdateStatusAppliesTransition(t *testing.T) {
	repo, mock := newStatusRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectStatusForUpdate)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
		WithArgs("job-1", model.JobStatusCompleted, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateStatus(context.Background(), "job-1", model.JobStatusCompleted, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepo_UpdateStatusValidation(t *testing.T) {
	repo, _ := newStatusRepo(t)

	assert.Error(t, repo.UpdateStatus(context.Background(), "", model.JobStatusQueued, ""))
	assert.Error(t, repo.UpdateStatus(context.Background(), "job-1", model.JobStatus("paused"), ""))
}

func TestStatusRepo_SaveResultWritesOnce(t *testing.T) {
	repo, mock := newStatusRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectResultForUpdate)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs SET result = $2 WHERE job_key = $1")).
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SaveResult(context.Background(), "job-1", &model.ResultRecord{Status: model.ResultSuccess})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepo_SaveResultDuplicateIsNoOp(t *testing.T) {
	repo, mock := newStatusRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectResultForUpdate)).
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(`{"status":"success"}`))
	mock.ExpectCommit()

	// No UPDATE expected: the first write wins.
	err := repo.SaveResult(context.Background(), "job-1", model.FailureResult("late duplicate"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepo_SaveResultUnknownJob(t *testing.T) {
	repo, mock := newStatusRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectResultForUpdate)).
		WithArgs("job-missing").
		WillReturnRows(sqlmock.NewRows([]string{"result"}))
	mock.ExpectRollback()

	err := repo.SaveResult(context.Background(), "job-missing", model.FailureResult("x"))
	assert.ErrorIs(t, err, data.ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusRepo_SaveResultValidation(t *testing.T) {
	repo, _ := newStatusRepo(t)

	assert.Error(t, repo.SaveResult(context.Background(), "", &model.ResultRecord{}))
	assert.Error(t, repo.SaveResult(context.Background(), "job-1", nil))
}
