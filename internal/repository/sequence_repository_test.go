package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSequenceRepoMock(t *testing.T) (*SequenceRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := NewSequenceRepository(sqlx.NewDb(db, "sqlmock"), nil, zap.NewNop(), time.Second)
	return repo, mock, func() { db.Close() }
}

func TestSequenceRepositoryFirstRegistrationID(t *testing.T) {
	repo, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WithArgs(registrationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(CAST\\(SUBSTRING\\(registration_id FROM 5\\) AS INTEGER\\)\\), 0\\) FROM registrations").
		WithArgs("^REG-[0-9]+$").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(0))
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WithArgs(registrationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))

	id, err := repo.NextRegistrationID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "REG-001", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryIncrementsMaxSuffix(t *testing.T) {
	repo, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(41))
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	id, err := repo.NextRegistrationID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "REG-042", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryFallbackOnLockFailure(t *testing.T) {
	repo, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WillReturnError(errors.New("canceling statement due to lock timeout"))
	// The cancelled wait may have been granted server-side, so the session
	// must be cleaned before the connection goes back to the pool.
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WithArgs(registrationLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))

	id, err := repo.NextRegistrationID(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "REG-"))
	// Fallback form carries a timestamp and salt, so it has a second dash.
	require.Equal(t, 2, strings.Count(id, "-"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryFallbackSurvivesUnlockFailure(t *testing.T) {
	repo, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WillReturnError(errors.New("connection reset"))

	id, err := repo.NextRegistrationID(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "REG-"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryReleasesLockOnScanFailure(t *testing.T) {
	repo, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.NextRegistrationID(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSequenceRepositoryAffiliatePrefix(t *testing.T) {
	repo, mock, cleanup := newSequenceRepoMock(t)
	defer cleanup()

	mock.ExpectExec("SELECT pg_advisory_lock\\(\\$1\\)").
		WithArgs(affiliateLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(CAST\\(SUBSTRING\\(affiliate_id FROM 5\\) AS INTEGER\\)\\), 0\\) FROM affiliates").
		WithArgs("^AFF-[0-9]+$").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(7))
	mock.ExpectExec("SELECT pg_advisory_unlock\\(\\$1\\)").
		WithArgs(affiliateLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))

	id, err := repo.NextAffiliateID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AFF-008", id)
	require.NoError(t, mock.ExpectationsWereMet())
}
