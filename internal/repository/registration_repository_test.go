package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/sst-nyc/registration-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func registrationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "registration_id", "first_name", "last_name", "email", "phone", "sst_number", "class_name",
		"osha_card_path", "sst_card_path", "user_id", "enrollment_status", "status", "created_at",
		"processed_at", "processed_by", "notes",
	})
}

func TestRegistrationRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("INSERT INTO registrations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	reg := &models.Registration{
		RegistrationID: "REG-001",
		FirstName:      "Jane",
		LastName:       "Doe",
		Email:          "jane@x.nyc",
		Phone:          "212-555-0100",
		ClassName:      "OSHA 10",
	}
	require.NoError(t, repo.Create(context.Background(), reg))
	require.Equal(t, models.RegistrationStatusNew, reg.Status)
	require.Equal(t, models.EnrollmentStatusPending, reg.EnrollmentStatus)
	require.False(t, reg.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryFindByRegistrationID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	rows := registrationRows().AddRow(
		1, "REG-001", "Jane", "Doe", "jane@x.nyc", "212-555-0100", "", "OSHA 10",
		"", "", nil, models.EnrollmentStatusPending, models.RegistrationStatusNew, time.Now(),
		nil, nil, "")
	mock.ExpectQuery("SELECT (.+) FROM registrations WHERE registration_id = \\$1").
		WithArgs("REG-001").
		WillReturnRows(rows)

	reg, err := repo.FindByRegistrationID(context.Background(), "REG-001")
	require.NoError(t, err)
	require.Equal(t, "jane@x.nyc", reg.Email)
	require.Equal(t, models.RegistrationStatusNew, reg.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryListWithSearch(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	rows := registrationRows().AddRow(
		1, "REG-001", "Jane", "Doe", "jane@x.nyc", "212-555-0100", "", "OSHA 10",
		"", "", nil, models.EnrollmentStatusPending, models.RegistrationStatusNew, time.Now(),
		nil, nil, "")
	mock.ExpectQuery("SELECT (.+) FROM registrations WHERE status = \\$1 AND \\(first_name ILIKE \\$2 (.+) ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WithArgs(models.RegistrationStatusNew, "%jane%").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM registrations WHERE status = \\$1").
		WithArgs(models.RegistrationStatusNew, "%jane%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	registrations, total, err := repo.List(context.Background(), models.RegistrationFilter{
		Status: models.RegistrationStatusNew,
		Search: "jane",
	})
	require.NoError(t, err)
	require.Len(t, registrations, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryListRejectsUnknownSort(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM registrations ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WillReturnRows(registrationRows())
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM registrations").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.RegistrationFilter{
		SortBy:    "created_at; DROP TABLE registrations",
		SortOrder: "sideways",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryUpdateStatusProcessed(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	admin := "admin-1"
	mock.ExpectExec("UPDATE registrations SET status = \\$2, processed_at = \\$3, processed_by = \\$4 WHERE registration_id = \\$1").
		WithArgs("REG-001", models.RegistrationStatusProcessed, sqlmock.AnyArg(), admin).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "REG-001", models.RegistrationStatusProcessed, &admin)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryUpdateStatusMissingRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("UPDATE registrations SET status = \\$2 WHERE registration_id = \\$1").
		WithArgs("REG-404", models.RegistrationStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "REG-404", models.RegistrationStatusCancelled, nil)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryUpdateEnrollment(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	userID := "user-1"
	mock.ExpectExec("UPDATE registrations SET enrollment_status = \\$2").
		WithArgs("REG-001", models.EnrollmentStatusRegistered, "user-1", sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateEnrollment(context.Background(), "REG-001", models.EnrollmentStatusRegistered, &userID, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryUpdateEnrollmentAppendsNote(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	// Admin notes must survive a retried linkage, so the failure note is
	// appended on its own line rather than replacing the column.
	mock.ExpectExec(`ELSE notes \|\| E'\\n' \|\| \$5 END`).
		WithArgs("REG-002", models.EnrollmentStatusFailed, nil, sqlmock.AnyArg(), "no matching course for class").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateEnrollment(context.Background(), "REG-002", models.EnrollmentStatusFailed, nil, "no matching course for class")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec("DELETE FROM registrations WHERE registration_id = \\$1").
		WithArgs("REG-001").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "REG-001"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCounts(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	rows := sqlmock.NewRows([]string{"total", "new", "processed", "cancelled", "pending", "enrolled", "failed"}).
		AddRow(10, 4, 5, 1, 3, 6, 1)
	mock.ExpectQuery("SELECT(.+)FROM registrations").WillReturnRows(rows)

	counts, err := repo.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 10, counts.Total)
	require.Equal(t, 6, counts.Enrolled)
	require.NoError(t, mock.ExpectationsWereMet())
}
