package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sst-nyc/registration-api/internal/models"
)

const registrationColumns = `id, registration_id, first_name, last_name, email, phone, sst_number, class_name,
        osha_card_path, sst_card_path, user_id, enrollment_status, status, created_at, processed_at, processed_by, notes`

// RegistrationRepository handles persistence of class registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Create persists a new registration record.
func (r *RegistrationRepository) Create(ctx context.Context, reg *models.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	if reg.Status == "" {
		reg.Status = models.RegistrationStatusNew
	}
	if reg.EnrollmentStatus == "" {
		reg.EnrollmentStatus = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO registrations (registration_id, first_name, last_name, email, phone, sst_number,
        class_name, osha_card_path, sst_card_path, enrollment_status, status, created_at, notes)
        VALUES (:registration_id, :first_name, :last_name, :email, :phone, :sst_number,
        :class_name, :osha_card_path, :sst_card_path, :enrollment_status, :status, :created_at, :notes)`
	if _, err := r.db.NamedExecContext(ctx, query, reg); err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// FindByRegistrationID returns a registration by its public identifier.
func (r *RegistrationRepository) FindByRegistrationID(ctx context.Context, registrationID string) (*models.Registration, error) {
	query := fmt.Sprintf("SELECT %s FROM registrations WHERE registration_id = $1", registrationColumns)
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, registrationID); err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindLatestByEmail returns the most recent registration for an email.
func (r *RegistrationRepository) FindLatestByEmail(ctx context.Context, email string) (*models.Registration, error) {
	query := fmt.Sprintf("SELECT %s FROM registrations WHERE email = $1 ORDER BY created_at DESC LIMIT 1", registrationColumns)
	var reg models.Registration
	if err := r.db.GetContext(ctx, &reg, query, email); err != nil {
		return nil, err
	}
	return &reg, nil
}

// List returns registrations filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.Registration, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.EnrollmentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_status = $%d", len(args)+1))
		args = append(args, filter.EnrollmentStatus)
	}
	if filter.ClassName != "" {
		conditions = append(conditions, fmt.Sprintf("class_name = $%d", len(args)+1))
		args = append(args, filter.ClassName)
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(
			"(first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d OR registration_id ILIKE $%d)",
			idx, idx, idx, idx))
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"registration_id":   "registration_id",
		"first_name":        "first_name",
		"last_name":         "last_name",
		"email":             "email",
		"class_name":        "class_name",
		"status":            "status",
		"enrollment_status": "enrollment_status",
		"created_at":        "created_at",
		"processed_at":      "processed_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM registrations%s ORDER BY %s %s LIMIT %d OFFSET %d",
		registrationColumns, clause, orderBy, order, size, offset)

	var registrations []models.Registration
	if err := r.db.SelectContext(ctx, &registrations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM registrations" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return registrations, total, nil
}

// UpdateStatus transitions the admin-facing status. Moving to processed
// stamps the processing time and actor.
func (r *RegistrationRepository) UpdateStatus(ctx context.Context, registrationID string, status models.RegistrationStatus, processedBy *string) error {
	if status == models.RegistrationStatusProcessed && processedBy != nil {
		const query = `UPDATE registrations SET status = $2, processed_at = $3, processed_by = $4 WHERE registration_id = $1`
		res, err := r.db.ExecContext(ctx, query, registrationID, status, time.Now().UTC(), *processedBy)
		return checkUpdated(res, err, "update registration status")
	}
	const query = `UPDATE registrations SET status = $2 WHERE registration_id = $1`
	res, err := r.db.ExecContext(ctx, query, registrationID, status)
	return checkUpdated(res, err, "update registration status")
}

// UpdateEnrollment records the outcome of account linkage. An enrollment
// note is appended so admin notes survive a failed retry.
func (r *RegistrationRepository) UpdateEnrollment(ctx context.Context, registrationID string, status models.EnrollmentStatus, userID *string, note string) error {
	const query = `UPDATE registrations SET enrollment_status = $2, user_id = COALESCE($3, user_id),
        processed_at = $4, notes = CASE WHEN $5 = '' THEN notes
                                        WHEN notes = '' THEN $5
                                        ELSE notes || E'\n' || $5 END
        WHERE registration_id = $1`
	res, err := r.db.ExecContext(ctx, query, registrationID, status, userID, time.Now().UTC(), note)
	return checkUpdated(res, err, "update enrollment status")
}

// UpdateNotes replaces the admin notes for a registration.
func (r *RegistrationRepository) UpdateNotes(ctx context.Context, registrationID, notes string) error {
	const query = `UPDATE registrations SET notes = $2 WHERE registration_id = $1`
	res, err := r.db.ExecContext(ctx, query, registrationID, notes)
	return checkUpdated(res, err, "update registration notes")
}

// Delete removes a registration row.
func (r *RegistrationRepository) Delete(ctx context.Context, registrationID string) error {
	const query = `DELETE FROM registrations WHERE registration_id = $1`
	res, err := r.db.ExecContext(ctx, query, registrationID)
	return checkUpdated(res, err, "delete registration")
}

// Counts aggregates rows per status for the admin dashboard.
func (r *RegistrationRepository) Counts(ctx context.Context) (*models.RegistrationCounts, error) {
	const query = `SELECT
        COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'new') AS new,
        COUNT(*) FILTER (WHERE status = 'processed') AS processed,
        COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
        COUNT(*) FILTER (WHERE enrollment_status = 'pending') AS pending,
        COUNT(*) FILTER (WHERE enrollment_status = 'registered') AS enrolled,
        COUNT(*) FILTER (WHERE enrollment_status = 'failed') AS failed
        FROM registrations`
	var counts models.RegistrationCounts
	row := r.db.QueryRowxContext(ctx, query)
	if err := row.Scan(&counts.Total, &counts.New, &counts.Processed, &counts.Cancelled,
		&counts.Pending, &counts.Enrolled, &counts.Failed); err != nil {
		return nil, fmt.Errorf("count registrations by status: %w", err)
	}
	return &counts, nil
}

func checkUpdated(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
