package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sst-nyc/registration-api/internal/models"
)

const affiliateColumns = `id, affiliate_id, first_name, last_name, email, phone, company,
        referral_source, motivation, terms_accepted, status, created_at`

// AffiliateRepository handles persistence of affiliate applications.
type AffiliateRepository struct {
	db *sqlx.DB
}

// NewAffiliateRepository constructs the repository.
func NewAffiliateRepository(db *sqlx.DB) *AffiliateRepository {
	return &AffiliateRepository{db: db}
}

// Create persists a new affiliate application.
func (r *AffiliateRepository) Create(ctx context.Context, aff *models.Affiliate) error {
	if aff.CreatedAt.IsZero() {
		aff.CreatedAt = time.Now().UTC()
	}
	if aff.Status == "" {
		aff.Status = models.AffiliateStatusPending
	}
	const query = `INSERT INTO affiliates (affiliate_id, first_name, last_name, email, phone, company,
        referral_source, motivation, terms_accepted, status, created_at)
        VALUES (:affiliate_id, :first_name, :last_name, :email, :phone, :company,
        :referral_source, :motivation, :terms_accepted, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, aff); err != nil {
		return fmt.Errorf("create affiliate: %w", err)
	}
	return nil
}

// FindByAffiliateID returns an application by its public identifier.
func (r *AffiliateRepository) FindByAffiliateID(ctx context.Context, affiliateID string) (*models.Affiliate, error) {
	query := fmt.Sprintf("SELECT %s FROM affiliates WHERE affiliate_id = $1", affiliateColumns)
	var aff models.Affiliate
	if err := r.db.GetContext(ctx, &aff, query, affiliateID); err != nil {
		return nil, err
	}
	return &aff, nil
}

// List returns affiliate applications filtered by the provided criteria.
func (r *AffiliateRepository) List(ctx context.Context, filter models.AffiliateFilter) ([]models.Affiliate, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(
			"(first_name ILIKE $%d OR last_name ILIKE $%d OR email ILIKE $%d OR affiliate_id ILIKE $%d)",
			idx, idx, idx, idx))
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"affiliate_id": "affiliate_id",
		"first_name":   "first_name",
		"last_name":    "last_name",
		"email":        "email",
		"status":       "status",
		"created_at":   "created_at",
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

	query := fmt.Sprintf("SELECT %s FROM affiliates%s ORDER BY %s %s LIMIT %d OFFSET %d",
		affiliateColumns, clause, orderBy, order, size, offset)

	var affiliates []models.Affiliate
	if err := r.db.SelectContext(ctx, &affiliates, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list affiliates: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM affiliates" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count affiliates: %w", err)
	}
	return affiliates, total, nil
}

// UpdateStatus transitions an application through review.
func (r *AffiliateRepository) UpdateStatus(ctx context.Context, affiliateID string, status models.AffiliateStatus) error {
	const query = `UPDATE affiliates SET status = $2 WHERE affiliate_id = $1`
	res, err := r.db.ExecContext(ctx, query, affiliateID, status)
	return checkUpdated(res, err, "update affiliate status")
}
