package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/events"
	"github.com/sst-nyc/registration-api/internal/models"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
)

type affiliateRepository interface {
	Create(ctx context.Context, aff *models.Affiliate) error
	FindByAffiliateID(ctx context.Context, affiliateID string) (*models.Affiliate, error)
	List(ctx context.Context, filter models.AffiliateFilter) ([]models.Affiliate, int, error)
	UpdateStatus(ctx context.Context, affiliateID string, status models.AffiliateStatus) error
}

type affiliateIDAllocator interface {
	NextAffiliateID(ctx context.Context) (string, error)
}

// AffiliateService handles affiliate program applications.
type AffiliateService struct {
	repo      affiliateRepository
	allocator affiliateIDAllocator
	publisher eventPublisher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAffiliateService constructs AffiliateService.
func NewAffiliateService(repo affiliateRepository, allocator affiliateIDAllocator,
	publisher eventPublisher, validate *validator.Validate, logger *zap.Logger) *AffiliateService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AffiliateService{repo: repo, allocator: allocator, publisher: publisher, validator: validate, logger: logger}
}

// Apply validates an application, allocates an identifier and persists it.
func (s *AffiliateService) Apply(ctx context.Context, input models.AffiliateInput) (*models.Affiliate, error) {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)

	required := []struct {
		field string
		value string
	}{
		{"first_name", input.FirstName},
		{"last_name", input.LastName},
		{"email", input.Email},
		{"phone", input.Phone},
	}
	for _, f := range required {
		if f.value == "" {
			return nil, appErrors.Validation(f.field, "is required")
		}
	}
	if err := s.validator.Var(input.Email, "email"); err != nil {
		return nil, appErrors.Validation("email", "is not a valid email address")
	}
	if !input.TermsAccepted {
		return nil, appErrors.Validation("terms_accepted", "must be accepted")
	}

	affiliateID, err := s.allocator.NextAffiliateID(ctx)
	if err != nil {
		s.logger.Error("affiliate identifier allocation failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to allocate affiliate id")
	}

	aff := &models.Affiliate{
		AffiliateID:    affiliateID,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		Email:          input.Email,
		Phone:          input.Phone,
		Company:        input.Company,
		ReferralSource: input.ReferralSource,
		Motivation:     input.Motivation,
		TermsAccepted:  input.TermsAccepted,
		Status:         models.AffiliateStatusPending,
	}
	if err := s.repo.Create(ctx, aff); err != nil {
		s.logger.Error("affiliate insert failed", zap.String("affiliate_id", affiliateID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to create affiliate application")
	}

	s.logger.Info("affiliate application created", zap.String("affiliate_id", affiliateID))

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.Event{
			Type:           events.TypeAffiliateApplied,
			RegistrationID: affiliateID,
			Payload:        events.AffiliateAppliedPayload{Affiliate: *aff},
		})
	}
	return aff, nil
}

// Get returns an application by its public identifier.
func (s *AffiliateService) Get(ctx context.Context, affiliateID string) (*models.Affiliate, error) {
	aff, err := s.repo.FindByAffiliateID(ctx, affiliateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to load affiliate application")
	}
	return aff, nil
}

// List returns applications with pagination metadata.
func (s *AffiliateService) List(ctx context.Context, filter models.AffiliateFilter) ([]models.Affiliate, *models.Pagination, error) {
	affiliates, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to list affiliate applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return affiliates, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Review transitions an application to approved or rejected.
func (s *AffiliateService) Review(ctx context.Context, affiliateID string, status models.AffiliateStatus) error {
	if status != models.AffiliateStatusApproved && status != models.AffiliateStatusRejected {
		return appErrors.Validation("status", "must be approved or rejected")
	}
	if err := s.repo.UpdateStatus(ctx, affiliateID, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to update application status")
	}
	s.logger.Info("affiliate application reviewed",
		zap.String("affiliate_id", affiliateID), zap.String("status", string(status)))
	return nil
}
