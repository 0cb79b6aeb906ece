package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/events"
	"github.com/sst-nyc/registration-api/internal/models"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
)

type registrationRepository interface {
	Create(ctx context.Context, reg *models.Registration) error
	FindByRegistrationID(ctx context.Context, registrationID string) (*models.Registration, error)
	FindLatestByEmail(ctx context.Context, email string) (*models.Registration, error)
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.Registration, int, error)
	UpdateStatus(ctx context.Context, registrationID string, status models.RegistrationStatus, processedBy *string) error
	UpdateNotes(ctx context.Context, registrationID, notes string) error
	Delete(ctx context.Context, registrationID string) error
	Counts(ctx context.Context) (*models.RegistrationCounts, error)
}

type idAllocator interface {
	NextRegistrationID(ctx context.Context) (string, error)
}

type documentRemover interface {
	Remove(filename string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event events.Event)
}

type registrationMetrics interface {
	ObserveRegistrationCreated(className string)
}

// Maximum stored lengths per field, mirroring the table schema.
var fieldMaxLengths = []struct {
	field  string
	maxLen int
	value  func(in models.RegistrationInput) string
}{
	{"first_name", 100, func(in models.RegistrationInput) string { return in.FirstName }},
	{"last_name", 100, func(in models.RegistrationInput) string { return in.LastName }},
	{"email", 100, func(in models.RegistrationInput) string { return in.Email }},
	{"phone", 20, func(in models.RegistrationInput) string { return in.Phone }},
	{"sst_number", 50, func(in models.RegistrationInput) string { return in.SSTNumber }},
	{"class_name", 255, func(in models.RegistrationInput) string { return in.ClassName }},
}

// RegistrationService orchestrates the registration intake workflow.
type RegistrationService struct {
	repo      registrationRepository
	allocator idAllocator
	documents documentRemover
	publisher eventPublisher
	metrics   registrationMetrics
	validator *validator.Validate
	logger    *zap.Logger
	classSet  map[string]struct{}
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(repo registrationRepository, allocator idAllocator, documents documentRemover,
	publisher eventPublisher, metrics registrationMetrics, validate *validator.Validate, logger *zap.Logger,
	classOptions []string) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	classSet := make(map[string]struct{}, len(classOptions))
	for _, name := range classOptions {
		classSet[name] = struct{}{}
	}
	return &RegistrationService{
		repo:      repo,
		allocator: allocator,
		documents: documents,
		publisher: publisher,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		classSet:  classSet,
	}
}

// Create validates the intake payload, allocates an identifier, persists the
// row and publishes the created event. Side effects run through subscribers
// and never influence the returned result.
func (s *RegistrationService) Create(ctx context.Context, input models.RegistrationInput) (*models.Registration, error) {
	input = trimInput(input)
	if err := s.validateInput(input); err != nil {
		return nil, err
	}

	if _, known := s.classSet[input.ClassName]; !known {
		// The allow-list may lag behind legitimate manually entered values;
		// warn but accept.
		s.logger.Warn("class name not in configured options", zap.String("class_name", input.ClassName))
	}

	registrationID, err := s.allocator.NextRegistrationID(ctx)
	if err != nil {
		s.logger.Error("identifier allocation failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to allocate registration id")
	}

	reg := &models.Registration{
		RegistrationID:   registrationID,
		FirstName:        input.FirstName,
		LastName:         input.LastName,
		Email:            input.Email,
		Phone:            input.Phone,
		SSTNumber:        input.SSTNumber,
		ClassName:        input.ClassName,
		OSHACardPath:     input.OSHACardPath,
		SSTCardPath:      input.SSTCardPath,
		Status:           models.RegistrationStatusNew,
		EnrollmentStatus: models.EnrollmentStatusPending,
	}
	if err := s.repo.Create(ctx, reg); err != nil {
		s.logger.Error("registration insert failed", zap.String("registration_id", registrationID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to create registration")
	}

	if s.metrics != nil {
		s.metrics.ObserveRegistrationCreated(reg.ClassName)
	}
	s.logger.Info("registration created", zap.String("registration_id", registrationID))

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.Event{
			Type:           events.TypeRegistrationCreated,
			RegistrationID: registrationID,
			Payload:        events.RegistrationCreatedPayload{Input: input},
		})
	}

	return reg, nil
}

// Get returns a registration by its public identifier.
func (s *RegistrationService) Get(ctx context.Context, registrationID string) (*models.Registration, error) {
	reg, err := s.repo.FindByRegistrationID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to load registration")
	}
	return reg, nil
}

// GetByEmail returns the most recent registration submitted with the email.
func (s *RegistrationService) GetByEmail(ctx context.Context, email string) (*models.Registration, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, appErrors.Validation("email", "is required")
	}
	reg, err := s.repo.FindLatestByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to load registration")
	}
	return reg, nil
}

// List returns registrations with pagination metadata.
func (s *RegistrationService) List(ctx context.Context, filter models.RegistrationFilter) ([]models.Registration, *models.Pagination, error) {
	registrations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to list registrations")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return registrations, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Counts aggregates rows per status for the admin dashboard.
func (s *RegistrationService) Counts(ctx context.Context) (*models.RegistrationCounts, error) {
	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to count registrations")
	}
	return counts, nil
}

// MarkProcessed transitions a registration to processed by the given admin.
func (s *RegistrationService) MarkProcessed(ctx context.Context, registrationID string, actor *models.JWTClaims) error {
	var processedBy *string
	if actor != nil {
		processedBy = &actor.UserID
	}
	if err := s.repo.UpdateStatus(ctx, registrationID, models.RegistrationStatusProcessed, processedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to update status")
	}
	return nil
}

// Cancel transitions a registration to cancelled.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID string) error {
	if err := s.repo.UpdateStatus(ctx, registrationID, models.RegistrationStatusCancelled, nil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to update status")
	}
	return nil
}

// UpdateNotes replaces the admin notes on a registration.
func (s *RegistrationService) UpdateNotes(ctx context.Context, registrationID, notes string) error {
	if len(notes) > 2000 {
		return appErrors.Validation("notes", "exceeds maximum length of 2000 characters")
	}
	if err := s.repo.UpdateNotes(ctx, registrationID, notes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to update notes")
	}
	return nil
}

// Delete removes a registration and its uploaded documents. Document
// removal failures are logged and never block row deletion.
func (s *RegistrationService) Delete(ctx context.Context, registrationID string) error {
	reg, err := s.Get(ctx, registrationID)
	if err != nil {
		return err
	}

	for _, path := range []string{reg.OSHACardPath, reg.SSTCardPath} {
		if path == "" || s.documents == nil {
			continue
		}
		if err := s.documents.Remove(path); err != nil {
			s.logger.Warn("failed to delete registration document",
				zap.String("registration_id", registrationID), zap.Error(err))
		}
	}

	if err := s.repo.Delete(ctx, registrationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to delete registration")
	}
	s.logger.Info("registration deleted", zap.String("registration_id", registrationID))
	return nil
}

func (s *RegistrationService) validateInput(input models.RegistrationInput) error {
	required := []struct {
		field string
		value string
	}{
		{"first_name", input.FirstName},
		{"last_name", input.LastName},
		{"email", input.Email},
		{"phone", input.Phone},
		{"class_name", input.ClassName},
	}
	for _, f := range required {
		if f.value == "" {
			return appErrors.Validation(f.field, "is required")
		}
	}

	for _, f := range fieldMaxLengths {
		if len(f.value(input)) > f.maxLen {
			return appErrors.Validation(f.field, "exceeds maximum length of "+strconv.Itoa(f.maxLen)+" characters")
		}
	}

	if err := s.validator.Var(input.Email, "email"); err != nil {
		return appErrors.Validation("email", "is not a valid email address")
	}
	return nil
}

func trimInput(input models.RegistrationInput) models.RegistrationInput {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	input.SSTNumber = strings.TrimSpace(input.SSTNumber)
	input.ClassName = strings.TrimSpace(input.ClassName)
	return input
}
