package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sst-nyc/registration-api/internal/events"
	"github.com/sst-nyc/registration-api/internal/models"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
)

type enrollmentUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateContact(ctx context.Context, id, phone, sstNumber string) error
}

type enrollmentRegistrationRepository interface {
	FindByRegistrationID(ctx context.Context, registrationID string) (*models.Registration, error)
	UpdateEnrollment(ctx context.Context, registrationID string, status models.EnrollmentStatus, userID *string, note string) error
}

type enrollmentMetrics interface {
	ObserveEnrollment(outcome string)
}

// EnrollmentService links registrations to user accounts, creating the
// account when no user with the registration's email exists yet.
type EnrollmentService struct {
	users     enrollmentUserRepository
	regs      enrollmentRegistrationRepository
	publisher eventPublisher
	metrics   enrollmentMetrics
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(users enrollmentUserRepository, regs enrollmentRegistrationRepository,
	publisher eventPublisher, metrics enrollmentMetrics, logger *zap.Logger) *EnrollmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{users: users, regs: regs, publisher: publisher, metrics: metrics, logger: logger}
}

// HandleRegistrationCreated is the dispatcher subscriber that attempts
// enrollment for a freshly created registration.
func (s *EnrollmentService) HandleRegistrationCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.RegistrationCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	_, err := s.Enroll(ctx, event.RegistrationID, payload.Input)
	return err
}

// Enroll looks up or creates the user for the given intake data and marks
// the registration enrolled. Failures mark the registration failed with
// the error captured in the enrollment note; the error is also returned
// so callers doing a manual retry see the outcome.
func (s *EnrollmentService) Enroll(ctx context.Context, registrationID string, input models.RegistrationInput) (*models.User, error) {
	user, created, err := s.lookupOrCreateUser(ctx, input)
	if err != nil {
		s.logger.Error("enrollment failed",
			zap.String("registration_id", registrationID), zap.Error(err))
		note := "enrollment failed: " + err.Error()
		if updErr := s.regs.UpdateEnrollment(ctx, registrationID, models.EnrollmentStatusFailed, nil, note); updErr != nil {
			s.logger.Error("failed to record enrollment failure",
				zap.String("registration_id", registrationID), zap.Error(updErr))
		}
		if s.metrics != nil {
			s.metrics.ObserveEnrollment(string(models.EnrollmentStatusFailed))
		}
		if s.publisher != nil {
			s.publisher.Publish(ctx, events.Event{
				Type:           events.TypeEnrollmentUpdated,
				RegistrationID: registrationID,
				Payload: events.EnrollmentUpdatedPayload{
					Status:    models.EnrollmentStatusFailed,
					Email:     input.Email,
					ClassName: input.ClassName,
					Note:      note,
				},
			})
		}
		return nil, err
	}

	if err := s.regs.UpdateEnrollment(ctx, registrationID, models.EnrollmentStatusRegistered, &user.ID, ""); err != nil {
		s.logger.Error("failed to link registration to user",
			zap.String("registration_id", registrationID), zap.String("user_id", user.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to update enrollment")
	}

	s.logger.Info("registration enrolled",
		zap.String("registration_id", registrationID),
		zap.String("user_id", user.ID),
		zap.Bool("new_user", created))
	if s.metrics != nil {
		s.metrics.ObserveEnrollment(string(models.EnrollmentStatusRegistered))
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, events.Event{
			Type:           events.TypeStudentRegistered,
			RegistrationID: registrationID,
			Payload: events.StudentRegisteredPayload{
				UserID:    user.ID,
				NewUser:   created,
				Email:     user.Email,
				ClassName: input.ClassName,
			},
		})
		s.publisher.Publish(ctx, events.Event{
			Type:           events.TypeEnrollmentUpdated,
			RegistrationID: registrationID,
			Payload: events.EnrollmentUpdatedPayload{
				Status:    models.EnrollmentStatusRegistered,
				UserID:    user.ID,
				Email:     user.Email,
				ClassName: input.ClassName,
			},
		})
	}
	return user, nil
}

// Retry re-runs enrollment for a registration that previously failed or is
// still pending, using the data stored on the row.
func (s *EnrollmentService) Retry(ctx context.Context, registrationID string) (*models.User, error) {
	reg, err := s.regs.FindByRegistrationID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrDatabase.Code, appErrors.ErrDatabase.Status, "failed to load registration")
	}
	if reg.EnrollmentStatus == models.EnrollmentStatusRegistered {
		return nil, appErrors.Wrap(nil, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "registration is already enrolled")
	}
	return s.Enroll(ctx, registrationID, models.RegistrationInput{
		FirstName: reg.FirstName,
		LastName:  reg.LastName,
		Email:     reg.Email,
		Phone:     reg.Phone,
		SSTNumber: reg.SSTNumber,
		ClassName: reg.ClassName,
	})
}

func (s *EnrollmentService) lookupOrCreateUser(ctx context.Context, input models.RegistrationInput) (*models.User, bool, error) {
	user, err := s.users.FindByEmail(ctx, input.Email)
	if err == nil {
		// Existing account: refresh contact details that are empty.
		if updErr := s.users.UpdateContact(ctx, user.ID, input.Phone, input.SSTNumber); updErr != nil {
			s.logger.Warn("failed to refresh user contact details",
				zap.String("user_id", user.ID), zap.Error(updErr))
		}
		return user, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("lookup user: %w", err)
	}

	username, err := s.generateUsername(ctx, input.Email)
	if err != nil {
		return nil, false, err
	}
	// Students never receive this password; they set their own through the
	// portal's reset flow.
	passwordHash, err := randomPasswordHash()
	if err != nil {
		return nil, false, err
	}
	user = &models.User{
		Username:     username,
		Email:        input.Email,
		PasswordHash: passwordHash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Phone:        input.Phone,
		SSTNumber:    input.SSTNumber,
		Role:         models.RoleStudent,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	return user, true, nil
}

// generateUsername derives a username from the email local part, padding
// short names and appending a numeric suffix on collision.
func (s *EnrollmentService) generateUsername(ctx context.Context, email string) (string, error) {
	base := email
	if at := strings.Index(email, "@"); at > 0 {
		base = email[:at]
	}
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return -1
		}
	}, base)
	for len(base) < 3 {
		base += randomDigit()
	}

	candidate := base
	for suffix := 1; suffix <= 100; suffix++ {
		exists, err := s.users.UsernameExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s%d", base, suffix)
	}
	return "", fmt.Errorf("could not find a free username for %q", base)
}

func randomDigit() string {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "0"
	}
	return fmt.Sprintf("%d", binary.BigEndian.Uint16(buf[:])%10)
}

func randomPasswordHash() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(secret, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
