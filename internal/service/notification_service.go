package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/events"
	"github.com/sst-nyc/registration-api/pkg/config"
	"github.com/sst-nyc/registration-api/pkg/mailer"
)

// NotificationService sends intake emails in reaction to dispatcher events.
type NotificationService struct {
	mail    mailer.Mailer
	cfg     config.NotificationsConfig
	siteURL string
	logger  *zap.Logger
}

// NewNotificationService constructs NotificationService. siteURL, when set,
// is included in student mails as the portal address.
func NewNotificationService(mail mailer.Mailer, cfg config.NotificationsConfig, siteURL string, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{mail: mail, cfg: cfg, siteURL: siteURL, logger: logger}
}

// HandleRegistrationCreated notifies the configured admin mailbox about a
// new registration.
func (s *NotificationService) HandleRegistrationCreated(ctx context.Context, event events.Event) error {
	if !s.cfg.AdminEnabled || s.cfg.AdminEmail == "" {
		return nil
	}
	payload, ok := event.Payload.(events.RegistrationCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	in := payload.Input

	subject := fmt.Sprintf("New class registration: %s", event.RegistrationID)
	var body strings.Builder
	fmt.Fprintf(&body, "A new registration has been submitted.\n\n")
	fmt.Fprintf(&body, "Registration ID: %s\n", event.RegistrationID)
	fmt.Fprintf(&body, "Name: %s %s\n", in.FirstName, in.LastName)
	fmt.Fprintf(&body, "Email: %s\n", in.Email)
	fmt.Fprintf(&body, "Phone: %s\n", in.Phone)
	if in.SSTNumber != "" {
		fmt.Fprintf(&body, "SST Number: %s\n", in.SSTNumber)
	}
	fmt.Fprintf(&body, "Class: %s\n", in.ClassName)
	fmt.Fprintf(&body, "OSHA card uploaded: %s\n", yesNo(in.OSHACardPath != ""))
	fmt.Fprintf(&body, "SST card uploaded: %s\n", yesNo(in.SSTCardPath != ""))

	if err := s.mail.Send(s.cfg.AdminEmail, subject, body.String()); err != nil {
		return fmt.Errorf("send admin notification: %w", err)
	}
	s.logger.Info("admin notification sent", zap.String("registration_id", event.RegistrationID))
	return nil
}

// HandleStudentRegistered welcomes students whose account was just created.
func (s *NotificationService) HandleStudentRegistered(ctx context.Context, event events.Event) error {
	if !s.cfg.StudentEnabled {
		return nil
	}
	payload, ok := event.Payload.(events.StudentRegisteredPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	if !payload.NewUser {
		return nil
	}

	subject := "Your training account is ready"
	var body strings.Builder
	fmt.Fprintf(&body, "Thanks for registering for %s.\n\n", payload.ClassName)
	fmt.Fprintf(&body, "An account has been created for you. Use the password reset link on the student portal to set your password.\n\n")
	if s.siteURL != "" {
		fmt.Fprintf(&body, "Student portal: %s\n", s.siteURL)
	}
	fmt.Fprintf(&body, "Registration reference: %s\n", event.RegistrationID)

	if err := s.mail.Send(payload.Email, subject, body.String()); err != nil {
		return fmt.Errorf("send student notification: %w", err)
	}
	s.logger.Info("student notification sent", zap.String("registration_id", event.RegistrationID))
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
