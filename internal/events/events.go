package events

import (
	"time"

	"github.com/sst-nyc/registration-api/internal/models"
)

// Type enumerates supported event identifiers.
type Type string

const (
	TypeRegistrationCreated Type = "registration_created"
	TypeStudentRegistered   Type = "student_registered"
	TypeEnrollmentUpdated   Type = "enrollment_updated"
	TypeAffiliateApplied    Type = "affiliate_applied"
)

// Event represents a domain event emitted after a state change committed.
// RegistrationID holds the public identifier of the subject record, a
// REG- registration or an AFF- affiliate application.
type Event struct {
	ID             string      `json:"id"`
	Type           Type        `json:"type"`
	RegistrationID string      `json:"registration_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// RegistrationCreatedPayload carries the full intake input.
type RegistrationCreatedPayload struct {
	Input models.RegistrationInput `json:"input"`
}

// StudentRegisteredPayload reports successful account linkage.
type StudentRegisteredPayload struct {
	UserID    string `json:"user_id"`
	NewUser   bool   `json:"new_user"`
	Email     string `json:"email"`
	ClassName string `json:"class_name"`
}

// EnrollmentUpdatedPayload reports an enrollment status transition.
type EnrollmentUpdatedPayload struct {
	Status    models.EnrollmentStatus `json:"enrollment_status"`
	UserID    string                  `json:"user_id,omitempty"`
	Email     string                  `json:"email,omitempty"`
	ClassName string                  `json:"class_name,omitempty"`
	Note      string                  `json:"note,omitempty"`
}

// AffiliateAppliedPayload carries a persisted affiliate application.
type AffiliateAppliedPayload struct {
	Affiliate models.Affiliate `json:"affiliate"`
}
