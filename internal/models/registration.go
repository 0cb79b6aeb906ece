package models

import "time"

// RegistrationStatus tracks the admin-facing lifecycle of a registration.
type RegistrationStatus string

const (
	RegistrationStatusNew       RegistrationStatus = "new"
	RegistrationStatusProcessed RegistrationStatus = "processed"
	RegistrationStatusCancelled RegistrationStatus = "cancelled"
)

// EnrollmentStatus tracks linkage of a registration to a user account.
type EnrollmentStatus string

const (
	EnrollmentStatusPending    EnrollmentStatus = "pending"
	EnrollmentStatusRegistered EnrollmentStatus = "registered"
	EnrollmentStatusFailed     EnrollmentStatus = "failed"
)

// IDPrefix is the structured prefix of normally allocated registration IDs.
const IDPrefix = "REG-"

// Registration represents an in-person class registration row.
type Registration struct {
	ID               int64              `db:"id" json:"-"`
	RegistrationID   string             `db:"registration_id" json:"registration_id"`
	FirstName        string             `db:"first_name" json:"first_name"`
	LastName         string             `db:"last_name" json:"last_name"`
	Email            string             `db:"email" json:"email"`
	Phone            string             `db:"phone" json:"phone"`
	SSTNumber        string             `db:"sst_number" json:"sst_number,omitempty"`
	ClassName        string             `db:"class_name" json:"class_name"`
	OSHACardPath     string             `db:"osha_card_path" json:"-"`
	SSTCardPath      string             `db:"sst_card_path" json:"-"`
	UserID           *string            `db:"user_id" json:"user_id,omitempty"`
	EnrollmentStatus EnrollmentStatus   `db:"enrollment_status" json:"enrollment_status"`
	Status           RegistrationStatus `db:"status" json:"status"`
	CreatedAt        time.Time          `db:"created_at" json:"created_at"`
	ProcessedAt      *time.Time         `db:"processed_at" json:"processed_at,omitempty"`
	ProcessedBy      *string            `db:"processed_by" json:"processed_by,omitempty"`
	Notes            string             `db:"notes" json:"notes,omitempty"`
}

// HasOSHACard reports whether an OSHA card document is attached.
func (r *Registration) HasOSHACard() bool { return r.OSHACardPath != "" }

// HasSSTCard reports whether an SST card document is attached.
func (r *Registration) HasSSTCard() bool { return r.SSTCardPath != "" }

// RegistrationInput carries the intake payload before persistence.
type RegistrationInput struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	SSTNumber    string `json:"sst_number"`
	ClassName    string `json:"class_name"`
	OSHACardPath string `json:"-"`
	SSTCardPath  string `json:"-"`
}

// RegistrationFilter encapsulates allowed list criteria.
type RegistrationFilter struct {
	Status           RegistrationStatus
	EnrollmentStatus EnrollmentStatus
	ClassName        string
	Search           string
	Page             int
	PageSize         int
	SortBy           string
	SortOrder        string
}

// RegistrationCounts summarises rows per status for the admin dashboard.
type RegistrationCounts struct {
	Total     int `json:"total"`
	New       int `json:"new"`
	Processed int `json:"processed"`
	Cancelled int `json:"cancelled"`
	Pending   int `json:"pending"`
	Enrolled  int `json:"enrolled"`
	Failed    int `json:"failed"`
}

// DocumentKind distinguishes the two card uploads.
type DocumentKind string

const (
	DocumentOSHACard DocumentKind = "osha"
	DocumentSSTCard  DocumentKind = "sst"
)

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
