package models

import "time"

// AffiliateIDPrefix is the structured prefix of affiliate application IDs.
const AffiliateIDPrefix = "AFF-"

// AffiliateStatus tracks review of an affiliate application.
type AffiliateStatus string

const (
	AffiliateStatusPending  AffiliateStatus = "pending"
	AffiliateStatusApproved AffiliateStatus = "approved"
	AffiliateStatusRejected AffiliateStatus = "rejected"
)

// Affiliate represents an affiliate program application.
type Affiliate struct {
	ID             int64           `db:"id" json:"-"`
	AffiliateID    string          `db:"affiliate_id" json:"affiliate_id"`
	FirstName      string          `db:"first_name" json:"first_name"`
	LastName       string          `db:"last_name" json:"last_name"`
	Email          string          `db:"email" json:"email"`
	Phone          string          `db:"phone" json:"phone"`
	Company        string          `db:"company" json:"company,omitempty"`
	ReferralSource string          `db:"referral_source" json:"referral_source,omitempty"`
	Motivation     string          `db:"motivation" json:"motivation,omitempty"`
	TermsAccepted  bool            `db:"terms_accepted" json:"terms_accepted"`
	Status         AffiliateStatus `db:"status" json:"status"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// AffiliateInput carries an application payload before persistence.
type AffiliateInput struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Company        string `json:"company"`
	ReferralSource string `json:"referral_source"`
	Motivation     string `json:"motivation"`
	TermsAccepted  bool   `json:"terms_accepted"`
}

// AffiliateFilter encapsulates allowed list criteria.
type AffiliateFilter struct {
	Status    AffiliateStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
