package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/events"
	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/pkg/config"
)

// ZapierService relays registration events to an outbound webhook. The
// payload carries intake data only, never internal admin URLs or file
// locations. Delivery is best effort: a single attempt with a bounded
// timeout and no retry.
type webhookMetrics interface {
	ObserveWebhookDelivery(success bool)
}

type ZapierService struct {
	cfg     config.ZapierConfig
	siteURL string
	client  *http.Client
	metrics webhookMetrics
	logger  *zap.Logger
}

// NewZapierService constructs ZapierService. siteURL identifies the public
// site in outbound payloads so one Zap can serve several deployments.
func NewZapierService(cfg config.ZapierConfig, siteURL string, metrics webhookMetrics, logger *zap.Logger) *ZapierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ZapierService{
		cfg:     cfg,
		siteURL: siteURL,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
		logger:  logger,
	}
}

type zapierRegistrationPayload struct {
	Event          string `json:"event"`
	RegistrationID string `json:"registration_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	SSTNumber      string `json:"sst_number,omitempty"`
	ClassName      string `json:"class_name"`
	HasOSHACard    bool   `json:"has_osha_card"`
	HasSSTCard     bool   `json:"has_sst_card"`
	SiteURL        string `json:"site_url,omitempty"`
	SubmittedAt    string `json:"submitted_at"`
}

type zapierEnrollmentPayload struct {
	Event            string `json:"event"`
	RegistrationID   string `json:"registration_id"`
	EnrollmentStatus string `json:"enrollment_status"`
	UserID           string `json:"user_id,omitempty"`
	Email            string `json:"email,omitempty"`
	ClassName        string `json:"class_name,omitempty"`
	SiteURL          string `json:"site_url,omitempty"`
	UpdatedAt        string `json:"updated_at"`
}

type zapierAffiliatePayload struct {
	Event          string `json:"event"`
	AffiliateID    string `json:"affiliate_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Company        string `json:"company,omitempty"`
	ReferralSource string `json:"referral_source,omitempty"`
	SiteURL        string `json:"site_url,omitempty"`
	SubmittedAt    string `json:"submitted_at"`
}

// HandleRegistrationCreated relays new registrations to the webhook.
func (s *ZapierService) HandleRegistrationCreated(ctx context.Context, event events.Event) error {
	if !s.cfg.Enabled || s.cfg.WebhookURL == "" {
		return nil
	}
	payload, ok := event.Payload.(events.RegistrationCreatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	in := payload.Input
	return s.post(ctx, event.RegistrationID, zapierRegistrationPayload{
		Event:          string(events.TypeRegistrationCreated),
		RegistrationID: event.RegistrationID,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Email:          in.Email,
		Phone:          in.Phone,
		SSTNumber:      in.SSTNumber,
		ClassName:      in.ClassName,
		HasOSHACard:    in.OSHACardPath != "",
		HasSSTCard:     in.SSTCardPath != "",
		SiteURL:        s.siteURL,
		SubmittedAt:    event.Timestamp.Format(time.RFC3339),
	})
}

// HandleEnrollmentUpdated relays enrollment transitions to the webhook.
func (s *ZapierService) HandleEnrollmentUpdated(ctx context.Context, event events.Event) error {
	if !s.cfg.Enabled || s.cfg.WebhookURL == "" {
		return nil
	}
	payload, ok := event.Payload.(events.EnrollmentUpdatedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	return s.post(ctx, event.RegistrationID, zapierEnrollmentPayload{
		Event:            string(events.TypeEnrollmentUpdated),
		RegistrationID:   event.RegistrationID,
		EnrollmentStatus: string(payload.Status),
		UserID:           payload.UserID,
		Email:            payload.Email,
		ClassName:        payload.ClassName,
		SiteURL:          s.siteURL,
		UpdatedAt:        event.Timestamp.Format(time.RFC3339),
	})
}

// HandleAffiliateApplied relays affiliate applications to the webhook.
func (s *ZapierService) HandleAffiliateApplied(ctx context.Context, event events.Event) error {
	if !s.cfg.Enabled || s.cfg.WebhookURL == "" {
		return nil
	}
	payload, ok := event.Payload.(events.AffiliateAppliedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", event.Payload)
	}
	aff := payload.Affiliate
	return s.post(ctx, aff.AffiliateID, zapierAffiliatePayload{
		Event:          string(events.TypeAffiliateApplied),
		AffiliateID:    aff.AffiliateID,
		FirstName:      aff.FirstName,
		LastName:       aff.LastName,
		Email:          aff.Email,
		Phone:          aff.Phone,
		Company:        aff.Company,
		ReferralSource: aff.ReferralSource,
		SiteURL:        s.siteURL,
		SubmittedAt:    event.Timestamp.Format(time.RFC3339),
	})
}

// Test fires a sample payload at the given URL so admins can verify their
// webhook configuration before enabling the relay.
func (s *ZapierService) Test(ctx context.Context, url string) error {
	if url == "" {
		url = s.cfg.WebhookURL
	}
	if url == "" {
		return fmt.Errorf("no webhook url configured")
	}
	sample := zapierRegistrationPayload{
		Event:          string(events.TypeRegistrationCreated),
		RegistrationID: models.IDPrefix + "000",
		FirstName:      "Test",
		LastName:       "Student",
		Email:          "test@example.com",
		Phone:          "555-0100",
		ClassName:      "Webhook Test",
		SubmittedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	return s.deliver(ctx, url, sample)
}

func (s *ZapierService) post(ctx context.Context, registrationID string, payload any) error {
	err := s.deliver(ctx, s.cfg.WebhookURL, payload)
	if s.metrics != nil {
		s.metrics.ObserveWebhookDelivery(err == nil)
	}
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("registration_id", registrationID), zap.Error(err))
		return err
	}
	s.logger.Info("webhook delivered", zap.String("registration_id", registrationID))
	return nil
}

func (s *ZapierService) deliver(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
