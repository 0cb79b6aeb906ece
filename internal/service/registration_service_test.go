package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/events"
	"github.com/sst-nyc/registration-api/internal/models"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
)

type mockRegistrationRepo struct {
	registrations map[string]models.Registration
	created       *models.Registration
	statusUpdates map[string]models.RegistrationStatus
	notes         map[string]string
	deleted       []string
}

func (m *mockRegistrationRepo) Create(ctx context.Context, reg *models.Registration) error {
	if m.registrations == nil {
		m.registrations = make(map[string]models.Registration)
	}
	m.registrations[reg.RegistrationID] = *reg
	m.created = reg
	return nil
}

func (m *mockRegistrationRepo) FindByRegistrationID(ctx context.Context, registrationID string) (*models.Registration, error) {
	if reg, ok := m.registrations[registrationID]; ok {
		return &reg, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) FindLatestByEmail(ctx context.Context, email string) (*models.Registration, error) {
	for _, reg := range m.registrations {
		if reg.Email == email {
			r := reg
			return &r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]models.Registration, int, error) {
	var list []models.Registration
	for _, reg := range m.registrations {
		list = append(list, reg)
	}
	return list, len(list), nil
}

func (m *mockRegistrationRepo) UpdateStatus(ctx context.Context, registrationID string, status models.RegistrationStatus, processedBy *string) error {
	if _, ok := m.registrations[registrationID]; !ok {
		return sql.ErrNoRows
	}
	if m.statusUpdates == nil {
		m.statusUpdates = make(map[string]models.RegistrationStatus)
	}
	m.statusUpdates[registrationID] = status
	return nil
}

func (m *mockRegistrationRepo) UpdateNotes(ctx context.Context, registrationID, notes string) error {
	if _, ok := m.registrations[registrationID]; !ok {
		return sql.ErrNoRows
	}
	if m.notes == nil {
		m.notes = make(map[string]string)
	}
	m.notes[registrationID] = notes
	return nil
}

func (m *mockRegistrationRepo) Delete(ctx context.Context, registrationID string) error {
	if _, ok := m.registrations[registrationID]; !ok {
		return sql.ErrNoRows
	}
	delete(m.registrations, registrationID)
	m.deleted = append(m.deleted, registrationID)
	return nil
}

func (m *mockRegistrationRepo) Counts(ctx context.Context) (*models.RegistrationCounts, error) {
	return &models.RegistrationCounts{Total: len(m.registrations)}, nil
}

type mockAllocator struct {
	next  string
	calls int
}

func (m *mockAllocator) NextRegistrationID(ctx context.Context) (string, error) {
	m.calls++
	return m.next, nil
}

type mockPublisher struct {
	events []events.Event
}

func (m *mockPublisher) Publish(ctx context.Context, event events.Event) {
	m.events = append(m.events, event)
}

type mockRemover struct {
	removed []string
}

func (m *mockRemover) Remove(filename string) error {
	m.removed = append(m.removed, filename)
	return nil
}

func validInput() models.RegistrationInput {
	return models.RegistrationInput{
		FirstName: "Jane",
		LastName:  "Doe",
		Email:     "jane.doe@example.com",
		Phone:     "555-0101",
		ClassName: "SST 40 Hour Worker Training",
	}
}

func newRegistrationService(repo *mockRegistrationRepo, alloc *mockAllocator, pub *mockPublisher) *RegistrationService {
	return NewRegistrationService(repo, alloc, &mockRemover{}, pub, nil, validator.New(), zap.NewNop(),
		[]string{"SST 40 Hour Worker Training", "SST 62 Hour Supervisor Training"})
}

func TestRegistrationServiceCreate(t *testing.T) {
	repo := &mockRegistrationRepo{}
	alloc := &mockAllocator{next: "REG-001"}
	pub := &mockPublisher{}
	svc := newRegistrationService(repo, alloc, pub)

	reg, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "REG-001", reg.RegistrationID)
	assert.Equal(t, models.RegistrationStatusNew, reg.Status)
	assert.Equal(t, models.EnrollmentStatusPending, reg.EnrollmentStatus)
	require.NotNil(t, repo.created)

	require.Len(t, pub.events, 1)
	assert.Equal(t, events.TypeRegistrationCreated, pub.events[0].Type)
	assert.Equal(t, "REG-001", pub.events[0].RegistrationID)
}

func TestRegistrationServiceCreateSequentialIDs(t *testing.T) {
	repo := &mockRegistrationRepo{}
	alloc := &mockAllocator{next: "REG-001"}
	svc := newRegistrationService(repo, alloc, &mockPublisher{})

	first, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	assert.Equal(t, "REG-001", first.RegistrationID)

	alloc.next = "REG-002"
	input := validInput()
	input.Email = "second@example.com"
	second, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "REG-002", second.RegistrationID)
	assert.Equal(t, 2, alloc.calls)
}

func TestRegistrationServiceGetByEmail(t *testing.T) {
	repo := &mockRegistrationRepo{}
	svc := newRegistrationService(repo, &mockAllocator{next: "REG-001"}, &mockPublisher{})

	_, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	reg, err := svc.GetByEmail(context.Background(), "jane.doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, "REG-001", reg.RegistrationID)

	_, err = svc.GetByEmail(context.Background(), "nobody@example.com")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.GetByEmail(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceCreateInvalidEmail(t *testing.T) {
	repo := &mockRegistrationRepo{}
	alloc := &mockAllocator{next: "REG-001"}
	svc := newRegistrationService(repo, alloc, &mockPublisher{})

	input := validInput()
	input.Email = "not-an-email"
	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "email")

	// No identifier is consumed and nothing is persisted on validation failure.
	assert.Zero(t, alloc.calls)
	assert.Nil(t, repo.created)
}

func TestRegistrationServiceCreateMissingRequired(t *testing.T) {
	svc := newRegistrationService(&mockRegistrationRepo{}, &mockAllocator{next: "REG-001"}, &mockPublisher{})

	input := validInput()
	input.FirstName = "   "
	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, "first_name")
}

func TestRegistrationServiceCreateFieldTooLong(t *testing.T) {
	svc := newRegistrationService(&mockRegistrationRepo{}, &mockAllocator{next: "REG-001"}, &mockPublisher{})

	input := validInput()
	input.Phone = strings.Repeat("5", 21)
	_, err := svc.Create(context.Background(), input)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, "phone")
}

func TestRegistrationServiceCreateUnknownClassAccepted(t *testing.T) {
	repo := &mockRegistrationRepo{}
	svc := newRegistrationService(repo, &mockAllocator{next: "REG-001"}, &mockPublisher{})

	input := validInput()
	input.ClassName = "Evening Refresher"
	reg, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "Evening Refresher", reg.ClassName)
}

func TestRegistrationServiceDeleteRemovesDocuments(t *testing.T) {
	repo := &mockRegistrationRepo{registrations: map[string]models.Registration{
		"REG-007": {
			RegistrationID: "REG-007",
			OSHACardPath:   "osha_abc_1.jpg",
			SSTCardPath:    "sst_def_2.pdf",
		},
	}}
	remover := &mockRemover{}
	svc := NewRegistrationService(repo, &mockAllocator{}, remover, &mockPublisher{}, nil, validator.New(), zap.NewNop(), nil)

	require.NoError(t, svc.Delete(context.Background(), "REG-007"))
	assert.ElementsMatch(t, []string{"osha_abc_1.jpg", "sst_def_2.pdf"}, remover.removed)
	assert.Contains(t, repo.deleted, "REG-007")
}

func TestRegistrationServiceMarkProcessedMissingRow(t *testing.T) {
	svc := newRegistrationService(&mockRegistrationRepo{}, &mockAllocator{}, &mockPublisher{})

	err := svc.MarkProcessed(context.Background(), "REG-404", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRegistrationServiceUpdateNotesTooLong(t *testing.T) {
	svc := newRegistrationService(&mockRegistrationRepo{}, &mockAllocator{}, &mockPublisher{})

	err := svc.UpdateNotes(context.Background(), "REG-001", strings.Repeat("x", 2001))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
