package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/internal/service"
	"github.com/sst-nyc/registration-api/pkg/config"
	"github.com/sst-nyc/registration-api/pkg/storage"
)

type fakeRegistrationRepo struct {
	registrations map[string]models.Registration
}

func (f *fakeRegistrationRepo) Create(ctx context.Context, reg *models.Registration) error {
	if f.registrations == nil {
		f.registrations = make(map[string]models.Registration)
	}
	f.registrations[reg.RegistrationID] = *reg
	return nil
}

func (f *fakeRegistrationRepo) FindByRegistrationID(ctx context.Context, registrationID string) (*models.Registration, error) {
	if reg, ok := f.registrations[registrationID]; ok {
		return &reg, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeRegistrationRepo) FindLatestByEmail(ctx context.Context, email string) (*models.Registration, error) {
	return nil, sql.ErrNoRows
}

func (f *fakeRegistrationRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]models.Registration, int, error) {
	var list []models.Registration
	for _, reg := range f.registrations {
		list = append(list, reg)
	}
	return list, len(list), nil
}

func (f *fakeRegistrationRepo) UpdateStatus(ctx context.Context, registrationID string, status models.RegistrationStatus, processedBy *string) error {
	reg, ok := f.registrations[registrationID]
	if !ok {
		return sql.ErrNoRows
	}
	reg.Status = status
	f.registrations[registrationID] = reg
	return nil
}

func (f *fakeRegistrationRepo) UpdateEnrollment(ctx context.Context, registrationID string, status models.EnrollmentStatus, userID *string, note string) error {
	reg, ok := f.registrations[registrationID]
	if !ok {
		return sql.ErrNoRows
	}
	reg.EnrollmentStatus = status
	reg.UserID = userID
	f.registrations[registrationID] = reg
	return nil
}

func (f *fakeRegistrationRepo) UpdateNotes(ctx context.Context, registrationID, notes string) error {
	reg, ok := f.registrations[registrationID]
	if !ok {
		return sql.ErrNoRows
	}
	reg.Notes = notes
	f.registrations[registrationID] = reg
	return nil
}

func (f *fakeRegistrationRepo) Delete(ctx context.Context, registrationID string) error {
	if _, ok := f.registrations[registrationID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.registrations, registrationID)
	return nil
}

func (f *fakeRegistrationRepo) Counts(ctx context.Context) (*models.RegistrationCounts, error) {
	return &models.RegistrationCounts{Total: len(f.registrations)}, nil
}

type fakeAllocator struct{ next string }

func (f *fakeAllocator) NextRegistrationID(ctx context.Context) (string, error) {
	return f.next, nil
}

type fakeUserRepo struct{}

func (f *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return nil, sql.ErrNoRows
}
func (f *fakeUserRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	return false, nil
}
func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	user.ID = "user-new"
	return nil
}
func (f *fakeUserRepo) UpdateContact(ctx context.Context, id, phone, sstNumber string) error {
	return nil
}

type envelope struct {
	Data  map[string]interface{} `json:"data"`
	Error map[string]interface{} `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func newIntakeHandler(t *testing.T, repo *fakeRegistrationRepo) *RegistrationHandler {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	uploads := config.UploadsConfig{
		MaxFileSizeBytes:  5 * 1024 * 1024,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "pdf"},
		AllowedMIMEs:      []string{"image/jpeg", "image/png", "application/pdf"},
		SignedURLSecret:   "test-secret",
	}
	signer := storage.NewSignedURLSigner(uploads.SignedURLSecret, 0)
	documents := service.NewDocumentService(store, repo, signer, uploads, zap.NewNop())
	registrations := service.NewRegistrationService(repo, &fakeAllocator{next: "REG-001"}, documents,
		nil, nil, validator.New(), zap.NewNop(), nil)
	enrollments := service.NewEnrollmentService(&fakeUserRepo{}, repo, nil, nil, zap.NewNop())
	return NewRegistrationHandler(registrations, documents, enrollments, zap.NewNop())
}

func intakeForm(t *testing.T, fields map[string]string, fileField, filename string, fileContent []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = part.Write(fileContent)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func validFields() map[string]string {
	return map[string]string{
		"first_name": "Jane",
		"last_name":  "Doe",
		"email":      "jane.doe@example.com",
		"phone":      "555-0101",
		"class_name": "SST 40 Hour Worker Training",
	}
}

func TestRegistrationHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeRegistrationRepo{}
	handler := newIntakeHandler(t, repo)

	body, contentType := intakeForm(t, validFields(), "", "", nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/registrations", body)
	c.Request.Header.Set("Content-Type", contentType)

	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "REG-001", resp.Data["registration_id"])
	assert.Equal(t, "new", resp.Data["status"])
	assert.Nil(t, resp.Meta)
}

func TestRegistrationHandlerCreateInvalidEmail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newIntakeHandler(t, &fakeRegistrationRepo{})

	fields := validFields()
	fields["email"] = "not-an-email"
	body, contentType := intakeForm(t, fields, "", "", nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/registrations", body)
	c.Request.Header.Set("Content-Type", contentType)

	handler.Create(c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error["message"], "email")
}

func TestRegistrationHandlerCreateRejectedFileStillRegisters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeRegistrationRepo{}
	handler := newIntakeHandler(t, repo)

	body, contentType := intakeForm(t, validFields(), "osha_card", "payload.exe", []byte("MZ fake binary"))
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/registrations", body)
	c.Request.Header.Set("Content-Type", contentType)

	handler.Create(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "REG-001", resp.Data["registration_id"])
	require.NotNil(t, resp.Meta)
	warnings, ok := resp.Meta["warnings"].([]interface{})
	require.True(t, ok)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "osha_card")

	stored := repo.registrations["REG-001"]
	assert.Empty(t, stored.OSHACardPath)
}

func TestRegistrationHandlerUpdateStatusInvalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newIntakeHandler(t, &fakeRegistrationRepo{registrations: map[string]models.Registration{
		"REG-001": {RegistrationID: "REG-001"},
	}})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: "REG-001"}}
	c.Request = httptest.NewRequest(http.MethodPut, "/admin/registrations/REG-001/status",
		strings.NewReader(`{"status":"archived"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.UpdateStatus(c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegistrationHandlerGetMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newIntakeHandler(t, &fakeRegistrationRepo{})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: "REG-404"}}
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/registrations/REG-404", nil)

	handler.Get(c)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegistrationHandlerRetryEnrollment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := &fakeRegistrationRepo{registrations: map[string]models.Registration{
		"REG-009": {
			RegistrationID:   "REG-009",
			FirstName:        "Jane",
			LastName:         "Doe",
			Email:            "jane.doe@example.com",
			Phone:            "555-0101",
			ClassName:        "SST 40 Hour Worker Training",
			EnrollmentStatus: models.EnrollmentStatusFailed,
		},
	}}
	handler := newIntakeHandler(t, repo)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = gin.Params{{Key: "id", Value: "REG-009"}}
	c.Request = httptest.NewRequest(http.MethodPost, "/admin/registrations/REG-009/enroll", nil)

	handler.RetryEnrollment(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-new", resp.Data["user_id"])
	assert.Equal(t, models.EnrollmentStatusRegistered, repo.registrations["REG-009"].EnrollmentStatus)
}
