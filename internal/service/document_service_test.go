package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/pkg/config"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
	"github.com/sst-nyc/registration-api/pkg/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("x", 64))

func uploadsConfig() config.UploadsConfig {
	return config.UploadsConfig{
		MaxFileSizeBytes:  5 * 1024 * 1024,
		AllowedExtensions: []string{"jpg", "jpeg", "png", "pdf"},
		AllowedMIMEs:      []string{"image/jpeg", "image/png", "application/pdf"},
		SignedURLSecret:   "test-secret",
		SignedURLTTL:      time.Minute,
	}
}

type mockDocRegLookup struct {
	registrations map[string]models.Registration
}

func (m *mockDocRegLookup) FindByRegistrationID(ctx context.Context, registrationID string) (*models.Registration, error) {
	if reg, ok := m.registrations[registrationID]; ok {
		return &reg, nil
	}
	return nil, sql.ErrNoRows
}

func fileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("upload", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(body, writer.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	headers := form.File["upload"]
	require.Len(t, headers, 1)
	return headers[0]
}

func newDocumentService(t *testing.T, lookup *mockDocRegLookup) (*DocumentService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	cfg := uploadsConfig()
	signer := storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL)
	if lookup == nil {
		lookup = &mockDocRegLookup{}
	}
	return NewDocumentService(store, lookup, signer, cfg, zap.NewNop()), store
}

func TestDocumentServiceSaveValidPNG(t *testing.T) {
	svc, store := newDocumentService(t, nil)

	stored, err := svc.Save(models.DocumentOSHACard, fileHeader(t, "card.png", pngBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "osha_"))
	assert.True(t, strings.HasSuffix(stored, ".png"))
	assert.True(t, store.Exists(stored))

	file, err := store.Open(stored)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestDocumentServiceSaveRejectsExtension(t *testing.T) {
	svc, _ := newDocumentService(t, nil)

	_, err := svc.Save(models.DocumentOSHACard, fileHeader(t, "payload.exe", pngBytes))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrFileValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "exe")
}

func TestDocumentServiceSaveRejectsSpoofedContent(t *testing.T) {
	svc, _ := newDocumentService(t, nil)

	// Plain text wearing a .jpg extension fails the content sniff.
	_, err := svc.Save(models.DocumentSSTCard, fileHeader(t, "card.jpg", []byte("just some text pretending to be an image")))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFileValidation.Code, appErrors.FromError(err).Code)
}

func TestDocumentServiceSaveRejectsOversize(t *testing.T) {
	svc, _ := newDocumentService(t, nil)
	header := fileHeader(t, "card.png", pngBytes)
	header.Size = 6 * 1024 * 1024

	_, err := svc.Save(models.DocumentOSHACard, header)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFileValidation.Code, appErrors.FromError(err).Code)
}

func TestDocumentServiceSignedTokenRoundTrip(t *testing.T) {
	lookup := &mockDocRegLookup{registrations: map[string]models.Registration{}}
	svc, store := newDocumentService(t, lookup)

	stored, err := svc.Save(models.DocumentOSHACard, fileHeader(t, "card.png", pngBytes))
	require.NoError(t, err)
	require.True(t, store.Exists(stored))
	lookup.registrations["REG-001"] = models.Registration{RegistrationID: "REG-001", OSHACardPath: stored}

	token, expiresAt, err := svc.SignedToken(context.Background(), "REG-001", models.DocumentOSHACard)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	file, contentType, err := svc.OpenByToken(context.Background(), token)
	require.NoError(t, err)
	defer file.Close() //nolint:errcheck
	assert.Equal(t, "image/png", contentType)
}

func TestDocumentServiceSignedTokenMissingDocument(t *testing.T) {
	lookup := &mockDocRegLookup{registrations: map[string]models.Registration{
		"REG-002": {RegistrationID: "REG-002"},
	}}
	svc, _ := newDocumentService(t, lookup)

	_, _, err := svc.SignedToken(context.Background(), "REG-002", models.DocumentOSHACard)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDocumentServiceOpenByTokenOwnershipRecheck(t *testing.T) {
	lookup := &mockDocRegLookup{registrations: map[string]models.Registration{}}
	svc, _ := newDocumentService(t, lookup)

	stored, err := svc.Save(models.DocumentOSHACard, fileHeader(t, "card.png", pngBytes))
	require.NoError(t, err)
	lookup.registrations["REG-003"] = models.Registration{RegistrationID: "REG-003", OSHACardPath: stored}

	token, _, err := svc.SignedToken(context.Background(), "REG-003", models.DocumentOSHACard)
	require.NoError(t, err)

	// Document unlinked after the token was issued: the download must fail.
	lookup.registrations["REG-003"] = models.Registration{RegistrationID: "REG-003"}
	_, _, err = svc.OpenByToken(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDocumentServiceOpenByTokenTampered(t *testing.T) {
	svc, _ := newDocumentService(t, nil)

	_, _, err := svc.OpenByToken(context.Background(), "REG-001.9999999999.cGF0aA.deadbeef")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
