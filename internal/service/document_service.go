package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/pkg/config"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
	"github.com/sst-nyc/registration-api/pkg/storage"
)

type documentStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	Exists(filename string) bool
}

type documentRegistrationLookup interface {
	FindByRegistrationID(ctx context.Context, registrationID string) (*models.Registration, error)
}

// DocumentService validates, stores and serves registration card uploads.
type DocumentService struct {
	store  documentStore
	repo   documentRegistrationLookup
	signer *storage.SignedURLSigner
	cfg    config.UploadsConfig
	logger *zap.Logger
}

// NewDocumentService constructs DocumentService.
func NewDocumentService(store documentStore, repo documentRegistrationLookup, signer *storage.SignedURLSigner,
	cfg config.UploadsConfig, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{store: store, repo: repo, signer: signer, cfg: cfg, logger: logger}
}

// Save validates and persists an uploaded card file, returning the stored
// relative filename. Validation failures come back as file validation
// errors so callers can degrade to a registration without the document.
func (s *DocumentService) Save(kind models.DocumentKind, header *multipart.FileHeader) (string, error) {
	if header == nil {
		return "", nil
	}
	if header.Size > s.cfg.MaxFileSizeBytes {
		return "", appErrors.Wrap(nil, appErrors.ErrFileValidation.Code, appErrors.ErrFileValidation.Status,
			fmt.Sprintf("file exceeds maximum size of %d bytes", s.cfg.MaxFileSizeBytes))
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !contains(s.cfg.AllowedExtensions, ext) {
		return "", appErrors.Wrap(nil, appErrors.ErrFileValidation.Code, appErrors.ErrFileValidation.Status,
			fmt.Sprintf("file extension %q is not allowed", ext))
	}

	file, err := header.Open()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrFileValidation.Code, appErrors.ErrFileValidation.Status, "failed to open upload")
	}
	defer file.Close() //nolint:errcheck

	sniff := make([]byte, 512)
	n, err := file.Read(sniff)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrFileValidation.Code, appErrors.ErrFileValidation.Status, "failed to read upload")
	}
	contentType := http.DetectContentType(sniff[:n])
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if !contains(s.cfg.AllowedMIMEs, contentType) {
		return "", appErrors.Wrap(nil, appErrors.ErrFileValidation.Code, appErrors.ErrFileValidation.Status,
			fmt.Sprintf("file type %q is not allowed", contentType))
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrFileValidation.Code, appErrors.ErrFileValidation.Status, "failed to rewind upload")
	}

	filename := fmt.Sprintf("%s_%s_%d.%s", kind, randomHex(8), time.Now().Unix(), ext)
	stored, err := s.store.SaveStream(filename, file)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrFileValidation.Code, appErrors.ErrFileValidation.Status, "failed to store upload")
	}
	s.logger.Info("document stored", zap.String("kind", string(kind)), zap.String("filename", stored))
	return stored, nil
}

// SignedToken issues a download token for one of the registration's
// documents, verifying that the document actually belongs to it.
func (s *DocumentService) SignedToken(ctx context.Context, registrationID string, kind models.DocumentKind) (string, time.Time, error) {
	reg, err := s.repo.FindByRegistrationID(ctx, registrationID)
	if err != nil {
		return "", time.Time{}, appErrors.ErrNotFound
	}
	relPath := documentPath(reg, kind)
	if relPath == "" {
		return "", time.Time{}, appErrors.ErrNotFound
	}
	token, expiresAt, err := s.signer.Generate(registrationID, relPath)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}
	return token, expiresAt, nil
}

// OpenByToken validates a download token, re-checks ownership against the
// current row and returns a handle plus the content type to serve.
func (s *DocumentService) OpenByToken(ctx context.Context, token string) (*os.File, string, error) {
	registrationID, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}

	reg, err := s.repo.FindByRegistrationID(ctx, registrationID)
	if err != nil {
		return nil, "", appErrors.ErrNotFound
	}
	if relPath != reg.OSHACardPath && relPath != reg.SSTCardPath {
		return nil, "", appErrors.ErrNotFound
	}

	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.ErrNotFound
	}

	sniff := make([]byte, 512)
	n, _ := file.Read(sniff)
	contentType := http.DetectContentType(sniff[:n])
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if !contains(s.cfg.AllowedMIMEs, contentType) {
		file.Close() //nolint:errcheck
		s.logger.Warn("stored document failed type re-check", zap.String("filename", relPath))
		return nil, "", appErrors.ErrNotFound
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close() //nolint:errcheck
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewind document")
	}
	return file, contentType, nil
}

// Remove deletes a stored document file.
func (s *DocumentService) Remove(filename string) error {
	return s.store.Delete(filename)
}

func documentPath(reg *models.Registration, kind models.DocumentKind) string {
	switch kind {
	case models.DocumentOSHACard:
		return reg.OSHACardPath
	case models.DocumentSSTCard:
		return reg.SSTCardPath
	default:
		return ""
	}
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
