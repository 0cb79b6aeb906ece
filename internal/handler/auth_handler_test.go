package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sst-nyc/registration-api/internal/middleware"
	"github.com/sst-nyc/registration-api/internal/models"
	"github.com/sst-nyc/registration-api/internal/service"
	"github.com/sst-nyc/registration-api/pkg/config"
)

type fakeAuthRepo struct {
	users map[string]*models.User
}

func (f *fakeAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func authFixture(t *testing.T) (*AuthHandler, *service.AuthService) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret!"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &fakeAuthRepo{users: map[string]*models.User{
		"admin@sst.nyc": {
			ID:           "admin-1",
			Email:        "admin@sst.nyc",
			Username:     "admin",
			PasswordHash: string(hash),
			Role:         models.RoleAdmin,
			Active:       true,
		},
	}}
	auth := service.NewAuthService(repo, config.JWTConfig{Secret: "test-secret", Expiration: time.Hour}, zap.NewNop())
	return NewAuthHandler(auth), auth
}

func TestAuthHandlerLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := authFixture(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"admin@sst.nyc","password":"s3cret!"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Login(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data["access_token"])
}

func TestAuthHandlerLoginBadCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _ := authFixture(t)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"admin@sst.nyc","password":"nope"}`))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.Login(c)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddlewareProtectsAdminRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, auth := authFixture(t)

	r := gin.New()
	r.POST("/auth/login", handler.Login)
	r.GET("/auth/me", middleware.JWT(auth), handler.Me)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	login := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"admin@sst.nyc","password":"s3cret!"}`))
	login.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, login)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	token := resp.Data["access_token"].(string)

	rec = httptest.NewRecorder()
	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(rec, me)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "admin-1", resp.Data["id"])
}
