package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvcast/pvcast/internal/api/middleware"
	"github.com/pvcast/pvcast/internal/auth"
)

const testSigningKey = "test-secret-key-for-testing-only"

func testTokens() *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{SigningKey: testSigningKey})
}

func issue(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	token, _, err := testTokens().Issue(subject, scopes, time.Hour)
	require.NoError(t, err)
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_MissingAuthorizationHeader(t *testing.T) {
	handler := middleware.Auth(testTokens(), auth.ScopeForecastRead)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing authorization header")
	assert.Equal(t, `Bearer realm="pvcast"`, rec.Header().Get("WWW-Authenticate"))
}

func TestAuth_InvalidAuthorizationFormat(t *testing.T) {
	handler := middleware.Auth(testTokens(), "")(okHandler())

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"just bearer", "Bearer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	handler := middleware.Auth(testTokens(), "")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer invalid.jwt.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid access token")
}

func TestAuth_ExpiredToken(t *testing.T) {
	past := auth.NewTokenService(auth.TokenConfig{
		SigningKey: testSigningKey,
		Now:        func() time.Time { return time.Now().Add(-3 * time.Hour) },
	})
	token, _, err := past.Issue("dashboard", nil, time.Hour)
	require.NoError(t, err)

	handler := middleware.Auth(testTokens(), "")(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestAuth_ValidToken(t *testing.T) {
	token := issue(t, "dashboard", auth.ScopeForecastRead)

	var subject string
	handler := middleware.Auth(testTokens(), auth.ScopeForecastRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = middleware.GetSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dashboard", subject)
}

func TestAuth_InsufficientScope(t *testing.T) {
	token := issue(t, "dashboard", auth.ScopeForecastRead)
	handler := middleware.Auth(testTokens(), auth.ScopeAdmin)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/test", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "admin")
}

func TestAuth_CaseInsensitiveBearer(t *testing.T) {
	token := issue(t, "dashboard", auth.ScopeAdmin)
	handler := middleware.Auth(testTokens(), auth.ScopeForecastRead)(okHandler())

	for _, prefix := range []string{"Bearer ", "bearer ", "BEARER "} {
		t.Run(prefix, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			req.Header.Set("Authorization", prefix+token)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestGetClaims_NoAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	assert.Nil(t, middleware.GetClaims(req.Context()))
	assert.Empty(t, middleware.GetSubject(req.Context()))
}
