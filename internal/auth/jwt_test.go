package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvcast/pvcast/internal/auth"
)

func newService(key string) *auth.TokenService {
	return auth.NewTokenService(auth.TokenConfig{SigningKey: key})
}

func TestTokenService_IssueAndValidate(t *testing.T) {
	svc := newService("test-secret-key-for-testing-only")

	token, expiresAt, err := svc.Issue("dashboard", []string{auth.ScopeForecastRead}, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.Equal(t, "pvcast", claims.Issuer)
	assert.True(t, claims.HasScope(auth.ScopeForecastRead))
	assert.False(t, claims.HasScope(auth.ScopeAdmin))
	assert.NotEmpty(t, claims.ID)
}

func TestTokenService_DefaultTTL(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := auth.NewTokenService(auth.TokenConfig{SigningKey: "k", Now: func() time.Time { return now }})

	_, expiresAt, err := svc.Issue("ha", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(auth.DefaultTokenTTL), expiresAt)
}

func TestTokenService_MissingSubject(t *testing.T) {
	_, _, err := newService("k").Issue("", nil, time.Hour)
	assert.ErrorIs(t, err, auth.ErrMissingSubject)
}

func TestClaims_AdminImpliesAll(t *testing.T) {
	c := &auth.Claims{Scopes: []string{auth.ScopeAdmin}}
	assert.True(t, c.HasScope(auth.ScopeForecastRead))
	assert.True(t, c.HasScope("anything"))
}

func TestTokenService_InvalidToken(t *testing.T) {
	svc := newService("test-secret-key-for-testing-only")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestTokenService_WrongSigningKey(t *testing.T) {
	token, _, err := newService("key-one").Issue("dashboard", nil, time.Hour)
	require.NoError(t, err)

	_, err = newService("key-two").Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_Expired(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	issuer := auth.NewTokenService(auth.TokenConfig{SigningKey: "k", Now: func() time.Time { return issued }})

	token, _, err := issuer.Issue("dashboard", nil, time.Hour)
	require.NoError(t, err)

	_, err = newService("k").Validate(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_WrongAudience(t *testing.T) {
	other := auth.NewTokenService(auth.TokenConfig{SigningKey: "k", Audience: "other-api"})
	token, _, err := other.Issue("dashboard", nil, time.Hour)
	require.NoError(t, err)

	_, err = newService("k").Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestTokenService_RejectsNoneAlgorithm(t *testing.T) {
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "pvcast",
		Subject:   "dashboard",
		Audience:  jwt.ClaimStrings{"pvcast-api"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newService("k").Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
