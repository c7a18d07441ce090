// Package auth issues and validates the bearer tokens that protect the
// forecast API.
//
// Tokens are HS256 JWTs carrying a subject (the client, e.g. a dashboard or
// a home automation integration) and a list of scopes. There is no user
// database: whoever holds the signing key can mint tokens with cmd/token.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes granted to API clients.
const (
	// ScopeForecastRead allows reading plants, forecasts and energy.
	ScopeForecastRead = "forecast:read"

	// ScopeAdmin allows operational actions such as triggering a refresh.
	ScopeAdmin = "admin"
)

// DefaultTokenTTL is the lifetime of a token when none is requested.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Token errors.
var (
	ErrInvalidToken      = errors.New("invalid access token")
	ErrTokenExpired      = errors.New("access token has expired")
	ErrInsufficientScope = errors.New("insufficient scope")
	ErrMissingSubject    = errors.New("token subject is required")
)

// Claims are the claims carried by API tokens.
type Claims struct {
	jwt.RegisteredClaims

	Scopes []string `json:"scp,omitempty"`
}

// HasScope reports whether the token grants scope. Admin implies every scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope) || slices.Contains(c.Scopes, ScopeAdmin)
}

// TokenService creates and validates API tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

// TokenConfig holds configuration for the token service.
type TokenConfig struct {
	// SigningKey is the secret key used to sign tokens.
	SigningKey string

	// Issuer is the issuer claim (default: "pvcast").
	Issuer string

	// Audience is the audience claim (default: "pvcast-api").
	Audience string

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "pvcast"
	}
	audience := cfg.Audience
	if audience == "" {
		audience = "pvcast-api"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     issuer,
		audience:   audience,
		now:        now,
	}
}

// Issue creates a token for subject with the given scopes. A non-positive
// ttl uses DefaultTokenTTL.
func (s *TokenService) Issue(subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, ErrMissingSubject
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        generateTokenID(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate parses and validates a token and returns its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingSubject)
	}

	return claims, nil
}

// generateTokenID generates a unique token ID.
func generateTokenID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
