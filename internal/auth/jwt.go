// Package auth verifies the HS256 bearer tokens that carry a caller's project key
// and issues them for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/uilm/uilm-service/internal/tenant"
)

// DefaultTenantClaim is the claim holding the project key when none is configured.
const DefaultTenantClaim = "project_key"

var (
	// ErrInvalidToken is returned for malformed, expired or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoTenantClaim is returned for a valid token without a project key.
	ErrNoTenantClaim = errors.New("token carries no project key")
)

// TokenVerifier validates bearer tokens with a shared secret.
type TokenVerifier struct {
	secret      []byte
	issuer      string
	tenantClaim string
}

// NewTokenVerifier creates a verifier. An empty issuer accepts any issuer.
func NewTokenVerifier(secret, issuer, tenantClaim string) (*TokenVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters")
	}
	if tenantClaim == "" {
		tenantClaim = DefaultTenantClaim
	}
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, tenantClaim: tenantClaim}, nil
}

// Verify parses token and returns the tenant it names. The actor is the
// token subject.
func (v *TokenVerifier) Verify(token string) (tenant.Tenant, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return tenant.Tenant{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	projectKey, _ := claims[v.tenantClaim].(string)
	if projectKey == "" {
		return tenant.Tenant{}, ErrNoTenantClaim
	}
	subject, _ := claims.GetSubject()
	return tenant.New(projectKey, subject), nil
}

// Sign issues a token for t that expires after ttl (one hour when zero).
func (v *TokenVerifier) Sign(t tenant.Tenant, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		v.tenantClaim: t.ProjectKey,
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	}
	if t.Actor != "" {
		claims["sub"] = t.Actor
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
