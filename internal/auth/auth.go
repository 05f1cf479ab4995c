// Package auth resolves the calling user from a bearer token. Tokens are
// issued elsewhere; this package only verifies them.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
)

// User is the resolved identity of the caller.
type User struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
}

// Claims is the token payload.
type Claims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

type contextKey struct{}

// WithUser stores u on the context.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, contextKey{}, u)
}

// GetUserContext returns the user stored by WithUser.
func GetUserContext(ctx context.Context) (*User, error) {
	u, ok := ctx.Value(contextKey{}).(*User)
	if !ok || u == nil {
		return nil, errors.New(errors.ErrCodeUnauthorized, "no authenticated user in context")
	}
	return u, nil
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates a token and returns the identity it carries.
func (v *Verifier) Verify(token string) (*User, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid or expired token")
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "token is missing sub or tenant_id")
	}
	return &User{ID: claims.Subject, Role: claims.Role, TenantID: claims.TenantID}, nil
}

// Sign issues a token for u. Used by tests and local tooling.
func (v *Verifier) Sign(u *User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:     u.Role,
		TenantID: u.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
