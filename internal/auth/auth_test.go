package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Sign(&User{ID: "alice", Role: "approver", TenantID: "t1"}, time.Minute)
	require.NoError(t, err)

	u, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "alice", Role: "approver", TenantID: "t1"}, u)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	expired, err := v.Sign(&User{ID: "alice", Role: "approver", TenantID: "t1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))

	other, err := NewVerifier("other").Sign(&User{ID: "alice", TenantID: "t1"}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(other)
	assert.Error(t, err)

	noTenant, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = v.Verify(noTenant)
	assert.Error(t, err)
}

func TestUserContext(t *testing.T) {
	_, err := GetUserContext(context.Background())
	assert.Error(t, err)

	ctx := WithUser(context.Background(), &User{ID: "bob"})
	u, err := GetUserContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", u.ID)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}
