package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeEnforce, m)

	m, err = ParseMode("Shadow")
	require.NoError(t, err)
	assert.Equal(t, ModeShadow, m)

	_, err = ParseMode("nope")
	assert.Error(t, err)
}

func TestParseMode_DisabledRequiresUnsafe(t *testing.T) {
	t.Setenv("AUTHZ_UNSAFE_ALLOW_DISABLED", "")
	_, err := ParseMode("disabled")
	require.Error(t, err)

	t.Setenv("AUTHZ_UNSAFE_ALLOW_DISABLED", "1")
	m, err := ParseMode("disabled")
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, m)
}

func TestDefaultPolicy(t *testing.T) {
	a, err := NewAuthorizer("", "", ModeEnforce)
	require.NoError(t, err)

	cases := []struct {
		role, obj, act string
		want           bool
	}{
		{"approver", "approver", "decide", true},
		{"approver", "approver", "review", true},
		{"reviewer", "approver", "review", true},
		{"reviewer", "approver", "decide", false},
		{"submitter", "approver", "review", false},
		{"submitter", "submission", "submit", true},
		{"approver", "completed", "review", false},
		{"tenant-admin", "completed", "forward", true},
		{"", "approver", "review", false},
	}
	for _, tc := range cases {
		allowed, enforced, err := a.Authorize(SubjectFromRole(tc.role), "t1", tc.obj, tc.act)
		require.NoError(t, err)
		assert.True(t, enforced)
		assert.Equal(t, tc.want, allowed, "%s %s %s", tc.role, tc.obj, tc.act)
	}
}

func TestShadowAndDisabledModes(t *testing.T) {
	shadow, err := NewAuthorizer("", "", ModeShadow)
	require.NoError(t, err)
	allowed, enforced, err := shadow.Authorize(SubjectFromRole("submitter"), "t1", "approver", "decide")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.False(t, enforced)

	disabled, err := NewAuthorizer("", "", ModeDisabled)
	require.NoError(t, err)
	allowed, enforced, err = disabled.Authorize(SubjectFromRole("submitter"), "t1", "approver", "decide")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.False(t, enforced)
}

func TestNewAuthorizer_FromFiles(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.conf")
	policyPath := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(modelPath, []byte(defaultModel), 0o644))
	require.NoError(t, os.WriteFile(policyPath, []byte("p, role:auditor, t1, completed, review\n"), 0o644))

	a, err := NewAuthorizer(modelPath, policyPath, ModeEnforce)
	require.NoError(t, err)

	allowed, _, err := a.Authorize(SubjectFromRole("auditor"), DomainFromTenantID(" T1 "), "completed", "review")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = a.Authorize(SubjectFromRole("auditor"), "t2", "completed", "review")
	require.NoError(t, err)
	assert.False(t, allowed)
}
