package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

const sample = `
users:
  - id: alice
    tenant_id: t1
    role: submitter
    active: true
layouts:
  - tenant_id: t1
    request_type: vendor_onboarding
    entity_type: vendor
    layout_type: approver
    is_active: true
    tabs:
      - {id: overview, label: Overview, order: 1}
    sections:
      - id: security
        tab_id: overview
        title: Security
        order: 1
        fields:
          - {id: encryption_at_rest, label: Encryption at rest}
permissions:
  - tenant_id: t1
    role: approver
    entity_type: vendor
    visible: true
`

func TestImport(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	res, err := Import(ctx, strings.NewReader(sample), store)
	require.NoError(t, err)
	assert.Equal(t, &Result{Layouts: 1, Permissions: 1, Users: 1}, res)

	u, err := store.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.Active)

	l, err := store.FindActiveLayoutByType(ctx, "t1", "vendor_onboarding", workflow.LayoutApprover)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.NotEmpty(t, l.ID)
	require.Len(t, l.Sections, 1)
	assert.Equal(t, "encryption_at_rest", l.Sections[0].Fields[0].ID)

	perms, err := store.ListFieldPermissions(ctx, "t1", "approver", "vendor")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, repository.StageWildcard, perms[0].Stage)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown field":   "widgets: []",
		"user without id": "users: [{tenant_id: t1}]",
		"both selectors":  "layouts: [{tenant_id: t1, request_type: r, layout_type: approver, workflow_stage: new}]",
		"bad layout type": "layouts: [{tenant_id: t1, request_type: r, layout_type: sideways}]",
		"bad stage":       "permissions: [{tenant_id: t1, role: approver, entity_type: vendor, stage: limbo}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	doc, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, doc.Users)
}
