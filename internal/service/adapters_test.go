package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/layout"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/permission"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

func newRegistry(t *testing.T, f *fixture) *AdapterRegistry {
	t.Helper()
	log := logger.Nop()
	perms := permission.NewResolver(f.store, time.Second, log)
	layouts, err := layout.NewResolver(f.store, perms, time.Second, log)
	require.NoError(t, err)
	return NewAdapterRegistry(DefaultAdapters(f.machine, layouts)...)
}

func TestAdapterRegistry_View(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveFieldPermission(ctx, &repository.FieldPermission{
		TenantID: "t1", Role: "approver", EntityType: "vendor", Stage: repository.StageWildcard, Visible: true,
	}))
	a, _ := f.completed(t, 1)
	registry := newRegistry(t, f)

	view, err := registry.View(ctx, carol, string(workflow.SourceAssessmentAssignment), a.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StagePendingApproval, view.Detail.Stage)
	assert.Equal(t, workflow.LayoutApprover, view.View.LayoutType)
	assert.Equal(t, layout.SourceDefault, view.View.Source)
	assert.NotEmpty(t, view.View.Sections)
	assert.Equal(t, 1, view.Detail.Assignment.Summary.Pending)
}

func TestAdapterRegistry_SourceTypeMismatch(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, 1, nil)
	registry := newRegistry(t, f)

	_, err := registry.View(context.Background(), alice, string(workflow.SourceApprovalStep), a.ID)
	assert.True(t, errors.IsNotFound(err))

	_, err = registry.View(context.Background(), alice, "invoice", a.ID)
	assert.True(t, errors.IsValidation(err))
}

func TestAdapter_Decide(t *testing.T) {
	f := newFixture(t)
	a, questions := f.completed(t, 1)
	f.reviewAll(t, carol, a, questions, workflow.ReviewPass)
	registry := newRegistry(t, f)

	adapter, err := registry.For(string(workflow.SourceAssessmentAssignment))
	require.NoError(t, err)
	res, err := adapter.Decide(context.Background(), carol, a.ID, workflow.DecisionDenied, nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRejected, res.Assignment.Status)
}

func TestAdapterRegistry_DecideRoutesBySourceType(t *testing.T) {
	f := newFixture(t)
	a, questions := f.completed(t, 1)
	f.reviewAll(t, carol, a, questions, workflow.ReviewPass)
	registry := newRegistry(t, f)
	ctx := context.Background()

	_, err := registry.Decide(ctx, carol, DecideRequest{AssignmentID: a.ID, SourceType: "invoice", Decision: "accepted"})
	assert.True(t, errors.IsValidation(err), err)

	_, err = registry.Decide(ctx, carol, DecideRequest{AssignmentID: a.ID, SourceType: string(workflow.SourceAssessmentAssignment), Decision: "maybe"})
	assert.True(t, errors.IsValidation(err), err)

	_, err = registry.Decide(ctx, carol, DecideRequest{AssignmentID: a.ID, SourceType: string(workflow.SourceApprovalStep), Decision: "accepted"})
	assert.True(t, errors.IsNotFound(err), err)

	res, err := registry.Decide(ctx, carol, DecideRequest{AssignmentID: a.ID, SourceType: string(workflow.SourceAssessmentAssignment), Decision: "accepted"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusApproved, res.Assignment.Status)
}
