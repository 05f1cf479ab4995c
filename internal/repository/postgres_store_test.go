package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/database"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// openTestDB connects to TEST_DATABASE_URL and applies the schema, skipping
// the test when no database is configured.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres test")
	}
	ctx := context.Background()
	db, err := database.New(ctx, database.Config{URL: url})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestPostgresStore_AssignmentLifecycle(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	a := &Assignment{
		TenantID:    "t-" + newID(),
		SourceType:  workflow.SourceAssessmentAssignment,
		EntityType:  "vendor",
		EntityID:    "v1",
		RequestType: "vendor_onboarding",
		Status:      workflow.StatusPending,
		SubmitterID: "alice",
		AssignedTo:  "alice",
		CurrentStep: 1,
		TotalSteps:  1,
	}
	require.NoError(t, store.InTransaction(ctx, func(tx Tx) error {
		return tx.CreateAssignment(ctx, a, []*Question{{FieldName: "q1", Position: 1, Required: true}})
	}))

	stale := *a
	require.NoError(t, store.InTransaction(ctx, func(tx Tx) error {
		cur, err := tx.LockAssignment(ctx, a.TenantID, a.ID, LockUpdate)
		if err != nil {
			return err
		}
		cur.Status = workflow.StatusInProgress
		if err := tx.UpdateAssignment(ctx, cur); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &AuditEntry{
			AssignmentID: a.ID, TenantID: a.TenantID, Action: "submitted", PerformedBy: "alice",
			Metadata: map[string]any{"source": "test"},
		})
	}))

	err := store.InTransaction(ctx, func(tx Tx) error {
		return tx.UpdateAssignment(ctx, &stale)
	})
	assert.True(t, errors.IsConflict(err))

	got, err := store.GetAssignment(ctx, a.TenantID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusInProgress, got.Status)
	assert.Equal(t, 2, got.Version)

	audit, err := store.ListAudit(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "test", audit[0].Metadata["source"])
}

func TestCatalogRepository_LayoutLookups(t *testing.T) {
	db := openTestDB(t)
	catalog := NewCatalogRepository(db)
	ctx := context.Background()
	tenant := "t-" + newID()
	stage := workflow.StagePendingApproval

	legacy := &FormLayout{
		TenantID: tenant, RequestType: "vendor_onboarding", EntityType: "vendor",
		WorkflowStage: &stage, IsActive: true,
		Tabs: []LayoutTab{{ID: "general", Label: "General", Order: 1}},
	}
	require.NoError(t, catalog.SaveLayout(ctx, legacy))

	byType, err := catalog.FindActiveLayoutByType(ctx, tenant, "vendor_onboarding", workflow.LayoutApprover)
	require.NoError(t, err)
	assert.Nil(t, byType)

	byStage, err := catalog.FindActiveLayoutByStage(ctx, tenant, "vendor_onboarding", stage)
	require.NoError(t, err)
	require.NotNil(t, byStage)
	assert.Equal(t, legacy.ID, byStage.ID)
	assert.Equal(t, "General", byStage.Tabs[0].Label)
}

func TestPostgresStore_OneScopedItemPerDelegate(t *testing.T) {
	db := openTestDB(t)
	store := NewPostgresStore(db)
	ctx := context.Background()
	tenant := "t-" + newID()

	item := func(questions ...string) *ActionItem {
		return &ActionItem{
			TenantID: tenant, SourceType: workflow.SourceAssessmentAssignment, SourceID: "a1",
			AssignedTo: "bob", QuestionIDs: questions, Status: workflow.ItemPending,
		}
	}
	save := func(i *ActionItem) error {
		return store.InTransaction(ctx, func(tx Tx) error { return tx.SaveActionItem(ctx, i) })
	}

	// Primary items carry no questions and are not constrained.
	require.NoError(t, save(item()))
	require.NoError(t, save(item("q1")))

	err := save(item("q2"))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err), err)

	items, err := store.ListActionItemsForUser(ctx, tenant, "bob")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
