package repository

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

func seedAssignment(t *testing.T, s *MemoryStore) *Assignment {
	t.Helper()
	a := &Assignment{
		TenantID:    "t1",
		SourceType:  workflow.SourceAssessmentAssignment,
		EntityType:  "vendor",
		EntityID:    "v1",
		RequestType: "vendor_onboarding",
		Status:      workflow.StatusPending,
		SubmitterID: "alice",
		AssignedTo:  "alice",
	}
	err := s.InTransaction(context.Background(), func(tx Tx) error {
		return tx.CreateAssignment(context.Background(), a, []*Question{
			{FieldName: "q2", Position: 2},
			{FieldName: "q1", Position: 1},
		})
	})
	require.NoError(t, err)
	return a
}

func TestMemoryStore_CreateAndRead(t *testing.T) {
	s := NewMemoryStore()
	a := seedAssignment(t, s)
	ctx := context.Background()

	got, err := s.GetAssignment(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, workflow.StatusPending, got.Status)

	qs, err := s.ListQuestions(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, "q1", qs[0].FieldName)

	_, err = s.GetAssignment(ctx, "other-tenant", a.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	a := seedAssignment(t, s)
	ctx := context.Background()
	boom := stderrors.New("boom")

	err := s.InTransaction(ctx, func(tx Tx) error {
		locked, err := tx.LockAssignment(ctx, "t1", a.ID, LockUpdate)
		require.NoError(t, err)
		locked.Status = workflow.StatusInProgress
		require.NoError(t, tx.UpdateAssignment(ctx, locked))
		require.NoError(t, tx.AppendAudit(ctx, &AuditEntry{AssignmentID: a.ID, TenantID: "t1", Action: "submitted"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetAssignment(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, got.Status)
	assert.Equal(t, 1, got.Version)

	audit, err := s.ListAudit(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestMemoryStore_UpdateAssignmentVersionCheck(t *testing.T) {
	s := NewMemoryStore()
	a := seedAssignment(t, s)
	ctx := context.Background()

	stale, err := s.GetAssignment(ctx, "t1", a.ID)
	require.NoError(t, err)

	require.NoError(t, s.InTransaction(ctx, func(tx Tx) error {
		cur, err := tx.LockAssignment(ctx, "t1", a.ID, LockUpdate)
		if err != nil {
			return err
		}
		cur.Status = workflow.StatusInProgress
		return tx.UpdateAssignment(ctx, cur)
	}))

	err = s.InTransaction(ctx, func(tx Tx) error {
		stale.Status = workflow.StatusCompleted
		return tx.UpdateAssignment(ctx, stale)
	})
	assert.True(t, errors.IsConflict(err))

	got, err := s.GetAssignment(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, workflow.StatusInProgress, got.Status)
}

func TestMemoryStore_ReviewsUpsert(t *testing.T) {
	s := NewMemoryStore()
	a := seedAssignment(t, s)
	ctx := context.Background()
	qs, _ := s.ListQuestions(ctx, a.ID)

	for _, status := range []workflow.ReviewStatus{workflow.ReviewInProgress, workflow.ReviewPass} {
		require.NoError(t, s.InTransaction(ctx, func(tx Tx) error {
			return tx.UpsertReview(ctx, &QuestionReview{
				AssignmentID: a.ID, QuestionID: qs[0].ID, Status: status, ReviewerID: "bob",
			})
		}))
	}

	reviews, err := s.ListReviews(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, workflow.ReviewPass, reviews[0].Status)
}

func TestMemoryStore_ActionItemsAreCopied(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	item := &ActionItem{
		TenantID: "t1", SourceType: workflow.SourceAssessmentAssignment, SourceID: "a1",
		AssignedTo: "bob", QuestionIDs: []string{"q1"}, Status: workflow.ItemPending,
	}
	require.NoError(t, s.InTransaction(ctx, func(tx Tx) error { return tx.SaveActionItem(ctx, item) }))

	item.QuestionIDs[0] = "mutated"

	items, err := s.ListActionItemsForUser(ctx, "t1", "bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"q1"}, items[0].QuestionIDs)
	assert.True(t, items[0].Scoped())
}

func TestMemoryStore_LayoutActivationIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	approver := workflow.LayoutApprover

	first := &FormLayout{TenantID: "t1", RequestType: "vendor_onboarding", EntityType: "vendor", LayoutType: &approver, IsActive: true}
	second := &FormLayout{TenantID: "t1", RequestType: "vendor_onboarding", EntityType: "vendor", LayoutType: &approver, IsActive: true}
	require.NoError(t, s.SaveLayout(ctx, first))
	require.NoError(t, s.SaveLayout(ctx, second))

	found, err := s.FindActiveLayoutByType(ctx, "t1", "vendor_onboarding", workflow.LayoutApprover)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, second.ID, found.ID)

	none, err := s.FindActiveLayoutByStage(ctx, "t1", "vendor_onboarding", workflow.StagePendingApproval)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemoryStore_UserDirectory(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, &User{ID: "bob", TenantID: "t1", Role: "reviewer", Active: true}))

	u, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, u.Active)

	_, err = s.GetUser(ctx, "nobody")
	assert.True(t, errors.IsNotFound(err))
}
