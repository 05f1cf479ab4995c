package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/authz"
	"github.com/pesio-ai/be-gov-workflow/internal/events"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

var (
	alice   = auth.User{ID: "alice", Role: "submitter", TenantID: "t1"}
	carol   = auth.User{ID: "carol", Role: "approver", TenantID: "t1"}
	bob     = auth.User{ID: "bob", Role: "reviewer", TenantID: "t1"}
	dave    = auth.User{ID: "dave", Role: "approver", TenantID: "t1"}
	mallory = auth.User{ID: "mallory", Role: "approver", TenantID: "t2"}
)

type recorder struct {
	mu          sync.Mutex
	assignments []events.AssignmentChanged
	inbox       []events.InboxChanged
}

func (r *recorder) AssignmentChanged(_ context.Context, e events.AssignmentChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assignments = append(r.assignments, e)
}

func (r *recorder) InboxChanged(_ context.Context, e events.InboxChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = append(r.inbox, e)
}

func (r *recorder) last() events.AssignmentChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignments[len(r.assignments)-1]
}

func (r *recorder) inboxUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.inbox {
		out = append(out, e.UserID)
	}
	return out
}

type fixture struct {
	store   *repository.MemoryStore
	events  *recorder
	machine *ApprovalStateMachine
	reviews *ReviewAggregator
	router  *ForwardingRouter
	index   *ActionItemIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := repository.NewMemoryStore()
	for _, u := range []*repository.User{
		{ID: "alice", TenantID: "t1", Role: "submitter", Active: true},
		{ID: "carol", TenantID: "t1", Role: "approver", Active: true},
		{ID: "bob", TenantID: "t1", Role: "reviewer", Active: true},
		{ID: "dave", TenantID: "t1", Role: "approver", Active: true},
		{ID: "erin", TenantID: "t1", Role: "reviewer", Active: false},
		{ID: "mallory", TenantID: "t2", Role: "approver", Active: true},
	} {
		require.NoError(t, store.SaveUser(ctx, u))
	}

	az, err := authz.NewAuthorizer("", "", authz.ModeEnforce)
	require.NoError(t, err)
	log := logger.Nop()
	caps := NewCapabilities(az, log)
	rec := &recorder{}

	return &fixture{
		store:   store,
		events:  rec,
		machine: NewApprovalStateMachine(store, store, caps, rec, log),
		reviews: NewReviewAggregator(store, caps, rec, log),
		router:  NewForwardingRouter(store, store, caps, rec, log),
		index:   NewActionItemIndex(store, nil),
	}
}

// create opens an assignment for alice with n questions, carol approving.
func (f *fixture) create(t *testing.T, n int, due *time.Time) *repository.Assignment {
	t.Helper()
	questions := make([]QuestionInput, n)
	for i := range questions {
		questions[i] = QuestionInput{FieldName: "field_" + string(rune('a'+i)), Required: i == 0}
	}
	a, err := f.machine.Create(context.Background(), alice, CreateAssignmentRequest{
		SourceType:  string(workflow.SourceAssessmentAssignment),
		EntityType:  "vendor",
		EntityID:    "vendor-1",
		RequestType: "vendor_onboarding",
		Title:       "Acme security review",
		ApproverID:  "carol",
		DueAt:       due,
		Questions:   questions,
	})
	require.NoError(t, err)
	return a
}

// completed drives a new assignment to the completed status.
func (f *fixture) completed(t *testing.T, n int) (*repository.Assignment, []*repository.Question) {
	t.Helper()
	ctx := context.Background()
	a := f.create(t, n, nil)
	_, err := f.machine.Submit(ctx, alice, a.ID)
	require.NoError(t, err)

	questions, err := f.store.ListQuestions(ctx, a.ID)
	require.NoError(t, err)
	for _, q := range questions {
		_, err := f.machine.SaveResponse(ctx, alice, SaveResponseRequest{AssignmentID: a.ID, QuestionID: q.ID, Value: "yes"})
		require.NoError(t, err)
	}
	a, err = f.machine.CompleteReview(ctx, alice, a.ID)
	require.NoError(t, err)
	return a, questions
}

func (f *fixture) reviewAll(t *testing.T, actor auth.User, a *repository.Assignment, questions []*repository.Question, status workflow.ReviewStatus) {
	t.Helper()
	for _, q := range questions {
		_, err := f.reviews.SetReview(context.Background(), actor, SetReviewRequest{
			AssignmentID: a.ID, QuestionID: q.ID, Status: string(status),
		})
		require.NoError(t, err)
	}
}

func strPtr(s string) *string { return &s }
