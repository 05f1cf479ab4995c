package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/service"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

type httpFixture struct {
	t   *testing.T
	mux *http.ServeMux
}

func newHTTPFixture(t *testing.T) *httpFixture {
	mux := http.NewServeMux()
	NewHTTPHandler(newServices(t), logger.Nop()).Register(mux)
	return &httpFixture{t: t, mux: mux}
}

func (f *httpFixture) do(method, path string, user *auth.User, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// completedAssignment drives an assignment through submit, answers and complete.
func (f *httpFixture) completedAssignment() (*repository.Assignment, []*repository.Question) {
	t := f.t
	rec := f.do(http.MethodPost, "/api/v1/assignments", alice, createRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	a := decodeBody[repository.Assignment](t, rec)

	rec = f.do(http.MethodPost, "/api/v1/assignments/submit", alice, map[string]string{"assignment_id": a.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/v1/assignments/get?id="+a.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	detail := decodeBody[service.AssignmentDetail](t, rec)
	require.Len(t, detail.Questions, 2)

	for _, q := range detail.Questions {
		rec = f.do(http.MethodPost, "/api/v1/assignments/responses", alice, service.SaveResponseRequest{
			AssignmentID: a.ID, QuestionID: q.ID, Value: "yes",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodPost, "/api/v1/assignments/complete", alice, map[string]string{"assignment_id": a.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decodeBody[repository.Assignment](t, rec)
	return &done, detail.Questions
}

func TestHTTP_ReviewAndDecide(t *testing.T) {
	f := newHTTPFixture(t)
	a, questions := f.completedAssignment()
	assert.Equal(t, workflow.StatusCompleted, a.Status)
	assert.Equal(t, "carol", a.AssignedTo)

	rec := f.do(http.MethodGet, "/api/v1/inbox?bucket=pending", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decodeBody[InboxResponse](t, rec)
	require.Equal(t, 1, inbox.Count)
	assert.Equal(t, a.ID, inbox.Items[0].SourceID)

	for _, q := range questions {
		rec = f.do(http.MethodPost, "/api/v1/assignments/review", carol, service.SetReviewRequest{
			AssignmentID: a.ID, QuestionID: q.ID, Status: "pass",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/v1/assignments/summary?id="+a.ID, carol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[service.ReviewSummary](t, rec)
	assert.Equal(t, 2, summary.Pass)
	assert.True(t, summary.ReadyForDecision)

	decide := service.DecideRequest{AssignmentID: a.ID, Decision: "accepted"}
	rec = f.do(http.MethodPost, "/api/v1/assignments/decide", carol, decide)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[service.DecideResult](t, rec)
	assert.Equal(t, workflow.StatusApproved, result.Assignment.Status)
	assert.False(t, result.Duplicate)

	rec = f.do(http.MethodPost, "/api/v1/assignments/decide", carol, decide)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[service.DecideResult](t, rec).Duplicate)

	rec = f.do(http.MethodPost, "/api/v1/assignments/decide", carol, service.DecideRequest{AssignmentID: a.ID, Decision: "denied"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errorBody](t, rec)
	require.NotNil(t, body.CurrentDecision)
	assert.Equal(t, workflow.DecisionAccepted, body.CurrentDecision.Decision)

	rec = f.do(http.MethodGet, "/api/v1/assignments/history?id="+a.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decodeBody[service.AssignmentHistory](t, rec)
	assert.NotEmpty(t, hist.Audit)

	rec = f.do(http.MethodGet, "/api/v1/inbox/counts", carol, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decodeBody[service.InboxCounts](t, rec)
	assert.Equal(t, 0, counts.Pending)
	assert.Equal(t, 1, counts.Completed)
}

func TestHTTP_ForwardAndView(t *testing.T) {
	f := newHTTPFixture(t)
	a, questions := f.completedAssignment()

	rec := f.do(http.MethodPost, "/api/v1/assignments/forward", carol, service.ForwardRequest{
		AssignmentID: a.ID, QuestionIDs: []string{questions[1].ID}, ToUser: "bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	record := decodeBody[repository.ForwardRecord](t, rec)
	assert.Equal(t, "bob", record.ToUser)

	bob := &auth.User{ID: "bob", Role: "reviewer", TenantID: "t1"}
	rec = f.do(http.MethodGet, "/api/v1/inbox", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	inbox := decodeBody[InboxResponse](t, rec)
	require.Equal(t, 1, inbox.Count)
	assert.Equal(t, []string{questions[1].ID}, inbox.Items[0].QuestionIDs)

	rec = f.do(http.MethodGet, "/api/v1/assignments/view?source_type=assessment_assignment&source_id="+a.ID, carol, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[service.ItemView](t, rec)
	require.NotNil(t, view.View)
	assert.Equal(t, workflow.LayoutApprover, view.View.LayoutType)

	rec = f.do(http.MethodGet, "/api/v1/view-structure?entity_type=vendor&stage=new", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHTTP_ErrorMapping(t *testing.T) {
	f := newHTTPFixture(t)
	a, questions := f.completedAssignment()

	tests := []struct {
		name   string
		method string
		path   string
		user   *auth.User
		body   any
		want   int
		code   string
	}{
		{"wrong method", http.MethodPost, "/api/v1/inbox", alice, nil, http.StatusMethodNotAllowed, ""},
		{"no user", http.MethodGet, "/api/v1/inbox", nil, nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"bad bucket", http.MethodGet, "/api/v1/inbox?bucket=archived", alice, nil, http.StatusBadRequest, "VALIDATION"},
		{"missing id", http.MethodGet, "/api/v1/assignments/get", alice, nil, http.StatusBadRequest, "VALIDATION"},
		{"unknown assignment", http.MethodGet, "/api/v1/assignments/get?id=nope", alice, nil, http.StatusNotFound, "NOT_FOUND"},
		{"illegal transition", http.MethodPost, "/api/v1/assignments/submit", alice, map[string]string{"assignment_id": a.ID}, http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"submitter reviews", http.MethodPost, "/api/v1/assignments/review", alice, service.SetReviewRequest{AssignmentID: a.ID, QuestionID: questions[0].ID, Status: "pass"}, http.StatusForbidden, "FORBIDDEN"},
		{"unknown source type", http.MethodGet, "/api/v1/assignments/view?source_type=invoice&source_id=" + a.ID, alice, nil, http.StatusBadRequest, "VALIDATION"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, string(decodeBody[errorBody](t, rec).Code))
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/assignments/decide", bytes.NewBufferString("{"))
	req = req.WithContext(auth.WithUser(req.Context(), carol))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus("SOMETHING_ELSE"))
	assert.Equal(t, http.StatusConflict, HTTPStatus("CONFLICT"))
}

func TestHTTP_DecideThroughSourceAdapter(t *testing.T) {
	f := newHTTPFixture(t)
	a, questions := f.completedAssignment()
	for _, q := range questions {
		rec := f.do(http.MethodPost, "/api/v1/assignments/review", carol, service.SetReviewRequest{
			AssignmentID: a.ID, QuestionID: q.ID, Status: "pass",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := f.do(http.MethodPost, "/api/v1/assignments/decide", carol, service.DecideRequest{
		AssignmentID: a.ID, SourceType: "invoice", Decision: "accepted",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "source_type", decodeBody[errorBody](t, rec).Field)

	rec = f.do(http.MethodPost, "/api/v1/assignments/decide", carol, service.DecideRequest{
		AssignmentID: a.ID, SourceType: string(workflow.SourceApprovalStep), Decision: "accepted",
	})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = f.do(http.MethodPost, "/api/v1/assignments/decide", carol, service.DecideRequest{
		AssignmentID: a.ID, SourceType: string(workflow.SourceAssessmentAssignment), Decision: "accepted",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StatusApproved, decodeBody[service.DecideResult](t, rec).Assignment.Status)
}
