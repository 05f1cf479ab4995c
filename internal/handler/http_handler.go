package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/layout"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/service"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// Services groups what the transports call into.
type Services struct {
	Machine  *service.ApprovalStateMachine
	Reviews  *service.ReviewAggregator
	Router   *service.ForwardingRouter
	Index    *service.ActionItemIndex
	Layouts  *layout.Resolver
	Adapters *service.AdapterRegistry
}

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	svc Services
	log *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(svc Services, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, log: log.Component("http")}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/inbox", h.Inbox)
	mux.HandleFunc("/api/v1/inbox/counts", h.InboxCounts)
	mux.HandleFunc("/api/v1/view-structure", h.ViewStructure)

	mux.HandleFunc("/api/v1/assignments", h.CreateAssignment)
	mux.HandleFunc("/api/v1/assignments/get", h.GetAssignment)
	mux.HandleFunc("/api/v1/assignments/summary", h.Summary)
	mux.HandleFunc("/api/v1/assignments/history", h.History)
	mux.HandleFunc("/api/v1/assignments/view", h.View)
	mux.HandleFunc("/api/v1/assignments/responses", h.SaveResponse)
	mux.HandleFunc("/api/v1/assignments/submit", h.Submit)
	mux.HandleFunc("/api/v1/assignments/complete", h.CompleteReview)
	mux.HandleFunc("/api/v1/assignments/resubmit", h.Resubmit)
	mux.HandleFunc("/api/v1/assignments/review", h.SetReview)
	mux.HandleFunc("/api/v1/assignments/forward", h.Forward)
	mux.HandleFunc("/api/v1/assignments/decide", h.Decide)
}

// ── Inbox ────────────────────────────────────────────────────────────────────

// Inbox handles GET /api/v1/inbox?bucket=pending|completed|overdue
func (h *HTTPHandler) Inbox(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}

	var bucket workflow.ItemStatus
	if raw := r.URL.Query().Get("bucket"); raw != "" {
		b, err := workflow.ParseBucket(raw)
		if err != nil {
			h.writeError(w, errors.InvalidInput("bucket", err.Error()))
			return
		}
		bucket = b
	}

	items, err := h.svc.Index.Inbox(r.Context(), user.ID, user.TenantID, bucket)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []*repository.ActionItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// InboxCounts handles GET /api/v1/inbox/counts
func (h *HTTPHandler) InboxCounts(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	counts, err := h.svc.Index.Counts(r.Context(), user.ID, user.TenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// ViewStructure handles GET /api/v1/view-structure
func (h *HTTPHandler) ViewStructure(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	q := r.URL.Query()
	if q.Get("entity_type") == "" || q.Get("stage") == "" {
		h.writeError(w, errors.InvalidInput("entity_type", "entity_type and stage are required"))
		return
	}

	view, err := h.svc.Layouts.GetViewStructure(r.Context(), layout.ViewRequest{
		TenantID:    user.TenantID,
		Role:        user.Role,
		EntityType:  q.Get("entity_type"),
		RequestType: q.Get("request_type"),
		Stage:       workflow.Stage(q.Get("stage")),
		EntityID:    q.Get("entity_id"),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ── Assignments ──────────────────────────────────────────────────────────────

// CreateAssignment handles POST /api/v1/assignments
func (h *HTTPHandler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req service.CreateAssignmentRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.svc.Machine.Create(r.Context(), *user, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAssignment handles GET /api/v1/assignments/get?id=
func (h *HTTPHandler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Machine.Get(r.Context(), *user, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Summary handles GET /api/v1/assignments/summary?id=
func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	sum, err := h.svc.Reviews.Summary(r.Context(), user.TenantID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// History handles GET /api/v1/assignments/history?id=
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	hist, err := h.svc.Machine.History(r.Context(), *user, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// View handles GET /api/v1/assignments/view?source_type=&source_id=
func (h *HTTPHandler) View(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return
	}
	sourceID := r.URL.Query().Get("source_id")
	if sourceID == "" {
		h.writeError(w, errors.InvalidInput("source_id", "source_id is required"))
		return
	}
	view, err := h.svc.Adapters.View(r.Context(), *user, r.URL.Query().Get("source_type"), sourceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// SaveResponse handles POST /api/v1/assignments/responses
func (h *HTTPHandler) SaveResponse(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req service.SaveResponseRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Machine.SaveResponse(r.Context(), *user, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type assignmentRef struct {
	AssignmentID string `json:"assignment_id"`
}

// Submit handles POST /api/v1/assignments/submit
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Machine.Submit)
}

// CompleteReview handles POST /api/v1/assignments/complete
func (h *HTTPHandler) CompleteReview(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Machine.CompleteReview)
}

// Resubmit handles POST /api/v1/assignments/resubmit
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Machine.Resubmit)
}

type transitionFunc func(ctx context.Context, actor auth.User, assignmentID string) (*repository.Assignment, error)

func (h *HTTPHandler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	user, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req assignmentRef
	if !decode(w, r, &req) {
		return
	}
	a, err := fn(r.Context(), *user, req.AssignmentID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SetReview handles POST /api/v1/assignments/review
func (h *HTTPHandler) SetReview(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req service.SetReviewRequest
	if !decode(w, r, &req) {
		return
	}
	review, err := h.svc.Reviews.SetReview(r.Context(), *user, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

// Forward handles POST /api/v1/assignments/forward
func (h *HTTPHandler) Forward(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req service.ForwardRequest
	if !decode(w, r, &req) {
		return
	}
	record, err := h.svc.Router.Forward(r.Context(), *user, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// Decide handles POST /api/v1/assignments/decide
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	user, ok := h.begin(w, r, http.MethodPost)
	if !ok {
		return
	}
	var req service.DecideRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		res *service.DecideResult
		err error
	)
	if req.SourceType != "" {
		res, err = h.svc.Adapters.Decide(r.Context(), *user, req)
	} else {
		res, err = h.svc.Machine.Decide(r.Context(), *user, req)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// begin checks the method and resolves the caller.
func (h *HTTPHandler) begin(w http.ResponseWriter, r *http.Request, method string) (*auth.User, bool) {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	user, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return user, true
}

func (h *HTTPHandler) beginWithID(w http.ResponseWriter, r *http.Request) (*auth.User, string, bool) {
	user, ok := h.begin(w, r, http.MethodGet)
	if !ok {
		return nil, "", false
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, errors.InvalidInput("id", "Assignment ID is required"))
		return nil, "", false
	}
	return user, id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

type errorBody struct {
	Code            errors.Code          `json:"code"`
	Message         string               `json:"message"`
	Field           string               `json:"field,omitempty"`
	CurrentDecision *repository.Decision `json:"current_decision,omitempty"`
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeValidation:
		return http.StatusBadRequest
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeInvalidState:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	body := errorBody{Code: code, Message: err.Error()}

	var e *errors.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Field = e.Field
	}
	var conflict *service.DecisionConflictError
	if errors.As(err, &conflict) {
		body.CurrentDecision = conflict.Current
	}
	if code == errors.ErrCodeInternal {
		h.log.Error().Err(err).Msg("Request failed")
		body.Message = "internal error"
	}
	writeJSON(w, HTTPStatus(code), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
