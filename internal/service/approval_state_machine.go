package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/events"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// ApprovalStateMachine owns the assignment lifecycle:
//
//	pending --submit--> in_progress --complete--> completed
//	completed --decide--> approved | rejected | needs_revision
//	needs_revision --resubmit--> in_progress
//
// Every transition locks the assignment row, bumps its version, writes an
// audit entry and re-indexes the action items in one transaction.
type ApprovalStateMachine struct {
	store  repository.Store
	users  repository.UserDirectory
	caps   *Capabilities
	events events.Publisher
	log    *logger.Logger
}

func NewApprovalStateMachine(
	store repository.Store,
	users repository.UserDirectory,
	caps *Capabilities,
	pub events.Publisher,
	log *logger.Logger,
) *ApprovalStateMachine {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ApprovalStateMachine{
		store:  store,
		users:  users,
		caps:   caps,
		events: pub,
		log:    log.Component("approval_state_machine"),
	}
}

// ── Requests and results ─────────────────────────────────────────────────────

// CreateAssignmentRequest opens an assignment owned by the caller.
type CreateAssignmentRequest struct {
	SourceType  string          `json:"source_type"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	RequestType string          `json:"request_type"`
	Title       string          `json:"title,omitempty"`
	ApproverID  string          `json:"approver_id"`
	DueAt       *time.Time      `json:"due_at,omitempty"`
	TotalSteps  int             `json:"total_steps,omitempty"`
	Questions   []QuestionInput `json:"questions"`
}

type QuestionInput struct {
	FieldName string `json:"field_name"`
	Prompt    string `json:"prompt,omitempty"`
	Required  bool   `json:"required"`
}

type SaveResponseRequest struct {
	AssignmentID string  `json:"assignment_id"`
	QuestionID   string  `json:"question_id"`
	Value        string  `json:"value"`
	Comment      *string `json:"comment,omitempty"`
}

// DecideRequest is routed through the source's adapter when SourceType is set.
type DecideRequest struct {
	AssignmentID string  `json:"assignment_id"`
	SourceType   string  `json:"source_type,omitempty"`
	Decision     string  `json:"decision"`
	Comment      *string `json:"comment,omitempty"`
}

// DecideResult is the outcome of Decide. Duplicate is set when the call
// repeated an already applied decision and changed nothing.
type DecideResult struct {
	Assignment *repository.Assignment `json:"assignment"`
	Decision   *repository.Decision   `json:"decision"`
	Duplicate  bool                   `json:"duplicate"`
}

// DecisionConflictError is returned when a different decision was already
// applied. Current is that decision.
type DecisionConflictError struct {
	Current *repository.Decision
	err     *errors.Error
}

func (e *DecisionConflictError) Error() string { return e.err.Error() }
func (e *DecisionConflictError) Unwrap() error { return e.err }

// AssignmentDetail is an assignment joined with everything hanging off it.
type AssignmentDetail struct {
	Assignment *repository.Assignment       `json:"assignment"`
	Questions  []*repository.Question       `json:"questions"`
	Responses  []*repository.Response       `json:"responses"`
	Reviews    []*repository.QuestionReview `json:"reviews"`
	Summary    *ReviewSummary               `json:"summary"`
	Decision   *repository.Decision         `json:"decision,omitempty"`
}

type AssignmentHistory struct {
	AssignmentID string                      `json:"assignment_id"`
	Audit        []*repository.AuditEntry    `json:"audit"`
	Forwards     []*repository.ForwardRecord `json:"forwards"`
}

// ── Creation and responses ───────────────────────────────────────────────────

// Create opens a pending assignment with the caller as submitter and owner.
func (m *ApprovalStateMachine) Create(ctx context.Context, actor auth.User, req CreateAssignmentRequest) (*repository.Assignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	sourceType, err := workflow.ParseSourceType(req.SourceType)
	if err != nil {
		return nil, errors.InvalidInput("source_type", err.Error())
	}
	for _, f := range []struct{ name, value string }{
		{"entity_type", req.EntityType},
		{"entity_id", req.EntityID},
		{"request_type", req.RequestType},
		{"approver_id", req.ApproverID},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, errors.InvalidInput(f.name, f.name+" is required")
		}
	}
	if len(req.Questions) == 0 {
		return nil, errors.InvalidInput("questions", "at least one question is required")
	}
	if req.TotalSteps < 0 {
		return nil, errors.InvalidInput("total_steps", "total_steps must not be negative")
	}
	if err := m.caps.Require(actor, workflow.LayoutSubmission, workflow.ActionSubmit); err != nil {
		return nil, err
	}
	if err := validateRecipient(ctx, m.users, actor, req.ApproverID, "approver_id"); err != nil {
		return nil, err
	}

	questions := make([]*repository.Question, 0, len(req.Questions))
	seen := make(map[string]bool, len(req.Questions))
	for i, q := range req.Questions {
		name := strings.TrimSpace(q.FieldName)
		if name == "" {
			return nil, errors.InvalidInput("questions", fmt.Sprintf("question %d has no field_name", i+1))
		}
		if seen[name] {
			return nil, errors.InvalidInput("questions", "duplicate field_name: "+name)
		}
		seen[name] = true
		questions = append(questions, &repository.Question{
			FieldName: name,
			Prompt:    q.Prompt,
			Position:  i + 1,
			Required:  q.Required,
		})
	}

	totalSteps := req.TotalSteps
	if totalSteps == 0 {
		totalSteps = 1
	}
	a := &repository.Assignment{
		TenantID:    actor.TenantID,
		SourceType:  sourceType,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		RequestType: req.RequestType,
		Title:       req.Title,
		Status:      workflow.StatusPending,
		SubmitterID: actor.ID,
		ApproverID:  req.ApproverID,
		AssignedTo:  actor.ID,
		CurrentStep: 1,
		TotalSteps:  totalSteps,
		DueAt:       req.DueAt,
	}

	var touched []string
	err = m.store.InTransaction(ctx, func(tx repository.Tx) error {
		if err := tx.CreateAssignment(ctx, a, questions); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &repository.AuditEntry{
			AssignmentID: a.ID,
			TenantID:     a.TenantID,
			Action:       "created",
			PerformedBy:  actor.ID,
			StageAfter:   stageOf(a.Status),
			Metadata: map[string]any{
				"source_type": string(a.SourceType),
				"questions":   len(questions),
			},
		}); err != nil {
			return err
		}
		var err error
		touched, err = reindex(ctx, tx, a)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("assignment_id", a.ID).
		Str("tenant_id", a.TenantID).
		Str("entity_type", a.EntityType).
		Int("questions", len(questions)).
		Msg("Assignment created")

	publish(ctx, m.events, events.AssignmentChanged{
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		Action:       "created",
		ActorID:      actor.ID,
		StatusAfter:  a.Status,
	}, touched, "created")

	return a, nil
}

// SaveResponse upserts the caller's answer to a question. Responses are
// accepted while the submitter still owns the work.
func (m *ApprovalStateMachine) SaveResponse(ctx context.Context, actor auth.User, req SaveResponseRequest) (*repository.Response, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AssignmentID) == "" {
		return nil, errors.InvalidInput("assignment_id", "assignment is required")
	}
	if strings.TrimSpace(req.QuestionID) == "" {
		return nil, errors.InvalidInput("question_id", "question is required")
	}

	var resp *repository.Response
	err := m.store.InTransaction(ctx, func(tx repository.Tx) error {
		a, err := tx.LockAssignment(ctx, actor.TenantID, req.AssignmentID, repository.LockShare)
		if err != nil {
			return err
		}
		switch a.Status {
		case workflow.StatusPending, workflow.StatusInProgress, workflow.StatusNeedsRevision:
		default:
			return errors.InvalidState("assignment is " + string(a.Status) + "; responses are closed")
		}
		if err := m.caps.RequireAt(actor, a.Status, workflow.ActionRespond); err != nil {
			return err
		}
		if err := requireQuestions(ctx, tx, a.ID, []string{req.QuestionID}); err != nil {
			return err
		}
		resp = &repository.Response{
			AssignmentID: a.ID,
			QuestionID:   req.QuestionID,
			Value:        req.Value,
			Comment:      req.Comment,
			RespondedBy:  actor.ID,
		}
		return tx.UpsertResponse(ctx, resp)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ── Transitions ──────────────────────────────────────────────────────────────

// Submit starts work on a pending assignment.
func (m *ApprovalStateMachine) Submit(ctx context.Context, actor auth.User, assignmentID string) (*repository.Assignment, error) {
	return m.transition(ctx, actor, assignmentID, transitionSpec{
		action: workflow.ActionSubmit,
		audit:  "submitted",
		apply: func(_ context.Context, _ repository.Tx, a *repository.Assignment) error {
			if actor.ID != a.SubmitterID {
				return errors.Forbidden("only the submitter can submit the assignment")
			}
			a.AssignedTo = a.SubmitterID
			return nil
		},
		recipients: func(a *repository.Assignment) []string { return []string{a.ApproverID} },
	})
}

// CompleteReview hands a finished assignment to the approver. Required
// questions must be answered.
func (m *ApprovalStateMachine) CompleteReview(ctx context.Context, actor auth.User, assignmentID string) (*repository.Assignment, error) {
	return m.transition(ctx, actor, assignmentID, transitionSpec{
		action: workflow.ActionCompleteReview,
		audit:  "completed",
		apply: func(ctx context.Context, tx repository.Tx, a *repository.Assignment) error {
			if actor.ID != a.SubmitterID {
				return errors.Forbidden("only the submitter can complete the assignment")
			}
			if err := requireAnswers(ctx, tx, a.ID); err != nil {
				return err
			}
			a.AssignedTo = a.ApproverID
			return nil
		},
		recipients: func(a *repository.Assignment) []string { return []string{a.ApproverID} },
	})
}

// Resubmit reopens an assignment sent back for more information.
func (m *ApprovalStateMachine) Resubmit(ctx context.Context, actor auth.User, assignmentID string) (*repository.Assignment, error) {
	return m.transition(ctx, actor, assignmentID, transitionSpec{
		action: workflow.ActionResubmit,
		audit:  "resubmitted",
		apply: func(_ context.Context, _ repository.Tx, a *repository.Assignment) error {
			if actor.ID != a.SubmitterID {
				return errors.Forbidden("only the submitter can resubmit the assignment")
			}
			a.DecisionID = nil
			a.AssignedTo = a.SubmitterID
			return nil
		},
		recipients: func(a *repository.Assignment) []string { return []string{a.ApproverID} },
	})
}

type transitionSpec struct {
	action     workflow.Action
	audit      string
	apply      func(ctx context.Context, tx repository.Tx, a *repository.Assignment) error
	recipients func(a *repository.Assignment) []string
}

func (m *ApprovalStateMachine) transition(ctx context.Context, actor auth.User, assignmentID string, spec transitionSpec) (*repository.Assignment, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(assignmentID) == "" {
		return nil, errors.InvalidInput("assignment_id", "assignment is required")
	}

	var (
		a       *repository.Assignment
		before  workflow.Status
		touched []string
	)
	err := m.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		a, err = tx.LockAssignment(ctx, actor.TenantID, assignmentID, repository.LockUpdate)
		if err != nil {
			return err
		}
		before = a.Status
		next, ok := workflow.Next(a.Status, spec.action)
		if !ok {
			return errors.InvalidState(fmt.Sprintf("cannot %s an assignment in status %s", spec.action, a.Status))
		}
		if err := m.caps.RequireAt(actor, a.Status, spec.action); err != nil {
			return err
		}
		if err := spec.apply(ctx, tx, a); err != nil {
			return err
		}
		a.Status = next
		touched, err = m.commitTransition(ctx, tx, actor, a, before, spec.audit, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.log.Info().
		Str("assignment_id", a.ID).
		Str("action", spec.audit).
		Str("status_before", string(before)).
		Str("status_after", string(a.Status)).
		Msg("Assignment transitioned")

	publish(ctx, m.events, events.AssignmentChanged{
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		Action:       spec.audit,
		ActorID:      actor.ID,
		StatusBefore: before,
		StatusAfter:  a.Status,
		Recipients:   without(spec.recipients(a), actor.ID),
	}, touched, spec.audit)

	return a, nil
}

// commitTransition persists a with its version check, then writes the audit
// entry and re-indexes.
func (m *ApprovalStateMachine) commitTransition(
	ctx context.Context,
	tx repository.Tx,
	actor auth.User,
	a *repository.Assignment,
	before workflow.Status,
	action string,
	metadata map[string]any,
) ([]string, error) {
	if err := tx.UpdateAssignment(ctx, a); err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(ctx, &repository.AuditEntry{
		AssignmentID: a.ID,
		TenantID:     a.TenantID,
		Action:       action,
		PerformedBy:  actor.ID,
		StageBefore:  stageOf(before),
		StageAfter:   stageOf(a.Status),
		Metadata:     metadata,
	}); err != nil {
		return nil, err
	}
	return reindex(ctx, tx, a)
}

// ── Decide ───────────────────────────────────────────────────────────────────

// Decide applies the final decision to a completed assignment whose every
// question has a non-pending review. Repeating the applied decision returns
// it unchanged; a different decision fails with DecisionConflictError.
// Concurrent calls are serialized by the row lock and the version check.
func (m *ApprovalStateMachine) Decide(ctx context.Context, actor auth.User, req DecideRequest) (*DecideResult, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AssignmentID) == "" {
		return nil, errors.InvalidInput("assignment_id", "assignment is required")
	}
	decision, err := workflow.ParseDecision(req.Decision)
	if err != nil {
		return nil, errors.InvalidInput("decision", err.Error())
	}

	var (
		result  *DecideResult
		before  workflow.Status
		touched []string
	)
	err = m.store.InTransaction(ctx, func(tx repository.Tx) error {
		a, err := tx.LockAssignment(ctx, actor.TenantID, req.AssignmentID, repository.LockUpdate)
		if err != nil {
			return err
		}
		before = a.Status

		if a.Status != workflow.StatusCompleted {
			if a.DecisionID == nil {
				return errors.InvalidState("assignment is " + string(a.Status) + "; only completed assignments can be decided")
			}
			current, err := tx.GetDecision(ctx, *a.DecisionID)
			if err != nil {
				return err
			}
			if current.Decision == decision && sameComment(current.Comment, req.Comment) {
				result = &DecideResult{Assignment: a, Decision: current, Duplicate: true}
				return nil
			}
			return &DecisionConflictError{
				Current: current,
				err:     errors.Conflict("assignment was already decided: " + string(current.Decision)),
			}
		}

		if err := m.caps.RequireAt(actor, a.Status, workflow.ActionDecide); err != nil {
			return err
		}
		if actor.ID != a.ApproverID && actor.ID != a.AssignedTo {
			return errors.Forbidden("only the assigned approver can decide")
		}

		summary, err := loadSummary(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if !summary.ReadyForDecision {
			return errors.InvalidState(fmt.Sprintf("%d of %d questions are still pending review", summary.Pending, summary.Total))
		}

		d := &repository.Decision{
			AssignmentID: a.ID,
			Decision:     decision,
			Comment:      req.Comment,
			DecidedBy:    actor.ID,
		}
		if err := tx.InsertDecision(ctx, d); err != nil {
			return err
		}

		a.Status = workflow.DecisionOutcome(decision)
		a.DecisionID = &d.ID
		if a.Status == workflow.StatusNeedsRevision {
			a.AssignedTo = a.SubmitterID
		}
		touched, err = m.commitTransition(ctx, tx, actor, a, before, "decided", map[string]any{
			"decision":    string(decision),
			"decision_id": d.ID,
		})
		if err != nil {
			return err
		}
		result = &DecideResult{Assignment: a, Decision: d}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result.Duplicate {
		return result, nil
	}

	a := result.Assignment
	m.log.Info().
		Str("assignment_id", a.ID).
		Str("decision", string(decision)).
		Str("decided_by", actor.ID).
		Str("status_after", string(a.Status)).
		Msg("Assignment decided")

	publish(ctx, m.events, events.AssignmentChanged{
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		Action:       "decided",
		ActorID:      actor.ID,
		StatusBefore: before,
		StatusAfter:  a.Status,
		Recipients:   without([]string{a.SubmitterID}, actor.ID),
		Payload: map[string]any{
			"decision":    string(decision),
			"decision_id": result.Decision.ID,
		},
	}, touched, "decided")

	return result, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// Get returns an assignment of the caller's tenant with its questions,
// responses, reviews, summary and decision.
func (m *ApprovalStateMachine) Get(ctx context.Context, actor auth.User, assignmentID string) (*AssignmentDetail, error) {
	a, err := m.store.GetAssignment(ctx, actor.TenantID, assignmentID)
	if err != nil {
		return nil, err
	}
	questions, err := m.store.ListQuestions(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	responses, err := m.store.ListResponses(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	reviews, err := m.store.ListReviews(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	detail := &AssignmentDetail{
		Assignment: a,
		Questions:  questions,
		Responses:  responses,
		Reviews:    reviews,
		Summary:    summarize(a.ID, questions, reviews),
	}
	if a.DecisionID != nil {
		detail.Decision, err = m.store.GetDecision(ctx, *a.DecisionID)
		if err != nil {
			return nil, err
		}
	}
	return detail, nil
}

// History returns the audit log and forward records of an assignment.
func (m *ApprovalStateMachine) History(ctx context.Context, actor auth.User, assignmentID string) (*AssignmentHistory, error) {
	a, err := m.store.GetAssignment(ctx, actor.TenantID, assignmentID)
	if err != nil {
		return nil, err
	}
	audit, err := m.store.ListAudit(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	forwards, err := m.store.ListForwards(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &AssignmentHistory{AssignmentID: a.ID, Audit: audit, Forwards: forwards}, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func requireAnswers(ctx context.Context, tx repository.Tx, assignmentID string) error {
	questions, err := tx.ListQuestions(ctx, assignmentID)
	if err != nil {
		return err
	}
	responses, err := tx.ListResponses(ctx, assignmentID)
	if err != nil {
		return err
	}
	answered := make(map[string]bool, len(responses))
	for _, r := range responses {
		answered[r.QuestionID] = strings.TrimSpace(r.Value) != ""
	}
	for _, q := range questions {
		if q.Required && !answered[q.ID] {
			return errors.InvalidInput(q.FieldName, "required question is unanswered")
		}
	}
	return nil
}

func without(ids []string, drop string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && id != drop {
			out = append(out, id)
		}
	}
	return out
}
