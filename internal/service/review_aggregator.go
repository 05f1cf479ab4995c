package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/events"
	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// ReviewAggregator records per-question reviews and reports their totals.
type ReviewAggregator struct {
	store  repository.Store
	caps   *Capabilities
	events events.Publisher
	log    *logger.Logger
}

func NewReviewAggregator(store repository.Store, caps *Capabilities, pub events.Publisher, log *logger.Logger) *ReviewAggregator {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ReviewAggregator{store: store, caps: caps, events: pub, log: log.Component("review_aggregator")}
}

// SetReviewRequest is the body of a review call.
type SetReviewRequest struct {
	AssignmentID string  `json:"assignment_id"`
	QuestionID   string  `json:"question_id"`
	Status       string  `json:"status"`
	Comment      *string `json:"comment,omitempty"`
}

// DecisionHint maps review counts onto the decision vocabulary. It is
// presentational; the decision maker still picks the outcome.
type DecisionHint struct {
	Accepted int `json:"accepted"`
	Denied   int `json:"denied"`
	NeedInfo int `json:"need_info"`
}

// ReviewSummary is the aggregate review state of an assignment.
type ReviewSummary struct {
	AssignmentID     string       `json:"assignment_id"`
	Pass             int          `json:"pass"`
	Fail             int          `json:"fail"`
	InProgress       int          `json:"in_progress"`
	Pending          int          `json:"pending"`
	Total            int          `json:"total"`
	ReadyForDecision bool         `json:"ready_for_decision"`
	Hint             DecisionHint `json:"hint"`
}

// SetReview upserts the review of one question. It holds a shared lock on
// the assignment, so reviews of different questions run concurrently while
// transitions wait.
func (s *ReviewAggregator) SetReview(ctx context.Context, actor auth.User, req SetReviewRequest) (*repository.QuestionReview, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AssignmentID) == "" {
		return nil, errors.InvalidInput("assignment_id", "assignment is required")
	}
	if strings.TrimSpace(req.QuestionID) == "" {
		return nil, errors.InvalidInput("question_id", "question is required")
	}
	status, err := workflow.ParseReviewStatus(req.Status)
	if err != nil {
		return nil, errors.InvalidInput("status", err.Error())
	}

	var (
		review  *repository.QuestionReview
		a       *repository.Assignment
		touched []string
	)
	err = s.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		a, err = tx.LockAssignment(ctx, actor.TenantID, req.AssignmentID, repository.LockShare)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return errors.InvalidState("assignment is " + string(a.Status) + "; reviews are closed")
		}
		if err := s.caps.RequireAt(actor, a.Status, workflow.ActionReview); err != nil {
			return err
		}
		if err := requireQuestions(ctx, tx, a.ID, []string{req.QuestionID}); err != nil {
			return err
		}

		review = &repository.QuestionReview{
			AssignmentID: a.ID,
			QuestionID:   req.QuestionID,
			Status:       status,
			Comment:      req.Comment,
			ReviewerID:   actor.ID,
		}
		if err := tx.UpsertReview(ctx, review); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, &repository.AuditEntry{
			AssignmentID: a.ID,
			TenantID:     a.TenantID,
			Action:       "reviewed",
			PerformedBy:  actor.ID,
			StageBefore:  stageOf(a.Status),
			StageAfter:   stageOf(a.Status),
			Metadata: map[string]any{
				"question_id": req.QuestionID,
				"status":      string(status),
			},
		}); err != nil {
			return err
		}

		touched, err = reindex(ctx, tx, a)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("assignment_id", a.ID).
		Str("question_id", req.QuestionID).
		Str("status", string(status)).
		Msg("Question reviewed")

	publish(ctx, s.events, events.AssignmentChanged{
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		Action:       "reviewed",
		ActorID:      actor.ID,
		StatusBefore: a.Status,
		StatusAfter:  a.Status,
		Payload:      map[string]any{"question_id": req.QuestionID, "status": string(status)},
	}, touched, "reviewed")

	return review, nil
}

// Summary counts the reviews of an assignment's questions. A question with
// no stored review is pending.
func (s *ReviewAggregator) Summary(ctx context.Context, tenantID, assignmentID string) (*ReviewSummary, error) {
	if _, err := s.store.GetAssignment(ctx, tenantID, assignmentID); err != nil {
		return nil, err
	}
	return loadSummary(ctx, s.store, assignmentID)
}

func loadSummary(ctx context.Context, r repository.Reader, assignmentID string) (*ReviewSummary, error) {
	questions, err := r.ListQuestions(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	reviews, err := r.ListReviews(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return summarize(assignmentID, questions, reviews), nil
}

func summarize(assignmentID string, questions []*repository.Question, reviews []*repository.QuestionReview) *ReviewSummary {
	byQuestion := make(map[string]workflow.ReviewStatus, len(reviews))
	for _, r := range reviews {
		byQuestion[r.QuestionID] = r.Status
	}

	sum := &ReviewSummary{AssignmentID: assignmentID, Total: len(questions)}
	for _, q := range questions {
		switch byQuestion[q.ID] {
		case workflow.ReviewPass:
			sum.Pass++
		case workflow.ReviewFail:
			sum.Fail++
		case workflow.ReviewInProgress:
			sum.InProgress++
		default:
			sum.Pending++
		}
	}
	sum.ReadyForDecision = sum.Pending == 0 && sum.Total > 0
	sum.Hint = DecisionHint{Accepted: sum.Pass, Denied: sum.Fail, NeedInfo: sum.InProgress}
	return sum
}

// requireQuestions returns a NotFoundError for the first id that is not a
// question of the assignment.
func requireQuestions(ctx context.Context, r repository.Reader, assignmentID string, ids []string) error {
	questions, err := r.ListQuestions(ctx, assignmentID)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(questions))
	for _, q := range questions {
		known[q.ID] = true
	}
	for _, id := range ids {
		if !known[id] {
			return errors.NotFound("question", id)
		}
	}
	return nil
}
