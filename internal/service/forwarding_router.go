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

// ForwardingRouter delegates an assignment, or some of its questions, to
// another user.
type ForwardingRouter struct {
	store  repository.Store
	users  repository.UserDirectory
	caps   *Capabilities
	events events.Publisher
	log    *logger.Logger
}

func NewForwardingRouter(store repository.Store, users repository.UserDirectory, caps *Capabilities, pub events.Publisher, log *logger.Logger) *ForwardingRouter {
	if pub == nil {
		pub = events.Nop{}
	}
	return &ForwardingRouter{store: store, users: users, caps: caps, events: pub, log: log.Component("forwarding_router")}
}

// ForwardRequest forwards the whole assignment when QuestionIDs is empty and
// only those questions otherwise.
type ForwardRequest struct {
	AssignmentID string   `json:"assignment_id"`
	QuestionIDs  []string `json:"question_ids,omitempty"`
	ToUser       string   `json:"to_user_id"`
	Comment      *string  `json:"comment,omitempty"`
}

// Forward records the delegation and moves action item ownership.
//
// A whole forward hands the current step to the recipient: the primary owner
// and whichever of submitter or approver held the step change to ToUser. Only
// the current owner may do it. A partial forward, even one naming every
// question, leaves the assignment untouched and gives ToUser an item scoped to
// the questions. The owner may forward any question; a delegate only those on
// their own scoped item.
//
// The assignment is locked for update in both modes so that two forwards to
// the same recipient cannot each create a scoped item.
func (r *ForwardingRouter) Forward(ctx context.Context, actor auth.User, req ForwardRequest) (*repository.ForwardRecord, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AssignmentID) == "" {
		return nil, errors.InvalidInput("assignment_id", "assignment is required")
	}
	toUser := strings.TrimSpace(req.ToUser)
	if toUser == "" {
		return nil, errors.InvalidInput("to_user_id", "recipient is required")
	}
	if toUser == actor.ID {
		return nil, errors.InvalidInput("to_user_id", "cannot forward to yourself")
	}
	if err := validateRecipient(ctx, r.users, actor, toUser, "to_user_id"); err != nil {
		return nil, err
	}
	questionIDs := mergeQuestionIDs(nil, req.QuestionIDs)
	partial := len(questionIDs) > 0

	var (
		record  *repository.ForwardRecord
		a       *repository.Assignment
		touched userSet
	)
	err := r.store.InTransaction(ctx, func(tx repository.Tx) error {
		var err error
		a, err = tx.LockAssignment(ctx, actor.TenantID, req.AssignmentID, repository.LockUpdate)
		if err != nil {
			return err
		}
		if a.Status.IsTerminal() {
			return errors.InvalidState("assignment is " + string(a.Status) + "; it can no longer be forwarded")
		}
		if err := r.caps.RequireAt(actor, a.Status, workflow.ActionForward); err != nil {
			return err
		}

		if partial {
			if err := requireQuestions(ctx, tx, a.ID, questionIDs); err != nil {
				return err
			}
			items, err := tx.LockActionItemsForSource(ctx, a.TenantID, a.SourceType, a.ID)
			if err != nil {
				return err
			}
			if actor.ID != a.AssignedTo && !holdsQuestions(items, actor.ID, questionIDs) {
				return errors.Forbidden("only the assignee or a delegate holding these questions can forward them")
			}
			item := scopedItemFor(items, a, toUser)
			item.QuestionIDs = mergeQuestionIDs(item.QuestionIDs, questionIDs)
			item.Status = workflow.ItemPending
			item.DueAt = a.DueAt
			item.Metadata = itemMetadata(a, toUser)
			if err := tx.SaveActionItem(ctx, item); err != nil {
				return err
			}
		} else {
			if actor.ID != a.AssignedTo {
				return errors.Forbidden("only the current assignee can forward the assignment")
			}
			previous := a.AssignedTo
			if a.SubmitterID == previous {
				a.SubmitterID = toUser
			}
			if a.ApproverID == previous {
				a.ApproverID = toUser
			}
			a.AssignedTo = toUser
			if err := tx.UpdateAssignment(ctx, a); err != nil {
				return err
			}
			touched.add(previous)
		}

		record = &repository.ForwardRecord{
			AssignmentID: a.ID,
			TenantID:     a.TenantID,
			QuestionIDs:  questionIDs,
			FromUser:     actor.ID,
			ToUser:       toUser,
			Comment:      req.Comment,
		}
		if err := tx.AppendForward(ctx, record); err != nil {
			return err
		}

		if err := tx.AppendAudit(ctx, &repository.AuditEntry{
			AssignmentID: a.ID,
			TenantID:     a.TenantID,
			Action:       "forwarded",
			PerformedBy:  actor.ID,
			StageBefore:  stageOf(a.Status),
			StageAfter:   stageOf(a.Status),
			Metadata: map[string]any{
				"forward_id":   record.ID,
				"to_user":      toUser,
				"partial":      partial,
				"question_ids": questionIDs,
			},
		}); err != nil {
			return err
		}

		changed, err := reindex(ctx, tx, a)
		if err != nil {
			return err
		}
		touched.add(actor.ID, toUser)
		touched.add(changed...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	mode := "whole"
	if partial {
		mode = "partial"
	}
	r.log.Info().
		Str("assignment_id", a.ID).
		Str("from_user", actor.ID).
		Str("to_user", toUser).
		Str("mode", mode).
		Int("questions", len(questionIDs)).
		Msg("Assignment forwarded")

	publish(ctx, r.events, events.AssignmentChanged{
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		Action:       "forwarded",
		ActorID:      actor.ID,
		StatusBefore: a.Status,
		StatusAfter:  a.Status,
		Recipients:   []string{toUser},
		Payload: map[string]any{
			"forward_id":   record.ID,
			"mode":         mode,
			"question_ids": questionIDs,
		},
	}, touched, "forwarded")

	return record, nil
}

// holdsQuestions reports whether userID has a scoped item covering every id.
func holdsQuestions(items []*repository.ActionItem, userID string, ids []string) bool {
	for _, item := range items {
		if !item.Scoped() || item.AssignedTo != userID {
			continue
		}
		held := make(map[string]bool, len(item.QuestionIDs))
		for _, qid := range item.QuestionIDs {
			held[qid] = true
		}
		covered := true
		for _, qid := range ids {
			if !held[qid] {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}
	return false
}
