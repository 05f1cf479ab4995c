package workflow

import "fmt"

// Status is the lifecycle status of an assignment. StatusPending is the
// initial "new" state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusCompleted     Status = "completed"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusNeedsRevision Status = "needs_revision"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// StageForStatus returns the workflow stage an assignment in status s is in.
// The stage drives layout selection and capability checks.
func StageForStatus(s Status) (Stage, error) {
	switch s {
	case StatusPending:
		return StageNew, nil
	case StatusInProgress:
		return StageInProgress, nil
	case StatusCompleted:
		return StagePendingApproval, nil
	case StatusNeedsRevision:
		return StageNeedsRevision, nil
	case StatusApproved:
		return StageApproved, nil
	case StatusRejected:
		return StageRejected, nil
	}
	return "", fmt.Errorf("workflow: unknown assignment status %q", s)
}

// Action names a state machine transition. The same names are used as
// casbin actions.
type Action string

const (
	ActionSubmit         Action = "submit"
	ActionCompleteReview Action = "complete"
	ActionDecide         Action = "decide"
	ActionResubmit       Action = "resubmit"
	ActionReview         Action = "review"
	ActionForward        Action = "forward"
	ActionRespond        Action = "respond"
)

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{StatusPending, ActionSubmit}:            StatusInProgress,
	{StatusInProgress, ActionCompleteReview}: StatusCompleted,
	{StatusNeedsRevision, ActionResubmit}:    StatusInProgress,
}

// Next returns the status reached by applying action from status from.
// Decide transitions depend on the decision and go through DecisionOutcome.
func Next(from Status, action Action) (Status, bool) {
	to, ok := transitions[transitionKey{from, action}]
	return to, ok
}
