package workflow

import "fmt"

// ReviewStatus is the per-question review outcome. A question without a
// stored review is pending.
type ReviewStatus string

const (
	ReviewPass       ReviewStatus = "pass"
	ReviewFail       ReviewStatus = "fail"
	ReviewInProgress ReviewStatus = "in_progress"
	ReviewPending    ReviewStatus = "pending"
)

func ParseReviewStatus(raw string) (ReviewStatus, error) {
	switch rs := ReviewStatus(raw); rs {
	case ReviewPass, ReviewFail, ReviewInProgress, ReviewPending:
		return rs, nil
	}
	return "", fmt.Errorf("workflow: unknown review status %q", raw)
}

// Decision is the final outcome picked by the decision maker.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionDenied   Decision = "denied"
	DecisionNeedInfo Decision = "need_info"
)

func ParseDecision(raw string) (Decision, error) {
	switch d := Decision(raw); d {
	case DecisionAccepted, DecisionDenied, DecisionNeedInfo:
		return d, nil
	}
	return "", fmt.Errorf("workflow: unknown decision %q", raw)
}

// DecisionOutcome returns the status a completed assignment moves to.
func DecisionOutcome(d Decision) Status {
	switch d {
	case DecisionAccepted:
		return StatusApproved
	case DecisionDenied:
		return StatusRejected
	default:
		return StatusNeedsRevision
	}
}
