package workflow

import "fmt"

// SourceType identifies what kind of entity an action item points at.
type SourceType string

const (
	SourceAssessmentAssignment SourceType = "assessment_assignment"
	SourceOnboardingRequest    SourceType = "onboarding_request"
	SourceApprovalStep         SourceType = "approval_step"
)

func ParseSourceType(raw string) (SourceType, error) {
	switch st := SourceType(raw); st {
	case SourceAssessmentAssignment, SourceOnboardingRequest, SourceApprovalStep:
		return st, nil
	}
	return "", fmt.Errorf("workflow: unknown source type %q", raw)
}

// ItemStatus is the derived inbox status of an action item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemOverdue   ItemStatus = "overdue"
)

func ParseBucket(raw string) (ItemStatus, error) {
	switch b := ItemStatus(raw); b {
	case ItemPending, ItemCompleted, ItemOverdue:
		return b, nil
	}
	return "", fmt.Errorf("workflow: unknown inbox bucket %q", raw)
}
