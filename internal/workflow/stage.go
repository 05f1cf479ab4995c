// Package workflow holds the closed vocabularies of the approval workflow:
// stages, layout types, assignment statuses, review outcomes and decisions,
// together with the pure mappings and the transition table between them.
package workflow

import "fmt"

// Stage is the workflow stage an entity is currently in.
type Stage string

const (
	StageNew             Stage = "new"
	StageNeedsRevision   Stage = "needs_revision"
	StagePendingApproval Stage = "pending_approval"
	StagePendingReview   Stage = "pending_review"
	StageInProgress      Stage = "in_progress"
	StageApproved        Stage = "approved"
	StageRejected        Stage = "rejected"
	StageClosed          Stage = "closed"
	StageCancelled       Stage = "cancelled"
)

// LayoutType is one of the three reusable presentation modes.
type LayoutType string

const (
	LayoutSubmission LayoutType = "submission"
	LayoutApprover   LayoutType = "approver"
	LayoutCompleted  LayoutType = "completed"
)

var stageLayouts = map[Stage]LayoutType{
	StageNew:             LayoutSubmission,
	StageNeedsRevision:   LayoutSubmission,
	StagePendingApproval: LayoutApprover,
	StagePendingReview:   LayoutApprover,
	StageInProgress:      LayoutApprover,
	StageApproved:        LayoutCompleted,
	StageRejected:        LayoutCompleted,
	StageClosed:          LayoutCompleted,
	StageCancelled:       LayoutCompleted,
}

// AllStages returns every known stage.
func AllStages() []Stage {
	return []Stage{
		StageNew, StageNeedsRevision,
		StagePendingApproval, StagePendingReview, StageInProgress,
		StageApproved, StageRejected, StageClosed, StageCancelled,
	}
}

// ResolveLayoutType maps a stage to its layout type. An unmapped stage is a
// configuration error and is never defaulted.
func ResolveLayoutType(stage Stage) (LayoutType, error) {
	lt, ok := stageLayouts[stage]
	if !ok {
		return "", fmt.Errorf("workflow: no layout type mapped for stage %q", stage)
	}
	return lt, nil
}

// ParseStage validates a raw stage string.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if _, ok := stageLayouts[s]; !ok {
		return "", fmt.Errorf("workflow: unknown stage %q", raw)
	}
	return s, nil
}

// ParseLayoutType validates a raw layout type string.
func ParseLayoutType(raw string) (LayoutType, error) {
	switch lt := LayoutType(raw); lt {
	case LayoutSubmission, LayoutApprover, LayoutCompleted:
		return lt, nil
	}
	return "", fmt.Errorf("workflow: unknown layout type %q", raw)
}
