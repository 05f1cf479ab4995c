package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-gov-workflow/internal/auth"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/layout"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// EntityDetail is what an adapter loads for one action item source.
type EntityDetail struct {
	SourceType  workflow.SourceType `json:"source_type"`
	SourceID    string              `json:"source_id"`
	EntityType  string              `json:"entity_type"`
	EntityID    string              `json:"entity_id"`
	RequestType string              `json:"request_type"`
	Stage       workflow.Stage      `json:"stage"`
	Assignment  *AssignmentDetail   `json:"assignment"`
}

// EntityAdapter binds a source type to its detail, view and decision logic.
type EntityAdapter interface {
	SourceType() workflow.SourceType
	LoadDetail(ctx context.Context, actor auth.User, sourceID string) (*EntityDetail, error)
	TabsFor(ctx context.Context, actor auth.User, detail *EntityDetail) (*layout.ViewStructure, error)
	Decide(ctx context.Context, actor auth.User, sourceID string, decision workflow.Decision, comment *string) (*DecideResult, error)
}

// ItemView is the resolved screen for an action item.
type ItemView struct {
	Detail *EntityDetail         `json:"detail"`
	View   *layout.ViewStructure `json:"view"`
}

// AdapterRegistry looks up adapters by source type.
type AdapterRegistry struct {
	adapters map[workflow.SourceType]EntityAdapter
}

func NewAdapterRegistry(adapters ...EntityAdapter) *AdapterRegistry {
	r := &AdapterRegistry{adapters: make(map[workflow.SourceType]EntityAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.SourceType()] = a
	}
	return r
}

func (r *AdapterRegistry) For(sourceType string) (EntityAdapter, error) {
	st, err := workflow.ParseSourceType(sourceType)
	if err != nil {
		return nil, errors.InvalidInput("source_type", err.Error())
	}
	a, ok := r.adapters[st]
	if !ok {
		return nil, errors.InvalidInput("source_type", fmt.Sprintf("no adapter registered for %s", st))
	}
	return a, nil
}

// View loads the source behind an action item and builds the caller's view
// of it.
func (r *AdapterRegistry) View(ctx context.Context, actor auth.User, sourceType, sourceID string) (*ItemView, error) {
	a, err := r.For(sourceType)
	if err != nil {
		return nil, err
	}
	detail, err := a.LoadDetail(ctx, actor, sourceID)
	if err != nil {
		return nil, err
	}
	view, err := a.TabsFor(ctx, actor, detail)
	if err != nil {
		return nil, err
	}
	return &ItemView{Detail: detail, View: view}, nil
}

// Decide records a decision through the adapter for req.SourceType, with
// AssignmentID naming the source.
func (r *AdapterRegistry) Decide(ctx context.Context, actor auth.User, req DecideRequest) (*DecideResult, error) {
	a, err := r.For(req.SourceType)
	if err != nil {
		return nil, err
	}
	decision, err := workflow.ParseDecision(req.Decision)
	if err != nil {
		return nil, errors.InvalidInput("decision", err.Error())
	}
	return a.Decide(ctx, actor, req.AssignmentID, decision, req.Comment)
}

// ── Assignment-backed adapter ────────────────────────────────────────────────

// assignmentAdapter serves every source type whose work is tracked as an
// assignment. It only accepts assignments of its own source type.
type assignmentAdapter struct {
	sourceType workflow.SourceType
	machine    *ApprovalStateMachine
	layouts    *layout.Resolver
}

// DefaultAdapters returns one assignment-backed adapter per source type.
func DefaultAdapters(machine *ApprovalStateMachine, layouts *layout.Resolver) []EntityAdapter {
	return []EntityAdapter{
		&assignmentAdapter{sourceType: workflow.SourceAssessmentAssignment, machine: machine, layouts: layouts},
		&assignmentAdapter{sourceType: workflow.SourceOnboardingRequest, machine: machine, layouts: layouts},
		&assignmentAdapter{sourceType: workflow.SourceApprovalStep, machine: machine, layouts: layouts},
	}
}

func (a *assignmentAdapter) SourceType() workflow.SourceType { return a.sourceType }

func (a *assignmentAdapter) LoadDetail(ctx context.Context, actor auth.User, sourceID string) (*EntityDetail, error) {
	detail, err := a.machine.Get(ctx, actor, sourceID)
	if err != nil {
		return nil, err
	}
	asg := detail.Assignment
	if asg.SourceType != a.sourceType {
		return nil, errors.NotFound(string(a.sourceType), sourceID)
	}
	stage, err := workflow.StageForStatus(asg.Status)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "assignment has an unmapped status")
	}
	return &EntityDetail{
		SourceType:  asg.SourceType,
		SourceID:    asg.ID,
		EntityType:  asg.EntityType,
		EntityID:    asg.EntityID,
		RequestType: asg.RequestType,
		Stage:       stage,
		Assignment:  detail,
	}, nil
}

func (a *assignmentAdapter) TabsFor(ctx context.Context, actor auth.User, detail *EntityDetail) (*layout.ViewStructure, error) {
	return a.layouts.GetViewStructure(ctx, layout.ViewRequest{
		TenantID:    actor.TenantID,
		Role:        actor.Role,
		EntityType:  detail.EntityType,
		RequestType: detail.RequestType,
		Stage:       detail.Stage,
		EntityID:    detail.EntityID,
	})
}

func (a *assignmentAdapter) Decide(ctx context.Context, actor auth.User, sourceID string, decision workflow.Decision, comment *string) (*DecideResult, error) {
	if _, err := a.LoadDetail(ctx, actor, sourceID); err != nil {
		return nil, err
	}
	return a.machine.Decide(ctx, actor, DecideRequest{
		AssignmentID: sourceID,
		Decision:     string(decision),
		Comment:      comment,
	})
}
