package repository

import (
	"time"

	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// ── Workflow records ─────────────────────────────────────────────────────────

// Assignment is one unit of work moving through the approval state machine.
type Assignment struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	SourceType  workflow.SourceType `json:"source_type"`
	EntityType  string              `json:"entity_type"` // agent | vendor | assessment
	EntityID    string              `json:"entity_id"`
	RequestType string              `json:"request_type"`
	Title       string              `json:"title,omitempty"`
	Status      workflow.Status     `json:"status"`
	SubmitterID string              `json:"submitter_id"`
	ApproverID  string              `json:"approver_id"`
	AssignedTo  string              `json:"assigned_to"`
	CurrentStep int                 `json:"current_step"`
	TotalSteps  int                 `json:"total_steps"`
	DueAt       *time.Time          `json:"due_at,omitempty"`
	Version     int                 `json:"version"`
	DecisionID  *string             `json:"decision_id,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Question belongs to exactly one assignment.
type Question struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignment_id"`
	FieldName    string `json:"field_name"`
	Prompt       string `json:"prompt,omitempty"`
	Position     int    `json:"position"`
	Required     bool   `json:"required"`
}

// Response is the live answer to a question. There is at most one per
// (assignment, question).
type Response struct {
	AssignmentID string    `json:"assignment_id"`
	QuestionID   string    `json:"question_id"`
	Value        string    `json:"value"`
	Comment      *string   `json:"comment,omitempty"`
	RespondedBy  string    `json:"responded_by"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// QuestionReview is an approver's verdict on one question.
type QuestionReview struct {
	AssignmentID string                `json:"assignment_id"`
	QuestionID   string                `json:"question_id"`
	Status       workflow.ReviewStatus `json:"status"`
	Comment      *string               `json:"comment,omitempty"`
	ReviewerID   string                `json:"reviewer_id"`
	ReviewedAt   time.Time             `json:"reviewed_at"`
}

// ForwardRecord is an append-only record of a delegation.
type ForwardRecord struct {
	ID           string    `json:"id"`
	AssignmentID string    `json:"assignment_id"`
	TenantID     string    `json:"tenant_id"`
	QuestionIDs  []string  `json:"question_ids,omitempty"` // empty = whole assignment
	FromUser     string    `json:"from_user"`
	ToUser       string    `json:"to_user"`
	Comment      *string   `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Decision is the final verdict on an assignment.
type Decision struct {
	ID           string            `json:"id"`
	AssignmentID string            `json:"assignment_id"`
	Decision     workflow.Decision `json:"decision"`
	Comment      *string           `json:"comment,omitempty"`
	DecidedBy    string            `json:"decided_by"`
	DecidedAt    time.Time         `json:"decided_at"`
}

// ActionItem is an inbox entry pointing at a workflow-bearing source.
// Stored status is pending or completed; overdue is derived on read.
type ActionItem struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	SourceType  workflow.SourceType `json:"source_type"`
	SourceID    string              `json:"source_id"`
	AssignedTo  string              `json:"assigned_to"`
	QuestionIDs []string            `json:"question_ids,omitempty"` // non-empty for partial forwards
	Status      workflow.ItemStatus `json:"status"`
	DueAt       *time.Time          `json:"due_at,omitempty"`
	Metadata    map[string]any      `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Scoped reports whether the item covers only a subset of questions.
func (i *ActionItem) Scoped() bool { return len(i.QuestionIDs) > 0 }

// AuditEntry is one immutable record in the assignment audit log.
type AuditEntry struct {
	ID           string          `json:"id"`
	AssignmentID string          `json:"assignment_id"`
	TenantID     string          `json:"tenant_id"`
	Action       string          `json:"action"` // created | submitted | completed | decided | resubmitted | forwarded | reviewed
	PerformedBy  string          `json:"performed_by"`
	PerformedAt  time.Time       `json:"performed_at"`
	StageBefore  *workflow.Stage `json:"stage_before,omitempty"`
	StageAfter   *workflow.Stage `json:"stage_after,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
}

// ── Catalog records ──────────────────────────────────────────────────────────

// FormLayout is a tenant-configured screen layout. New layouts carry a
// LayoutType; legacy layouts carry a WorkflowStage instead.
type FormLayout struct {
	ID            string               `json:"id" yaml:"id"`
	TenantID      string               `json:"tenant_id" yaml:"tenant_id"`
	RequestType   string               `json:"request_type" yaml:"request_type"`
	EntityType    string               `json:"entity_type" yaml:"entity_type"`
	LayoutType    *workflow.LayoutType `json:"layout_type,omitempty" yaml:"layout_type,omitempty"`
	WorkflowStage *workflow.Stage      `json:"workflow_stage,omitempty" yaml:"workflow_stage,omitempty"`
	IsActive      bool                 `json:"is_active" yaml:"is_active"`
	Tabs          []LayoutTab          `json:"tabs" yaml:"tabs"`
	Sections      []LayoutSection      `json:"sections" yaml:"sections"`
	UpdatedAt     time.Time            `json:"updated_at" yaml:"-"`
}

type LayoutTab struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Order int    `json:"order" yaml:"order"`
}

type LayoutSection struct {
	ID     string        `json:"id" yaml:"id"`
	TabID  string        `json:"tab_id" yaml:"tab_id"`
	Title  string        `json:"title" yaml:"title"`
	Order  int           `json:"order" yaml:"order"`
	Fields []LayoutField `json:"fields" yaml:"fields"`
}

type LayoutField struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty"`
}

// StageWildcard matches every stage in a FieldPermission.
const StageWildcard = "*"

// FieldPermission grants visibility/editability to a role. LayoutID and
// FieldID select the precedence tier.
type FieldPermission struct {
	ID         string  `json:"id" yaml:"id"`
	TenantID   string  `json:"tenant_id" yaml:"tenant_id"`
	Role       string  `json:"role" yaml:"role"`
	EntityType string  `json:"entity_type" yaml:"entity_type"`
	LayoutID   *string `json:"layout_id,omitempty" yaml:"layout_id,omitempty"`
	FieldID    *string `json:"field_id,omitempty" yaml:"field_id,omitempty"`
	Stage      string  `json:"stage" yaml:"stage"` // stage name or "*"
	Visible    bool    `json:"visible" yaml:"visible"`
	Editable   bool    `json:"editable" yaml:"editable"`
}

// User is a directory record from the identity provider.
type User struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Role     string `json:"role" yaml:"role"`
	Active   bool   `json:"active" yaml:"active"`
}
