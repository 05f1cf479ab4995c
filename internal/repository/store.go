package repository

import (
	"context"

	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// LockMode selects the row lock taken on an assignment inside a transaction.
type LockMode int

const (
	// LockShare lets concurrent reviewers proceed while blocking transitions.
	LockShare LockMode = iota
	// LockUpdate serializes state transitions on one assignment.
	LockUpdate
)

// Reader exposes the read side of workflow state.
type Reader interface {
	GetAssignment(ctx context.Context, tenantID, id string) (*Assignment, error)
	ListQuestions(ctx context.Context, assignmentID string) ([]*Question, error)
	ListResponses(ctx context.Context, assignmentID string) ([]*Response, error)
	ListReviews(ctx context.Context, assignmentID string) ([]*QuestionReview, error)
	GetDecision(ctx context.Context, id string) (*Decision, error)
	ListForwards(ctx context.Context, assignmentID string) ([]*ForwardRecord, error)
	ListAudit(ctx context.Context, assignmentID string) ([]*AuditEntry, error)
	ListActionItemsForUser(ctx context.Context, tenantID, userID string) ([]*ActionItem, error)
	ListActionItemsForSource(ctx context.Context, tenantID string, sourceType workflow.SourceType, sourceID string) ([]*ActionItem, error)
}

// Tx is the unit of work every mutating operation runs in. Assignment,
// reviews and the action item projection change together or not at all.
type Tx interface {
	Reader

	// LockAssignment loads an assignment and holds the requested row lock
	// until the transaction ends.
	LockAssignment(ctx context.Context, tenantID, id string, mode LockMode) (*Assignment, error)
	// LockActionItemsForSource is ListActionItemsForSource holding row locks,
	// so concurrent re-indexing of one source is serialized.
	LockActionItemsForSource(ctx context.Context, tenantID string, sourceType workflow.SourceType, sourceID string) ([]*ActionItem, error)
	CreateAssignment(ctx context.Context, a *Assignment, questions []*Question) error
	// UpdateAssignment persists a only if its stored version still equals
	// a.Version, then increments a.Version. A stale version is a conflict.
	UpdateAssignment(ctx context.Context, a *Assignment) error
	UpsertResponse(ctx context.Context, r *Response) error
	UpsertReview(ctx context.Context, r *QuestionReview) error
	InsertDecision(ctx context.Context, d *Decision) error
	AppendForward(ctx context.Context, f *ForwardRecord) error
	AppendAudit(ctx context.Context, e *AuditEntry) error
	SaveActionItem(ctx context.Context, item *ActionItem) error
}

// Store is the workflow state store.
type Store interface {
	Reader
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// LayoutCatalog finds active layouts. Both lookups return nil, nil when no
// layout matches.
type LayoutCatalog interface {
	FindActiveLayoutByType(ctx context.Context, tenantID, requestType string, layoutType workflow.LayoutType) (*FormLayout, error)
	FindActiveLayoutByStage(ctx context.Context, tenantID, requestType string, stage workflow.Stage) (*FormLayout, error)
}

// PermissionCatalog lists the field permission rules of a role.
type PermissionCatalog interface {
	ListFieldPermissions(ctx context.Context, tenantID, role, entityType string) ([]*FieldPermission, error)
}

// UserDirectory resolves users for forwarding validation.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*User, error)
}

// CatalogWriter is used by the catalog import command.
type CatalogWriter interface {
	SaveLayout(ctx context.Context, l *FormLayout) error
	SaveFieldPermission(ctx context.Context, p *FieldPermission) error
	SaveUser(ctx context.Context, u *User) error
}
