package service

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/pesio-ai/be-gov-workflow/internal/errors"
	"github.com/pesio-ai/be-gov-workflow/internal/repository"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// ActionItemIndex serves inboxes from the action item projection. The
// projection itself is maintained by reindex inside every mutating
// transaction.
type ActionItemIndex struct {
	store repository.Reader
	now   func() time.Time
}

// NewActionItemIndex creates an index. now defaults to the wall clock.
func NewActionItemIndex(store repository.Reader, now func() time.Time) *ActionItemIndex {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &ActionItemIndex{store: store, now: now}
}

// InboxCounts is the per-bucket size of an inbox.
type InboxCounts struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Overdue   int `json:"overdue"`
	Total     int `json:"total"`
}

// Inbox returns a user's items in bucket, or all items when bucket is
// empty. Returned items carry their derived status. Items are ordered by
// due date (undated last), then creation time.
func (x *ActionItemIndex) Inbox(ctx context.Context, userID, tenantID string, bucket workflow.ItemStatus) ([]*repository.ActionItem, error) {
	items, err := x.load(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	out := make([]*repository.ActionItem, 0, len(items))
	for _, item := range items {
		if bucket == "" || item.Status == bucket {
			out = append(out, item)
		}
	}
	sortInbox(out)
	return out, nil
}

// sortInbox orders items by due date (undated last), then creation time,
// then id.
func sortInbox(items []*repository.ActionItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].DueAt, items[j].DueAt
		switch {
		case a == nil && b != nil:
			return false
		case a != nil && b == nil:
			return true
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func (x *ActionItemIndex) Counts(ctx context.Context, userID, tenantID string) (*InboxCounts, error) {
	items, err := x.load(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	counts := &InboxCounts{Total: len(items)}
	for _, item := range items {
		switch item.Status {
		case workflow.ItemOverdue:
			counts.Overdue++
		case workflow.ItemCompleted:
			counts.Completed++
		default:
			counts.Pending++
		}
	}
	return counts, nil
}

func (x *ActionItemIndex) load(ctx context.Context, userID, tenantID string) ([]*repository.ActionItem, error) {
	if userID == "" {
		return nil, errors.InvalidInput("user_id", "user is required")
	}
	if tenantID == "" {
		return nil, errors.InvalidInput("tenant_id", "tenant is required")
	}
	items, err := x.store.ListActionItemsForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	now := x.now()
	for _, item := range items {
		item.Status = DeriveStatus(item, now)
	}
	return items, nil
}

// DeriveStatus returns the inbox status of a stored item at time now.
func DeriveStatus(item *repository.ActionItem, now time.Time) workflow.ItemStatus {
	if item.Status == workflow.ItemCompleted {
		return workflow.ItemCompleted
	}
	if item.DueAt != nil && now.After(*item.DueAt) {
		return workflow.ItemOverdue
	}
	return workflow.ItemPending
}

// ── Projection maintenance ───────────────────────────────────────────────────

// reindex recomputes every action item of an assignment inside tx and
// returns the users whose inbox changed. The primary item follows the
// assignment's owner. A question-scoped item completes once each of its
// questions has a non-pending review. Every item completes when the
// assignment is terminal.
func reindex(ctx context.Context, tx repository.Tx, a *repository.Assignment) ([]string, error) {
	items, err := tx.LockActionItemsForSource(ctx, a.TenantID, a.SourceType, a.ID)
	if err != nil {
		return nil, err
	}
	reviews, err := tx.ListReviews(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	reviewed := make(map[string]bool, len(reviews))
	for _, r := range reviews {
		reviewed[r.QuestionID] = r.Status != workflow.ReviewPending
	}

	var touched userSet
	var primary *repository.ActionItem
	for _, item := range items {
		if !item.Scoped() {
			if primary == nil {
				primary = item
			}
			continue
		}
		status := workflow.ItemCompleted
		if !a.Status.IsTerminal() {
			for _, qid := range item.QuestionIDs {
				if !reviewed[qid] {
					status = workflow.ItemPending
					break
				}
			}
		}
		if err := project(ctx, tx, a, item, item.AssignedTo, status, &touched); err != nil {
			return nil, err
		}
	}

	status := workflow.ItemPending
	if a.Status.IsTerminal() {
		status = workflow.ItemCompleted
	}
	if primary == nil {
		primary = &repository.ActionItem{
			TenantID:   a.TenantID,
			SourceType: a.SourceType,
			SourceID:   a.ID,
		}
	}
	if err := project(ctx, tx, a, primary, a.AssignedTo, status, &touched); err != nil {
		return nil, err
	}
	return touched, nil
}

// project saves item when its projected fields differ from the stored ones.
func project(ctx context.Context, tx repository.Tx, a *repository.Assignment, item *repository.ActionItem, owner string, status workflow.ItemStatus, touched *userSet) error {
	metadata := itemMetadata(a, owner)
	isNew := item.ID == ""
	if !isNew &&
		item.AssignedTo == owner &&
		item.Status == status &&
		sameTime(item.DueAt, a.DueAt) &&
		maps.Equal(item.Metadata, metadata) {
		return nil
	}

	if !isNew && item.AssignedTo != owner {
		touched.add(item.AssignedTo)
	}
	if isNew || item.AssignedTo != owner || item.Status != status {
		touched.add(owner)
	}

	item.AssignedTo = owner
	item.Status = status
	item.DueAt = a.DueAt
	item.Metadata = metadata
	return tx.SaveActionItem(ctx, item)
}

// itemMetadata describes a for an item owned by owner.
func itemMetadata(a *repository.Assignment, owner string) map[string]any {
	return map[string]any{
		"workflow_ticket_id": a.ID,
		"assigned_to":        owner,
		"assignment_status":  string(a.Status),
		"entity_type":        a.EntityType,
		"entity_id":          a.EntityID,
		"request_type":       a.RequestType,
		"title":              a.Title,
	}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// scopedItemFor returns the pending-or-completed scoped item owned by userID,
// or a new one.
func scopedItemFor(items []*repository.ActionItem, a *repository.Assignment, userID string) *repository.ActionItem {
	for _, item := range items {
		if item.Scoped() && item.AssignedTo == userID {
			return item
		}
	}
	return &repository.ActionItem{
		TenantID:   a.TenantID,
		SourceType: a.SourceType,
		SourceID:   a.ID,
		AssignedTo: userID,
		Status:     workflow.ItemPending,
	}
}

func mergeQuestionIDs(existing, added []string) []string {
	out := slices.Clone(existing)
	for _, id := range added {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
