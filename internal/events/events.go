// Package events carries post-commit change notifications from the workflow
// services to whatever needs to react (notification dispatch, inbox refresh).
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-gov-workflow/internal/logger"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

// AssignmentChanged is emitted after every committed assignment mutation.
type AssignmentChanged struct {
	TenantID     string          `json:"tenant_id"`
	AssignmentID string          `json:"assignment_id"`
	Action       string          `json:"action"`
	ActorID      string          `json:"actor_id"`
	StatusBefore workflow.Status `json:"status_before"`
	StatusAfter  workflow.Status `json:"status_after"`
	Recipients   []string        `json:"recipients,omitempty"`
	Payload      map[string]any  `json:"payload,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// InboxChanged is emitted once per user whose inbox projection changed.
type InboxChanged struct {
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	AssignmentID string    `json:"assignment_id"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Subscriber reacts to events. Errors are logged by the bus and never reach
// the operation that produced the event.
type Subscriber interface {
	OnAssignmentChanged(ctx context.Context, e AssignmentChanged) error
	OnInboxChanged(ctx context.Context, e InboxChanged) error
}

// Publisher is what services depend on.
type Publisher interface {
	AssignmentChanged(ctx context.Context, e AssignmentChanged)
	InboxChanged(ctx context.Context, e InboxChanged)
}

// Bus fans events out to subscribers, each call bounded by timeout.
type Bus struct {
	subs    []Subscriber
	timeout time.Duration
	log     *logger.Logger
}

func NewBus(timeout time.Duration, log *logger.Logger, subs ...Subscriber) *Bus {
	return &Bus{subs: subs, timeout: timeout, log: log.Component("events")}
}

func (b *Bus) AssignmentChanged(ctx context.Context, e AssignmentChanged) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range b.subs {
		b.deliver(ctx, "assignment_changed", e.AssignmentID, func(ctx context.Context) error {
			return s.OnAssignmentChanged(ctx, e)
		})
	}
}

func (b *Bus) InboxChanged(ctx context.Context, e InboxChanged) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range b.subs {
		b.deliver(ctx, "inbox_changed", e.AssignmentID, func(ctx context.Context) error {
			return s.OnInboxChanged(ctx, e)
		})
	}
}

// deliver detaches from the request's cancellation so a client hanging up
// right after commit still gets its notifications sent.
func (b *Bus) deliver(ctx context.Context, kind, assignmentID string, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		return fn(ctx)
	}()
	if err != nil {
		b.log.Warn().Err(err).
			Str("event", kind).
			Str("assignment_id", assignmentID).
			Msg("Event delivery failed (non-fatal)")
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) AssignmentChanged(context.Context, AssignmentChanged) {}
func (Nop) InboxChanged(context.Context, InboxChanged) {}
