package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-gov-workflow/internal/events"
)

// Publisher sends a message on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// ConnectNATS dials NATS with unlimited reconnects.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
}

type natsPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher adapts a NATS connection to Publisher. Publish returns
// once the server has acknowledged the flush or ctx expires.
func NewNATSPublisher(nc *nats.Conn) Publisher {
	return natsPublisher{nc: nc}
}

func (p natsPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := p.nc.Publish(subject, data); err != nil {
		return err
	}
	return p.nc.FlushWithContext(ctx)
}

// NotificationPublisher turns assignment changes into notification events
// for the notification dispatcher (email/toast).
//
// Subject convention: notifications.gov.<event_type>
// Event types: assignment_created, assignment_submitted, assignment_completed,
// assignment_decided, assignment_resubmitted, assignment_forwarded
//
// Failures are returned to the event bus, which logs them; they never
// interrupt the workflow operation that produced the event.
type NotificationPublisher struct {
	pub Publisher
	log zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string         `json:"event_type"`
	TenantID     string         `json:"tenant_id"`
	ActorID      string         `json:"actor_id"`
	Recipients   []string       `json:"recipients"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	IsActionable bool           `json:"is_actionable,omitempty"`
	ActionURL    string         `json:"action_url,omitempty"`
	Severity     string         `json:"severity,omitempty"`
	Category     string         `json:"category,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil pub disables it.
func NewNotificationPublisher(pub Publisher, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{pub: pub, log: log.With().Str("component", "notifications").Logger()}
}

// OnAssignmentChanged publishes one notification per change.
func (p *NotificationPublisher) OnAssignmentChanged(ctx context.Context, e events.AssignmentChanged) error {
	if p.pub == nil || len(e.Recipients) == 0 {
		return nil
	}

	eventType := "assignment_" + e.Action
	payload := map[string]any{
		"status_before": e.StatusBefore,
		"status_after":  e.StatusAfter,
	}
	for k, v := range e.Payload {
		payload[k] = v
	}

	event := &NotificationEvent{
		EventType:    eventType,
		TenantID:     e.TenantID,
		ActorID:      e.ActorID,
		Recipients:   e.Recipients,
		ResourceType: "assignment",
		ResourceID:   e.AssignmentID,
		IsActionable: !e.StatusAfter.IsTerminal(),
		ActionURL:    "/assignments/" + e.AssignmentID,
		Severity:     severityFor(e),
		Category:     "gov_workflow",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	subject := fmt.Sprintf("notifications.gov.%s", eventType)
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("assignment_id", e.AssignmentID).
		Int("recipients", len(e.Recipients)).
		Msg("notification: event published")
	return nil
}

// OnInboxChanged is handled by the inbox broadcaster.
func (p *NotificationPublisher) OnInboxChanged(context.Context, events.InboxChanged) error {
	return nil
}

func severityFor(e events.AssignmentChanged) string {
	if e.Action == "decided" && e.StatusAfter != e.StatusBefore && !e.StatusAfter.IsTerminal() {
		return "warning"
	}
	return "info"
}
