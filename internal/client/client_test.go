package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-gov-workflow/internal/events"
	"github.com/pesio-ai/be-gov-workflow/internal/workflow"
)

type capturePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *capturePublisher) Publish(_ context.Context, subject string, data []byte) error {
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return c.err
}

func TestNotificationPublisher_PublishesDecision(t *testing.T) {
	pub := &capturePublisher{}
	np := NewNotificationPublisher(pub, zerolog.Nop())

	err := np.OnAssignmentChanged(context.Background(), events.AssignmentChanged{
		TenantID: "t1", AssignmentID: "a1", Action: "decided", ActorID: "carol",
		StatusBefore: workflow.StatusCompleted, StatusAfter: workflow.StatusApproved,
		Recipients: []string{"alice"},
		Payload:    map[string]any{"decision": "accepted"},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"notifications.gov.assignment_decided"}, pub.subjects)
	var event NotificationEvent
	require.NoError(t, json.Unmarshal(pub.payloads[0], &event))
	assert.Equal(t, "a1", event.ResourceID)
	assert.Equal(t, []string{"alice"}, event.Recipients)
	assert.False(t, event.IsActionable)
	assert.Equal(t, "accepted", event.Payload["decision"])
}

func TestNotificationPublisher_SkipsWithoutRecipients(t *testing.T) {
	pub := &capturePublisher{}
	np := NewNotificationPublisher(pub, zerolog.Nop())
	require.NoError(t, np.OnAssignmentChanged(context.Background(), events.AssignmentChanged{AssignmentID: "a1"}))
	assert.Empty(t, pub.subjects)

	disabled := NewNotificationPublisher(nil, zerolog.Nop())
	assert.NoError(t, disabled.OnAssignmentChanged(context.Background(), events.AssignmentChanged{Recipients: []string{"x"}}))
}

func TestNotificationPublisher_ReturnsPublishError(t *testing.T) {
	pub := &capturePublisher{err: stderrors.New("no responders")}
	np := NewNotificationPublisher(pub, zerolog.Nop())
	err := np.OnAssignmentChanged(context.Background(), events.AssignmentChanged{
		AssignmentID: "a1", Action: "forwarded", Recipients: []string{"bob"},
	})
	assert.Error(t, err)
}

type fakeRedis struct {
	channels []string
	err      error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, _ any) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestInboxBroadcaster(t *testing.T) {
	rdb := &fakeRedis{}
	b := NewInboxBroadcaster(rdb, "gov.inbox", zerolog.Nop())

	require.NoError(t, b.OnInboxChanged(context.Background(), events.InboxChanged{TenantID: "t1", UserID: "bob", Reason: "forwarded"}))
	assert.Equal(t, []string{"gov.inbox.t1.bob"}, rdb.channels)

	rdb.err = stderrors.New("connection refused")
	assert.Error(t, b.OnInboxChanged(context.Background(), events.InboxChanged{TenantID: "t1", UserID: "bob"}))
}
