package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-gov-workflow/internal/events"
)

// RedisPublisher is the subset of *redis.Client used for broadcasts.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// InboxBroadcaster tells connected UIs to refresh a user's inbox by
// publishing on a per-user Redis channel: <prefix>.<tenant_id>.<user_id>.
type InboxBroadcaster struct {
	rdb    RedisPublisher
	prefix string
	log    zerolog.Logger
}

// NewRedisClient creates a Redis client for the broadcaster.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func NewInboxBroadcaster(rdb RedisPublisher, prefix string, log zerolog.Logger) *InboxBroadcaster {
	return &InboxBroadcaster{rdb: rdb, prefix: prefix, log: log.With().Str("component", "inbox_broadcaster").Logger()}
}

// Channel returns the channel a user's inbox events are published on.
func (b *InboxBroadcaster) Channel(tenantID, userID string) string {
	return fmt.Sprintf("%s.%s.%s", b.prefix, tenantID, userID)
}

func (b *InboxBroadcaster) OnInboxChanged(ctx context.Context, e events.InboxChanged) error {
	if b.rdb == nil || e.UserID == "" {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal inbox event: %w", err)
	}
	channel := b.Channel(e.TenantID, e.UserID)
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	b.log.Debug().Str("channel", channel).Str("reason", e.Reason).Msg("inbox refresh published")
	return nil
}

func (b *InboxBroadcaster) OnAssignmentChanged(context.Context, events.AssignmentChanged) error {
	return nil
}
