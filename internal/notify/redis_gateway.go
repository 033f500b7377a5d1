package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisGateway publishes to a per-user pub/sub channel that connected
// clients (or a push service) subscribe to.
type RedisGateway struct {
	client *redis.Client
}

func NewRedisGateway(client *redis.Client) *RedisGateway {
	return &RedisGateway{client: client}
}

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("notifications:%s", userID)
}

func (g *RedisGateway) Notify(ctx context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	data, err := json.Marshal(newMessage(userID, kind, payload))
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := g.client.Publish(ctx, UserChannel(userID), data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
