package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "relay/pkg/domain"
)

const channelPrefix = "relay:notify:"

// Channel returns the pub/sub channel a transport subscribes to for principal.
func Channel(principal id.Principal) string {
	return channelPrefix + string(principal)
}

// RedisNotifier publishes notifications on a per-principal pub/sub channel.
// Nobody listening is not an error; pub/sub is fire-and-forget.
type RedisNotifier struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client, now: time.Now}
}

func (n *RedisNotifier) Notify(ctx context.Context, principal id.Principal, text string) error {
	payload, err := encode(principal, text, n.now())
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, Channel(principal), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
