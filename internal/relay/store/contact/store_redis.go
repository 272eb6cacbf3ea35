package contact

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	id "relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

const contactsKeyPrefix = "relay:contacts:"

// addScript keeps the ordered list and the membership set in step.
var addScript = redis.NewScript(`
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

// RedisStore keeps contacts as an ordered list per owner plus a set for dedupe.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed directory.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func listKey(owner id.IdentityID) string { return contactsKeyPrefix + owner.String() }

func setKey(owner id.IdentityID) string { return contactsKeyPrefix + owner.String() + ":set" }

// Add appends target to owner's contacts. Returns false when it was already present.
func (s *RedisStore) Add(ctx context.Context, owner, target id.IdentityID) (bool, error) {
	n, err := addScript.Run(ctx, s.client, []string{listKey(owner), setKey(owner)}, target.String()).Int64()
	if err != nil {
		return false, fmt.Errorf("add contact: %w: %w", sentinel.ErrUnavailable, err)
	}
	return n == 1, nil
}

// List returns owner's contacts in insertion order.
func (s *RedisStore) List(ctx context.Context, owner id.IdentityID) ([]id.IdentityID, error) {
	raw, err := s.client.LRange(ctx, listKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w: %w", sentinel.ErrUnavailable, err)
	}
	out := make([]id.IdentityID, 0, len(raw))
	for _, r := range raw {
		parsed, err := id.ParseIdentityID(r)
		if err != nil {
			return nil, fmt.Errorf("corrupt contact entry %q: %w", r, sentinel.ErrInvalidState)
		}
		out = append(out, parsed)
	}
	return out, nil
}
