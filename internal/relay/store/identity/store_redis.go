package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

const (
	principalKeyPrefix = "relay:principal:"
	identityKeyPrefix  = "relay:identity:"
	identityIndexKey   = "relay:identities"

	maxCollisionRetries = 3
)

// identifyScript binds a principal to a candidate identity in one atomic step.
// Returns {identity, 1} when created, {identity, 0} when the principal was
// already bound, and {"", -1} when the candidate identity is taken.
var identifyScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  return {existing, 0}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {'', -1}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], 'principal', ARGV[2], 'created_at', ARGV[3])
redis.call('ZADD', KEYS[3], 0, ARGV[1])
return {ARGV[1], 1}
`)

// RedisStore keeps identities in Redis following the relay persistence layout:
// identity records keyed by token, a principal reverse index, and a
// lexicographic index for prefix lookup.
type RedisStore struct {
	client *redis.Client
	newID  func() (id.IdentityID, error)
	now    func() time.Time
}

// NewRedisStore constructs a Redis-backed registry. The client lifecycle is managed by the caller.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, newID: id.NewIdentityID, now: time.Now}
}

func principalKey(p id.Principal) string { return principalKeyPrefix + string(p) }

func identityKey(identity string) string { return identityKeyPrefix + identity }

// Identify returns the identity bound to principal, creating one on first contact.
func (s *RedisStore) Identify(ctx context.Context, principal id.Principal) (*models.UserRecord, bool, error) {
	for range maxCollisionRetries {
		candidate, err := s.newID()
		if err != nil {
			return nil, false, fmt.Errorf("generate identity: %w", err)
		}
		now := s.now()
		res, err := identifyScript.Run(ctx, s.client,
			[]string{principalKey(principal), identityKey(candidate.String()), identityIndexKey},
			candidate.String(), string(principal), strconv.FormatInt(now.UnixNano(), 10),
		).Slice()
		if err != nil {
			return nil, false, fmt.Errorf("identify principal: %w: %w", sentinel.ErrUnavailable, err)
		}
		if len(res) != 2 {
			return nil, false, fmt.Errorf("identify script returned %d values: %w", len(res), sentinel.ErrInvalidState)
		}
		status, _ := res[1].(int64)
		switch status {
		case -1:
			continue
		case 1:
			return &models.UserRecord{Identity: candidate, Principal: principal, CreatedAt: now}, true, nil
		default:
			existing, _ := res[0].(string)
			identity, err := id.ParseIdentityID(existing)
			if err != nil {
				return nil, false, fmt.Errorf("principal bound to corrupt identity %q: %w", existing, sentinel.ErrInvalidState)
			}
			record, err := s.Resolve(ctx, identity)
			if err != nil {
				return nil, false, err
			}
			return record, false, nil
		}
	}
	return nil, false, fmt.Errorf("identity collision retries exhausted: %w", sentinel.ErrConflict)
}

// Lookup returns the identity bound to principal without creating one.
func (s *RedisStore) Lookup(ctx context.Context, principal id.Principal) (id.IdentityID, error) {
	raw, err := s.client.Get(ctx, principalKey(principal)).Result()
	if errors.Is(err, redis.Nil) {
		return id.IdentityID{}, fmt.Errorf("principal not registered: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return id.IdentityID{}, fmt.Errorf("lookup principal: %w: %w", sentinel.ErrUnavailable, err)
	}
	identity, err := id.ParseIdentityID(raw)
	if err != nil {
		return id.IdentityID{}, fmt.Errorf("principal bound to corrupt identity %q: %w", raw, sentinel.ErrInvalidState)
	}
	return identity, nil
}

// Resolve returns the record for identity.
func (s *RedisStore) Resolve(ctx context.Context, identity id.IdentityID) (*models.UserRecord, error) {
	fields, err := s.client.HGetAll(ctx, identityKey(identity.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w: %w", sentinel.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	record := &models.UserRecord{
		Identity:  identity,
		Principal: id.Principal(fields["principal"]),
	}
	if nanos, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		record.CreatedAt = time.Unix(0, nanos)
	}
	return record, nil
}

// ResolvePrefix returns up to limit identities whose canonical form starts with prefix.
func (s *RedisStore) ResolvePrefix(ctx context.Context, prefix string, limit int) ([]id.IdentityID, error) {
	prefix = strings.ToLower(prefix)
	if prefix == "" || limit <= 0 {
		return nil, nil
	}
	members, err := s.client.ZRangeByLex(ctx, identityIndexKey, &redis.ZRangeBy{
		Min:   "[" + prefix,
		Max:   "[" + prefix + "\xff",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("prefix lookup: %w: %w", sentinel.ErrUnavailable, err)
	}
	out := make([]id.IdentityID, 0, len(members))
	for _, m := range members {
		parsed, err := id.ParseIdentityID(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt prefix index entry %q: %w", m, sentinel.ErrInvalidState)
		}
		out = append(out, parsed)
	}
	return out, nil
}

// Count returns the number of registered identities.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, identityIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count identities: %w: %w", sentinel.ErrUnavailable, err)
	}
	return int(n), nil
}
