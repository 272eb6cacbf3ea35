package mailbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

const (
	inboxKeyPrefix = "relay:inbox:"
	inboxIndexKey  = "relay:inboxes"

	purgeScanCount = 100
)

// drainScript reads and deletes a recipient log in one step.
var drainScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
return items
`)

// purgeScript rewrites one recipient log without entries stamped at or before
// ARGV[1] (unix ms), keeping order and TTL. The index entry goes once empty.
var purgeScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
local cutoff = tonumber(ARGV[1])
local keep = {}
for _, item in ipairs(items) do
  local sep = string.find(item, '|', 1, true)
  local stamp = sep and tonumber(string.sub(item, 1, sep - 1))
  if stamp and stamp > cutoff then
    keep[#keep + 1] = item
  end
end
local removed = #items - #keep
if removed > 0 then
  local ttl = redis.call('PTTL', KEYS[1])
  redis.call('DEL', KEYS[1])
  for _, item in ipairs(keep) do
    redis.call('RPUSH', KEYS[1], item)
  end
  if #keep > 0 and ttl > 0 then
    redis.call('PEXPIRE', KEYS[1], ttl)
  end
end
if #keep == 0 then
  redis.call('SREM', KEYS[2], ARGV[2])
end
return removed
`)

// RedisStore keeps each recipient's pending messages as an append-only list.
// Entries are "<created unix ms>|<json>" so purge can trim server-side.
// Keys expire after the retention window as a backstop.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
	logger    *slog.Logger
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithLogger sets the logger used to report undecodable entries.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisStore constructs a Redis-backed mailbox.
func NewRedisStore(client *redis.Client, retention time.Duration, opts ...RedisOption) *RedisStore {
	if retention <= 0 {
		retention = models.DefaultRetention
	}
	s := &RedisStore{client: client, retention: retention, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the configured retention window.
func (s *RedisStore) Retention() time.Duration {
	return s.retention
}

func inboxKey(recipient string) string { return inboxKeyPrefix + recipient }

func encodeEntry(msg models.PendingMessage) (string, error) {
	entry, err := encodeEntry(msg)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.CreatedAt.UnixMilli(), 10) + "|" + string(payload), nil
}

func decodeEntry(entry string) (models.PendingMessage, error) {
	var msg models.PendingMessage
	_, payload, ok := strings.Cut(entry, "|")
	if !ok {
		return msg, fmt.Errorf("missing timestamp prefix: %w", sentinel.ErrInvalidState)
	}
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, fmt.Errorf("decode pending message: %w: %w", err, sentinel.ErrInvalidState)
	}
	return msg, nil
}

// Deposit appends msg to its recipient's log.
func (s *RedisStore) Deposit(ctx context.Context, msg models.PendingMessage) error {
	entry, err := encodeEntry(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	recipient := msg.Recipient.String()
	key := inboxKey(recipient)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, entry)
		pipe.Expire(ctx, key, s.retention)
		pipe.SAdd(ctx, inboxIndexKey, recipient)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deposit message: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Drain atomically removes and returns recipient's messages in insertion order,
// discarding any past retention at now. Entries that fail to decode are
// logged and skipped; the rest of the batch is still returned.
func (s *RedisStore) Drain(ctx context.Context, recipient id.IdentityID, now time.Time) ([]models.PendingMessage, error) {
	raw, err := drainScript.Run(ctx, s.client,
		[]string{inboxKey(recipient.String()), inboxIndexKey}, recipient.String(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("drain inbox: %w: %w", sentinel.ErrUnavailable, err)
	}
	var out []models.PendingMessage
	for _, r := range raw {
		msg, err := decodeEntry(r)
		if err != nil {
			s.logger.WarnContext(ctx, "dropping undecodable pending message",
				"recipient", recipient.String(),
				"error", err,
			)
			continue
		}
		if !msg.ExpiredAt(now, s.retention) {
			out = append(out, msg)
		}
	}
	return out, nil
}

// PurgeExpired trims every indexed recipient log, one key at a time.
func (s *RedisStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	// drop entries stamped strictly before now-retention
	cutoff := strconv.FormatInt(now.Add(-s.retention).UnixMilli()-1, 10)
	removed := 0
	iter := s.client.SScan(ctx, inboxIndexKey, 0, "", purgeScanCount).Iterator()
	for iter.Next(ctx) {
		recipient := iter.Val()
		n, err := purgeScript.Run(ctx, s.client,
			[]string{inboxKey(recipient), inboxIndexKey}, cutoff, recipient,
		).Int()
		if err != nil {
			return removed, fmt.Errorf("purge inbox: %w: %w", sentinel.ErrUnavailable, err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan inboxes: %w: %w", sentinel.ErrUnavailable, err)
	}
	return removed, nil
}

// Pending returns the number of messages held for recipient.
func (s *RedisStore) Pending(ctx context.Context, recipient id.IdentityID) (int, error) {
	n, err := s.client.LLen(ctx, inboxKey(recipient.String())).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending: %w: %w", sentinel.ErrUnavailable, err)
	}
	return int(n), nil
}
