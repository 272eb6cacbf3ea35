package mailbox

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	store, _ := newRedisStoreWithServer(t)
	return store
}

func newRedisStoreWithServer(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, models.DefaultRetention), mr
}

func TestRedisStore_DepositDrain(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	sender := id.IdentityID(uuid.New())
	recipient := id.IdentityID(uuid.New())

	var want []string
	for i := range 3 {
		msg := models.NewPendingMessage(sender, recipient, fmt.Sprintf("m%d", i), now)
		require.NoError(t, store.Deposit(ctx, msg))
		want = append(want, msg.ID)
	}

	n, err := store.Pending(ctx, recipient)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := store.Drain(ctx, recipient, now)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		assert.Equal(t, want[i], m.ID)
		assert.Equal(t, sender, m.Sender)
		assert.Equal(t, recipient, m.Recipient)
		assert.True(t, m.CreatedAt.Equal(now))
	}

	again, err := store.Drain(ctx, recipient, now)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestRedisStore_DrainFollowsDepositOrderNotCreationTime(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	recipient := id.IdentityID(uuid.New())

	// a later-started request can deposit first
	first := models.NewPendingMessage(id.IdentityID(uuid.New()), recipient, "deposited first", now.Add(5*time.Millisecond))
	second := models.NewPendingMessage(id.IdentityID(uuid.New()), recipient, "deposited second", now)
	require.NoError(t, store.Deposit(ctx, first))
	require.NoError(t, store.Deposit(ctx, second))

	got, err := store.Drain(ctx, recipient, now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "deposited first", got[0].Body)
	assert.Equal(t, "deposited second", got[1].Body)
}

func TestRedisStore_DrainSkipsUndecodableEntries(t *testing.T) {
	store, mr := newRedisStoreWithServer(t)
	ctx := context.Background()
	now := time.Now()
	sender := id.IdentityID(uuid.New())
	recipient := id.IdentityID(uuid.New())

	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, recipient, "before", now)))
	_, err := mr.Push(inboxKey(recipient.String()), "garbage")
	require.NoError(t, err)
	_, err = mr.Push(inboxKey(recipient.String()), "1|{not json")
	require.NoError(t, err)
	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, recipient, "after", now)))

	got, err := store.Drain(ctx, recipient, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "before", got[0].Body)
	assert.Equal(t, "after", got[1].Body)
	assert.False(t, mr.Exists(inboxKey(recipient.String())))
}

func TestRedisStore_PurgeKeepsOrderOfSurvivors(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	base := time.Now().Add(-48 * time.Hour)
	sender := id.IdentityID(uuid.New())
	recipient := id.IdentityID(uuid.New())

	fresh := base.Add(47 * time.Hour)
	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, recipient, "b", fresh.Add(time.Minute))))
	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, recipient, "stale", base)))
	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, recipient, "a", fresh)))

	now := base.Add(store.Retention() + time.Hour)
	removed, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := store.Drain(ctx, recipient, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Body)
	assert.Equal(t, "a", got[1].Body)
}

func TestRedisStore_DrainDropsExpired(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	created := time.Now().Add(-time.Hour)
	recipient := id.IdentityID(uuid.New())

	msg := models.NewPendingMessage(id.IdentityID(uuid.New()), recipient, "stale", created)
	require.NoError(t, store.Deposit(ctx, msg))

	got, err := store.Drain(ctx, recipient, created.Add(store.Retention()+time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisStore_PurgeExpired(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	base := time.Now().Add(-48 * time.Hour)
	sender := id.IdentityID(uuid.New())
	r1 := id.IdentityID(uuid.New())
	r2 := id.IdentityID(uuid.New())

	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, r1, "old", base)))
	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, r1, "new", base.Add(2*time.Hour))))
	require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, r2, "old", base)))

	removed, err := store.PurgeExpired(ctx, base.Add(store.Retention()+time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	n, err := store.Pending(ctx, r1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.Pending(ctx, r2)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStore_ConcurrentDrains(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()
	sender := id.IdentityID(uuid.New())
	recipient := id.IdentityID(uuid.New())
	for i := range 10 {
		require.NoError(t, store.Deposit(ctx, models.NewPendingMessage(sender, recipient, fmt.Sprintf("m%d", i), now)))
	}

	const drains = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	full := 0
	for range drains {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.Drain(ctx, recipient, now)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			total += len(got)
			if len(got) == 10 {
				full++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, total)
	assert.Equal(t, 1, full)
}

func TestRedisStore_UnreachableIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, models.DefaultRetention)
	mr.Close()

	msg := models.NewPendingMessage(id.IdentityID(uuid.New()), id.IdentityID(uuid.New()), "hi", time.Now())
	err := store.Deposit(context.Background(), msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}
