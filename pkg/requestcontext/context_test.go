package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", RequestID(ctx))
	assert.Empty(t, Principal(ctx))

	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithPrincipal(ctx, "tg:42")
	ctx = WithTime(ctx, fixed)

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "tg:42", Principal(ctx).String())
	assert.Equal(t, fixed, Now(ctx))
}

func TestNowFallsBackToWallClock(t *testing.T) {
	before := time.Now()
	got := Now(context.Background())
	assert.False(t, got.Before(before))
}
