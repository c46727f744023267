package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kyc-service/internal/client"
	"kyc-service/internal/models"
)

func newTestClient(t *testing.T) (*client.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := &client.RedisClient{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestRateLimitCache_AllowSubmission(t *testing.T) {
	rc, mr := newTestClient(t)
	cache := NewRateLimitCache(rc)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := cache.AllowSubmission(ctx, "u1", 3, time.Hour)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i)
	}

	d, err := cache.AllowSubmission(ctx, "u1", 3, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(4), d.Count)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	other, err := cache.AllowSubmission(ctx, "u2", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	mr.FastForward(time.Hour + time.Second)
	d, err = cache.AllowSubmission(ctx, "u1", 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestPresenceCache_RoundTripAndStale(t *testing.T) {
	rc, _ := newTestClient(t)
	cache := NewPresenceCache(rc)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	_, err := cache.GetPresence(ctx, "u1", time.Minute)
	assert.ErrorIs(t, err, ErrPresenceNotFound)

	_, err = cache.SetPresence(ctx, "u1", true)
	require.NoError(t, err)

	rec, err := cache.GetPresence(ctx, "u1", 90*time.Second)
	require.NoError(t, err)
	assert.True(t, rec.IsOnline)
	assert.True(t, rec.LastSeen.Equal(now))
	assert.False(t, rec.Stale)

	now = now.Add(2 * time.Minute)
	rec, err = cache.GetPresence(ctx, "u1", 90*time.Second)
	require.NoError(t, err)
	assert.True(t, rec.Stale)

	_, err = cache.SetPresence(ctx, "u1", false)
	require.NoError(t, err)
	rec, err = cache.GetPresence(ctx, "u1", 90*time.Second)
	require.NoError(t, err)
	assert.False(t, rec.IsOnline)
	assert.False(t, rec.Stale)
}

func TestChangeNotifier_DeliversToSubscriber(t *testing.T) {
	rc, _ := newTestClient(t)
	n := NewChangeNotifier(rc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := n.Subscribe(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, n.Notify(ctx, models.ChangeEvent{Event: models.ChangeUpdate, Table: models.TableUsers, UserID: "u2", Status: "approved"}))
	require.NoError(t, n.Notify(ctx, models.ChangeEvent{Event: models.ChangeUpdate, Table: models.TableUsers, UserID: "u1", Status: "approved"}))

	select {
	case ev := <-events:
		assert.Equal(t, "u1", ev.UserID)
		assert.Equal(t, "approved", ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event delivered")
	}

	cancel()
	for range events {
	}
}
