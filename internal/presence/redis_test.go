package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client)
}

func TestRedis_SetAndHashOps(t *testing.T) {
	ctx := context.Background()
	p := newTestRedis(t)

	require.NoError(t, p.SAdd(ctx, "colyseus:nodes", "node-1/127.0.0.1:2567"))
	members, err := p.SMembers(ctx, "colyseus:nodes")
	require.NoError(t, err)
	require.Equal(t, []string{"node-1/127.0.0.1:2567"}, members)

	v, err := p.HIncrBy(ctx, "roomcount", "node-1", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
}

func TestRedis_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	p := newTestRedis(t)

	received := make(chan string, 1)
	sub, err := p.Subscribe(ctx, "$lobby", func(payload string) {
		received <- payload
	})
	require.NoError(t, err)
	defer sub.Unsubscribe(ctx)

	require.NoError(t, p.Publish(ctx, "$lobby", "room-1,0"))

	select {
	case msg := <-received:
		require.Equal(t, "room-1,0", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pubsub message")
	}
}

var _ Presence = (*Redis)(nil)
