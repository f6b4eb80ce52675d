package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SetOps(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()

	require.NoError(t, p.SAdd(ctx, "nodes", "a"))
	require.NoError(t, p.SAdd(ctx, "nodes", "b"))
	members, err := p.SMembers(ctx, "nodes")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, p.SRem(ctx, "nodes", "a"))
	members, err = p.SMembers(ctx, "nodes")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestLocal_HashOps(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()

	v, err := p.HIncrBy(ctx, "room-count", "p1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = p.HIncrBy(ctx, "room-count", "p1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	got, err := p.HGet(ctx, "room-count", "p1")
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	all, err := p.HGetAll(ctx, "room-count")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1": "3"}, all)

	require.NoError(t, p.HDel(ctx, "room-count", "p1"))
	all, err = p.HGetAll(ctx, "room-count")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLocal_Counter(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()

	v, err := p.Incr(ctx, "c:chat")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = p.Decr(ctx, "c:chat")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	require.NoError(t, p.Del(ctx, "c:chat"))
}

func TestLocal_PublishDropsWithoutSubscriber(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()
	require.NoError(t, p.Publish(ctx, "nodes-discovery", "add,x"))
}

func TestLocal_SubscribeReceivesInOrder(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	sub, err := p.Subscribe(ctx, "$lobby", func(payload string) {
		mu.Lock()
		got = append(got, payload)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe(ctx)

	require.NoError(t, p.Publish(ctx, "$lobby", "room1,0"))
	require.NoError(t, p.Publish(ctx, "$lobby", "room2,0"))
	require.NoError(t, p.Publish(ctx, "$lobby", "room1,1"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"room1,0", "room2,0", "room1,1"}, got)
}

func TestLocal_UnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	p := NewLocal()

	count := 0
	var mu sync.Mutex
	sub, err := p.Subscribe(ctx, "p:node-1", func(payload string) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, "p:node-1", "one"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sub.Unsubscribe(ctx))
	require.NoError(t, p.Publish(ctx, "p:node-1", "two"))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

var _ Presence = (*Local)(nil)
