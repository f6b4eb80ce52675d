package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is the shared-across-the-cluster Presence backend. It maps
// every operation directly onto the equivalent Redis command, the same
// way the counter service backs its hot counters with SADD/INCRBY/
// Pipeline against a *redis.Client.
type Redis struct {
	client *redis.Client

	mu   sync.Mutex
	subs map[string]map[uint64]*redisSubscription
	next uint64
}

// NewRedis wraps an already-configured *redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{
		client: client,
		subs:   make(map[string]map[uint64]*redisSubscription),
	}
}

func (r *Redis) SAdd(ctx context.Context, key, member string) error {
	return r.client.SAdd(ctx, key, member).Err()
}

func (r *Redis) SRem(ctx context.Context, key, member string) error {
	return r.client.SRem(ctx, key, member).Err()
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.client.SMembers(ctx, key).Result()
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return r.client.HIncrBy(ctx, key, field, delta).Result()
}

func (r *Redis) HDel(ctx context.Context, key, field string) error {
	return r.client.HDel(ctx, key, field).Err()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *Redis) Decr(ctx context.Context, key string) (int64, error) {
	return r.client.Decr(ctx, key).Result()
}

func (r *Redis) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, channel string, handler MessageHandler) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)

	// Block until the server has confirmed the SUBSCRIBE so the caller
	// can rely on the handler being installed before Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("presence: redis subscribe %q: %w", channel, err)
	}

	r.mu.Lock()
	r.next++
	id := r.next
	if r.subs[channel] == nil {
		r.subs[channel] = make(map[uint64]*redisSubscription)
	}
	sub := &redisSubscription{redis: r, channel: channel, id: id, pubsub: pubsub}
	r.subs[channel][id] = sub
	r.mu.Unlock()

	ch := pubsub.Channel()
	go func() {
		// go-redis delivers messages for one *redis.PubSub sequentially,
		// so handler invocation here already preserves per-subscriber
		// order.
		for msg := range ch {
			handler(msg.Payload)
		}
	}()

	return sub, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	redis   *Redis
	channel string
	id      uint64
	pubsub  *redis.PubSub
}

func (s *redisSubscription) Unsubscribe(ctx context.Context) error {
	s.redis.mu.Lock()
	delete(s.redis.subs[s.channel], s.id)
	if len(s.redis.subs[s.channel]) == 0 {
		delete(s.redis.subs, s.channel)
	}
	s.redis.mu.Unlock()

	if err := s.pubsub.Unsubscribe(ctx, s.channel); err != nil {
		return err
	}
	return s.pubsub.Close()
}

var _ Presence = (*Redis)(nil)
