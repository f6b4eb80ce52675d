// Package presence implements the cluster-wide key-value and pub/sub
// substrate the matchmaker is built on: sets, hashes, counters and
// channel-based publish/subscribe, backend-agnostic per the matchmaker's
// point of view.
//
// Two shapes are provided: an in-process Local backend for single-node
// operation and tests, and two independent Remote backends (Redis,
// NATS) for multi-node clusters. The matchmaker only ever depends on
// the Presence interface.
package presence

import (
	"context"
	"errors"
)

// ErrChannelClosed is returned by Subscribe when the backend has already
// been closed.
var ErrChannelClosed = errors.New("presence: backend closed")

// MessageHandler receives one published payload. Handlers for a single
// subscription are invoked one at a time, in publish order.
type MessageHandler func(payload string)

// Subscription represents one call to Subscribe. Unsubscribe removes
// only this handler; it does not affect other subscribers on the same
// channel.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}

// Presence is the key-value plus pub/sub contract every matchmaker
// component (IPC, discovery, lobby notifier) is built against.
//
// Implementations must guarantee:
//  1. A call to Subscribe does not return until its handler is
//     installed and able to observe subsequently published messages.
//  2. Publish is best-effort fan-out: a channel with no subscriber
//     silently drops the message.
//  3. Messages published to one channel are delivered to one subscriber
//     in the order they were published; there is no ordering guarantee
//     across channels or across publishers.
type Presence interface {
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key, field string) error

	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string, handler MessageHandler) (Subscription, error)

	// Close releases resources held by the backend (connections,
	// background goroutines). It does not remove cluster-visible state.
	Close() error
}
