package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
)

const natsCASAttempts = 8

// sanitizeKVKey rewrites key to only use the characters a JetStream
// key-value bucket allows ([-/_=.a-zA-Z0-9]). The presence keys the
// matchmaker package uses have ':' as a namespacing separator (e.g.
// "colyseus:nodes", "c:<roomName>"), which the KV store rejects outright.
func sanitizeKVKey(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

// NATS is an alternate remote Presence backend for clusters that already
// standardize on NATS for messaging: pub/sub rides core NATS subjects,
// and the set/hash/counter operations are layered on a JetStream
// key-value bucket using its revision-based compare-and-swap Update,
// the same pattern the pack's message-queue and event-driven exercises
// use JetStream for durable, coordinated state.
type NATS struct {
	conn *nats.Conn
	kv   nats.KeyValue
}

// NewNATS creates a NATS presence backend, provisioning (or reusing) a
// JetStream key-value bucket for the set/hash/counter operations.
func NewNATS(conn *nats.Conn, bucket string) (*NATS, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("presence: nats jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("presence: nats keyvalue bucket %q: %w", bucket, err)
	}
	return &NATS{conn: conn, kv: kv}, nil
}

// casUpdate reads the current raw value (nil if absent) and its
// revision, applies mutate, and writes the result back conditioned on
// the revision unchanged, retrying on conflicting concurrent writers.
func (n *NATS) casUpdate(key string, mutate func(raw []byte) ([]byte, error)) error {
	key = sanitizeKVKey(key)
	var lastErr error
	for attempt := 0; attempt < natsCASAttempts; attempt++ {
		entry, err := n.kv.Get(key)
		var raw []byte
		var revision uint64
		switch {
		case errors.Is(err, nats.ErrKeyNotFound):
			raw, revision = nil, 0
		case err != nil:
			return err
		default:
			raw, revision = entry.Value(), entry.Revision()
		}

		newRaw, err := mutate(raw)
		if err != nil {
			return err
		}

		if revision == 0 {
			_, err = n.kv.Create(key, newRaw)
		} else {
			_, err = n.kv.Update(key, newRaw, revision)
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("presence: nats cas update %q: exhausted retries: %w", key, lastErr)
}

func (n *NATS) readSet(key string) (map[string]struct{}, error) {
	entry, err := n.kv.Get(sanitizeKVKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	var members []string
	if err := json.Unmarshal(entry.Value(), &members); err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set, nil
}

func (n *NATS) SAdd(_ context.Context, key, member string) error {
	return n.casUpdate(key, func(raw []byte) ([]byte, error) {
		var members []string
		if raw != nil {
			if err := json.Unmarshal(raw, &members); err != nil {
				return nil, err
			}
		}
		for _, m := range members {
			if m == member {
				return json.Marshal(members)
			}
		}
		return json.Marshal(append(members, member))
	})
}

func (n *NATS) SRem(_ context.Context, key, member string) error {
	return n.casUpdate(key, func(raw []byte) ([]byte, error) {
		var members []string
		if raw != nil {
			if err := json.Unmarshal(raw, &members); err != nil {
				return nil, err
			}
		}
		out := make([]string, 0, len(members))
		for _, m := range members {
			if m != member {
				out = append(out, m)
			}
		}
		return json.Marshal(out)
	})
}

func (n *NATS) SMembers(_ context.Context, key string) ([]string, error) {
	set, err := n.readSet(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (n *NATS) readHash(key string) (map[string]string, error) {
	entry, err := n.kv.Get(sanitizeKVKey(key))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	hash := make(map[string]string)
	if err := json.Unmarshal(entry.Value(), &hash); err != nil {
		return nil, err
	}
	return hash, nil
}

func (n *NATS) HSet(_ context.Context, key, field, value string) error {
	return n.casUpdate(key, func(raw []byte) ([]byte, error) {
		hash := map[string]string{}
		if raw != nil {
			if err := json.Unmarshal(raw, &hash); err != nil {
				return nil, err
			}
		}
		hash[field] = value
		return json.Marshal(hash)
	})
}

func (n *NATS) HGet(_ context.Context, key, field string) (string, error) {
	hash, err := n.readHash(key)
	if err != nil {
		return "", err
	}
	return hash[field], nil
}

func (n *NATS) HGetAll(_ context.Context, key string) (map[string]string, error) {
	return n.readHash(key)
}

func (n *NATS) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	var result int64
	err := n.casUpdate(key, func(raw []byte) ([]byte, error) {
		hash := map[string]string{}
		if raw != nil {
			if err := json.Unmarshal(raw, &hash); err != nil {
				return nil, err
			}
		}
		cur, _ := strconv.ParseInt(hash[field], 10, 64)
		cur += delta
		result = cur
		hash[field] = strconv.FormatInt(cur, 10)
		return json.Marshal(hash)
	})
	return result, err
}

func (n *NATS) HDel(_ context.Context, key, field string) error {
	return n.casUpdate(key, func(raw []byte) ([]byte, error) {
		hash := map[string]string{}
		if raw != nil {
			if err := json.Unmarshal(raw, &hash); err != nil {
				return nil, err
			}
		}
		delete(hash, field)
		return json.Marshal(hash)
	})
}

func (n *NATS) counterKey(key string) string { return "counter." + key }

func (n *NATS) Incr(ctx context.Context, key string) (int64, error) {
	return n.addCounter(key, 1)
}

func (n *NATS) Decr(ctx context.Context, key string) (int64, error) {
	return n.addCounter(key, -1)
}

func (n *NATS) addCounter(key string, delta int64) (int64, error) {
	var result int64
	err := n.casUpdate(n.counterKey(key), func(raw []byte) ([]byte, error) {
		cur, _ := strconv.ParseInt(string(raw), 10, 64)
		cur += delta
		result = cur
		return []byte(strconv.FormatInt(cur, 10)), nil
	})
	return result, err
}

func (n *NATS) Del(_ context.Context, key string) error {
	if err := n.kv.Delete(sanitizeKVKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return err
	}
	if err := n.kv.Delete(sanitizeKVKey(n.counterKey(key))); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (n *NATS) Publish(_ context.Context, channel, payload string) error {
	return n.conn.Publish(channel, []byte(payload))
}

func (n *NATS) Subscribe(ctx context.Context, channel string, handler MessageHandler) (Subscription, error) {
	sub, err := n.conn.Subscribe(channel, func(msg *nats.Msg) {
		handler(string(msg.Data))
	})
	if err != nil {
		return nil, fmt.Errorf("presence: nats subscribe %q: %w", channel, err)
	}
	// A round trip to the server confirms the SUB has been registered,
	// matching the guarantee that the handler is installed before
	// Subscribe returns.
	if err := n.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("presence: nats flush subscribe %q: %w", channel, err)
	}
	return &natsSubscription{sub: sub}, nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe(_ context.Context) error {
	return s.sub.Unsubscribe()
}

var _ Presence = (*NATS)(nil)
