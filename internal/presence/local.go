package presence

import (
	"context"
	"strconv"
	"sync"
)

// Local is a process-private, deterministic Presence backend used for
// single-node operation and tests. All operations are synchronous and
// guarded by a single mutex; this mirrors the single-threaded
// cooperative model the matchmaker assumes (see the concurrency notes
// in the matchmaker package) rather than trying to parallelize what is,
// cluster-wide, meant to look like one shared store.
type Local struct {
	mu       sync.Mutex
	sets     map[string]map[string]struct{}
	hashes   map[string]map[string]string
	counters map[string]int64
	subs     map[string][]*localSub

	closed bool
	nextID uint64
}

type localSub struct {
	id      uint64
	channel string
	msgs    chan string
	done    chan struct{}
}

// NewLocal creates an empty Local presence backend.
func NewLocal() *Local {
	return &Local{
		sets:     make(map[string]map[string]struct{}),
		hashes:   make(map[string]map[string]string),
		counters: make(map[string]int64),
		subs:     make(map[string][]*localSub),
	}
}

func (l *Local) SAdd(_ context.Context, key, member string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.sets[key]
	if !ok {
		set = make(map[string]struct{})
		l.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (l *Local) SRem(_ context.Context, key, member string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if set, ok := l.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(l.sets, key)
		}
	}
	return nil
}

func (l *Local) SMembers(_ context.Context, key string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set := l.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (l *Local) HSet(_ context.Context, key, field, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hashes[key]
	if !ok {
		h = make(map[string]string)
		l.hashes[key] = h
	}
	h[field] = value
	return nil
}

func (l *Local) HGet(_ context.Context, key, field string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hashes[key][field], nil
}

func (l *Local) HGetAll(_ context.Context, key string) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.hashes[key]))
	for k, v := range l.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (l *Local) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hashes[key]
	if !ok {
		h = make(map[string]string)
		l.hashes[key] = h
	}
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += delta
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (l *Local) HDel(_ context.Context, key, field string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.hashes[key]; ok {
		delete(h, field)
		if len(h) == 0 {
			delete(l.hashes, key)
		}
	}
	return nil
}

func (l *Local) Incr(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters[key]++
	return l.counters[key], nil
}

func (l *Local) Decr(_ context.Context, key string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters[key]--
	return l.counters[key], nil
}

func (l *Local) Del(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counters, key)
	delete(l.hashes, key)
	delete(l.sets, key)
	return nil
}

func (l *Local) Publish(_ context.Context, channel, payload string) error {
	l.mu.Lock()
	subs := append([]*localSub(nil), l.subs[channel]...)
	l.mu.Unlock()

	for _, s := range subs {
		select {
		case s.msgs <- payload:
		case <-s.done:
		}
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, channel string, handler MessageHandler) (Subscription, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrChannelClosed
	}
	l.nextID++
	sub := &localSub{
		id:      l.nextID,
		channel: channel,
		msgs:    make(chan string, 64),
		done:    make(chan struct{}),
	}
	l.subs[channel] = append(l.subs[channel], sub)
	l.mu.Unlock()

	// One goroutine per subscription preserves per-subscriber ordering:
	// Publish enqueues onto sub.msgs and this loop drains it serially.
	go func() {
		for {
			select {
			case msg := <-sub.msgs:
				handler(msg)
			case <-sub.done:
				return
			}
		}
	}()

	return &localSubscription{local: l, sub: sub}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, subs := range l.subs {
		for _, s := range subs {
			close(s.done)
		}
	}
	l.subs = make(map[string][]*localSub)
	return nil
}

type localSubscription struct {
	local *Local
	sub   *localSub
}

func (s *localSubscription) Unsubscribe(_ context.Context) error {
	l := s.local
	l.mu.Lock()
	defer l.mu.Unlock()

	subs := l.subs[s.sub.channel]
	for i, other := range subs {
		if other.id == s.sub.id {
			l.subs[s.sub.channel] = append(subs[:i], subs[i+1:]...)
			if len(l.subs[s.sub.channel]) == 0 {
				delete(l.subs, s.sub.channel)
			}
			break
		}
	}
	select {
	case <-s.sub.done:
	default:
		close(s.sub.done)
	}
	return nil
}

var _ Presence = (*Local)(nil)
