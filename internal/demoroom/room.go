// Package demoroom is a minimal concrete matchmaker.Room, standing in
// for the transport-bound game loop a real room would run. It tracks
// seat reservations and connections in memory and emits the lifecycle
// events the matchmaker expects; nothing here talks to a client.
package demoroom

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/koopa0/system-design/14-matchmaker/internal/matchmaker"
)

// Room is a fixed-capacity room that locks once full and disposes
// itself once its last connected client leaves.
type Room struct {
	events *matchmaker.RoomEvents

	mu           sync.Mutex
	id           string
	name         string
	maxClients   int
	reservations map[string]struct{}
	connected    map[string]struct{}
}

// New builds a Room with the given seat capacity. Capacity can be
// overridden per-call through a "maxClients" client option in
// OnCreate.
func New(maxClients int) *Room {
	return &Room{
		events:       matchmaker.NewRoomEvents(),
		maxClients:   maxClients,
		reservations: make(map[string]struct{}),
		connected:    make(map[string]struct{}),
	}
}

var _ matchmaker.Room = (*Room)(nil)

func (r *Room) Init(init matchmaker.RoomInit) {
	r.id = init.RoomID
	r.name = init.RoomName
}

func (r *Room) OnCreate(ctx context.Context, options matchmaker.ClientOptions) error {
	if v, ok := options["maxClients"]; ok {
		if n, ok := v.(float64); ok && n > 0 {
			r.maxClients = int(n)
		}
	}
	return nil
}

func (r *Room) MaxClients() int { return r.maxClients }

func (r *Room) ReserveSeat(ctx context.Context, sessionID string, options matchmaker.ClientOptions) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.reservations)+len(r.connected) >= r.maxClients {
		return false, nil
	}
	r.reservations[sessionID] = struct{}{}
	if len(r.reservations)+len(r.connected) >= r.maxClients {
		go r.events.EmitLock()
	}
	return true, nil
}

func (r *Room) HasReservedSeat(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reservations[sessionID]
	return ok, nil
}

// Connect consumes a pending reservation, moving sessionID from
// reserved to connected. A real transport layer calls this once a
// client's connection actually attaches.
func (r *Room) Connect(sessionID string) error {
	r.mu.Lock()
	if _, ok := r.reservations[sessionID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("demoroom: no reservation held for session %q", sessionID)
	}
	delete(r.reservations, sessionID)
	r.connected[sessionID] = struct{}{}
	r.mu.Unlock()

	r.events.EmitJoin(sessionID)
	return nil
}

// Leave disconnects sessionID, unlocking the room if it was full and
// disposing it if it is now empty.
func (r *Room) Leave(sessionID string) {
	r.mu.Lock()
	wasFull := len(r.connected)+len(r.reservations) >= r.maxClients
	delete(r.connected, sessionID)
	delete(r.reservations, sessionID)
	empty := len(r.connected) == 0 && len(r.reservations) == 0
	r.mu.Unlock()

	r.events.EmitLeave(sessionID)
	if wasFull {
		r.events.EmitUnlock()
	}
	if empty {
		r.events.EmitDispose()
	}
}

func (r *Room) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]string, 0, len(r.connected))
	for id := range r.connected {
		sessions = append(sessions, id)
	}
	r.mu.Unlock()

	for _, id := range sessions {
		r.Leave(id)
	}
	r.events.EmitDisconnect()
	return nil
}

func (r *Room) RoomID() string { return r.id }

// Call handles the two methods a transport layer needs beyond the
// fixed Room contract: "connect" consumes a reservation once a
// client's connection actually attaches, and "leave" releases it.
func (r *Room) Call(ctx context.Context, method matchmaker.RoomMethod, args []byte) (any, error) {
	switch method {
	case "connect":
		var sessionID string
		if err := json.Unmarshal(args, &sessionID); err != nil {
			return nil, fmt.Errorf("demoroom: malformed connect args: %w", err)
		}
		return nil, r.Connect(sessionID)
	case "leave":
		var sessionID string
		if err := json.Unmarshal(args, &sessionID); err != nil {
			return nil, fmt.Errorf("demoroom: malformed leave args: %w", err)
		}
		r.Leave(sessionID)
		return nil, nil
	default:
		return nil, fmt.Errorf("demoroom: unsupported method %q", method)
	}
}

func (r *Room) Events() *matchmaker.RoomEvents { return r.events }
