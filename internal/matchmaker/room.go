package matchmaker

import (
	"context"
	"sync"

	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

// RoomMethod names an operation dispatchable through remoteRoomCall,
// either one of the fixed contract methods below or an
// application-defined method handled by Room.Call.
type RoomMethod string

const (
	MethodReserveSeat     RoomMethod = "_reserveSeat"
	MethodHasReservedSeat RoomMethod = "hasReservedSeat"
	MethodRoomID          RoomMethod = "roomId"
	MethodDisconnect      RoomMethod = "disconnect"
)

// RoomInit carries the identity the matchmaker assigns to a room at
// creation time. A concrete Room stores what it needs from this in
// Init and never constructs it itself.
type RoomInit struct {
	RoomID   string
	RoomName string
	Presence presence.Presence
	Listing  *driver.Listing
}

// Room is the contract a concrete room implementation exposes to the
// matchmaker. The game loop, transport, and per-client protocol that
// sit behind this interface are out of scope here; this package only
// ever calls the methods below.
type Room interface {
	// Init installs the identity assigned by the matchmaker. Called
	// exactly once, before OnCreate.
	Init(RoomInit)

	// OnCreate runs the room's own setup against the merged handler
	// and per-call options. A non-nil error aborts room creation.
	OnCreate(ctx context.Context, options ClientOptions) error

	// MaxClients reports the seat ceiling this room type enforces,
	// read once after OnCreate returns.
	MaxClients() int

	// ReserveSeat attempts to reserve one seat for sessionID. False
	// (with a nil error) means the room is full.
	ReserveSeat(ctx context.Context, sessionID string, options ClientOptions) (bool, error)

	// HasReservedSeat reports whether sessionID still holds an
	// unconsumed reservation, used to validate reconnection.
	HasReservedSeat(ctx context.Context, sessionID string) (bool, error)

	// Disconnect tears down every connected client. Called during
	// graceful shutdown and on explicit disconnect requests.
	Disconnect(ctx context.Context) error

	// RoomID returns the identity assigned by Init, used as a
	// liveness probe by CleanupStaleRooms.
	RoomID() string

	// Call dispatches an application-defined method that falls
	// outside the fixed contract above.
	Call(ctx context.Context, method RoomMethod, args []byte) (any, error)

	// Events exposes the room's lifecycle event source, which the
	// matchmaker subscribes to exactly once at creation time.
	Events() *RoomEvents
}

// RoomEvents is the explicit, typed listener table a Room exposes in
// place of a dynamic string-keyed emitter. Each event kind gets its
// own registration and emission method, so a caller can never
// subscribe to a mistyped event name.
type RoomEvents struct {
	mu           sync.Mutex
	onLock       []func()
	onUnlock     []func()
	onJoin       []func(sessionID string)
	onLeave      []func(sessionID string)
	onDispose    []func()
	onDisconnect []func()
}

// NewRoomEvents returns an empty event source, ready for a Room
// implementation to embed or hold by reference.
func NewRoomEvents() *RoomEvents {
	return &RoomEvents{}
}

func (e *RoomEvents) OnLock(fn func()) { e.add(&e.onLock, fn) }
func (e *RoomEvents) OnUnlock(fn func()) { e.add(&e.onUnlock, fn) }
func (e *RoomEvents) OnJoin(fn func(sessionID string)) { e.addStr(&e.onJoin, fn) }
func (e *RoomEvents) OnLeave(fn func(sessionID string)) { e.addStr(&e.onLeave, fn) }
func (e *RoomEvents) OnDispose(fn func()) { e.add(&e.onDispose, fn) }
func (e *RoomEvents) OnDisconnect(fn func()) { e.add(&e.onDisconnect, fn) }

func (e *RoomEvents) add(slot *[]func(), fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	*slot = append(*slot, fn)
}

func (e *RoomEvents) addStr(slot *[]func(string), fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	*slot = append(*slot, fn)
}

// EmitLock, EmitUnlock, EmitJoin, EmitLeave, EmitDispose and
// EmitDisconnect are called by the Room implementation itself when
// the corresponding lifecycle transition happens. Listeners run
// synchronously, in registration order.
func (e *RoomEvents) EmitLock() {
	e.mu.Lock()
	listeners := append([]func(){}, e.onLock...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (e *RoomEvents) EmitUnlock() {
	e.mu.Lock()
	listeners := append([]func(){}, e.onUnlock...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (e *RoomEvents) EmitJoin(sessionID string) {
	e.mu.Lock()
	listeners := append([]func(string){}, e.onJoin...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(sessionID)
	}
}

func (e *RoomEvents) EmitLeave(sessionID string) {
	e.mu.Lock()
	listeners := append([]func(string){}, e.onLeave...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(sessionID)
	}
}

func (e *RoomEvents) EmitDispose() {
	e.mu.Lock()
	listeners := append([]func(){}, e.onDispose...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (e *RoomEvents) EmitDisconnect() {
	e.mu.Lock()
	listeners := append([]func(){}, e.onDisconnect...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// RemoveAllListeners drops every registered listener. The matchmaker
// calls this once, after a room's disconnect event fires, closing out
// the room state machine's terminal transition.
func (e *RoomEvents) RemoveAllListeners() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLock = nil
	e.onUnlock = nil
	e.onJoin = nil
	e.onLeave = nil
	e.onDispose = nil
	e.onDisconnect = nil
}
