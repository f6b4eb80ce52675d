// Package matchmaker implements the cluster-wide room lifecycle: room
// type registration, load-balanced room creation, seat reservation,
// and lookup, spread across every process sharing a Presence backend
// and a room listing Store.
package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

// SeatReservation is returned to a client that successfully joined,
// created, or joined-or-created a room. The client exchanges it (out
// of scope here) for a live connection to Room.
type SeatReservation struct {
	Room      *driver.Listing
	SessionID string
}

type roomState int

const (
	roomCreating roomState = iota
	roomCreated
	roomDisposing
)

// localRoom is the bookkeeping the matchmaker keeps for every room it
// owns: the live Room, its current listing snapshot, its IPC
// subscription (nil while locked), and its lifecycle state.
type localRoom struct {
	room    Room
	listing *driver.Listing
	sub     presence.Subscription
	state   roomState
}

// MatchMaker coordinates room creation and lookup across a cluster of
// processes that share the given Presence and Store. Every exported
// method is safe for concurrent use.
type MatchMaker struct {
	processID string
	presence  presence.Presence
	store     driver.Store
	logger    *slog.Logger

	mu           sync.Mutex
	handlers     map[string]*Handler
	rooms        map[string]*localRoom
	shuttingDown bool
	processSub   presence.Subscription
	node         Node
}

// New builds a MatchMaker for one process. processID must be unique
// across the cluster; it is the routing key for remote room creation
// and the process inbox channel.
func New(processID string, pres presence.Presence, store driver.Store, logger *slog.Logger) *MatchMaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchMaker{
		processID: processID,
		presence:  pres,
		store:     store,
		logger:    logger,
		handlers:  make(map[string]*Handler),
		rooms:     make(map[string]*localRoom),
	}
}

// Setup subscribes this process's inbox for remote room creation
// requests and registers node in cluster-wide discovery. Call once
// before accepting any matchmaking calls.
func (mm *MatchMaker) Setup(ctx context.Context, node Node) error {
	// The process inbox subscription outlives Setup's own call, so it
	// is deliberately not tied to ctx (see createRoomReferences).
	sub, err := subscribeIPC(context.Background(), mm.presence, mm.logf, processChannel(mm.processID), mm.processDispatch)
	if err != nil {
		return fmt.Errorf("matchmaker: setup: %w", err)
	}
	mm.mu.Lock()
	mm.processSub = sub
	mm.node = node
	mm.mu.Unlock()

	if err := RegisterNode(ctx, mm.presence, node); err != nil {
		return fmt.Errorf("matchmaker: setup: %w", err)
	}
	return nil
}

func (mm *MatchMaker) logf(format string, args ...any) {
	mm.logger.Error(fmt.Sprintf(format, args...))
}

// DefineRoomType registers a room type under name. It schedules an
// initial stale-room sweep for name in the background.
func (mm *MatchMaker) DefineRoomType(name string, factory func() Room, defaultOptions ClientOptions, opts ...HandlerOption) *Handler {
	h := NewHandler(name, factory, defaultOptions, opts...)
	mm.mu.Lock()
	mm.handlers[name] = h
	mm.mu.Unlock()

	go func() {
		if err := mm.CleanupStaleRooms(context.Background(), name); err != nil {
			mm.logger.Error("initial stale room sweep failed", "room_name", name, "error", err)
		}
	}()
	return h
}

// RemoveRoomType stops accepting create/join calls for name. Rooms
// already running under that name are unaffected.
func (mm *MatchMaker) RemoveRoomType(name string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.handlers, name)
}

// HasHandler reports whether name is currently registered.
func (mm *MatchMaker) HasHandler(name string) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	_, ok := mm.handlers[name]
	return ok
}

func (mm *MatchMaker) handlerFor(name string) (*Handler, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	h, ok := mm.handlers[name]
	return h, ok
}

// JoinOrCreate finds an available room matching options, creating one
// if none exists, making up to MaxJoinOrCreateAttempts attempts in all
// when it loses seat races.
func (mm *MatchMaker) JoinOrCreate(ctx context.Context, roomName string, options ClientOptions) (*SeatReservation, error) {
	if _, ok := mm.handlerFor(roomName); !ok {
		return nil, NewMatchMakeError(ErrNoHandler, fmt.Sprintf("no handler registered for room name %q", roomName))
	}

	var lastErr error
	for attempt := 0; attempt < MaxJoinOrCreateAttempts; attempt++ {
		handler, _ := mm.handlerFor(roomName)
		listing, err := mm.findOneRoomAvailable(ctx, handler, roomName, options)
		if err != nil {
			return nil, err
		}
		if listing == nil {
			listing, err = mm.createRoom(ctx, roomName, options)
			if err != nil {
				return nil, err
			}
		}

		reservation, err := mm.reserveSeatFor(ctx, listing, options)
		if err == nil {
			return reservation, nil
		}
		var seatErr *SeatReservationError
		if errors.As(err, &seatErr) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, WrapMatchMakeError(lastErr, ErrSeatReservation, fmt.Sprintf("failed to reserve a seat after %d attempts", MaxJoinOrCreateAttempts))
}

// Create always creates a new room of roomName and reserves a seat in
// it, ignoring any existing room of that name.
func (mm *MatchMaker) Create(ctx context.Context, roomName string, options ClientOptions) (*SeatReservation, error) {
	if _, ok := mm.handlerFor(roomName); !ok {
		return nil, NewMatchMakeError(ErrNoHandler, fmt.Sprintf("no handler registered for room name %q", roomName))
	}
	listing, err := mm.createRoom(ctx, roomName, options)
	if err != nil {
		return nil, err
	}
	return mm.reserveSeatFor(ctx, listing, options)
}

// Join finds an existing available room matching options and reserves
// a seat in it. It never creates a room; ERR_MATCHMAKE_INVALID_CRITERIA
// is returned when none match.
func (mm *MatchMaker) Join(ctx context.Context, roomName string, options ClientOptions) (*SeatReservation, error) {
	handler, ok := mm.handlerFor(roomName)
	if !ok {
		return nil, NewMatchMakeError(ErrNoHandler, fmt.Sprintf("no handler registered for room name %q", roomName))
	}

	var lastErr error
	for attempt := 0; attempt < MaxJoinOrCreateAttempts; attempt++ {
		listing, err := mm.findOneRoomAvailable(ctx, handler, roomName, options)
		if err != nil {
			return nil, err
		}
		if listing == nil {
			return nil, NewMatchMakeError(ErrInvalidCriteria, fmt.Sprintf("no available room matching criteria for %q", roomName))
		}

		reservation, err := mm.reserveSeatFor(ctx, listing, options)
		if err == nil {
			return reservation, nil
		}
		var seatErr *SeatReservationError
		if errors.As(err, &seatErr) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, WrapMatchMakeError(lastErr, ErrSeatReservation, fmt.Sprintf("failed to reserve a seat after %d attempts", MaxJoinOrCreateAttempts))
}

// JoinById joins a specific room by id, either as a fresh seat
// reservation or, when options carries a "sessionId" that already
// holds a reservation, as a reconnection.
func (mm *MatchMaker) JoinById(ctx context.Context, roomID string, options ClientOptions) (*SeatReservation, error) {
	listing, err := mm.store.FindOne(ctx, driver.Conditions{RoomID: roomID})
	if err != nil {
		return nil, fmt.Errorf("matchmaker: join by id: %w", err)
	}
	if listing == nil {
		return nil, NewMatchMakeError(ErrInvalidRoomID, fmt.Sprintf("room %q not found", roomID))
	}

	if sessionID, ok := options["sessionId"].(string); ok && sessionID != "" {
		argsJSON, _ := json.Marshal([]any{sessionID})
		valueJSON, err := mm.remoteRoomCall(ctx, roomID, MethodHasReservedSeat, argsJSON, RemoteRoomShortTimeout)
		if err != nil {
			return nil, err
		}
		var reserved bool
		_ = json.Unmarshal(valueJSON, &reserved)
		if !reserved {
			return nil, NewMatchMakeError(ErrExpired, fmt.Sprintf("session %q has no reservation in room %q", sessionID, roomID))
		}
		return &SeatReservation{Room: listing, SessionID: sessionID}, nil
	}

	if listing.Locked {
		return nil, NewMatchMakeError(ErrInvalidRoomID, fmt.Sprintf("room %q is locked", roomID))
	}
	return mm.reserveSeatFor(ctx, listing, options)
}

// Query returns every room listing matching cond, unfiltered by
// handler defaults.
func (mm *MatchMaker) Query(ctx context.Context, cond driver.Conditions) ([]*driver.Listing, error) {
	return mm.store.Find(ctx, cond)
}

// awaitRoomAvailable staggers concurrent callers for the same room
// name so that a burst of joinOrCreate calls doesn't all race to
// create duplicate rooms: each waiter increments a shared counter and
// sleeps proportionally to its position before running cb, capped at
// RemoteRoomShortTimeout.
func (mm *MatchMaker) awaitRoomAvailable(ctx context.Context, roomName string, cb func(ctx context.Context) (*driver.Listing, error)) (*driver.Listing, error) {
	count, err := mm.presence.Incr(ctx, concurrencyKey(roomName))
	if err != nil {
		return nil, fmt.Errorf("matchmaker: await room available: %w", err)
	}
	defer mm.presence.Decr(context.Background(), concurrencyKey(roomName))

	position := count - 1
	delay := time.Duration(position) * ConcurrencyStaggerUnit
	if delay > RemoteRoomShortTimeout {
		delay = RemoteRoomShortTimeout
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return cb(ctx)
}

func (mm *MatchMaker) findOneRoomAvailable(ctx context.Context, handler *Handler, roomName string, options ClientOptions) (*driver.Listing, error) {
	return mm.awaitRoomAvailable(ctx, roomName, func(ctx context.Context) (*driver.Listing, error) {
		locked, private := false, false
		cond := driver.Conditions{
			Name:     roomName,
			Locked:   &locked,
			Private:  &private,
			Metadata: handler.FilterOptions(options),
		}
		return mm.store.FindOne(ctx, cond, handler.driverSortOptions()...)
	})
}

// createRoom picks the process carrying the fewest rooms overall
// (argmin over the roomcount hash, ties broken by lowest process id)
// and asks it to create the room, falling back to creating locally
// when that process doesn't answer.
func (mm *MatchMaker) createRoom(ctx context.Context, roomName string, options ClientOptions) (*driver.Listing, error) {
	target, err := mm.leastLoadedProcess(ctx)
	if err != nil {
		return nil, err
	}

	if target == mm.processID {
		return mm.handleCreateRoom(ctx, roomName, options)
	}

	argsJSON, err := json.Marshal([]any{roomName, options})
	if err != nil {
		return nil, fmt.Errorf("matchmaker: create room: %w", err)
	}
	valueJSON, err := requestFromIPC(ctx, mm.presence, mm.processID, processChannel(target), nil, argsJSON, RemoteRoomShortTimeout)
	if err != nil {
		mm.logger.Warn("remote room creation failed, creating locally instead", "target_process", target, "room_name", roomName, "error", err)
		return mm.handleCreateRoom(ctx, roomName, options)
	}

	var listing driver.Listing
	if err := json.Unmarshal(valueJSON, &listing); err != nil {
		mm.logger.Warn("remote room creation returned unparsable listing, creating locally instead", "target_process", target, "error", err)
		return mm.handleCreateRoom(ctx, roomName, options)
	}
	return &listing, nil
}

func (mm *MatchMaker) leastLoadedProcess(ctx context.Context) (string, error) {
	counts, err := mm.presence.HGetAll(ctx, roomCountHashKey)
	if err != nil {
		return "", fmt.Errorf("matchmaker: read room counts: %w", err)
	}
	if _, ok := counts[mm.processID]; !ok {
		counts[mm.processID] = "0"
	}

	ids := make([]string, 0, len(counts))
	for pid := range counts {
		ids = append(ids, pid)
	}
	sort.Strings(ids)

	target := ids[0]
	best := int64(-1)
	for _, pid := range ids {
		v, err := strconv.ParseInt(counts[pid], 10, 64)
		if err != nil {
			continue
		}
		if best == -1 || v < best {
			best = v
			target = pid
		}
	}
	return target, nil
}

// handleCreateRoom constructs and initializes a new room on this
// process. It is the operation that runs on whichever process
// createRoom decided owns the new room, whether invoked locally or
// dispatched over IPC.
func (mm *MatchMaker) handleCreateRoom(ctx context.Context, roomName string, options ClientOptions) (*driver.Listing, error) {
	handler, ok := mm.handlerFor(roomName)
	if !ok {
		return nil, NewMatchMakeError(ErrNoHandler, fmt.Sprintf("no handler registered for room name %q", roomName))
	}

	room := handler.Factory()
	roomID := uuid.NewString()
	filterOpts := handler.FilterOptions(options)

	listing, err := mm.store.CreateInstance(ctx, &driver.Listing{
		RoomID:    roomID,
		Name:      roomName,
		ProcessID: mm.processID,
		Metadata:  filterOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("matchmaker: create room instance: %w", err)
	}

	room.Init(RoomInit{RoomID: roomID, RoomName: roomName, Presence: mm.presence, Listing: listing})

	mm.mu.Lock()
	mm.rooms[roomID] = &localRoom{room: room, listing: listing, state: roomCreating}
	mm.mu.Unlock()

	merged := handler.MergeOptions(options)
	if err := room.OnCreate(ctx, merged); err != nil {
		mm.mu.Lock()
		delete(mm.rooms, roomID)
		mm.mu.Unlock()
		_ = mm.store.Remove(ctx, roomID)
		return nil, WrapMatchMakeError(err, ErrUnhandled, fmt.Sprintf("room %q failed to initialize", roomID))
	}

	listing.MaxClients = room.MaxClients()
	if _, err := mm.presence.HIncrBy(ctx, roomCountHashKey, mm.processID, 1); err != nil {
		mm.logger.Error("increment room count failed", "error", err)
	}

	mm.bindRoomEvents(roomID, room)

	// The room inbox subscription outlives this call by the lifetime of
	// the room, so it must not be tied to the caller's request context:
	// a canceled request context would silently break every future
	// reply this room publishes (see createRoomReferences).
	if err := mm.createRoomReferences(context.Background(), roomID); err != nil {
		return nil, err
	}

	if err := mm.store.Save(ctx, listing); err != nil {
		return nil, fmt.Errorf("matchmaker: save room listing: %w", err)
	}

	mm.mu.Lock()
	mm.rooms[roomID].state = roomCreated
	mm.mu.Unlock()

	handler.emitCreate(listing)
	if !listing.Unlisted {
		if err := publishLobbyChange(ctx, mm.presence, roomID, false); err != nil {
			mm.logger.Error("publish lobby change failed", "room_id", roomID, "error", err)
		}
	}

	return listing, nil
}

func (mm *MatchMaker) bindRoomEvents(roomID string, room Room) {
	events := room.Events()
	events.OnLock(func() { mm.lockRoom(roomID) })
	events.OnUnlock(func() { mm.unlockRoom(roomID) })
	events.OnJoin(func(sessionID string) {
		if handler, ok := mm.roomHandler(roomID); ok {
			handler.emitJoin(roomID, sessionID)
		}
	})
	events.OnLeave(func(sessionID string) {
		if handler, ok := mm.roomHandler(roomID); ok {
			handler.emitLeave(roomID, sessionID)
		}
	})

	var disposeOnce sync.Once
	events.OnDispose(func() {
		disposeOnce.Do(func() { mm.disposeRoom(roomID) })
	})

	var disconnectOnce sync.Once
	events.OnDisconnect(func() {
		disconnectOnce.Do(events.RemoveAllListeners)
	})
}

func (mm *MatchMaker) roomHandler(roomID string) (*Handler, bool) {
	mm.mu.Lock()
	lr, ok := mm.rooms[roomID]
	mm.mu.Unlock()
	if !ok {
		return nil, false
	}
	return mm.handlerFor(lr.listing.Name)
}

// createRoomReferences subscribes a room's IPC inbox, making it
// reachable from remoteRoomCall on other processes. Called at
// creation and again after unlock; a no-op if already subscribed.
// ctx must outlive the room, not just the caller: subscribeIPC holds
// onto it for the life of the subscription and reuses it to publish
// every future reply, so a request-scoped ctx here would cancel those
// replies once the request that created the room returns.
func (mm *MatchMaker) createRoomReferences(ctx context.Context, roomID string) error {
	mm.mu.Lock()
	lr, ok := mm.rooms[roomID]
	alreadySubscribed := ok && lr.sub != nil
	mm.mu.Unlock()
	if !ok || alreadySubscribed {
		return nil
	}

	sub, err := subscribeIPC(ctx, mm.presence, mm.logf, roomChannel(roomID), roomDispatch(lr.room))
	if err != nil {
		return fmt.Errorf("matchmaker: subscribe room inbox: %w", err)
	}

	mm.mu.Lock()
	if lr, ok := mm.rooms[roomID]; ok {
		lr.sub = sub
	}
	mm.mu.Unlock()
	return nil
}

func (mm *MatchMaker) clearRoomReferences(ctx context.Context, roomID string) error {
	mm.mu.Lock()
	lr, ok := mm.rooms[roomID]
	mm.mu.Unlock()
	if !ok || lr.sub == nil {
		return nil
	}
	err := lr.sub.Unsubscribe(ctx)
	mm.mu.Lock()
	lr.sub = nil
	mm.mu.Unlock()
	return err
}

func (mm *MatchMaker) lockRoom(roomID string) {
	ctx := context.Background()
	if err := mm.clearRoomReferences(ctx, roomID); err != nil {
		mm.logger.Error("lock room: unsubscribe failed", "room_id", roomID, "error", err)
	}
	mm.mu.Lock()
	lr, ok := mm.rooms[roomID]
	mm.mu.Unlock()
	if !ok {
		return
	}
	lr.listing.Locked = true
	if err := mm.store.Save(ctx, lr.listing); err != nil {
		mm.logger.Error("lock room: save listing failed", "room_id", roomID, "error", err)
	}
	if handler, ok := mm.handlerFor(lr.listing.Name); ok {
		handler.emitLock(lr.listing)
	}
	if !lr.listing.Unlisted {
		_ = publishLobbyChange(ctx, mm.presence, roomID, true)
	}
}

func (mm *MatchMaker) unlockRoom(roomID string) {
	ctx := context.Background()
	mm.mu.Lock()
	lr, ok := mm.rooms[roomID]
	mm.mu.Unlock()
	if !ok {
		return
	}
	lr.listing.Locked = false
	if err := mm.store.Save(ctx, lr.listing); err != nil {
		mm.logger.Error("unlock room: save listing failed", "room_id", roomID, "error", err)
	}
	if err := mm.createRoomReferences(ctx, roomID); err != nil {
		mm.logger.Error("unlock room: resubscribe failed", "room_id", roomID, "error", err)
	}
	if handler, ok := mm.handlerFor(lr.listing.Name); ok {
		handler.emitUnlock(lr.listing)
	}
	if !lr.listing.Unlisted {
		_ = publishLobbyChange(ctx, mm.presence, roomID, false)
	}
}

// disposeRoom is idempotent: it removes the room's listing, releases
// its concurrency counter, unsubscribes its IPC inbox, and forgets it.
// Called at most once per room, guarded by a sync.Once installed in
// bindRoomEvents.
func (mm *MatchMaker) disposeRoom(roomID string) {
	ctx := context.Background()
	mm.mu.Lock()
	lr, ok := mm.rooms[roomID]
	shuttingDown := mm.shuttingDown
	mm.mu.Unlock()
	if !ok {
		return
	}

	if !shuttingDown {
		if _, err := mm.presence.HIncrBy(ctx, roomCountHashKey, mm.processID, -1); err != nil {
			mm.logger.Error("decrement room count failed", "room_id", roomID, "error", err)
		}
	}

	if err := mm.store.Remove(ctx, roomID); err != nil {
		mm.logger.Error("remove room listing failed", "room_id", roomID, "error", err)
	}
	if err := mm.presence.Del(ctx, concurrencyKey(lr.listing.Name)); err != nil {
		mm.logger.Error("remove concurrency key failed", "room_name", lr.listing.Name, "error", err)
	}
	if err := mm.clearRoomReferences(ctx, roomID); err != nil {
		mm.logger.Error("dispose room: unsubscribe failed", "room_id", roomID, "error", err)
	}
	if !lr.listing.Unlisted {
		_ = publishLobbyChange(ctx, mm.presence, roomID, true)
	}
	if handler, ok := mm.handlerFor(lr.listing.Name); ok {
		handler.emitDispose(roomID)
	}

	mm.mu.Lock()
	if lr, ok := mm.rooms[roomID]; ok {
		lr.state = roomDisposing
	}
	delete(mm.rooms, roomID)
	mm.mu.Unlock()
}

// remoteRoomCall invokes method on roomID, dispatching locally when
// the room lives on this process and over IPC otherwise.
func (mm *MatchMaker) remoteRoomCall(ctx context.Context, roomID string, method RoomMethod, args json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	mm.mu.Lock()
	lr, local := mm.rooms[roomID]
	mm.mu.Unlock()

	methodName := string(method)
	if local {
		value, err := roomDispatch(lr.room)(ctx, &methodName, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	}

	valueJSON, err := requestFromIPC(ctx, mm.presence, mm.processID, roomChannel(roomID), &methodName, args, timeout)
	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			return nil, NewMatchMakeError(ErrUnhandled, fmt.Sprintf("room %q timed out handling %q after %s", roomID, method, timeout))
		}
		return nil, WrapMatchMakeError(err, ErrUnhandled, fmt.Sprintf("room %q failed handling %q", roomID, method))
	}
	return valueJSON, nil
}

// CallRoom invokes an application-defined method on roomID through
// Room.Call, dispatching locally or over IPC exactly like the fixed
// contract methods. It is the extension point a transport layer uses
// for anything beyond reserve/join/disconnect, such as notifying a
// room that a client's connection actually attached.
func (mm *MatchMaker) CallRoom(ctx context.Context, roomID string, method RoomMethod, args any) (json.RawMessage, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("matchmaker: call room: %w", err)
	}
	return mm.remoteRoomCall(ctx, roomID, method, argsJSON, RemoteRoomShortTimeout)
}

func (mm *MatchMaker) reserveSeatFor(ctx context.Context, listing *driver.Listing, options ClientOptions) (*SeatReservation, error) {
	sessionID := uuid.NewString()
	argsJSON, err := json.Marshal([]any{sessionID, options})
	if err != nil {
		return nil, fmt.Errorf("matchmaker: reserve seat: %w", err)
	}

	valueJSON, err := mm.remoteRoomCall(ctx, listing.RoomID, MethodReserveSeat, argsJSON, RemoteRoomShortTimeout)
	if err != nil {
		return nil, &SeatReservationError{RoomID: listing.RoomID}
	}

	var reserved bool
	_ = json.Unmarshal(valueJSON, &reserved)
	if !reserved {
		return nil, &SeatReservationError{RoomID: listing.RoomID}
	}
	return &SeatReservation{Room: listing, SessionID: sessionID}, nil
}

// CleanupStaleRooms probes every listed room of roomName and removes
// listings whose room no longer answers, healing state left behind by
// a process that crashed without running graceful shutdown.
func (mm *MatchMaker) CleanupStaleRooms(ctx context.Context, roomName string) error {
	listings, err := mm.store.Find(ctx, driver.Conditions{Name: roomName})
	if err != nil {
		return fmt.Errorf("matchmaker: cleanup stale rooms: %w", err)
	}

	if err := mm.presence.Del(ctx, concurrencyKey(roomName)); err != nil {
		mm.logger.Error("cleanup: reset concurrency key failed", "room_name", roomName, "error", err)
	}

	for _, l := range listings {
		if _, err := mm.remoteRoomCall(ctx, l.RoomID, MethodRoomID, nil, RemoteRoomShortTimeout); err != nil {
			if rmErr := mm.store.Remove(ctx, l.RoomID); rmErr != nil {
				mm.logger.Error("cleanup: remove stale listing failed", "room_id", l.RoomID, "error", rmErr)
				continue
			}
			mm.mu.Lock()
			delete(mm.rooms, l.RoomID)
			mm.mu.Unlock()
			mm.logger.Info("removed stale room listing", "room_id", l.RoomID, "room_name", roomName)
		}
	}
	return nil
}

// GracefulShutdown stops accepting new remote room creation requests,
// unregisters this node from discovery, and disconnects every room
// this process owns, waiting for all of them regardless of individual
// failures. It is idempotent-guarded: a second call returns
// ErrAlreadyShuttingDown.
func (mm *MatchMaker) GracefulShutdown(ctx context.Context) error {
	mm.mu.Lock()
	if mm.shuttingDown {
		mm.mu.Unlock()
		return ErrAlreadyShuttingDown
	}
	mm.shuttingDown = true
	processSub := mm.processSub
	node := mm.node
	rooms := make([]*localRoom, 0, len(mm.rooms))
	for _, lr := range mm.rooms {
		rooms = append(rooms, lr)
	}
	mm.mu.Unlock()

	if err := mm.presence.HDel(ctx, roomCountHashKey, mm.processID); err != nil {
		mm.logger.Error("shutdown: clear room count failed", "error", err)
	}
	if processSub != nil {
		if err := processSub.Unsubscribe(ctx); err != nil {
			mm.logger.Error("shutdown: unsubscribe process inbox failed", "error", err)
		}
	}
	if err := UnregisterNode(ctx, mm.presence, node); err != nil {
		mm.logger.Error("shutdown: unregister node failed", "error", err)
	}

	var wg sync.WaitGroup
	for _, lr := range rooms {
		wg.Add(1)
		go func(lr *localRoom) {
			defer wg.Done()
			if err := lr.room.Disconnect(ctx); err != nil {
				mm.logger.Error("shutdown: room disconnect failed", "room_id", lr.listing.RoomID, "error", err)
			}
		}(lr)
	}
	wg.Wait()
	return nil
}

// Stats returns the number of rooms this process currently owns, by
// room name.
func (mm *MatchMaker) Stats() map[string]int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	stats := make(map[string]int, len(mm.handlers))
	for _, lr := range mm.rooms {
		stats[lr.listing.Name]++
	}
	return stats
}

// processDispatch handles requests on this process's own inbox: the
// only operation a process accepts on it is "create a room of this
// type with these options", identified by a nil method.
func (mm *MatchMaker) processDispatch(ctx context.Context, method *string, args json.RawMessage) (any, error) {
	if method != nil {
		return nil, fmt.Errorf("matchmaker: process inbox received unexpected method %q", *method)
	}
	var params []json.RawMessage
	if err := json.Unmarshal(args, &params); err != nil || len(params) == 0 {
		return nil, fmt.Errorf("matchmaker: malformed create-room request")
	}
	var roomName string
	if err := json.Unmarshal(params[0], &roomName); err != nil {
		return nil, fmt.Errorf("matchmaker: malformed room name")
	}
	var options ClientOptions
	if len(params) > 1 {
		_ = json.Unmarshal(params[1], &options)
	}
	return mm.handleCreateRoom(ctx, roomName, options)
}

// roomDispatch resolves the fixed room contract methods directly
// against room, falling through to Call for anything else.
func roomDispatch(room Room) ipcDispatch {
	return func(ctx context.Context, method *string, args json.RawMessage) (any, error) {
		if method == nil {
			return nil, fmt.Errorf("matchmaker: room inbox requires a method name")
		}
		switch RoomMethod(*method) {
		case MethodReserveSeat:
			var params []json.RawMessage
			if err := json.Unmarshal(args, &params); err != nil || len(params) == 0 {
				return nil, fmt.Errorf("matchmaker: malformed reserve seat request")
			}
			var sessionID string
			_ = json.Unmarshal(params[0], &sessionID)
			var options ClientOptions
			if len(params) > 1 {
				_ = json.Unmarshal(params[1], &options)
			}
			return room.ReserveSeat(ctx, sessionID, options)

		case MethodHasReservedSeat:
			var params []json.RawMessage
			if err := json.Unmarshal(args, &params); err != nil || len(params) == 0 {
				return nil, fmt.Errorf("matchmaker: malformed has reserved seat request")
			}
			var sessionID string
			_ = json.Unmarshal(params[0], &sessionID)
			return room.HasReservedSeat(ctx, sessionID)

		case MethodRoomID:
			return room.RoomID(), nil

		case MethodDisconnect:
			return nil, room.Disconnect(ctx)

		default:
			return room.Call(ctx, RoomMethod(*method), args)
		}
	}
}
