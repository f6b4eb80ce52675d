package matchmaker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

type testRoom struct {
	mu         sync.Mutex
	id         string
	events     *RoomEvents
	maxClients int
	seats      map[string]bool
}

func newTestRoom(maxClients int) *testRoom {
	return &testRoom{events: NewRoomEvents(), maxClients: maxClients, seats: map[string]bool{}}
}

func (r *testRoom) Init(init RoomInit) { r.id = init.RoomID }

func (r *testRoom) OnCreate(ctx context.Context, options ClientOptions) error { return nil }

func (r *testRoom) MaxClients() int { return r.maxClients }

func (r *testRoom) ReserveSeat(ctx context.Context, sessionID string, options ClientOptions) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.seats) >= r.maxClients {
		return false, nil
	}
	r.seats[sessionID] = true
	full := len(r.seats) == r.maxClients
	if full {
		go r.events.EmitLock()
	}
	return true, nil
}

func (r *testRoom) HasReservedSeat(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seats[sessionID], nil
}

func (r *testRoom) Disconnect(ctx context.Context) error {
	r.events.EmitDispose()
	return nil
}

func (r *testRoom) RoomID() string { return r.id }

func (r *testRoom) Call(ctx context.Context, method RoomMethod, args []byte) (any, error) {
	return nil, fmt.Errorf("testRoom: unsupported method %q", method)
}

func (r *testRoom) Events() *RoomEvents { return r.events }

var _ Room = (*testRoom)(nil)

func newTestMatchMaker(t *testing.T, processID string) *MatchMaker {
	t.Helper()
	mm := New(processID, presence.NewLocal(), driver.NewLocal(), nil)
	require.NoError(t, mm.Setup(context.Background(), Node{ProcessID: processID, Host: "127.0.0.1", Port: 2567}))
	return mm
}

func TestDefineRoomType_HasHandler(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	assert.False(t, mm.HasHandler("chat"))
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)
	assert.True(t, mm.HasHandler("chat"))
	mm.RemoveRoomType("chat")
	assert.False(t, mm.HasHandler("chat"))
}

func TestJoinOrCreate_CreatesWhenNoneAvailable(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	reservation, err := mm.JoinOrCreate(context.Background(), "chat", nil)
	require.NoError(t, err)
	require.NotNil(t, reservation)
	assert.NotEmpty(t, reservation.Room.RoomID)
	assert.NotEmpty(t, reservation.SessionID)
	assert.Equal(t, 1, mm.Stats()["chat"])
}

func TestJoinOrCreate_JoinsExistingRoom(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	first, err := mm.JoinOrCreate(context.Background(), "chat", nil)
	require.NoError(t, err)

	second, err := mm.JoinOrCreate(context.Background(), "chat", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Room.RoomID, second.Room.RoomID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 1, mm.Stats()["chat"])
}

func TestJoinOrCreate_CreatesSecondRoomOnceFirstLocks(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(1) }, nil)

	first, err := mm.JoinOrCreate(context.Background(), "chat", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		listing, err := mm.store.FindOne(context.Background(), driver.Conditions{RoomID: first.Room.RoomID})
		return err == nil && listing != nil && listing.Locked
	}, time.Second, 5*time.Millisecond)

	second, err := mm.JoinOrCreate(context.Background(), "chat", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.Room.RoomID, second.Room.RoomID)
	assert.Equal(t, 2, mm.Stats()["chat"])
}

func TestJoin_NoRoomAvailableReturnsInvalidCriteria(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	_, err := mm.Join(context.Background(), "chat", nil)
	require.Error(t, err)
	var mmErr *MatchMakeError
	require.ErrorAs(t, err, &mmErr)
	assert.Equal(t, ErrInvalidCriteria, mmErr.Code)
}

func TestJoinById_ReconnectionHonorsExistingReservation(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	reservation, err := mm.Create(context.Background(), "chat", nil)
	require.NoError(t, err)

	reconnected, err := mm.JoinById(context.Background(), reservation.Room.RoomID, ClientOptions{"sessionId": reservation.SessionID})
	require.NoError(t, err)
	assert.Equal(t, reservation.SessionID, reconnected.SessionID)
}

func TestJoinById_UnknownSessionIsExpired(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	reservation, err := mm.Create(context.Background(), "chat", nil)
	require.NoError(t, err)

	_, err = mm.JoinById(context.Background(), reservation.Room.RoomID, ClientOptions{"sessionId": "nonexistent"})
	require.Error(t, err)
	var mmErr *MatchMakeError
	require.ErrorAs(t, err, &mmErr)
	assert.Equal(t, ErrExpired, mmErr.Code)
}

func TestCleanupStaleRooms_RemovesListingForDeadRoom(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	reservation, err := mm.Create(context.Background(), "chat", nil)
	require.NoError(t, err)

	// Simulate a crashed process: forget the room without disposing it,
	// leaving a stale listing behind. Unsubscribing first stands in for
	// the process dying outright, so the room inbox no longer answers
	// the liveness probe below.
	require.NoError(t, mm.clearRoomReferences(context.Background(), reservation.Room.RoomID))
	mm.mu.Lock()
	delete(mm.rooms, reservation.Room.RoomID)
	mm.mu.Unlock()

	require.NoError(t, mm.CleanupStaleRooms(context.Background(), "chat"))

	listing, err := mm.store.FindOne(context.Background(), driver.Conditions{RoomID: reservation.Room.RoomID})
	require.NoError(t, err)
	assert.Nil(t, listing)
}

func TestGracefulShutdown_IsIdempotent(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")
	mm.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)
	_, err := mm.Create(context.Background(), "chat", nil)
	require.NoError(t, err)

	require.NoError(t, mm.GracefulShutdown(context.Background()))
	assert.ErrorIs(t, mm.GracefulShutdown(context.Background()), ErrAlreadyShuttingDown)
}

func TestAwaitRoomAvailable_StaggersConcurrentCallers(t *testing.T) {
	mm := newTestMatchMaker(t, "p1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var order []int
	start := time.Now()

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = mm.awaitRoomAvailable(context.Background(), "stagger-test", func(ctx context.Context) (*driver.Listing, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	assert.Len(t, order, 3)
	assert.GreaterOrEqual(t, elapsed, 2*ConcurrencyStaggerUnit)
}

func TestCreateRoom_PicksLeastLoadedProcess(t *testing.T) {
	pres := presence.NewLocal()
	store := driver.NewLocal()

	busy := New("busy", pres, store, nil)
	require.NoError(t, busy.Setup(context.Background(), Node{ProcessID: "busy", Host: "h", Port: 1}))
	busy.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	idle := New("idle", pres, store, nil)
	require.NoError(t, idle.Setup(context.Background(), Node{ProcessID: "idle", Host: "h", Port: 2}))
	idle.DefineRoomType("chat", func() Room { return newTestRoom(4) }, nil)

	require.NoError(t, pres.HSet(context.Background(), roomCountHashKey, "busy", "5"))
	require.NoError(t, pres.HSet(context.Background(), roomCountHashKey, "idle", "0"))

	listing, err := busy.createRoom(context.Background(), "chat", nil)
	require.NoError(t, err)
	assert.Equal(t, "idle", listing.ProcessID)
}
