package matchmaker

import "time"

const (
	// RemoteRoomShortTimeout bounds every IPC round trip this package
	// makes: remote room creation, remote seat reservation, remote
	// method calls and stale-room liveness probes all use it.
	RemoteRoomShortTimeout = 3 * time.Second

	// MaxJoinOrCreateAttempts caps how many attempts, the first one
	// included, JoinOrCreate and Join make when they lose seat races.
	MaxJoinOrCreateAttempts = 5

	// ConcurrencyStaggerUnit is the per-waiter delay applied by
	// awaitRoomAvailable, capped at RemoteRoomShortTimeout.
	ConcurrencyStaggerUnit = 100 * time.Millisecond
)

const roomCountHashKey = "roomcount"

func concurrencyKey(roomName string) string { return "c:" + roomName }

func processChannel(processID string) string { return "p:" + processID }

func roomChannel(roomID string) string { return "$" + roomID }
