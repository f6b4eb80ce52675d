package matchmaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

func TestSubscribeLobby_ParsesRoomIDAndFlag(t *testing.T) {
	ctx := context.Background()
	pres := presence.NewLocal()

	changes := make(chan struct {
		roomID  string
		removed bool
	}, 1)
	sub, err := SubscribeLobby(ctx, pres, func(roomID string, removed bool) {
		changes <- struct {
			roomID  string
			removed bool
		}{roomID, removed}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe(ctx)

	require.NoError(t, publishLobbyChange(ctx, pres, "room-1", true))

	select {
	case change := <-changes:
		assert.Equal(t, "room-1", change.roomID)
		assert.True(t, change.removed)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lobby change")
	}
}
