package matchmaker

import (
	"context"
	"strings"

	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

const lobbyChannel = "$lobby"

// publishLobbyChange notifies lobby subscribers that a public room's
// availability changed. removed is true when the room was disposed or
// locked; false when it was created or unlocked. Unlisted rooms are
// never announced.
func publishLobbyChange(ctx context.Context, pres presence.Presence, roomID string, removed bool) error {
	flag := "0"
	if removed {
		flag = "1"
	}
	return pres.Publish(ctx, lobbyChannel, roomID+","+flag)
}

// SubscribeLobby watches the lobby channel for room availability
// changes, parsing the "<roomId>,<0|1>" payload format.
func SubscribeLobby(ctx context.Context, pres presence.Presence, onChange func(roomID string, removed bool)) (presence.Subscription, error) {
	return pres.Subscribe(ctx, lobbyChannel, func(payload string) {
		parts := strings.SplitN(payload, ",", 2)
		if len(parts) != 2 {
			return
		}
		onChange(parts[0], parts[1] == "1")
	})
}
