package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// connectWS is a minimal stand-in transport: it consumes the caller's
// seat reservation, upgrades to a WebSocket, and holds the connection
// open with a ping/pong heartbeat until the client disconnects, at
// which point it notifies the room the seat was vacated. The actual
// per-client game protocol that would run over this connection is out
// of scope here.
func (h *Handler) connectWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")
	sessionID := r.PathValue("session_id")

	if _, err := h.mm.CallRoom(r.Context(), roomID, "connect", sessionID); err != nil {
		h.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go h.pingLoop(conn, done)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)

	if _, err := h.mm.CallRoom(context.Background(), roomID, "leave", sessionID); err != nil {
		h.logger.Error("room leave notification failed", "room_id", roomID, "session_id", sessionID, "error", err)
	}
}

func (h *Handler) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
