package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-matchmaker/internal/demoroom"
	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
	"github.com/koopa0/system-design/14-matchmaker/internal/httpapi"
	"github.com/koopa0/system-design/14-matchmaker/internal/matchmaker"
	"github.com/koopa0/system-design/14-matchmaker/internal/presence"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	mm := matchmaker.New("p1", presence.NewLocal(), driver.NewLocal(), nil)
	require.NoError(t, mm.Setup(context.Background(), matchmaker.Node{ProcessID: "p1", Host: "127.0.0.1", Port: 2567}))
	mm.DefineRoomType("chat", func() matchmaker.Room { return demoroom.New(4) }, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return httpapi.NewHandler(mm, logger).Routes()
}

func TestHandler_MatchmakeJoinOrCreate(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/matchmake/joinOrCreate/chat", bytes.NewReader([]byte(`{"nickname":"alice"}`)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["room_id"])
	assert.NotEmpty(t, resp["session_id"])
}

func TestHandler_MatchmakeUnknownRoomName(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/matchmake/joinOrCreate/does-not-exist", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_JoinByIdUnknownRoom(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/matchmake/joinById/nonexistent", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_QueryListsCreatedRoom(t *testing.T) {
	server := newTestServer(t)

	create := httptest.NewRequest(http.MethodPost, "/matchmake/create/chat", bytes.NewReader([]byte(`{}`)))
	createRec := httptest.NewRecorder()
	server.ServeHTTP(createRec, create)
	require.Equal(t, http.StatusOK, createRec.Code)

	req := httptest.NewRequest(http.MethodGet, "/matchmake/query?name=chat", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	rooms, ok := resp["rooms"].([]any)
	require.True(t, ok)
	assert.Len(t, rooms, 1)
}

func TestHandler_Health(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
