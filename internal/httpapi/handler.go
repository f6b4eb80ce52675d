// Package httpapi is a thin HTTP transport in front of MatchMaker: it
// decodes client requests, calls the corresponding matchmaking
// operation, and encodes the result. The wire protocol clients
// actually speak to a room once they hold a reservation is out of
// scope here.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
	"github.com/koopa0/system-design/14-matchmaker/internal/matchmaker"
)

// Handler is the HTTP request handler in front of a MatchMaker.
type Handler struct {
	mm     *matchmaker.MatchMaker
	logger *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(mm *matchmaker.MatchMaker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{mm: mm, logger: logger}
}

// Routes registers every matchmaking endpoint on a fresh ServeMux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("POST /matchmake/{method}/{room_name}", wrap(h.matchmake))
	mux.HandleFunc("POST /matchmake/joinById/{room_id}", wrap(h.joinByID))
	mux.HandleFunc("GET /matchmake/query", wrap(h.query))
	mux.HandleFunc("GET /matchmake/ws/{room_id}/{session_id}", h.connectWS)

	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

type reservationResponse struct {
	RoomID     string `json:"room_id"`
	RoomName   string `json:"room_name"`
	SessionID  string `json:"session_id"`
	ProcessID  string `json:"process_id"`
	MaxClients int    `json:"max_clients"`
}

func toReservationResponse(r *matchmaker.SeatReservation) reservationResponse {
	return reservationResponse{
		RoomID:     r.Room.RoomID,
		RoomName:   r.Room.Name,
		SessionID:  r.SessionID,
		ProcessID:  r.Room.ProcessID,
		MaxClients: r.Room.MaxClients,
	}
}

func (h *Handler) matchmake(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")
	roomName := r.PathValue("room_name")

	options, err := decodeOptions(r)
	if err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var reservation *matchmaker.SeatReservation
	switch method {
	case "joinOrCreate":
		reservation, err = h.mm.JoinOrCreate(ctx, roomName, options)
	case "create":
		reservation, err = h.mm.Create(ctx, roomName, options)
	case "join":
		reservation, err = h.mm.Join(ctx, roomName, options)
	default:
		h.errorResponse(w, "unknown matchmake method", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.matchmakeErrorResponse(w, err)
		return
	}

	h.jsonResponse(w, toReservationResponse(reservation), http.StatusOK)
}

func (h *Handler) joinByID(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	options, err := decodeOptions(r)
	if err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reservation, err := h.mm.JoinById(r.Context(), roomID, options)
	if err != nil {
		h.matchmakeErrorResponse(w, err)
		return
	}
	h.jsonResponse(w, toReservationResponse(reservation), http.StatusOK)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cond := driver.Conditions{Name: q.Get("name")}
	if v := q.Get("locked"); v != "" {
		if locked, err := strconv.ParseBool(v); err == nil {
			cond.Locked = &locked
		}
	}
	if v := q.Get("private"); v != "" {
		if private, err := strconv.ParseBool(v); err == nil {
			cond.Private = &private
		}
	}

	listings, err := h.mm.Query(r.Context(), cond)
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]any{"rooms": listings}, http.StatusOK)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{"status": "healthy", "time": time.Now().Unix()}, http.StatusOK)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.mm.Stats(), http.StatusOK)
}

func decodeOptions(r *http.Request) (matchmaker.ClientOptions, error) {
	if r.ContentLength == 0 {
		return nil, nil
	}
	var options matchmaker.ClientOptions
	if err := json.NewDecoder(r.Body).Decode(&options); err != nil {
		return nil, err
	}
	return options, nil
}

func (h *Handler) matchmakeErrorResponse(w http.ResponseWriter, err error) {
	var mmErr *matchmaker.MatchMakeError
	if !errors.As(err, &mmErr) {
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch mmErr.Code {
	case matchmaker.ErrNoHandler, matchmaker.ErrInvalidCriteria, matchmaker.ErrInvalidRoomID:
		status = http.StatusNotFound
	case matchmaker.ErrExpired:
		status = http.StatusGone
	case matchmaker.ErrSeatReservation:
		status = http.StatusConflict
	case matchmaker.ErrUnhandled:
		status = http.StatusBadGateway
	}
	h.jsonResponse(w, map[string]any{"code": mmErr.Code, "error": mmErr.Message}, status)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json response failed", "error", err)
	}
}

func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{"error": message}, status)
}

func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(ww, r)
		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic while handling request", "error", err, "method", r.Method, "path", r.URL.Path)
				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
