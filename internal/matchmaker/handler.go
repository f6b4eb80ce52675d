package matchmaker

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
)

// ClientOptions is the opaque, serializable option bag a client sends
// with create/join/joinOrCreate. Values must survive a JSON round
// trip, since they cross process boundaries over IPC unchanged.
type ClientOptions map[string]any

// SortField orders room listings for a given handler by one metadata
// key, numerically when the values parse as numbers and lexically
// otherwise.
type SortField struct {
	Field     string
	Ascending bool
}

// HandlerOption configures a Handler at registration time.
type HandlerOption func(*Handler)

// FilterBy names the client option keys projected into driver query
// metadata when locating an available room of this type.
func FilterBy(keys ...string) HandlerOption {
	return func(h *Handler) { h.FilterBy = keys }
}

// SortBy orders candidate rooms by the given fields, most significant
// first, when more than one room matches a join or joinOrCreate query.
func SortBy(fields ...SortField) HandlerOption {
	return func(h *Handler) { h.SortOptions = fields }
}

// Handler is a registered room type: a room constructor plus the
// default options, filter keys and sort order the matchmaker applies
// on its behalf. Handlers are process-local; each process registering
// the same room name owns its own listener table.
type Handler struct {
	Name        string
	Factory     func() Room
	Options     ClientOptions
	FilterBy    []string
	SortOptions []SortField

	events *HandlerEvents
}

// NewHandler builds a Handler. defaultOptions are merged under
// per-call options in OnCreate.
func NewHandler(name string, factory func() Room, defaultOptions ClientOptions, opts ...HandlerOption) *Handler {
	h := &Handler{
		Name:    name,
		Factory: factory,
		Options: defaultOptions,
		events:  &HandlerEvents{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// FilterOptions projects the handler's FilterBy keys out of options
// into string-valued driver query metadata.
func (h *Handler) FilterOptions(options ClientOptions) map[string]string {
	if len(h.FilterBy) == 0 {
		return nil
	}
	out := make(map[string]string, len(h.FilterBy))
	for _, key := range h.FilterBy {
		if v, ok := options[key]; ok {
			out[key] = fmt.Sprint(v)
		}
	}
	return out
}

// MergeOptions layers per-call options over the handler's defaults.
func (h *Handler) MergeOptions(options ClientOptions) ClientOptions {
	merged := make(ClientOptions, len(h.Options)+len(options))
	for k, v := range h.Options {
		merged[k] = v
	}
	for k, v := range options {
		merged[k] = v
	}
	return merged
}

func (h *Handler) driverSortOptions() []driver.SortOption {
	if len(h.SortOptions) == 0 {
		return nil
	}
	opts := make([]driver.SortOption, 0, len(h.SortOptions))
	for _, field := range h.SortOptions {
		f := field
		opts = append(opts, func(a, b *driver.Listing) bool {
			less := compareMetadata(a.Metadata[f.Field], b.Metadata[f.Field])
			if f.Ascending {
				return less
			}
			return !less && a.Metadata[f.Field] != b.Metadata[f.Field]
		})
	}
	return opts
}

func compareMetadata(a, b string) bool {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr == nil && berr == nil {
		return af < bf
	}
	return a < b
}

// OnCreate, OnJoin, OnLeave, OnLock, OnUnlock and OnDispose register
// process-local listeners for this handler's lifecycle events. Every
// process that defines the same room name maintains its own table;
// events fire only for rooms owned by the process that created them.
func (h *Handler) OnCreate(fn func(*driver.Listing)) { h.events.addCreate(fn) }
func (h *Handler) OnJoin(fn func(roomID, sessionID string)) { h.events.addJoin(fn) }
func (h *Handler) OnLeave(fn func(roomID, sessionID string)) { h.events.addLeave(fn) }
func (h *Handler) OnLock(fn func(*driver.Listing)) { h.events.addLock(fn) }
func (h *Handler) OnUnlock(fn func(*driver.Listing)) { h.events.addUnlock(fn) }
func (h *Handler) OnDispose(fn func(roomID string)) { h.events.addDispose(fn) }

func (h *Handler) emitCreate(l *driver.Listing) { h.events.emitCreate(l) }
func (h *Handler) emitJoin(roomID, sessionID string) { h.events.emitJoin(roomID, sessionID) }
func (h *Handler) emitLeave(roomID, sessionID string) { h.events.emitLeave(roomID, sessionID) }
func (h *Handler) emitLock(l *driver.Listing) { h.events.emitLock(l) }
func (h *Handler) emitUnlock(l *driver.Listing) { h.events.emitUnlock(l) }
func (h *Handler) emitDispose(roomID string) { h.events.emitDispose(roomID) }

// HandlerEvents is the typed listener table backing Handler's On*
// methods, kept separate from RoomEvents because a handler observes
// every room of its type, not just one instance's lifecycle.
type HandlerEvents struct {
	mu        sync.Mutex
	onCreate  []func(*driver.Listing)
	onJoin    []func(roomID, sessionID string)
	onLeave   []func(roomID, sessionID string)
	onLock    []func(*driver.Listing)
	onUnlock  []func(*driver.Listing)
	onDispose []func(roomID string)
}

func (e *HandlerEvents) addCreate(fn func(*driver.Listing)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCreate = append(e.onCreate, fn)
}

func (e *HandlerEvents) addJoin(fn func(string, string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onJoin = append(e.onJoin, fn)
}

func (e *HandlerEvents) addLeave(fn func(string, string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLeave = append(e.onLeave, fn)
}

func (e *HandlerEvents) addLock(fn func(*driver.Listing)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLock = append(e.onLock, fn)
}

func (e *HandlerEvents) addUnlock(fn func(*driver.Listing)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUnlock = append(e.onUnlock, fn)
}

func (e *HandlerEvents) addDispose(fn func(string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDispose = append(e.onDispose, fn)
}

func (e *HandlerEvents) emitCreate(l *driver.Listing) {
	e.mu.Lock()
	listeners := append([]func(*driver.Listing){}, e.onCreate...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(l)
	}
}

func (e *HandlerEvents) emitJoin(roomID, sessionID string) {
	e.mu.Lock()
	listeners := append([]func(string, string){}, e.onJoin...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(roomID, sessionID)
	}
}

func (e *HandlerEvents) emitLeave(roomID, sessionID string) {
	e.mu.Lock()
	listeners := append([]func(string, string){}, e.onLeave...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(roomID, sessionID)
	}
}

func (e *HandlerEvents) emitLock(l *driver.Listing) {
	e.mu.Lock()
	listeners := append([]func(*driver.Listing){}, e.onLock...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(l)
	}
}

func (e *HandlerEvents) emitUnlock(l *driver.Listing) {
	e.mu.Lock()
	listeners := append([]func(*driver.Listing){}, e.onUnlock...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(l)
	}
}

func (e *HandlerEvents) emitDispose(roomID string) {
	e.mu.Lock()
	listeners := append([]func(string){}, e.onDispose...)
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(roomID)
	}
}
