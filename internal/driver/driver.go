// Package driver implements the room-listing store: a query-able,
// cluster-visible record per room, kept separate from the Presence
// substrate even though the remote implementation may share the same
// backend infrastructure.
package driver

import (
	"context"
	"sort"
)

// Listing is the cluster-visible, mutable record describing one room.
// Filter fields projected from create options are carried in Metadata.
type Listing struct {
	RoomID     string
	Name       string
	ProcessID  string
	Locked     bool
	Private    bool
	Unlisted   bool
	Clients    int
	MaxClients int

	// Metadata holds filterBy fields projected from room create options
	// (game mode, map name, skill tier, ...); the driver treats these as
	// opaque strings for filtering and does not interpret them.
	Metadata map[string]string
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the driver's own bookkeeping.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	out := *l
	out.Metadata = make(map[string]string, len(l.Metadata))
	for k, v := range l.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// Conditions selects listings to query. A zero value field is not
// filtered on; Locked and Private are pointers, so a nil one is not
// filtered on either and a non-nil one must match exactly — callers
// that don't care about lock/private state leave them nil and rely on
// Metadata for anything else.
type Conditions struct {
	RoomID   string
	Name     string
	Locked   *bool
	Private  *bool
	Metadata map[string]string
}

// SortOption orders a Find result. Less reports whether a sorts before
// b for the purposes of the comparator it implements (e.g. "fewest
// clients first").
type SortOption func(a, b *Listing) bool

// Sort applies a chain of SortOptions to listings in place, most
// significant comparator first.
func Sort(listings []*Listing, options ...SortOption) {
	if len(options) == 0 {
		return
	}
	sort.SliceStable(listings, func(i, j int) bool {
		for _, less := range options {
			if less(listings[i], listings[j]) {
				return true
			}
			if less(listings[j], listings[i]) {
				return false
			}
		}
		return false
	})
}

// Store is the query-able listing store the matchmaker persists room
// state to. Local and remote implementations both tolerate duplicate
// or stale entries: FindOne is explicitly best-effort per spec.
type Store interface {
	CreateInstance(ctx context.Context, initial *Listing) (*Listing, error)
	Save(ctx context.Context, listing *Listing) error
	Remove(ctx context.Context, roomID string) error
	Find(ctx context.Context, cond Conditions, sortBy ...SortOption) ([]*Listing, error)
	FindOne(ctx context.Context, cond Conditions, sortBy ...SortOption) (*Listing, error)
}

func matches(l *Listing, cond Conditions) bool {
	if cond.RoomID != "" && l.RoomID != cond.RoomID {
		return false
	}
	if cond.Name != "" && l.Name != cond.Name {
		return false
	}
	if cond.Locked != nil && l.Locked != *cond.Locked {
		return false
	}
	if cond.Private != nil && l.Private != *cond.Private {
		return false
	}
	for k, v := range cond.Metadata {
		if l.Metadata[k] != v {
			return false
		}
	}
	return true
}
