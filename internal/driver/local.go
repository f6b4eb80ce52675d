package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Local is an in-memory Store, a map of listings scanned linearly on
// every query and guarded by a single read-write mutex — adequate for
// single-node operation and tests,
// mirroring the teacher's own in-memory room table.
type Local struct {
	mu       sync.RWMutex
	listings map[string]*Listing
}

// NewLocal creates an empty Local store.
func NewLocal() *Local {
	return &Local{listings: make(map[string]*Listing)}
}

func (s *Local) CreateInstance(_ context.Context, initial *Listing) (*Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := initial.Clone()
	if l.RoomID == "" {
		l.RoomID = uuid.NewString()
	}
	s.listings[l.RoomID] = l
	return l.Clone(), nil
}

func (s *Local) Save(_ context.Context, listing *Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.RoomID == "" {
		return fmt.Errorf("driver: cannot save a listing without a room id")
	}
	s.listings[listing.RoomID] = listing.Clone()
	return nil
}

func (s *Local) Remove(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listings, roomID)
	return nil
}

func (s *Local) Find(_ context.Context, cond Conditions, sortBy ...SortOption) ([]*Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Listing
	for _, l := range s.listings {
		if matches(l, cond) {
			out = append(out, l.Clone())
		}
	}
	Sort(out, sortBy...)
	return out, nil
}

func (s *Local) FindOne(ctx context.Context, cond Conditions, sortBy ...SortOption) (*Listing, error) {
	results, err := s.Find(ctx, cond, sortBy...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

var _ Store = (*Local)(nil)
