package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestLocal_CreateFindRemove(t *testing.T) {
	ctx := context.Background()
	s := NewLocal()

	l, err := s.CreateInstance(ctx, &Listing{
		Name:       "chat",
		ProcessID:  "p1",
		MaxClients: 4,
		Metadata:   map[string]string{"mode": "coop"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, l.RoomID)

	found, err := s.FindOne(ctx, Conditions{Name: "chat", Locked: boolPtr(false), Private: boolPtr(false)})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, l.RoomID, found.RoomID)

	require.NoError(t, s.Remove(ctx, l.RoomID))
	found, err = s.FindOne(ctx, Conditions{RoomID: l.RoomID})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestLocal_FindFiltersLockedAndPrivate(t *testing.T) {
	ctx := context.Background()
	s := NewLocal()

	_, _ = s.CreateInstance(ctx, &Listing{Name: "chat", Locked: true})
	_, _ = s.CreateInstance(ctx, &Listing{Name: "chat", Private: true})
	open, _ := s.CreateInstance(ctx, &Listing{Name: "chat"})

	results, err := s.Find(ctx, Conditions{Name: "chat", Locked: boolPtr(false), Private: boolPtr(false)})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, open.RoomID, results[0].RoomID)
}

func TestLocal_FindSortsByComparator(t *testing.T) {
	ctx := context.Background()
	s := NewLocal()

	_, _ = s.CreateInstance(ctx, &Listing{Name: "chat", Clients: 3})
	_, _ = s.CreateInstance(ctx, &Listing{Name: "chat", Clients: 1})
	_, _ = s.CreateInstance(ctx, &Listing{Name: "chat", Clients: 2})

	fewestClientsFirst := func(a, b *Listing) bool { return a.Clients < b.Clients }
	results, err := s.Find(ctx, Conditions{Name: "chat"}, fewestClientsFirst)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{results[0].Clients, results[1].Clients, results[2].Clients})
}

func TestLocal_MetadataFilter(t *testing.T) {
	ctx := context.Background()
	s := NewLocal()

	_, _ = s.CreateInstance(ctx, &Listing{Name: "chat", Metadata: map[string]string{"mode": "versus"}})
	coop, _ := s.CreateInstance(ctx, &Listing{Name: "chat", Metadata: map[string]string{"mode": "coop"}})

	results, err := s.Find(ctx, Conditions{Name: "chat", Metadata: map[string]string{"mode": "coop"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, coop.RoomID, results[0].RoomID)
}

var _ Store = (*Local)(nil)
