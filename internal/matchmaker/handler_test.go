package matchmaker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koopa0/system-design/14-matchmaker/internal/driver"
)

func TestHandler_FilterOptionsProjectsOnlyFilterByKeys(t *testing.T) {
	h := NewHandler("chat", nil, nil, FilterBy("mode"))
	filtered := h.FilterOptions(ClientOptions{"mode": "coop", "nickname": "alice"})
	assert.Equal(t, map[string]string{"mode": "coop"}, filtered)
}

func TestHandler_MergeOptionsOverlaysDefaults(t *testing.T) {
	h := NewHandler("chat", nil, ClientOptions{"mode": "versus", "maxClients": 4})
	merged := h.MergeOptions(ClientOptions{"mode": "coop"})
	assert.Equal(t, ClientOptions{"mode": "coop", "maxClients": 4}, merged)
}

func TestHandler_DriverSortOptionsOrdersNumerically(t *testing.T) {
	h := NewHandler("chat", nil, nil, SortBy(SortField{Field: "rank", Ascending: true}))
	listings := []*driver.Listing{
		{RoomID: "a", Metadata: map[string]string{"rank": "30"}},
		{RoomID: "b", Metadata: map[string]string{"rank": "10"}},
		{RoomID: "c", Metadata: map[string]string{"rank": "20"}},
	}
	driver.Sort(listings, h.driverSortOptions()...)
	assert.Equal(t, []string{"b", "c", "a"}, []string{listings[0].RoomID, listings[1].RoomID, listings[2].RoomID})
}

func TestHandler_EventsFireInRegistrationOrder(t *testing.T) {
	h := NewHandler("chat", nil, nil)
	var order []string
	h.OnCreate(func(*driver.Listing) { order = append(order, "first") })
	h.OnCreate(func(*driver.Listing) { order = append(order, "second") })
	h.emitCreate(&driver.Listing{RoomID: "r1"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestHandler_OnDisposePassesRoomID(t *testing.T) {
	h := NewHandler("chat", nil, nil)
	var got string
	h.OnDispose(func(roomID string) { got = roomID })
	h.emitDispose("r1")
	assert.Equal(t, "r1", got)
}
