// Package room provides the membership index that maps room ids to member
// sessions and sessions back to their rooms.
package room

import (
	"sort"
)

// Index tracks room membership in both directions. Rooms come into existence
// on their first Join and disappear with their last Leave.
//
// Index is not safe for concurrent use; it is owned by the relay's event loop.
type Index struct {
	seq   uint64
	rooms map[string]*members           // roomID → members
	sids  map[string]map[string]struct{} // sessionID → set of roomIDs
}

type members struct {
	created uint64
	joined  map[string]uint64 // sessionID → join sequence
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		rooms: make(map[string]*members),
		sids:  make(map[string]map[string]struct{}),
	}
}

func (x *Index) next() uint64 {
	x.seq++
	return x.seq
}

// Join adds sessionID to roomID, creating the room if needed.
//
// Postcondition: Returns true if the session was not already a member.
func (x *Index) Join(sessionID, roomID string) bool {
	m, ok := x.rooms[roomID]
	if !ok {
		m = &members{created: x.next(), joined: make(map[string]uint64)}
		x.rooms[roomID] = m
	}
	if _, exists := m.joined[sessionID]; exists {
		return false
	}
	m.joined[sessionID] = x.next()

	rs, ok := x.sids[sessionID]
	if !ok {
		rs = make(map[string]struct{})
		x.sids[sessionID] = rs
	}
	rs[roomID] = struct{}{}
	return true
}

// Leave removes sessionID from roomID. An emptied room is deleted.
//
// Postcondition: Returns true if the session was a member.
func (x *Index) Leave(sessionID, roomID string) bool {
	m, ok := x.rooms[roomID]
	if !ok {
		return false
	}
	if _, exists := m.joined[sessionID]; !exists {
		return false
	}
	delete(m.joined, sessionID)
	if len(m.joined) == 0 {
		delete(x.rooms, roomID)
	}

	if rs, ok := x.sids[sessionID]; ok {
		delete(rs, roomID)
		if len(rs) == 0 {
			delete(x.sids, sessionID)
		}
	}
	return true
}

// LeaveAll removes sessionID from every room.
//
// Postcondition: Returns the rooms left, sorted.
func (x *Index) LeaveAll(sessionID string) []string {
	left := x.RoomsOf(sessionID)
	for _, roomID := range left {
		x.Leave(sessionID, roomID)
	}
	return left
}

// Members returns the session ids in roomID in join order.
//
// Postcondition: Returns nil for an unknown room.
func (x *Index) Members(roomID string) []string {
	m, ok := x.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(m.joined))
	for id := range m.joined {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return m.joined[ids[i]] < m.joined[ids[j]] })
	return ids
}

// RoomsOf returns the rooms sessionID belongs to, sorted.
func (x *Index) RoomsOf(sessionID string) []string {
	rs, ok := x.sids[sessionID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rs))
	for id := range rs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rooms returns every active room id in creation order.
func (x *Index) Rooms() []string {
	ids := make([]string, 0, len(x.rooms))
	for id := range x.rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return x.rooms[ids[i]].created < x.rooms[ids[j]].created })
	return ids
}

// Has reports whether roomID has at least one member.
func (x *Index) Has(roomID string) bool {
	_, ok := x.rooms[roomID]
	return ok
}

// Contains reports whether sessionID is a member of roomID.
func (x *Index) Contains(roomID, sessionID string) bool {
	m, ok := x.rooms[roomID]
	if !ok {
		return false
	}
	_, ok = m.joined[sessionID]
	return ok
}

// Size returns the number of members in roomID.
func (x *Index) Size(roomID string) int {
	if m, ok := x.rooms[roomID]; ok {
		return len(m.joined)
	}
	return 0
}

// RoomCount returns the number of active rooms.
func (x *Index) RoomCount() int {
	return len(x.rooms)
}
