package room

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestIndex_JoinCreatesRoom(t *testing.T) {
	x := NewIndex()
	assert.False(t, x.Has("r1"))

	assert.True(t, x.Join("a", "r1"))
	assert.True(t, x.Has("r1"))
	assert.True(t, x.Contains("r1", "a"))
	assert.Equal(t, 1, x.Size("r1"))
	assert.Equal(t, []string{"r1"}, x.RoomsOf("a"))
}

func TestIndex_JoinIdempotent(t *testing.T) {
	x := NewIndex()
	assert.True(t, x.Join("a", "r1"))
	assert.False(t, x.Join("a", "r1"))
	assert.Equal(t, 1, x.Size("r1"))
}

func TestIndex_MembersInJoinOrder(t *testing.T) {
	x := NewIndex()
	x.Join("c", "r1")
	x.Join("a", "r1")
	x.Join("b", "r1")
	assert.Equal(t, []string{"c", "a", "b"}, x.Members("r1"))

	x.Leave("a", "r1")
	x.Join("a", "r1")
	assert.Equal(t, []string{"c", "b", "a"}, x.Members("r1"))
}

func TestIndex_LeaveDeletesEmptyRoom(t *testing.T) {
	x := NewIndex()
	x.Join("a", "r1")
	x.Join("b", "r1")

	assert.True(t, x.Leave("a", "r1"))
	assert.True(t, x.Has("r1"))
	assert.True(t, x.Leave("b", "r1"))
	assert.False(t, x.Has("r1"))
	assert.Equal(t, 0, x.RoomCount())
	assert.Nil(t, x.RoomsOf("a"))
}

func TestIndex_LeaveNonMember(t *testing.T) {
	x := NewIndex()
	assert.False(t, x.Leave("a", "missing"))

	x.Join("b", "r1")
	assert.False(t, x.Leave("a", "r1"))
	assert.Equal(t, 1, x.Size("r1"))
}

func TestIndex_LeaveAll(t *testing.T) {
	x := NewIndex()
	x.Join("a", "r2")
	x.Join("a", "r1")
	x.Join("b", "r1")

	assert.Equal(t, []string{"r1", "r2"}, x.LeaveAll("a"))
	assert.Nil(t, x.RoomsOf("a"))
	assert.False(t, x.Has("r2"))
	assert.Equal(t, []string{"b"}, x.Members("r1"))

	assert.Empty(t, x.LeaveAll("a"), "leaving nothing is a no-op")
}

func TestIndex_RoomsInCreationOrder(t *testing.T) {
	x := NewIndex()
	x.Join("a", "zeta")
	x.Join("b", "alpha")
	x.Join("c", "mid")
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, x.Rooms())
}

func TestIndex_UnknownRoomQueries(t *testing.T) {
	x := NewIndex()
	assert.Nil(t, x.Members("nope"))
	assert.Equal(t, 0, x.Size("nope"))
	assert.False(t, x.Contains("nope", "a"))
	assert.Empty(t, x.Rooms())
}

// TestPropertyIndexViewsAgree drives random join/leave/leaveAll sequences and
// checks the room→members and session→rooms views never disagree.
func TestPropertyIndexViewsAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := NewIndex()
		sessions := []string{"s0", "s1", "s2", "s3", "s4"}
		rooms := []string{"r0", "r1", "r2"}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			sid := rapid.SampledFrom(sessions).Draw(t, "sid")
			rid := rapid.SampledFrom(rooms).Draw(t, "rid")
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				x.Join(sid, rid)
			case 1:
				x.Leave(sid, rid)
			case 2:
				x.LeaveAll(sid)
			}
		}

		fromRooms := 0
		for _, rid := range x.Rooms() {
			ms := x.Members(rid)
			if len(ms) == 0 {
				t.Fatalf("room %s listed with no members", rid)
			}
			for _, sid := range ms {
				if !contains(x.RoomsOf(sid), rid) {
					t.Fatalf("%s in %s members but not in its rooms", sid, rid)
				}
			}
			fromRooms += len(ms)
		}

		fromSessions := 0
		for _, sid := range sessions {
			rs := x.RoomsOf(sid)
			if !sort.StringsAreSorted(rs) {
				t.Fatalf("rooms of %s not sorted: %v", sid, rs)
			}
			for _, rid := range rs {
				if !x.Contains(rid, sid) {
					t.Fatalf("%s lists %s but is not a member", sid, rid)
				}
			}
			fromSessions += len(rs)
		}

		if fromRooms != fromSessions {
			t.Fatalf("membership count mismatch: rooms=%d sessions=%d", fromRooms, fromSessions)
		}
		if x.RoomCount() != len(x.Rooms()) {
			t.Fatalf("room count %d != %d", x.RoomCount(), len(x.Rooms()))
		}
	})
}

func BenchmarkIndex_Members(b *testing.B) {
	x := NewIndex()
	for i := 0; i < 100; i++ {
		x.Join(fmt.Sprintf("s%d", i), "lobby")
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = x.Members("lobby")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
