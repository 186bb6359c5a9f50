package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOutbox_Push(t *testing.T) {
	o := NewOutbox("test", 4)
	require.NoError(t, o.Push([]byte("hello")))

	data := <-o.Frames()
	assert.Equal(t, []byte("hello"), data)
	assert.Equal(t, "test", o.ID())
}

func TestOutbox_PushClosed(t *testing.T) {
	o := NewOutbox("test", 4)
	o.Close()
	assert.True(t, o.IsClosed())
	assert.ErrorIs(t, o.Push([]byte("fail")), ErrOutboxClosed)
}

func TestOutbox_PushFull(t *testing.T) {
	o := NewOutbox("test", 1)
	require.NoError(t, o.Push([]byte("first")))
	err := o.Push([]byte("overflow"))
	assert.ErrorIs(t, err, ErrOutboxFull)
	assert.Contains(t, err.Error(), "test")
}

func TestOutbox_CloseKeepsQueuedFrames(t *testing.T) {
	o := NewOutbox("test", 2)
	require.NoError(t, o.Push([]byte("a")))
	o.Close()
	o.Close()

	frame, ok := <-o.Frames()
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), frame)
	_, ok = <-o.Frames()
	assert.False(t, ok)
}

func TestOutbox_DefaultBuffer(t *testing.T) {
	o := NewOutbox("test", 0)
	assert.Equal(t, 64, cap(o.frames))
}

func TestManager_Add(t *testing.T) {
	m := NewManager()
	sess, err := m.Add("s1", "127.0.0.1:5000", NewOutbox("s1", 4))
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, "s1", sess.Name, "debug name starts as the id")
	assert.Equal(t, "127.0.0.1:5000", sess.RemoteAddr)
	assert.Nil(t, sess.DisplayInfo)
	assert.Empty(t, sess.RoomID)
	assert.False(t, sess.ConnectedAt.IsZero())
	assert.Equal(t, 1, m.Count())
}

func TestManager_AddDuplicate(t *testing.T) {
	m := NewManager()
	_, err := m.Add("s1", "", NewOutbox("s1", 4))
	require.NoError(t, err)
	_, err = m.Add("s1", "", NewOutbox("s1", 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")
}

func TestManager_AddRejectsForeignOutbox(t *testing.T) {
	m := NewManager()
	_, err := m.Add("s1", "", NewOutbox("s2", 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "belongs to")
	assert.Equal(t, 0, m.Count())
}

func TestManager_AddRejectsClosedOutbox(t *testing.T) {
	m := NewManager()
	out := NewOutbox("s1", 4)
	out.Close()
	_, err := m.Add("s1", "", out)
	assert.ErrorIs(t, err, ErrOutboxClosed)
	assert.Equal(t, 0, m.Count())
}

func TestManager_RemoveClosesOutbox(t *testing.T) {
	m := NewManager()
	out := NewOutbox("s1", 4)
	_, err := m.Add("s1", "", out)
	require.NoError(t, err)

	require.NoError(t, m.Remove("s1"))
	assert.True(t, out.IsClosed())
	assert.Equal(t, 0, m.Count())

	_, ok := m.Get("s1")
	assert.False(t, ok)
}

func TestManager_RemoveNotFound(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.Remove("unknown"))
}

func TestManager_IDsSorted(t *testing.T) {
	m := NewManager()
	for _, id := range []string{"c", "a", "b"} {
		_, err := m.Add(id, "", NewOutbox(id, 1))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, m.IDs())
}

func TestManager_CloseAll(t *testing.T) {
	m := NewManager()
	outs := []*Outbox{NewOutbox("a", 1), NewOutbox("b", 1)}
	for _, o := range outs {
		_, err := m.Add(o.ID(), "", o)
		require.NoError(t, err)
	}

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
	for _, o := range outs {
		assert.True(t, o.IsClosed())
	}
}

func TestManager_ConcurrentAddRemove(t *testing.T) {
	m := NewManager()
	const n = 100
	var wg sync.WaitGroup

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			_, _ = m.Add(id, "", NewOutbox(id, 1))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, m.Count())

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = m.Remove(fmt.Sprintf("s%d", i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Count())
}

func TestPropertyCountMatchesIDs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewManager()
		ops := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			id := fmt.Sprintf("s%d", rapid.IntRange(0, 9).Draw(t, "id"))
			if rapid.Bool().Draw(t, "add") {
				_, _ = m.Add(id, "", NewOutbox(id, 1))
			} else {
				_ = m.Remove(id)
			}
		}
		if m.Count() != len(m.IDs()) {
			t.Fatalf("count %d != ids %d", m.Count(), len(m.IDs()))
		}
	})
}
