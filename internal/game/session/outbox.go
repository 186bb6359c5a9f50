// Package session provides connected-session tracking for the relay: the
// session record, its outbound frame queue, and the registry indexing
// sessions by id.
package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrOutboxClosed is returned by Push after Close.
	ErrOutboxClosed = errors.New("outbox closed")
	// ErrOutboxFull is returned by Push when the buffer has no room.
	ErrOutboxFull = errors.New("outbox full")
)

// Outbox queues encoded frames for one connection. The event loop pushes;
// the transport's write pump drains Frames.
type Outbox struct {
	id     string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given session id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel of at least one slot.
func NewOutbox(id string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		id:     id,
		frames: make(chan []byte, bufferSize),
	}
}

// ID returns the owning session's id.
func (o *Outbox) ID() string {
	return o.id
}

// Push enqueues a frame without blocking.
//
// Postcondition: The frame is queued, or ErrOutboxClosed / ErrOutboxFull is returned (wrapped with the session id).
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("session %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("session %s: %w", o.id, ErrOutboxFull)
	}
}

// Frames returns the read side of the queue. It is closed by Close.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox closed and closes the frames channel. Frames already
// queued stay readable.
//
// Postcondition: Further Push calls return ErrOutboxClosed. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
