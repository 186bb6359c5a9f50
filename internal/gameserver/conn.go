package gameserver

import (
	"context"
	"sync"

	"github.com/cory-johannsen/relay/internal/game/session"
	"github.com/cory-johannsen/relay/internal/protocol"
)

// Conn is a transport's handle on one registered connection.
type Conn struct {
	id         string
	remoteAddr string
	outbox     *session.Outbox
	game       *Game
	closeOnce  sync.Once
}

// ID returns the session id assigned on connect.
func (c *Conn) ID() string {
	return c.id
}

// Outgoing returns the frames queued for this connection. The channel is
// closed once the session is gone.
func (c *Conn) Outgoing() <-chan []byte {
	return c.outbox.Frames()
}

// Deliver decodes one inbound frame and queues it for the loop. A frame that
// fails to decode is still queued so the sender receives an error reply.
//
// Postcondition: Returns nil once queued, or ErrStopped / ctx.Err().
func (c *Conn) Deliver(ctx context.Context, frame []byte) error {
	msg, err := protocol.Decode(frame)
	return c.game.submit(ctx, event{sessionID: c.id, msg: msg, err: err})
}

// Close fires disconnect for this connection. Only the first call has effect.
//
// Postcondition: Returns nil once the disconnect is queued, or ErrStopped.
func (c *Conn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		err = c.game.submit(context.Background(), event{
			sessionID: c.id,
			msg:       protocol.DisconnectNotice{Reason: reason},
		})
	})
	return err
}
