package gameserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chuckpreslar/emission"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/game/room"
	"github.com/cory-johannsen/relay/internal/game/session"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/protocol"
)

// ErrStopped is returned when work is submitted after the event loop has exited.
var ErrStopped = errors.New("relay stopped")

// eventConnection is the top-level event bound by Start.
const eventConnection = "connection"

// event is one unit of work for the loop. A non-nil conn is a new connection
// and a non-nil call runs on the loop. Otherwise the event carries a message,
// or its decode failure, from sessionID.
type event struct {
	conn      *Conn
	call      func()
	sessionID string
	msg       protocol.Inbound
	err       error
}

// Stats is a point-in-time count of live state.
type Stats struct {
	Sessions int `json:"sessions"`
	Rooms    int `json:"rooms"`
}

// Game is the relay's session registry. It owns every connected session, the
// room index, and the Player bound to each session. All state is mutated only
// by the goroutine running Run.
type Game struct {
	sessions   *session.Manager
	rooms      *room.Index
	players    map[string]*Player
	emitter    *emission.Emitter
	inbound    chan event
	done       chan struct{}
	sendBuffer int
	metrics    *observability.Metrics
	logger     *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewGame creates a Game.
//
// Precondition: metrics and logger must be non-nil.
// Postcondition: Returns a Game whose loop has not started.
func NewGame(relay config.RelayConfig, sendBuffer int, metrics *observability.Metrics, logger *zap.Logger) *Game {
	queue := relay.InboundQueue
	if queue <= 0 {
		queue = 1
	}
	return &Game{
		sessions:   session.NewManager(),
		rooms:      room.NewIndex(),
		players:    make(map[string]*Player),
		emitter:    emission.NewEmitter(),
		inbound:    make(chan event, queue),
		done:       make(chan struct{}),
		sendBuffer: sendBuffer,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start binds the connection handler. Calling it more than once has no effect.
func (g *Game) Start() {
	g.startOnce.Do(func() {
		g.emitter.RecoverWith(func(evt, _ interface{}, err error) {
			g.logger.Error("recovered from panic in game handler",
				zap.Any("event", evt),
				zap.Error(err),
			)
		})
		g.emitter.On(eventConnection, g.onConnection)
	})
}

// Run processes queued events one at a time until ctx is done. On exit it
// handles whatever is still queued, then closes every session's outbox.
// Run must be called at most once.
//
// Postcondition: Returns nil after ctx is cancelled. Later submissions return ErrStopped.
func (g *Game) Run(ctx context.Context) error {
	g.Start()
	g.logger.Info("relay loop started")
	defer g.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-g.inbound:
			g.handle(ev)
		}
	}
}

func (g *Game) shutdown() {
	g.stopOnce.Do(func() { close(g.done) })

drain:
	for {
		select {
		case ev := <-g.inbound:
			g.handle(ev)
		default:
			break drain
		}
	}

	if ids := g.sessions.IDs(); len(ids) > 0 {
		g.logger.Info("closing sessions", zap.Strings("sessions", ids))
	}
	g.sessions.CloseAll()
	g.players = make(map[string]*Player)
	g.rooms = room.NewIndex()
	g.updateGauges()
	g.logger.Info("relay loop stopped")
}

func (g *Game) submit(ctx context.Context, ev event) error {
	select {
	case <-g.done:
		return ErrStopped
	default:
	}
	select {
	case g.inbound <- ev:
		return nil
	case <-g.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Game) handle(ev event) {
	switch {
	case ev.call != nil:
		ev.call()
	case ev.conn != nil:
		g.emitter.Emit(eventConnection, ev.conn)
	default:
		p, ok := g.players[ev.sessionID]
		if !ok {
			g.logger.Debug("dropping event for unknown session", zap.String("session", ev.sessionID))
			return
		}
		if ev.err != nil {
			p.reject(ev.err)
			return
		}
		p.dispatch(ev.msg)
	}
}

// Connect registers a new connection with the loop and returns its handle.
// Frames delivered through the handle are processed after the connection event.
//
// Postcondition: Returns a Conn with a fresh id, or ErrStopped / ctx.Err().
func (g *Game) Connect(ctx context.Context, remoteAddr string) (*Conn, error) {
	id := uuid.NewString()
	c := &Conn{
		id:         id,
		remoteAddr: remoteAddr,
		outbox:     session.NewOutbox(id, g.sendBuffer),
		game:       g,
	}
	if err := g.submit(ctx, event{conn: c}); err != nil {
		return nil, fmt.Errorf("connecting %s: %w", remoteAddr, err)
	}
	return c, nil
}

// Stats reports the number of live sessions and rooms as seen by the loop.
//
// Postcondition: Returns the counts, or ErrStopped / ctx.Err() if the loop cannot answer.
func (g *Game) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := g.do(ctx, func() {
		s = Stats{Sessions: g.sessions.Count(), Rooms: g.rooms.RoomCount()}
	}); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// do runs fn on the loop and waits for it to finish.
func (g *Game) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := g.submit(ctx, event{call: func() {
		defer close(finished)
		fn()
	}}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-g.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onConnection creates the session and its Player.
func (g *Game) onConnection(c *Conn) {
	sess, err := g.sessions.Add(c.id, c.remoteAddr, c.outbox)
	if err != nil {
		g.logger.Error("registering session", zap.String("session", c.id), zap.Error(err))
		c.outbox.Close()
		return
	}
	g.players[sess.ID] = newPlayer(g, sess)
	g.updateGauges()

	g.logger.Info("session connected",
		zap.String("session", sess.ID),
		zap.String("remote", sess.RemoteAddr),
	)
}

// removeSession forgets a session and its Player and closes its outbox. A
// session still in rooms is taken out of them without announcement.
func (g *Game) removeSession(id string) {
	if left := g.rooms.LeaveAll(id); len(left) > 0 {
		g.logger.Warn("removed session was still in rooms",
			zap.String("session", id),
			zap.Strings("rooms", left),
		)
	}
	delete(g.players, id)
	if err := g.sessions.Remove(id); err != nil {
		g.logger.Warn("removing session", zap.String("session", id), zap.Error(err))
	}
	g.updateGauges()
}

// emitTo sends one event to a single session.
func (g *Game) emitTo(sessionID string, name protocol.Name, data any) {
	g.deliver([]string{sessionID}, name, data)
}

// broadcastToRoom sends one event to every member of roomID except excludeID.
func (g *Game) broadcastToRoom(roomID, excludeID string, name protocol.Name, data any) {
	members := g.rooms.Members(roomID)
	targets := make([]string, 0, len(members))
	for _, id := range members {
		if id != excludeID {
			targets = append(targets, id)
		}
	}
	g.deliver(targets, name, data)
}

// deliver encodes once and pushes the frame to each target's outbox. A full
// outbox drops the frame for that target only.
func (g *Game) deliver(targets []string, name protocol.Name, data any) {
	if len(targets) == 0 {
		return
	}
	frame, err := protocol.Encode(name, data)
	if err != nil {
		g.logger.Error("encoding outbound event", zap.String("event", string(name)), zap.Error(err))
		return
	}

	for _, id := range targets {
		sess, ok := g.sessions.Get(id)
		if !ok {
			continue
		}
		if err := sess.Outbox.Push(frame); err != nil {
			if errors.Is(err, session.ErrOutboxFull) {
				g.metrics.Dropped.Inc()
			}
			g.logger.Warn("push to outbox failed",
				zap.String("session", id),
				zap.String("event", string(name)),
				zap.Error(err),
			)
			continue
		}
		g.metrics.EventsSent.WithLabelValues(string(name)).Inc()
	}
}

// roomInfo builds the roomInfo payload for roomID. Members without a display
// tuple are nil entries.
func (g *Game) roomInfo(roomID string) protocol.RoomInfoPayload {
	members := g.rooms.Members(roomID)
	users := make([]*protocol.DisplayInfo, 0, len(members))
	for _, id := range members {
		var info *protocol.DisplayInfo
		if sess, ok := g.sessions.Get(id); ok {
			info = sess.DisplayInfo
		}
		users = append(users, info)
	}
	return protocol.RoomInfoPayload{RoomID: roomID, UsersDisplayInfo: users}
}

func (g *Game) updateGauges() {
	g.metrics.Sessions.Set(float64(g.sessions.Count()))
	g.metrics.Rooms.Set(float64(g.rooms.RoomCount()))
}
