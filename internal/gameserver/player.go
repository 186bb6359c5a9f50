package gameserver

import (
	"encoding/json"
	"errors"

	"github.com/chuckpreslar/emission"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/game/session"
	"github.com/cory-johannsen/relay/internal/protocol"
)

// Player handles one session's events. It holds its Game and its own session;
// everything else is looked up through the Game by id.
type Player struct {
	game    *Game
	session *session.Session
	emitter *emission.Emitter
	logger  *zap.Logger
}

func newPlayer(g *Game, sess *session.Session) *Player {
	p := &Player{
		game:    g,
		session: sess,
		emitter: emission.NewEmitter(),
		logger:  g.logger.With(zap.String("session", sess.ID)),
	}
	p.emitter.RecoverWith(p.recovered)
	p.bind()
	return p
}

// On binds fn as the handler for the named event. fn must take the event's
// protocol message type as its only argument.
func (p *Player) On(name protocol.Name, fn interface{}) {
	p.emitter.On(name, fn)
}

func (p *Player) bind() {
	p.On(protocol.CreateRoom, func(protocol.CreateRoomRequest) { p.CreateRoom() })
	p.On(protocol.UserDisplayInfo, func(req protocol.DisplayInfoRequest) { p.SetUserDisplayInfo(req.Label) })
	p.On(protocol.UserInfo, func(req protocol.UserInfoRequest) { p.SetUserInfo(req.Payload) })
	p.On(protocol.Update, func(req protocol.UpdateRequest) { p.Update(req.Data) })
	p.On(protocol.SomeData, func(req protocol.SomeDataRequest) { p.SomeData(req.Data) })
	p.On(protocol.LeaveRoom, func(req protocol.LeaveRoomRequest) { p.LeaveRoom(req.RoomID) })
	p.On(protocol.LeaveAllRooms, func(protocol.LeaveAllRoomsRequest) { p.LeaveAllRooms() })
	p.On(protocol.GetAllRooms, func(protocol.GetAllRoomsRequest) { p.GetAllRooms() })
	p.On(protocol.GetRoomInfo, func(req protocol.GetRoomInfoRequest) { p.GetRoomInfo(req.RoomID) })
	p.On(protocol.JoinRoom, func(req protocol.JoinRoomRequest) { p.JoinRoom(req.RoomID) })
	p.On(protocol.Disconnect, func(req protocol.DisconnectNotice) { p.Disconnect(req.Reason) })
}

// dispatch runs the handler bound to msg's event name.
func (p *Player) dispatch(msg protocol.Inbound) {
	name := msg.EventName()
	p.logger.Debug("on "+string(name), zap.String("name", p.session.Name))
	p.game.metrics.EventsReceived.WithLabelValues(string(name)).Inc()
	p.emitter.Emit(name, msg)
}

// reject answers a frame that could not be decoded.
func (p *Player) reject(err error) {
	var name protocol.Name
	var de *protocol.DecodeError
	if errors.As(err, &de) {
		name = de.Event
	}
	p.game.metrics.EventsReceived.WithLabelValues(metricLabel(name)).Inc()
	p.fail(name, err)
}

// metricLabel keeps label cardinality bounded: names outside the event
// vocabulary collapse into one label.
func metricLabel(name protocol.Name) string {
	switch {
	case name == "":
		return "invalid"
	case name.Known():
		return string(name)
	default:
		return "unknown"
	}
}

func (p *Player) recovered(evt, _ interface{}, err error) {
	name, _ := evt.(protocol.Name)
	p.logger.Error("recovered from panic in event handler",
		zap.String("event", string(name)),
		zap.Error(err),
	)
	p.fail(name, err)
}

// fail reports a failed event to the sender only.
func (p *Player) fail(name protocol.Name, err error) {
	label := metricLabel(name)
	p.game.metrics.EventFailures.WithLabelValues(label).Inc()
	p.logger.Debug("event failed", zap.String("event", label), zap.Error(err))
	p.game.emitTo(p.session.ID, protocol.Error, protocol.ErrorPayload{
		Event:   name,
		Message: err.Error(),
	})
}

// CreateRoom joins the room keyed by the session's own id and replies with that id.
func (p *Player) CreateRoom() {
	id := p.session.ID
	p.game.rooms.Join(id, id)
	p.session.RoomID = id
	p.game.updateGauges()
	p.game.emitTo(id, protocol.MySocketID, id)
}

// SetUserDisplayInfo stores the public (id, label) tuple.
func (p *Player) SetUserDisplayInfo(label string) {
	p.session.DisplayInfo = &protocol.DisplayInfo{SessionID: p.session.ID, Label: label}
	p.session.Name = label
}

// SetUserInfo stores an opaque payload that is never sent to other clients.
func (p *Player) SetUserInfo(payload json.RawMessage) {
	p.session.UserInfo = payload
}

// Update relays data as "update" to the other members of every room the
// session is in.
func (p *Player) Update(data json.RawMessage) {
	p.relay(protocol.Update, data)
}

// SomeData relays data as "someData" to the other members of every room the
// session is in.
func (p *Player) SomeData(data json.RawMessage) {
	p.relay(protocol.SomeData, data)
}

// relay sends one copy to each distinct recipient across the session's rooms.
func (p *Player) relay(name protocol.Name, data json.RawMessage) {
	id := p.session.ID
	seen := map[string]struct{}{id: {}}
	var targets []string
	for _, roomID := range p.game.rooms.RoomsOf(id) {
		for _, member := range p.game.rooms.Members(roomID) {
			if _, dup := seen[member]; dup {
				continue
			}
			seen[member] = struct{}{}
			targets = append(targets, member)
		}
	}
	p.game.deliver(targets, name, data)
}

// LeaveRoom announces removePlayer to the other members of roomID and leaves
// it. Leaving a room the session is not in does nothing.
func (p *Player) LeaveRoom(roomID string) {
	id := p.session.ID
	if !p.game.rooms.Contains(roomID, id) {
		return
	}
	p.game.broadcastToRoom(roomID, id, protocol.RemovePlayer, id)
	p.game.rooms.Leave(id, roomID)
	if p.session.RoomID == roomID {
		p.session.RoomID = ""
	}
	p.game.updateGauges()
	p.logger.Debug("left room",
		zap.String("room", roomID),
		zap.Int("members", p.game.rooms.Size(roomID)),
	)
}

// LeaveAllRooms leaves every room the session is in.
func (p *Player) LeaveAllRooms() {
	for _, roomID := range p.game.rooms.RoomsOf(p.session.ID) {
		p.LeaveRoom(roomID)
	}
}

// JoinRoom leaves all rooms, announces the session to roomID's members,
// joins, and replies with the room's info.
func (p *Player) JoinRoom(roomID string) {
	id := p.session.ID
	p.LeaveAllRooms()
	existed := p.game.rooms.Has(roomID)
	p.game.broadcastToRoom(roomID, id, protocol.AddPlayer, p.session.DisplayInfo)
	p.game.rooms.Join(id, roomID)
	p.session.RoomID = roomID
	p.game.updateGauges()
	p.logger.Debug("joined room",
		zap.String("room", roomID),
		zap.Bool("existed", existed),
		zap.Int("members", p.game.rooms.Size(roomID)),
	)
	p.GetRoomInfo(roomID)
}

// GetRoomInfo replies with roomID's members. An unknown room has none.
func (p *Player) GetRoomInfo(roomID string) {
	p.game.emitTo(p.session.ID, protocol.RoomInfo, p.game.roomInfo(roomID))
}

// GetAllRooms replies with one roomInfo per active room.
func (p *Player) GetAllRooms() {
	for _, roomID := range p.game.rooms.Rooms() {
		p.GetRoomInfo(roomID)
	}
}

// Disconnect leaves every room and removes the session.
func (p *Player) Disconnect(reason string) {
	p.LeaveAllRooms()
	p.game.removeSession(p.session.ID)
	p.logger.Info("session disconnected",
		zap.String("name", p.session.Name),
		zap.String("reason", reason),
	)
}
