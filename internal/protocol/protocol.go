// Package protocol defines the relay's wire vocabulary: the JSON envelope
// carried in every WebSocket text frame and one typed message per event name.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Name is an event name as it appears in the envelope's "event" field.
type Name string

// Inbound event names.
const (
	CreateRoom      Name = "createRoom"
	UserDisplayInfo Name = "userDisplayInfo"
	UserInfo        Name = "userInfo"
	Update          Name = "update"
	SomeData        Name = "someData"
	LeaveRoom       Name = "leaveRoom"
	LeaveAllRooms   Name = "leaveAllRooms"
	GetAllRooms     Name = "getAllRooms"
	GetRoomInfo     Name = "getRoomInfo"
	JoinRoom        Name = "joinRoom"
	// Disconnect is raised by the transport, never accepted from a client.
	Disconnect Name = "disconnect"
)

// Outbound event names. Relayed update/someData frames reuse the inbound names.
const (
	MySocketID   Name = "mySocketId"
	RoomInfo     Name = "roomInfo"
	RemovePlayer Name = "removePlayer"
	AddPlayer    Name = "addPlayer"
	Error        Name = "error"
)

var known = map[Name]struct{}{
	CreateRoom: {}, UserDisplayInfo: {}, UserInfo: {}, Update: {}, SomeData: {},
	LeaveRoom: {}, LeaveAllRooms: {}, GetAllRooms: {}, GetRoomInfo: {}, JoinRoom: {},
	Disconnect: {}, MySocketID: {}, RoomInfo: {}, RemovePlayer: {}, AddPlayer: {}, Error: {},
}

// Known reports whether n is part of the relay's event vocabulary in either direction.
func (n Name) Known() bool {
	_, ok := known[n]
	return ok
}

var (
	// ErrInvalidUTF8 is returned for a frame that is not valid UTF-8 text.
	ErrInvalidUTF8 = errors.New("frame is not valid UTF-8")
	// ErrUnknownEvent is returned for an envelope whose event name is not in the vocabulary.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrReservedEvent is returned when a client sends an event only the server may raise.
	ErrReservedEvent = errors.New("reserved event")
	// ErrMissingRoomID is returned when a room-addressed event carries no room id.
	ErrMissingRoomID = errors.New("missing room id")
)

// Envelope is the frame layout shared by both directions.
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every message a client may send.
type Inbound interface {
	EventName() Name
}

// CreateRoomRequest asks to create and enter a room keyed by the sender's id.
type CreateRoomRequest struct{}

// DisplayInfoRequest sets the sender's public label.
type DisplayInfoRequest struct {
	Label string
}

// UserInfoRequest stores an opaque payload on the sender's session.
type UserInfoRequest struct {
	Payload json.RawMessage
}

// UpdateRequest is relayed as "update" to every other member of the sender's rooms.
type UpdateRequest struct {
	Data json.RawMessage
}

// SomeDataRequest is relayed as "someData" to every other member of the sender's rooms.
type SomeDataRequest struct {
	Data json.RawMessage
}

// LeaveRoomRequest leaves one room.
type LeaveRoomRequest struct {
	RoomID string
}

// LeaveAllRoomsRequest leaves every room the sender is in.
type LeaveAllRoomsRequest struct{}

// GetAllRoomsRequest asks for one roomInfo reply per active room.
type GetAllRoomsRequest struct{}

// GetRoomInfoRequest asks for a single room's roomInfo.
type GetRoomInfoRequest struct {
	RoomID string
}

// JoinRoomRequest moves the sender into a room.
type JoinRoomRequest struct {
	RoomID string
}

// DisconnectNotice is raised by the transport when a connection ends.
type DisconnectNotice struct {
	Reason string
}

func (CreateRoomRequest) EventName() Name    { return CreateRoom }
func (DisplayInfoRequest) EventName() Name   { return UserDisplayInfo }
func (UserInfoRequest) EventName() Name      { return UserInfo }
func (UpdateRequest) EventName() Name        { return Update }
func (SomeDataRequest) EventName() Name      { return SomeData }
func (LeaveRoomRequest) EventName() Name     { return LeaveRoom }
func (LeaveAllRoomsRequest) EventName() Name { return LeaveAllRooms }
func (GetAllRoomsRequest) EventName() Name   { return GetAllRooms }
func (GetRoomInfoRequest) EventName() Name   { return GetRoomInfo }
func (JoinRoomRequest) EventName() Name      { return JoinRoom }
func (DisconnectNotice) EventName() Name     { return Disconnect }

// DecodeError reports a frame that could not be turned into an Inbound message.
// Event is empty when the envelope itself was unreadable.
type DecodeError struct {
	Event Name
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("decoding frame: %v", e.Err)
	}
	return fmt.Sprintf("decoding %s: %v", e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one inbound frame.
//
// Postcondition: Returns a typed Inbound message, or a *DecodeError.
func Decode(frame []byte) (Inbound, error) {
	if !utf8.Valid(frame) {
		return nil, &DecodeError{Err: ErrInvalidUTF8}
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	msg, err := decodeData(env)
	if err != nil {
		return nil, &DecodeError{Event: env.Event, Err: err}
	}
	return msg, nil
}

func decodeData(env Envelope) (Inbound, error) {
	switch env.Event {
	case CreateRoom:
		return CreateRoomRequest{}, nil
	case LeaveAllRooms:
		return LeaveAllRoomsRequest{}, nil
	case GetAllRooms:
		return GetAllRoomsRequest{}, nil
	case UserDisplayInfo:
		label, err := decodeString(env.Data)
		if err != nil {
			return nil, fmt.Errorf("label: %w", err)
		}
		return DisplayInfoRequest{Label: label}, nil
	case UserInfo:
		return UserInfoRequest{Payload: rawOrNull(env.Data)}, nil
	case Update:
		return UpdateRequest{Data: rawOrNull(env.Data)}, nil
	case SomeData:
		return SomeDataRequest{Data: rawOrNull(env.Data)}, nil
	case LeaveRoom:
		id, err := decodeRoomID(env.Data)
		return LeaveRoomRequest{RoomID: id}, err
	case GetRoomInfo:
		id, err := decodeRoomID(env.Data)
		return GetRoomInfoRequest{RoomID: id}, err
	case JoinRoom:
		id, err := decodeRoomID(env.Data)
		return JoinRoomRequest{RoomID: id}, err
	case Disconnect, MySocketID, RoomInfo, RemovePlayer, AddPlayer, Error:
		return nil, fmt.Errorf("%w %q", ErrReservedEvent, env.Event)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownEvent, env.Event)
	}
}

func decodeString(data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", errors.New("expected a string, got nothing")
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", fmt.Errorf("expected a string: %w", err)
	}
	return s, nil
}

func decodeRoomID(data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", ErrMissingRoomID
	}
	id, err := decodeString(data)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrMissingRoomID
	}
	return id, nil
}

var null = json.RawMessage("null")

func isNull(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, null)
}

// rawOrNull keeps an opaque payload as sent; an absent payload becomes JSON null.
func rawOrNull(data json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(data)) == 0 {
		return null
	}
	return data
}

// Encode renders an outbound frame. data may be a json.RawMessage to relay a
// payload verbatim.
//
// Postcondition: Returns the JSON envelope bytes or an error if data cannot be marshalled.
func Encode(event Name, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		raw = b
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", event, err)
	}
	return frame, nil
}
