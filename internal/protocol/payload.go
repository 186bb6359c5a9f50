package protocol

import (
	"encoding/json"
	"fmt"
)

// DisplayInfo is a session's public identity, sent on the wire as the
// two-element array [sessionId, label].
type DisplayInfo struct {
	SessionID string
	Label     string
}

// MarshalJSON encodes the tuple form.
func (d DisplayInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{d.SessionID, d.Label})
}

// UnmarshalJSON decodes the tuple form.
func (d *DisplayInfo) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("display info: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("display info: expected 2 elements, got %d", len(pair))
	}
	d.SessionID, d.Label = pair[0], pair[1]
	return nil
}

// RoomInfoPayload is the body of a roomInfo reply. A member that never set a
// display tuple appears as a nil entry (JSON null).
type RoomInfoPayload struct {
	RoomID           string         `json:"roomId"`
	UsersDisplayInfo []*DisplayInfo `json:"usersDisplayInfo"`
}

// ErrorPayload is the body of an error reply.
type ErrorPayload struct {
	Event   Name   `json:"event,omitempty"`
	Message string `json:"message"`
}
