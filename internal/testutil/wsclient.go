package testutil

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/relay/internal/protocol"
)

// WSClient is a WebSocket test client speaking the relay's JSON envelope.
// A background goroutine reads frames so that waiting with a timeout never
// poisons the connection.
type WSClient struct {
	conn   *websocket.Conn
	t      *testing.T
	frames chan []byte
	closed chan struct{}
	err    error
}

// NewWSClient dials the given ws:// URL and returns a test client.
//
// Precondition: url must point at a listening relay endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url string) *WSClient {
	t.Helper()
	start := time.Now()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}

	c := &WSClient{
		conn:   conn,
		t:      t,
		frames: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	go c.readLoop()

	t.Cleanup(func() {
		conn.Close()
		<-c.closed
	})

	t.Logf("ws client connected to %s [%s]", url, time.Since(start))
	return c
}

func (c *WSClient) readLoop() {
	defer close(c.closed)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		select {
		case c.frames <- frame:
		case <-time.After(5 * time.Second):
			c.err = errors.New("test client frame buffer full")
			return
		}
	}
}

// Send writes one event. A nil data omits the payload.
//
// Postcondition: The envelope is written as a text frame, or the test fails.
func (c *WSClient) Send(event protocol.Name, data any) {
	c.t.Helper()
	env := protocol.Envelope{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			c.t.Fatalf("encoding %s payload: %v", event, err)
		}
		env.Data = raw
	}
	frame, err := json.Marshal(env)
	if err != nil {
		c.t.Fatalf("encoding %s: %v", event, err)
	}
	c.SendRaw(frame)
}

// SendRaw writes frame as-is in a text message.
func (c *WSClient) SendRaw(frame []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.t.Fatalf("sending %s: %v", frame, err)
	}
}

// Expect reads the next frame and requires its event name.
//
// Postcondition: Returns the frame's data, or fails on timeout or mismatch.
func (c *WSClient) Expect(event protocol.Name, timeout time.Duration) json.RawMessage {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			c.t.Fatalf("decoding %s: %v", frame, err)
		}
		if env.Event != event {
			c.t.Fatalf("expected %s, got %s", event, frame)
		}
		return env.Data
	case <-c.closed:
		c.t.Fatalf("waiting for %s: connection closed: %v", event, c.err)
	case <-time.After(timeout):
		c.t.Fatalf("timed out waiting for %s", event)
	}
	return nil
}

// ExpectNone requires that no frame arrives within wait.
func (c *WSClient) ExpectNone(wait time.Duration) {
	c.t.Helper()
	select {
	case frame := <-c.frames:
		c.t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(wait):
	}
}

// ExpectClosed requires that the server ends the connection within timeout.
// Frames still in flight are discarded.
func (c *WSClient) ExpectClosed(timeout time.Duration) {
	c.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case frame := <-c.frames:
			c.t.Logf("discarding frame before close: %s", frame)
		case <-c.closed:
			return
		case <-deadline:
			c.t.Fatalf("connection still open after %s", timeout)
		}
	}
}

// Close closes the underlying connection without a close handshake.
func (c *WSClient) Close() {
	c.conn.Close()
}
