package ws

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/gameserver"
)

// conn pumps frames between one WebSocket and its relay handle.
type conn struct {
	ws     *websocket.Conn
	relay  *gameserver.Conn
	cfg    config.WebSocketConfig
	logger *zap.Logger
	// done is closed when the read pump exits.
	done chan struct{}
}

// readPump delivers text frames to the relay until the socket fails, then
// fires disconnect and returns the reason.
func (c *conn) readPump(ctx context.Context) (reason string) {
	defer func() {
		close(c.done)
		if err := c.relay.Close(reason); err != nil {
			c.logger.Debug("firing disconnect", zap.Error(err))
		}
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		c.logger.Error("setting read deadline", zap.Error(err))
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	for {
		messageType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return "client closed"
			}
			return err.Error()
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", zap.Int("type", messageType))
			continue
		}
		if err := c.relay.Deliver(ctx, frame); err != nil {
			return "relay unavailable: " + err.Error()
		}
	}
}

// writePump writes queued frames and periodic pings until the outbox closes
// or the read pump exits.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	frames := c.relay.Outgoing()
	for {
		select {
		case frame, ok := <-frames:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Error("setting write deadline", zap.Error(err))
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("writing frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.logger.Error("setting write deadline", zap.Error(err))
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
