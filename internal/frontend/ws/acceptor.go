// Package ws serves the relay over WebSocket. Each upgraded connection gets a
// read pump that delivers frames to the relay and a write pump that drains the
// connection's outbox.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/gameserver"
)

// Relay is the event loop a connection is registered with.
type Relay interface {
	Connect(ctx context.Context, remoteAddr string) (*gameserver.Conn, error)
	Stats(ctx context.Context) (gameserver.Stats, error)
}

// Acceptor listens for HTTP connections, upgrades requests on the WebSocket
// path, and serves health and metrics endpoints on the same listener.
type Acceptor struct {
	cfg      config.Config
	relay    Relay
	metrics  http.Handler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool
	conns    map[*websocket.Conn]struct{}
}

// NewAcceptor creates a WebSocket acceptor.
//
// Precondition: cfg must be valid; relay and logger must be non-nil. metrics may
// be nil, in which case no metrics endpoint is served.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.Config, relay Relay, metrics http.Handler, logger *zap.Logger) *Acceptor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		cfg:     cfg,
		relay:   relay,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP routes served by the acceptor.
func (a *Acceptor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.WebSocket.Path, a.serveWS)
	mux.HandleFunc("/healthz", a.serveHealth)
	if a.cfg.Metrics.Enabled && a.metrics != nil {
		mux.Handle(a.cfg.Metrics.Path, a.metrics)
	}
	return mux
}

// ListenAndServe starts the listener and serves until Stop is called.
// This method blocks until the acceptor is stopped. If Stop has already been
// called it returns nil without serving.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	if a.isStopped() {
		return nil
	}
	start := time.Now()
	addr := a.cfg.Server.Addr()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.WebSocket.WriteTimeout,
	}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	a.listener = listener
	a.server = srv
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.WebSocket.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", addr, err)
	}
	return nil
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	if !a.track(ws) {
		closeWith(ws, websocket.CloseGoingAway, "server shutting down", a.cfg.WebSocket.WriteTimeout)
		return
	}
	defer a.wg.Done()

	rc, err := a.relay.Connect(a.ctx, r.RemoteAddr)
	if err != nil {
		a.logger.Warn("registering connection",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		closeWith(ws, websocket.CloseTryAgainLater, "relay unavailable", a.cfg.WebSocket.WriteTimeout)
		a.untrack(ws)
		return
	}

	a.logger.Info("client connected",
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("session", rc.ID()),
	)

	c := &conn{
		ws:     ws,
		relay:  rc,
		cfg:    a.cfg.WebSocket,
		logger: a.logger.With(zap.String("session", rc.ID())),
		done:   make(chan struct{}),
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		c.writePump()
	}()
	go func() {
		defer a.wg.Done()
		defer a.untrack(ws)
		start := time.Now()
		reason := c.readPump(a.ctx)
		c.logger.Info("client disconnected",
			zap.String("reason", reason),
			zap.Duration("duration", time.Since(start)),
		)
	}()
}

type health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Rooms    int    `json:"rooms"`
}

func (a *Acceptor) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.WebSocket.WriteTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	stats, err := a.relay.Stats(ctx)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(health{Status: "unavailable"})
		return
	}
	_ = json.NewEncoder(w).Encode(health{Status: "ok", Sessions: stats.Sessions, Rooms: stats.Rooms})
}

// track records a live connection and holds a wait group slot for the
// caller, released with wg.Done. It reports false once Stop has begun.
func (a *Acceptor) track(ws *websocket.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	a.conns[ws] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(ws *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, ws)
}

// Stop closes the listener and every live connection, then waits for all
// pumps to exit. Each closed connection fires disconnect on the relay.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	a.stopped = true
	if !a.running {
		a.mu.Unlock()
		a.cancel()
		return
	}
	a.running = false
	srv := a.server
	live := make([]*websocket.Conn, 0, len(a.conns))
	for ws := range a.conns {
		live = append(live, ws)
	}
	a.mu.Unlock()

	if srv != nil {
		_ = srv.Close()
	}
	for _, ws := range live {
		closeWith(ws, websocket.CloseGoingAway, "server shutting down", a.cfg.WebSocket.WriteTimeout)
	}
	a.cancel()
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped", zap.Int("closed", len(live)))
}

func (a *Acceptor) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// closeWith sends a close frame and closes the socket.
func closeWith(ws *websocket.Conn, code int, text string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = ws.Close()
}
