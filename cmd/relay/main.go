// Package main runs the room relay server: configuration, logging, metrics,
// the relay event loop, and the WebSocket acceptor.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/relay/internal/config"
	"github.com/cory-johannsen/relay/internal/frontend/ws"
	"github.com/cory-johannsen/relay/internal/gameserver"
	"github.com/cory-johannsen/relay/internal/observability"
	"github.com/cory-johannsen/relay/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to an optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("path", cfg.WebSocket.Path),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)

	metrics := observability.NewMetrics(nil)
	game := gameserver.NewGame(cfg.Relay, cfg.WebSocket.SendBuffer, metrics, logger)
	game.Start()
	acceptor := ws.NewAcceptor(cfg, game, metrics.Handler(), logger)

	lifecycle := server.NewLifecycle(logger)

	gameCtx, stopGame := context.WithCancel(context.Background())
	gameDone := make(chan struct{})
	lifecycle.Add("relay", &server.FuncService{
		StartFn: func() error {
			defer close(gameDone)
			return game.Run(gameCtx)
		},
		StopFn: func() {
			stopGame()
			<-gameDone
		},
	})

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func() error {
			return acceptor.ListenAndServe()
		},
		StopFn: func() {
			acceptor.Stop()
		},
	})

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
