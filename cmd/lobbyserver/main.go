// Package main runs the lobby server with its operator console on stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/mathblast/internal/config"
	"github.com/cory-johannsen/mathblast/internal/lobby"
	"github.com/cory-johannsen/mathblast/internal/observability"
	"github.com/cory-johannsen/mathblast/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/lobby.yaml", "path to configuration file (empty for defaults)")
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

	logger.Info("starting lobby server",
		zap.String("addr", cfg.Lobby.Addr()),
		zap.Int("bind_attempts", cfg.Lobby.BindAttempts),
	)

	srv := lobby.NewServer(cfg.Lobby, logger)
	console := lobby.NewConsole(srv, os.Stdin, os.Stdout, logger)
	consoleCtx, stopConsole := context.WithCancel(context.Background())
	defer stopConsole()

	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("lobby", &server.FuncService{
		StartFn: srv.ListenAndServe,
		StopFn:  srv.Stop,
	})

	lifecycle.Add("console", &server.FuncService{
		StartFn: func() error {
			err := console.Run(consoleCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
		StopFn: stopConsole,
	})

	logger.Info("lobby server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
