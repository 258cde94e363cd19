// Package main runs the terminal lobby client, or a one-shot smoke test with -smoke.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/cory-johannsen/mathblast/internal/client"
	"github.com/cory-johannsen/mathblast/internal/config"
	"github.com/cory-johannsen/mathblast/internal/observability"
	"github.com/cory-johannsen/mathblast/internal/tui"
)

func main() {
	configPath := flag.String("config", "configs/lobby.yaml", "path to configuration file (empty for defaults)")
	name := flag.String("name", "Player", "display name in the lobby")
	level := flag.Int("level", 1, "level announced after joining")
	smoke := flag.Bool("smoke", false, "join, send one chat line, print what arrives, and exit")
	text := flag.String("text", "hello from smoke test", "chat text sent in -smoke mode")
	wait := flag.Duration("wait", 2*time.Second, "how long -smoke listens before exiting")
	logFile := flag.String("log", "lobbyclient.log", "log file used while the UI owns the terminal")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if *smoke {
		if err := client.Smoke(context.Background(), cfg.Client, *name, *text, *wait, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "smoke test failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if cfg.Logging.Output == "stderr" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = *logFile
	}
	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	opts := []client.Option{client.WithLevel(*level)}
	if cfg.Client.PlaceholdersFile != "" {
		placeholders, err := client.LoadPlaceholders(cfg.Client.PlaceholdersFile)
		if err != nil {
			logger.Warn("using built-in placeholders", zap.Error(err))
		} else {
			opts = append(opts, client.WithPlaceholders(placeholders))
		}
	}

	agent, err := client.NewAgent(cfg.Client, *name, logger, opts...)
	if err != nil {
		log.Fatalf("creating lobby agent: %v", err)
	}
	defer agent.Close()

	status := agent.Connect(context.Background())
	logger.Info("lobby client ready",
		zap.String("addr", cfg.Client.Addr()),
		zap.String("status", status.String()),
	)

	if _, err := tea.NewProgram(tui.New(agent), tea.WithAltScreen()).Run(); err != nil {
		logger.Error("running lobby ui", zap.Error(err))
		log.Fatalf("running lobby ui: %v", err)
	}
}
