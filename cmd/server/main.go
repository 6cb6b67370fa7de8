// Package main is the entry point for the chatrelay server.
//
// Configuration comes from the environment (OPENAI_API_KEY, SESSION_SECRET,
// DATABASE_URL, ...) and an optional config.yaml; see internal/config.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/sakif/chatrelay/internal/config"
	"github.com/sakif/chatrelay/internal/server"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (default: search ./config.yaml, ./config/, /etc/chatrelay/)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newLogger builds the process logger: text for terminals, JSON for log
// shippers. Validate rejects a bad level right after this runs, so info is
// only used to report that.
func newLogger(c config.LogConfig) *slog.Logger {
	level, err := c.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
