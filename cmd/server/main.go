// Package main runs the profile backend: the REST service that stores user
// profiles and answers the session client's lookups.
//
// Configuration comes from the environment (or a .env file next to the
// binary); see internal/config for the keys.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/pharmacy-session/internal/config"
	"github.com/sakif/pharmacy-session/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET must be set; the backend cannot verify identity tokens without it")
		os.Exit(1)
	}

	// === 3. DATABASE DIRECTORY ===
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(server.Config{
		Port:      cfg.Port,
		DBPath:    cfg.DBPath,
		JWTSecret: cfg.JWTSecret,
		AdminUIDs: cfg.AdminUIDs,
	}, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
