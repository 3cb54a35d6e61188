// Package main runs a headless session client against the profile backend.
//
// It signs in a local development account, lets the reconciler provision and
// watch the backend profile, and logs every session snapshot until it is
// interrupted. The local identity provider signs tokens with JWT_SECRET, so it
// must match the backend's.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/pharmacy-session/internal/auth"
	"github.com/sakif/pharmacy-session/internal/config"
	"github.com/sakif/pharmacy-session/internal/identity"
	"github.com/sakif/pharmacy-session/internal/profileapi"
	"github.com/sakif/pharmacy-session/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if err := run(cfg, logger); err != nil {
		logger.Error("session client failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return err
	}
	provider := identity.NewLocal(tokens, auth.NewPasswordService(), logger)
	defer provider.Close()

	client := profileapi.New(cfg.BackendURL, logger,
		profileapi.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	)

	rec := session.New(provider, client,
		session.WithLogger(logger),
		session.WithOrigin(cfg.AppOrigin),
		session.WithRevalidateInterval(cfg.RevalidateInterval),
	)
	defer rec.Close()

	unsubscribe := rec.Subscribe(func(s session.Snapshot) {
		attrs := []any{
			slog.String("state", s.State.String()),
			slog.Bool("loading", s.Loading),
		}
		if s.Identity != nil {
			attrs = append(attrs, slog.String("uid", s.Identity.UID))
		}
		if s.Profile != nil {
			attrs = append(attrs,
				slog.String("username", s.Profile.Username),
				slog.String("role", string(s.Profile.Role)),
				slog.Bool("active", s.Profile.IsActive),
			)
		}
		logger.Info("session snapshot", attrs...)
	})
	defer unsubscribe()

	if err := rec.Start(ctx); err != nil {
		return err
	}

	select {
	case <-rec.Ready():
	case <-ctx.Done():
		return nil
	}

	if cfg.DevEmail != "" {
		if _, err := provider.Register(cfg.DevEmail, cfg.DevPassword, cfg.DevDisplayName, ""); err != nil {
			return err
		}
		if _, err := provider.SignIn(ctx, cfg.DevEmail, cfg.DevPassword); err != nil {
			return err
		}
	} else {
		logger.Warn("DEV_EMAIL not set; staying signed out")
	}

	<-ctx.Done()
	logger.Info("shutting down session client")
	rec.Logout(context.Background())
	return nil
}
