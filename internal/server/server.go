// Package server wires the profile backend: storage, services, handlers and
// the chi router.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/pharmacy-session/internal/auth"
	"github.com/sakif/pharmacy-session/internal/handler"
	"github.com/sakif/pharmacy-session/internal/middleware"
	"github.com/sakif/pharmacy-session/internal/model"
	sqliteRepo "github.com/sakif/pharmacy-session/internal/repository/sqlite"
	"github.com/sakif/pharmacy-session/internal/service"
)

type Config struct {
	Port      int
	DBPath    string
	JWTSecret string

	// AdminUIDs may use the admin endpoints even without the admin role, so a
	// fresh deployment has a way in.
	AdminUIDs []string
}

type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	tokens *auth.TokenService
	users  *service.UserService
	admins map[string]struct{}
}

// New opens the database and builds the router. Close releases the database
// when Start is not used.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	admins := make(map[string]struct{}, len(cfg.AdminUIDs))
	for _, uid := range cfg.AdminUIDs {
		admins[uid] = struct{}{}
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
		tokens: tokens,
		users:  service.NewUserService(db, logger),
		admins: admins,
	}
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	health := handler.NewHealthHandler(s.db, s.logger)
	users := handler.NewUserHandler(s.users, s.logger)

	s.router.Get("/healthz", health.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/users/google", users.HandleProvision)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))

			r.Get("/users/me", users.HandleMe)
			r.Put("/users/update-profile", users.HandleUpdateProfile)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin(s.isAdmin, s.logger))
				r.Get("/users", users.HandleList)
				r.Patch("/users/{uid}/status", users.HandleSetStatus)
			})
		})
	})
}

// isAdmin accepts configured admin uids and active profiles with the admin role.
func (s *Server) isAdmin(ctx context.Context, uid string) bool {
	if _, ok := s.admins[uid]; ok {
		return true
	}
	p, err := s.users.Me(ctx, uid)
	if err != nil {
		return false
	}
	return p.IsActive && p.Role == model.RoleAdmin
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully and closes the
// database.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("profile backend starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Int("admin_uids", len(s.admins)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
