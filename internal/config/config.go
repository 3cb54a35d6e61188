// Package config loads settings for both binaries from the environment, after
// reading an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Backend
	Port      int
	DBPath    string
	JWTSecret string
	AdminUIDs []string

	LogLevel slog.Level

	// Client. AppOrigin, where "/uploads/..." pictures are served, defaults
	// to BackendURL.
	BackendURL         string
	AppOrigin          string
	RevalidateInterval time.Duration
	HTTPTimeout        time.Duration

	DevEmail       string
	DevPassword    string
	DevDisplayName string
}

// GetEnv returns the value of name, or def when it is unset or empty.
func GetEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// Load reads files (".env" when none are given) into the environment without
// overriding variables that are already set, then builds a Config. A missing
// file is not an error; a malformed value is.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: loading %s: %w", f, err)
		}
	}

	port, err := strconv.Atoi(GetEnv("PORT", "8080"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("config: invalid PORT %q", os.Getenv("PORT"))
	}

	level, err := parseLevel(GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	revalidate, err := duration("REVALIDATE_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	timeout, err := duration("HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	backendURL := strings.TrimRight(GetEnv("BACKEND_URL", fmt.Sprintf("http://localhost:%d", port)), "/")

	return &Config{
		Port:      port,
		DBPath:    GetEnv("DB_PATH", "data/profiles.db"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		AdminUIDs: splitList(os.Getenv("ADMIN_UIDS")),

		LogLevel: level,

		BackendURL:         backendURL,
		AppOrigin:          strings.TrimRight(GetEnv("APP_ORIGIN", backendURL), "/"),
		RevalidateInterval: revalidate,
		HTTPTimeout:        timeout,

		DevEmail:       os.Getenv("DEV_EMAIL"),
		DevPassword:    os.Getenv("DEV_PASSWORD"),
		DevDisplayName: os.Getenv("DEV_DISPLAY_NAME"),
	}, nil
}

func duration(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid %s %q", name, raw)
	}
	return d, nil
}

func parseLevel(raw string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q", raw)
	}
	return l, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
