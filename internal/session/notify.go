package session

import (
	"context"
	"log/slog"
)

// Level is the severity of a Notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Notice is a human-readable message for the signed-in user.
type Notice struct {
	Level   Level
	Message string
	Err     error // the error that caused the notice, if any
}

// Notifier surfaces notices to the user, e.g. as a toast. Notify must not
// block for long; it is called from reconciliation goroutines.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// LogNotifier writes notices to a structured logger. It is the default when no
// user-facing channel is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, notice Notice) {
	attrs := []any{slog.String("message", notice.Message)}
	if notice.Err != nil {
		attrs = append(attrs, slog.String("error", notice.Err.Error()))
	}
	n.Logger.Log(ctx, notice.Level.slogLevel(), "user notice", attrs...)
}
