package session

import (
	"context"
	"log/slog"
	"time"
)

// startRevalidationLocked starts the periodic revalidation loop if it is not
// already running. Each tick reconciles whichever identity is current at that
// moment, so the loop survives a switch between accounts.
func (r *Reconciler) startRevalidationLocked() {
	if r.stopTick != nil || r.interval <= 0 || r.ctx == nil {
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.stopTick = cancel
	go r.revalidateLoop(ctx, r.interval)
}

func (r *Reconciler) stopRevalidationLocked() {
	if r.stopTick != nil {
		r.stopTick()
		r.stopTick = nil
	}
}

func (r *Reconciler) revalidateLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Debug("revalidation started", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("revalidation stopped")
			return
		case <-ticker.C:
			r.reconcileCurrent(ctx, "revalidate")
		}
	}
}
