package service

import (
	"context"
	"log/slog"
	"time"
)

// detachTimeout bounds a detached task so an unresponsive provider cannot
// leak goroutines forever.
const detachTimeout = 10 * time.Minute

// detach runs fn as a fire-and-forget background task. Errors and panics
// are logged at the task boundary and never reach the originating caller;
// background work is best-effort relative to the call that scheduled it.
func detach(log *slog.Logger, task string, gameID int64, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("background task panicked", "task", task, "game_id", gameID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			log.Warn("background task failed", "task", task, "game_id", gameID, "error", err)
			return
		}
		log.Debug("background task finished", "task", task, "game_id", gameID)
	}()
}
