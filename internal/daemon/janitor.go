package daemon

import (
	"context"
	"log/slog"
	"time"

	"managervnc/internal/db"
	"managervnc/internal/registry"
)

// janitor periodically prunes old activity rows and expired sessions.
type janitor struct {
	DB        *db.DB
	Registry  *registry.Service
	Retention time.Duration
	Interval  time.Duration
	Log       *slog.Logger

	now func() time.Time
}

// Run sweeps once immediately, then every Interval until ctx ends.
func (j *janitor) Run(ctx context.Context) {
	j.sweep(ctx)
	t := time.NewTicker(j.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweep(ctx)
		}
	}
}

func (j *janitor) sweep(ctx context.Context) {
	now := j.now()
	logs, err := j.Registry.PruneActivity(ctx, now, j.Retention)
	if err != nil && ctx.Err() == nil {
		j.Log.Error("prune activity", "err", err)
	}
	sessions, err := j.DB.DeleteExpiredSessions(ctx, now)
	if err != nil && ctx.Err() == nil {
		j.Log.Error("delete expired sessions", "err", err)
	}
	if logs > 0 || sessions > 0 {
		j.Log.Info("sweep", "activity_pruned", logs, "sessions_expired", sessions)
	}
}
