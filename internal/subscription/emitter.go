package subscription

import (
	"context"
	"log/slog"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

// Emitter fans a committed state change out to every query kind it can
// update. Task changes additionally produce the correlated composite and a
// refreshed application task count.
type Emitter struct {
	registry *Registry
	tasks    storage.TaskStore
	entries  storage.DataEntryStore
	logger   *slog.Logger
}

func NewEmitter(registry *Registry, tasks storage.TaskStore, entries storage.DataEntryStore, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{registry: registry, tasks: tasks, entries: entries, logger: logger}
}

func (e *Emitter) TaskChanged(ctx context.Context, t view.Task) {
	e.registry.Emit(QueryTaskForID, t)
	e.registry.Emit(QueryTasksForUser, t)
	e.registry.Emit(QueryTasksForApplication, t)

	// the composite and count updates are best-effort: a failed lookup only
	// degrades the richer subscriptions, the plain task update already went out
	entries, err := e.entries.FindByIdentities(ctx, t.CorrelationIdentities())
	if err != nil {
		e.logger.Warn("correlation join for live update failed", "task_id", t.ID, "error", err)
	} else {
		composite := view.TaskWithDataEntries{Task: t, DataEntries: entries}
		e.registry.Emit(QueryTaskWithDataEntriesForID, composite)
		e.registry.Emit(QueryTasksWithDataEntriesForUser, composite)
	}

	count, err := e.tasks.CountForApplication(ctx, t.ApplicationName())
	if err != nil {
		e.logger.Warn("task count for live update failed", "application", t.ApplicationName(), "error", err)
		return
	}
	e.registry.Emit(QueryTaskCountByApplication, count)
}

func (e *Emitter) DataEntryChanged(_ context.Context, entry view.DataEntry) {
	e.registry.Emit(QueryDataEntryForIdentity, entry)
	e.registry.Emit(QueryDataEntriesForUser, entry)
	e.registry.Emit(QueryDataEntries, entry)
}
