// Package storage defines the ports the projection reads and writes through.
// Two adapters exist: memstore offers immediate read-after-write consistency,
// sqlstore is the durable profile treated as eventually consistent in a
// replicated deployment. Which one backs a process is a deployment-time
// choice, not a per-request decision.
package storage

import (
	"context"
	"errors"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

var ErrNotFound = errors.New("not found")

// TaskStore persists task projections. GetByID returns soft-deleted tasks so
// the projector can detect stale events; query-facing lookups filter them.
type TaskStore interface {
	GetByID(ctx context.Context, id string) (view.Task, error)
	Save(ctx context.Context, t view.Task) error
	FindForUser(ctx context.Context, username string, groups []string) ([]view.Task, error)
	FindForApplication(ctx context.Context, applicationName string) ([]view.Task, error)
	CountForApplication(ctx context.Context, applicationName string) (view.ApplicationWithTaskCount, error)
	CountsByApplication(ctx context.Context) ([]view.ApplicationWithTaskCount, error)
}

// DataEntryStore persists data entry projections. FindByIdentities is the
// batched lookup used by the correlation join; missing identities are simply
// absent from the result.
type DataEntryStore interface {
	GetByIdentity(ctx context.Context, id view.DataIdentity) (view.DataEntry, error)
	Save(ctx context.Context, e view.DataEntry) error
	FindAll(ctx context.Context) ([]view.DataEntry, error)
	FindByType(ctx context.Context, entryType string) ([]view.DataEntry, error)
	FindForUser(ctx context.Context, username string, groups []string) ([]view.DataEntry, error)
	FindByIdentities(ctx context.Context, ids []view.DataIdentity) ([]view.DataEntry, error)
}
