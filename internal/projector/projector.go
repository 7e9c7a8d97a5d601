// Package projector applies inbound domain events to the stored read model.
// Application is serialized per identity, so concurrent deliveries for the
// same task or data entry cannot interleave their read-modify-write cycles.
package projector

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/consistency"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/events"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

const lockStripes = 64

// Notifier receives every state change the projector commits. The
// subscription emitter implements it; NopNotifier serves deployments without
// live queries.
type Notifier interface {
	TaskChanged(ctx context.Context, t view.Task)
	DataEntryChanged(ctx context.Context, e view.DataEntry)
}

type NopNotifier struct{}

func (NopNotifier) TaskChanged(context.Context, view.Task)           {}
func (NopNotifier) DataEntryChanged(context.Context, view.DataEntry) {}

type Config struct {
	// Eventual marks the storage profile as eventually consistent: lookups
	// that must find an existing projection are retried before giving up.
	Eventual bool
	Retry    consistency.Config
	// PayloadLevelLimit caps the nesting depth of stored payloads.
	// Negative disables the limit.
	PayloadLevelLimit int
}

type Projector struct {
	tasks    storage.TaskStore
	entries  storage.DataEntryStore
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
	locks    [lockStripes]sync.Mutex
}

func New(tasks storage.TaskStore, entries storage.DataEntryStore, notifier Notifier, cfg Config, logger *slog.Logger) *Projector {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{tasks: tasks, entries: entries, notifier: notifier, cfg: cfg, logger: logger}
}

// Handle dispatches a decoded envelope event to the matching handler.
func (p *Projector) Handle(ctx context.Context, event any) error {
	switch ev := event.(type) {
	case events.TaskEvent:
		return p.HandleTask(ctx, ev)
	case events.DataEntryEvent:
		return p.HandleDataEntry(ctx, ev)
	default:
		return fmt.Errorf("unsupported event %T", event)
	}
}

// HandleTask applies a task event. A non-create event whose task is not yet
// visible is retried on eventually consistent storage; if the task never
// appears the event is dropped with a warning, since a later redelivery or
// the missing create may still arrive.
func (p *Projector) HandleTask(ctx context.Context, ev events.TaskEvent) error {
	unlock := p.lock(ev.TaskID())
	defer unlock()

	existing, err := p.lookupTask(ctx, ev)
	if err != nil {
		return err
	}

	next, outcome := applyTask(ev, existing)
	switch outcome {
	case Superseded:
		p.logger.Debug("task event superseded by stored state",
			"task_id", ev.TaskID(), "event_time", ev.EventTime())
		return nil
	case Missing:
		p.logger.Warn("dropping task event without projection",
			"task_id", ev.TaskID(), "event_time", ev.EventTime())
		return nil
	}

	next.Payload = view.LimitPayload(next.Payload, p.cfg.PayloadLevelLimit)
	if err := p.tasks.Save(ctx, next); err != nil {
		return fmt.Errorf("save task %s: %w", next.ID, err)
	}
	p.notifier.TaskChanged(ctx, next)
	return nil
}

// HandleDataEntry applies a data entry event, retrying the lookup for updates
// on eventually consistent storage.
func (p *Projector) HandleDataEntry(ctx context.Context, ev events.DataEntryEvent) error {
	id := ev.Identity()
	unlock := p.lock(id.String())
	defer unlock()

	existing, err := p.lookupDataEntry(ctx, ev)
	if err != nil {
		return err
	}

	next, outcome := applyDataEntry(ev, existing)
	switch outcome {
	case Superseded:
		p.logger.Debug("data entry event superseded by stored state",
			"identity", id.String(), "event_time", ev.EventTime())
		return nil
	case Missing:
		p.logger.Warn("dropping data entry event without projection",
			"identity", id.String(), "event_time", ev.EventTime())
		return nil
	}

	next.Payload = view.LimitPayload(next.Payload, p.cfg.PayloadLevelLimit)
	if err := p.entries.Save(ctx, next); err != nil {
		return fmt.Errorf("save data entry %s: %w", id, err)
	}
	p.notifier.DataEntryChanged(ctx, next)
	return nil
}

func (p *Projector) lookupTask(ctx context.Context, ev events.TaskEvent) (*view.Task, error) {
	_, isCreate := ev.(events.TaskCreated)
	lookup := func(ctx context.Context) (*view.Task, bool, error) {
		t, err := p.tasks.GetByID(ctx, ev.TaskID())
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return &t, true, nil
	}
	// creates do not need the projection to exist, so a single miss is final
	if isCreate || !p.cfg.Eventual {
		t, _, err := lookup(ctx)
		return t, err
	}
	t, _, err := consistency.Retry(ctx, p.cfg.Retry, lookup)
	return t, err
}

func (p *Projector) lookupDataEntry(ctx context.Context, ev events.DataEntryEvent) (*view.DataEntry, error) {
	_, isCreate := ev.(events.DataEntryCreated)
	lookup := func(ctx context.Context) (*view.DataEntry, bool, error) {
		e, err := p.entries.GetByIdentity(ctx, ev.Identity())
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, err
		}
		return &e, true, nil
	}
	if isCreate || !p.cfg.Eventual {
		e, _, err := lookup(ctx)
		return e, err
	}
	e, _, err := consistency.Retry(ctx, p.cfg.Retry, lookup)
	return e, err
}

func (p *Projector) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &p.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
