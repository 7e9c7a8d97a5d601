package subscription

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

type change struct {
	task  *view.Task
	entry *view.DataEntry
}

// Tracker decouples live update emission from the write path: changes are
// queued on a channel and fanned out by a dedicated goroutine. It mirrors how
// a change stream feeds updates, where the writer never waits on subscribers.
type Tracker struct {
	emitter *Emitter
	changes chan change
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	logger  *slog.Logger
}

func NewTracker(emitter *Emitter, buffer int, logger *slog.Logger) *Tracker {
	if buffer < 1 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		emitter: emitter,
		changes: make(chan change, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go t.run()
	return t
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		select {
		case c := <-t.changes:
			t.dispatch(c)
		case <-t.stop:
			// drain what was queued before shutdown
			for {
				select {
				case c := <-t.changes:
					t.dispatch(c)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) dispatch(c change) {
	ctx := context.Background()
	if c.task != nil {
		t.emitter.TaskChanged(ctx, *c.task)
	}
	if c.entry != nil {
		t.emitter.DataEntryChanged(ctx, *c.entry)
	}
}

func (t *Tracker) TaskChanged(_ context.Context, task view.Task) {
	t.enqueue(change{task: &task})
}

func (t *Tracker) DataEntryChanged(_ context.Context, entry view.DataEntry) {
	t.enqueue(change{entry: &entry})
}

func (t *Tracker) enqueue(c change) {
	select {
	case t.changes <- c:
	default:
		t.logger.Warn("live update queue full, dropping change")
	}
}

// Close stops the dispatch goroutine after draining queued changes.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}
