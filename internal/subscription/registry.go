// Package subscription implements live queries: a registry of active
// subscriptions keyed by query kind, and an emitter that feeds committed
// state changes back through each subscription's own filter.
package subscription

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// QueryType keys the registry buckets. Every query kind that supports live
// updates has one.
type QueryType string

const (
	QueryTaskForID                   QueryType = "task-for-id"
	QueryTasksForUser                QueryType = "tasks-for-user"
	QueryTasksForApplication         QueryType = "tasks-for-application"
	QueryTaskWithDataEntriesForID    QueryType = "task-with-data-entries-for-id"
	QueryTasksWithDataEntriesForUser QueryType = "tasks-with-data-entries-for-user"
	QueryDataEntryForIdentity        QueryType = "data-entry-for-identity"
	QueryDataEntriesForUser          QueryType = "data-entries-for-user"
	QueryDataEntries                 QueryType = "data-entries"
	QueryTaskCountByApplication      QueryType = "task-count-by-application"
)

// FilterQuery is the subscriber-side filter: every emitted update is offered
// to the query, and only matching updates reach the subscription channel.
type FilterQuery interface {
	Type() QueryType
	Matches(update any) bool
}

// Subscription is one live query registration. Updates delivers matching
// state changes until Dispose is called or the subscriber stops draining and
// the buffer overflows.
type Subscription struct {
	ID      uuid.UUID
	query   FilterQuery
	updates chan any
	once    sync.Once
	remove  func()
}

// Updates returns the delivery channel; it is closed on Dispose.
func (s *Subscription) Updates() <-chan any { return s.updates }

// Dispose removes the subscription from its registry and closes the channel.
func (s *Subscription) Dispose() {
	s.once.Do(s.remove)
}

type bucket struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// Registry holds the active subscriptions per query kind. Emission never
// blocks on a slow subscriber: a full buffer disposes the subscription, since
// a sink that stopped draining will not observe a consistent stream anyway.
type Registry struct {
	mu      sync.RWMutex
	buckets map[QueryType]*bucket
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{buckets: make(map[QueryType]*bucket), logger: logger}
}

// Subscribe registers a live query with the given channel buffer.
func (r *Registry) Subscribe(q FilterQuery, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	b := r.bucket(q.Type())
	sub := &Subscription{
		ID:      uuid.New(),
		query:   q,
		updates: make(chan any, buffer),
	}
	// closing under the bucket write lock excludes concurrent emits, which
	// send while holding the read lock
	sub.remove = func() {
		b.mu.Lock()
		delete(b.subs, sub.ID)
		close(sub.updates)
		b.mu.Unlock()
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Emit offers an update to every subscription of the given kind.
func (r *Registry) Emit(queryType QueryType, update any) {
	r.mu.RLock()
	b := r.buckets[queryType]
	r.mu.RUnlock()
	if b == nil {
		return
	}

	var overflowed []*Subscription
	b.mu.RLock()
	for _, s := range b.subs {
		if !s.query.Matches(update) {
			continue
		}
		select {
		case s.updates <- update:
		default:
			overflowed = append(overflowed, s)
		}
	}
	b.mu.RUnlock()

	// a subscriber that stopped draining will never see a consistent stream
	// again, so its registration is dropped instead of blocking emission
	for _, s := range overflowed {
		r.logger.Warn("subscription buffer full, disposing",
			"subscription_id", s.ID, "query_type", string(queryType))
		s.Dispose()
	}
}

// CloseAll disposes every active subscription; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	buckets := make([]*bucket, 0, len(r.buckets))
	for _, b := range r.buckets {
		buckets = append(buckets, b)
	}
	r.mu.RUnlock()

	for _, b := range buckets {
		b.mu.RLock()
		subs := make([]*Subscription, 0, len(b.subs))
		for _, s := range b.subs {
			subs = append(subs, s)
		}
		b.mu.RUnlock()
		for _, s := range subs {
			s.Dispose()
		}
	}
}

func (r *Registry) bucket(queryType QueryType) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[queryType]
	if !ok {
		b = &bucket{subs: make(map[uuid.UUID]*Subscription)}
		r.buckets[queryType] = b
	}
	return b
}
