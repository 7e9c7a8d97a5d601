package query

import (
	"context"
	"fmt"
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/filter"
)

// TaskQueryResult is one page of tasks. TotalCount is the size of the
// filtered set before paging; LastModified is the page's freshness marker,
// the newest modification among the returned elements.
type TaskQueryResult struct {
	Elements     []view.Task `json:"elements"`
	TotalCount   int         `json:"totalCount"`
	LastModified time.Time   `json:"lastModified"`
}

// TasksWithDataEntriesQueryResult is one page of task/data-entry composites.
type TasksWithDataEntriesQueryResult struct {
	Elements   []view.TaskWithDataEntries `json:"elements"`
	TotalCount int                        `json:"totalCount"`
}

// DataEntriesQueryResult is one page of data entries. MaxRevision is the
// highest upstream revision among the returned elements, so a caller that
// produced revision N can tell whether the page it sees has caught up.
type DataEntriesQueryResult struct {
	Elements    []view.DataEntry `json:"elements"`
	TotalCount  int              `json:"totalCount"`
	MaxRevision int64            `json:"maxRevision"`
}

// Joiner resolves task correlations into data entries with one batched
// storage round trip per call.
type Joiner struct {
	entries storage.DataEntryStore
}

func NewJoiner(entries storage.DataEntryStore) Joiner {
	return Joiner{entries: entries}
}

// Resolve joins a single task with its correlated entries.
func (j Joiner) Resolve(ctx context.Context, t view.Task) (view.TaskWithDataEntries, error) {
	entries, err := j.entries.FindByIdentities(ctx, t.CorrelationIdentities())
	if err != nil {
		return view.TaskWithDataEntries{}, fmt.Errorf("join task %s: %w", t.ID, err)
	}
	return view.TaskWithDataEntries{Task: t, DataEntries: entries}, nil
}

// ResolveAll joins many tasks, fetching the union of their correlated
// identities in one lookup.
func (j Joiner) ResolveAll(ctx context.Context, tasks []view.Task) ([]view.TaskWithDataEntries, error) {
	seen := make(map[view.DataIdentity]bool)
	var ids []view.DataIdentity
	for _, t := range tasks {
		for _, id := range t.CorrelationIdentities() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	entries, err := j.entries.FindByIdentities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("join tasks: %w", err)
	}
	byID := make(map[view.DataIdentity]view.DataEntry, len(entries))
	for _, e := range entries {
		byID[e.Identity()] = e
	}

	res := make([]view.TaskWithDataEntries, 0, len(tasks))
	for _, t := range tasks {
		composite := view.TaskWithDataEntries{Task: t}
		for _, id := range t.CorrelationIdentities() {
			if e, ok := byID[id]; ok {
				composite.DataEntries = append(composite.DataEntries, e)
			}
		}
		res = append(res, composite)
	}
	return res, nil
}

// Service executes the query kinds against the storage ports.
type Service struct {
	tasks   storage.TaskStore
	entries storage.DataEntryStore
	joiner  Joiner
}

func NewService(tasks storage.TaskStore, entries storage.DataEntryStore) *Service {
	return &Service{tasks: tasks, entries: entries, joiner: NewJoiner(entries)}
}

// TaskForID returns the task or storage.ErrNotFound; soft-deleted tasks are
// not served.
func (s *Service) TaskForID(ctx context.Context, q TaskForIDQuery) (view.Task, error) {
	t, err := s.tasks.GetByID(ctx, q.ID)
	if err != nil {
		return view.Task{}, err
	}
	if t.Deleted {
		return view.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Service) TasksForUser(ctx context.Context, q TasksForUserQuery) (TaskQueryResult, error) {
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return TaskQueryResult{}, err
	}
	tasks, err := s.tasks.FindForUser(ctx, q.User.Username, q.User.Groups)
	if err != nil {
		return TaskQueryResult{}, err
	}
	matched := tasks[:0:0]
	for _, t := range tasks {
		if filter.MatchTask(t, criteria) {
			matched = append(matched, t)
		}
	}
	return pageTasks(matched, q.Page), nil
}

func (s *Service) TasksForApplication(ctx context.Context, q TasksForApplicationQuery) (TaskQueryResult, error) {
	tasks, err := s.tasks.FindForApplication(ctx, q.ApplicationName)
	if err != nil {
		return TaskQueryResult{}, err
	}
	return pageTasks(tasks, q.Page), nil
}

func (s *Service) TaskWithDataEntriesForID(ctx context.Context, q TaskWithDataEntriesForIDQuery) (view.TaskWithDataEntries, error) {
	t, err := s.TaskForID(ctx, TaskForIDQuery{ID: q.ID})
	if err != nil {
		return view.TaskWithDataEntries{}, err
	}
	return s.joiner.Resolve(ctx, t)
}

func (s *Service) TasksWithDataEntriesForUser(ctx context.Context, q TasksWithDataEntriesForUserQuery) (TasksWithDataEntriesQueryResult, error) {
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return TasksWithDataEntriesQueryResult{}, err
	}
	tasks, err := s.tasks.FindForUser(ctx, q.User.Username, q.User.Groups)
	if err != nil {
		return TasksWithDataEntriesQueryResult{}, err
	}
	composites, err := s.joiner.ResolveAll(ctx, tasks)
	if err != nil {
		return TasksWithDataEntriesQueryResult{}, err
	}
	matched := composites[:0:0]
	for _, c := range composites {
		if filter.MatchTaskWithDataEntries(c, criteria) {
			matched = append(matched, c)
		}
	}
	filter.SortTasksWithDataEntries(matched, q.Page.Sort)
	lo, hi := q.Page.slice(len(matched))
	return TasksWithDataEntriesQueryResult{Elements: matched[lo:hi], TotalCount: len(matched)}, nil
}

// DataEntryForIdentity serves the identity lookup. An empty entry id falls
// back to every entry of the type.
func (s *Service) DataEntryForIdentity(ctx context.Context, q DataEntryForIdentityQuery) (DataEntriesQueryResult, error) {
	if q.EntryID == "" {
		entries, err := s.entries.FindByType(ctx, q.EntryType)
		if err != nil {
			return DataEntriesQueryResult{}, err
		}
		return pageDataEntries(entries, Page{}), nil
	}
	e, err := s.entries.GetByIdentity(ctx, view.DataIdentity{EntryType: q.EntryType, EntryID: q.EntryID})
	if err != nil {
		return DataEntriesQueryResult{}, err
	}
	return pageDataEntries([]view.DataEntry{e}, Page{}), nil
}

func (s *Service) DataEntriesForUser(ctx context.Context, q DataEntriesForUserQuery) (DataEntriesQueryResult, error) {
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return DataEntriesQueryResult{}, err
	}
	entries, err := s.entries.FindForUser(ctx, q.User.Username, q.User.Groups)
	if err != nil {
		return DataEntriesQueryResult{}, err
	}
	matched := entries[:0:0]
	for _, e := range entries {
		if filter.MatchDataEntry(e, criteria) {
			matched = append(matched, e)
		}
	}
	return pageDataEntries(matched, q.Page), nil
}

func (s *Service) DataEntries(ctx context.Context, q DataEntriesQuery) (DataEntriesQueryResult, error) {
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return DataEntriesQueryResult{}, err
	}
	entries, err := s.entries.FindAll(ctx)
	if err != nil {
		return DataEntriesQueryResult{}, err
	}
	matched := entries[:0:0]
	for _, e := range entries {
		if filter.MatchDataEntry(e, criteria) {
			matched = append(matched, e)
		}
	}
	return pageDataEntries(matched, q.Page), nil
}

func (s *Service) TaskCountsByApplication(ctx context.Context, _ TaskCountByApplicationQuery) ([]view.ApplicationWithTaskCount, error) {
	return s.tasks.CountsByApplication(ctx)
}

func pageTasks(tasks []view.Task, p Page) TaskQueryResult {
	filter.SortTasks(tasks, p.Sort)
	lo, hi := p.slice(len(tasks))
	page := tasks[lo:hi]
	var last time.Time
	for _, t := range page {
		if t.LastModified.After(last) {
			last = t.LastModified
		}
	}
	return TaskQueryResult{Elements: page, TotalCount: len(tasks), LastModified: last}
}

func pageDataEntries(entries []view.DataEntry, p Page) DataEntriesQueryResult {
	filter.SortDataEntries(entries, p.Sort)
	lo, hi := p.slice(len(entries))
	page := entries[lo:hi]
	var maxRevision int64
	for _, e := range page {
		if e.Revision > maxRevision {
			maxRevision = e.Revision
		}
	}
	return DataEntriesQueryResult{Elements: page, TotalCount: len(entries), MaxRevision: maxRevision}
}
