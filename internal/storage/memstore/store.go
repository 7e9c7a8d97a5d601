// Package memstore is the in-memory storage adapter. Reads see writes
// immediately, so deployments backed by it do not need the consistency
// reconciler.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

// Store holds both projections behind one lock. Tasks and DataEntries expose
// the two port implementations; all returned values are deep copies.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]view.Task
	entries map[view.DataIdentity]view.DataEntry
}

func New() *Store {
	return &Store{
		tasks:   make(map[string]view.Task),
		entries: make(map[view.DataIdentity]view.DataEntry),
	}
}

// Tasks returns the task port backed by this store.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s: s} }

// DataEntries returns the data entry port backed by this store.
func (s *Store) DataEntries() *DataEntryStore { return &DataEntryStore{s: s} }

type TaskStore struct {
	s *Store
}

func (ts *TaskStore) GetByID(_ context.Context, id string) (view.Task, error) {
	ts.s.mu.RLock()
	defer ts.s.mu.RUnlock()
	t, ok := ts.s.tasks[id]
	if !ok {
		return view.Task{}, storage.ErrNotFound
	}
	return t.Copy(), nil
}

func (ts *TaskStore) Save(_ context.Context, t view.Task) error {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	ts.s.tasks[t.ID] = t.Copy()
	return nil
}

func (ts *TaskStore) FindForUser(_ context.Context, username string, groups []string) ([]view.Task, error) {
	ts.s.mu.RLock()
	defer ts.s.mu.RUnlock()
	var res []view.Task
	for _, t := range ts.s.tasks {
		if t.Deleted {
			continue
		}
		if taskForUser(t, username, groups) {
			res = append(res, t.Copy())
		}
	}
	sortTasksByID(res)
	return res, nil
}

func (ts *TaskStore) FindForApplication(_ context.Context, applicationName string) ([]view.Task, error) {
	ts.s.mu.RLock()
	defer ts.s.mu.RUnlock()
	var res []view.Task
	for _, t := range ts.s.tasks {
		if !t.Deleted && t.ApplicationName() == applicationName {
			res = append(res, t.Copy())
		}
	}
	sortTasksByID(res)
	return res, nil
}

func (ts *TaskStore) CountForApplication(_ context.Context, applicationName string) (view.ApplicationWithTaskCount, error) {
	ts.s.mu.RLock()
	defer ts.s.mu.RUnlock()
	count := 0
	for _, t := range ts.s.tasks {
		if !t.Deleted && t.ApplicationName() == applicationName {
			count++
		}
	}
	return view.ApplicationWithTaskCount{ApplicationName: applicationName, TaskCount: count}, nil
}

func (ts *TaskStore) CountsByApplication(_ context.Context) ([]view.ApplicationWithTaskCount, error) {
	ts.s.mu.RLock()
	defer ts.s.mu.RUnlock()
	counts := map[string]int{}
	for _, t := range ts.s.tasks {
		if !t.Deleted {
			counts[t.ApplicationName()]++
		}
	}
	res := make([]view.ApplicationWithTaskCount, 0, len(counts))
	for app, count := range counts {
		res = append(res, view.ApplicationWithTaskCount{ApplicationName: app, TaskCount: count})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ApplicationName < res[j].ApplicationName })
	return res, nil
}

type DataEntryStore struct {
	s *Store
}

func (ds *DataEntryStore) GetByIdentity(_ context.Context, id view.DataIdentity) (view.DataEntry, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	e, ok := ds.s.entries[id]
	if !ok {
		return view.DataEntry{}, storage.ErrNotFound
	}
	return e.Copy(), nil
}

func (ds *DataEntryStore) Save(_ context.Context, e view.DataEntry) error {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	ds.s.entries[e.Identity()] = e.Copy()
	return nil
}

func (ds *DataEntryStore) FindAll(_ context.Context) ([]view.DataEntry, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	res := make([]view.DataEntry, 0, len(ds.s.entries))
	for _, e := range ds.s.entries {
		res = append(res, e.Copy())
	}
	sortEntriesByIdentity(res)
	return res, nil
}

func (ds *DataEntryStore) FindByType(_ context.Context, entryType string) ([]view.DataEntry, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	var res []view.DataEntry
	for _, e := range ds.s.entries {
		if e.EntryType == entryType {
			res = append(res, e.Copy())
		}
	}
	sortEntriesByIdentity(res)
	return res, nil
}

func (ds *DataEntryStore) FindForUser(_ context.Context, username string, groups []string) ([]view.DataEntry, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	user := auth.ActingUser{Username: username, Groups: groups}
	var res []view.DataEntry
	for _, e := range ds.s.entries {
		if e.VisibleTo(user) {
			res = append(res, e.Copy())
		}
	}
	sortEntriesByIdentity(res)
	return res, nil
}

func (ds *DataEntryStore) FindByIdentities(_ context.Context, ids []view.DataIdentity) ([]view.DataEntry, error) {
	ds.s.mu.RLock()
	defer ds.s.mu.RUnlock()
	var res []view.DataEntry
	for _, id := range ids {
		if e, ok := ds.s.entries[id]; ok {
			res = append(res, e.Copy())
		}
	}
	sortEntriesByIdentity(res)
	return res, nil
}

func taskForUser(t view.Task, username string, groups []string) bool {
	if t.Assignee == username {
		return true
	}
	for _, u := range t.CandidateUsers {
		if u == username {
			return true
		}
	}
	for _, g := range t.CandidateGroups {
		for _, mine := range groups {
			if g == mine {
				return true
			}
		}
	}
	return false
}

func sortTasksByID(tasks []view.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

func sortEntriesByIdentity(entries []view.DataEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identity().String() < entries[j].Identity().String()
	})
}
