package query_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/query"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage/memstore"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

type testEnv struct {
	Store   *memstore.Store
	Service *query.Service
	Ctx     context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := memstore.New()
	return testEnv{
		Store:   store,
		Service: query.NewService(store.Tasks(), store.DataEntries()),
		Ctx:     context.Background(),
	}
}

var baseTime = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func seedTask(t *testing.T, env testEnv, id string, mutate func(*view.Task)) view.Task {
	t.Helper()
	task := view.Task{
		ID:              id,
		Name:            "task " + id,
		Assignee:        "zoro",
		SourceReference: view.SourceReference{InstanceID: "i-" + id, ApplicationName: "order-approval"},
		CreateTime:      baseTime,
		LastModified:    baseTime,
	}
	if mutate != nil {
		mutate(&task)
	}
	if err := env.Store.Tasks().Save(env.Ctx, task); err != nil {
		t.Fatalf("seed task %s: %v", id, err)
	}
	return task
}

func zoro() auth.ActingUser {
	return auth.ActingUser{Username: "zoro", Groups: []string{"muppets"}}
}

func TestTaskForIDHidesSoftDeleted(t *testing.T) {
	env := newTestEnv(t)
	seedTask(t, env, "task-1", nil)
	seedTask(t, env, "task-2", func(task *view.Task) { task.Deleted = true })

	got, err := env.Service.TaskForID(env.Ctx, query.TaskForIDQuery{ID: "task-1"})
	if err != nil || got.ID != "task-1" {
		t.Fatalf("task lookup: %+v %v", got, err)
	}

	if _, err := env.Service.TaskForID(env.Ctx, query.TaskForIDQuery{ID: "task-2"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("soft-deleted task must be not found, got %v", err)
	}
}

func TestTasksForUserPaging(t *testing.T) {
	env := newTestEnv(t)
	for i := 1; i <= 7; i++ {
		seedTask(t, env, fmt.Sprintf("task-%d", i), nil)
	}

	res, err := env.Service.TasksForUser(env.Ctx, query.TasksForUserQuery{
		User: zoro(),
		Page: query.Page{Page: 2, Size: 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 7 {
		t.Fatalf("expected total 7, got %d", res.TotalCount)
	}
	if len(res.Elements) != 3 {
		t.Fatalf("expected page of 3, got %d", len(res.Elements))
	}
	for i, want := range []string{"task-4", "task-5", "task-6"} {
		if res.Elements[i].ID != want {
			t.Fatalf("position %d: got %s, want %s", i, res.Elements[i].ID, want)
		}
	}

	// a page past the end is empty but keeps the total
	res, err = env.Service.TasksForUser(env.Ctx, query.TasksForUserQuery{
		User: zoro(),
		Page: query.Page{Page: 9, Size: 3},
	})
	if err != nil || len(res.Elements) != 0 || res.TotalCount != 7 {
		t.Fatalf("out-of-range page: %+v %v", res, err)
	}
}

func TestTasksForUserFilterAndSort(t *testing.T) {
	env := newTestEnv(t)
	seedTask(t, env, "task-1", func(task *view.Task) {
		task.Priority = 10
		task.Payload = map[string]any{"amount": 100.0}
	})
	seedTask(t, env, "task-2", func(task *view.Task) {
		task.Priority = 90
		task.Payload = map[string]any{"amount": 5.0}
	})
	seedTask(t, env, "task-3", func(task *view.Task) {
		task.Priority = 50
		task.Payload = map[string]any{"amount": 100.0}
	})

	res, err := env.Service.TasksForUser(env.Ctx, query.TasksForUserQuery{
		User:    zoro(),
		Filters: []string{"amount=100"},
		Page:    query.Page{Sort: "-task.priority"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 2 {
		t.Fatalf("expected 2 matches, got %d", res.TotalCount)
	}
	if res.Elements[0].ID != "task-3" || res.Elements[1].ID != "task-1" {
		t.Fatalf("descending priority order expected: %+v", res.Elements)
	}

	// unknown sort attribute leaves the id order unchanged
	res, err = env.Service.TasksForUser(env.Ctx, query.TasksForUserQuery{
		User: zoro(),
		Page: query.Page{Sort: "+nonsense"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Elements[0].ID != "task-1" {
		t.Fatalf("unknown sort must fail open: %+v", res.Elements)
	}

	// malformed filter expressions are a caller error
	if _, err := env.Service.TasksForUser(env.Ctx, query.TasksForUserQuery{
		User:    zoro(),
		Filters: []string{"=broken"},
	}); err == nil {
		t.Fatal("expected filter parse error")
	}
}

func TestTasksForUserFreshnessMarkerFollowsPage(t *testing.T) {
	env := newTestEnv(t)
	older := seedTask(t, env, "task-1", nil)
	newest := seedTask(t, env, "task-2", func(task *view.Task) {
		task.LastModified = baseTime.Add(time.Hour)
	})

	// the marker reflects the returned elements, not the whole matched set
	res, err := env.Service.TasksForUser(env.Ctx, query.TasksForUserQuery{
		User: zoro(),
		Page: query.Page{Page: 1, Size: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.LastModified.Equal(older.LastModified) {
		t.Fatalf("page 1 marker: got %v, want %v", res.LastModified, older.LastModified)
	}

	res, err = env.Service.TasksForUser(env.Ctx, query.TasksForUserQuery{
		User: zoro(),
		Page: query.Page{Page: 2, Size: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.LastModified.Equal(newest.LastModified) {
		t.Fatalf("page 2 marker: got %v, want %v", res.LastModified, newest.LastModified)
	}
}

func TestTasksWithDataEntriesJoin(t *testing.T) {
	env := newTestEnv(t)
	entries := env.Store.DataEntries()
	for _, e := range []view.DataEntry{
		{EntryType: "order", EntryID: "4711", Name: "Order 4711", Payload: map[string]any{"status": "open"}},
		{EntryType: "invoice", EntryID: "1", Name: "Invoice 1"},
	} {
		if err := entries.Save(env.Ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	seedTask(t, env, "task-1", func(task *view.Task) {
		task.Correlations = map[string]string{"order": "4711", "invoice": "1"}
	})
	seedTask(t, env, "task-2", func(task *view.Task) {
		task.Correlations = map[string]string{"order": "missing"}
	})

	single, err := env.Service.TaskWithDataEntriesForID(env.Ctx, query.TaskWithDataEntriesForIDQuery{ID: "task-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(single.DataEntries) != 2 {
		t.Fatalf("expected 2 joined entries, got %d", len(single.DataEntries))
	}

	// unresolvable correlations are skipped, not errors
	res, err := env.Service.TasksWithDataEntriesForUser(env.Ctx, query.TasksWithDataEntriesForUserQuery{User: zoro()})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 2 {
		t.Fatalf("expected both tasks, got %d", res.TotalCount)
	}
	for _, c := range res.Elements {
		if c.Task.ID == "task-2" && len(c.DataEntries) != 0 {
			t.Fatalf("missing correlation must yield no entries: %+v", c.DataEntries)
		}
	}

	// data-prefixed criteria match against the joined entries
	res, err = env.Service.TasksWithDataEntriesForUser(env.Ctx, query.TasksWithDataEntriesForUserQuery{
		User:    zoro(),
		Filters: []string{"data.entryType=order"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 1 || res.Elements[0].Task.ID != "task-1" {
		t.Fatalf("expected only the joined task: %+v", res)
	}
}

func TestDataEntryForIdentityFallsBackToType(t *testing.T) {
	env := newTestEnv(t)
	entries := env.Store.DataEntries()
	for _, e := range []view.DataEntry{
		{EntryType: "order", EntryID: "1", Revision: 1},
		{EntryType: "order", EntryID: "2", Revision: 4},
		{EntryType: "invoice", EntryID: "1", Revision: 2},
	} {
		if err := entries.Save(env.Ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	res, err := env.Service.DataEntryForIdentity(env.Ctx, query.DataEntryForIdentityQuery{EntryType: "order", EntryID: "2"})
	if err != nil || len(res.Elements) != 1 || res.Elements[0].EntryID != "2" {
		t.Fatalf("identity lookup: %+v %v", res, err)
	}

	res, err = env.Service.DataEntryForIdentity(env.Ctx, query.DataEntryForIdentityQuery{EntryType: "order"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Elements) != 2 || res.MaxRevision != 4 {
		t.Fatalf("type fallback: %+v", res)
	}

	if _, err := env.Service.DataEntryForIdentity(env.Ctx, query.DataEntryForIdentityQuery{EntryType: "order", EntryID: "nope"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDataEntriesForUserScopesVisibility(t *testing.T) {
	env := newTestEnv(t)
	entries := env.Store.DataEntries()
	for _, e := range []view.DataEntry{
		{EntryType: "order", EntryID: "1"},
		{EntryType: "order", EntryID: "2", Authorizations: []auth.Principal{auth.Group("muppets")}},
		{EntryType: "order", EntryID: "3", Authorizations: []auth.Principal{auth.User("luffy")}},
	} {
		if err := entries.Save(env.Ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	res, err := env.Service.DataEntriesForUser(env.Ctx, query.DataEntriesForUserQuery{User: zoro()})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 2 {
		t.Fatalf("expected open and group entry, got %d", res.TotalCount)
	}

	// the unscoped query sees everything
	all, err := env.Service.DataEntries(env.Ctx, query.DataEntriesQuery{})
	if err != nil || all.TotalCount != 3 {
		t.Fatalf("unscoped query: %+v %v", all, err)
	}
}

func TestTaskCountsByApplication(t *testing.T) {
	env := newTestEnv(t)
	seedTask(t, env, "task-1", nil)
	seedTask(t, env, "task-2", func(task *view.Task) {
		task.SourceReference.ApplicationName = "invoicing"
	})

	counts, err := env.Service.TaskCountsByApplication(env.Ctx, query.TaskCountByApplicationQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 2 || counts[0].ApplicationName != "invoicing" {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}
