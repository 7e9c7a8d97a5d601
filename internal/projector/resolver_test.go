package projector

import (
	"testing"
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/events"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

var (
	t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
	t2 = t0.Add(2 * time.Minute)
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestApplyTaskCreate(t *testing.T) {
	created := events.TaskCreated{
		ID:       "task-1",
		Name:     "approve order",
		Priority: 50,
		SourceReference: view.SourceReference{
			InstanceID:      "i-1",
			ApplicationName: "order-approval",
		},
		CreateTime: t0,
		Time:       t0,
	}
	task, outcome := applyTask(created, nil)
	if outcome != Applied {
		t.Fatalf("expected Applied, got %v", outcome)
	}
	if task.ID != "task-1" || task.Name != "approve order" || !task.LastModified.Equal(t0) {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestApplyTaskStaleEventIsSuperseded(t *testing.T) {
	existing := view.Task{ID: "task-1", Assignee: "nami", LastModified: t1}

	stale := events.TaskAssigned{ID: "task-1", Assignee: "zoro", Time: t0}
	task, outcome := applyTask(stale, &existing)
	if outcome != Superseded {
		t.Fatalf("expected Superseded, got %v", outcome)
	}
	if task.Assignee != "nami" {
		t.Fatalf("stale event mutated state: %+v", task)
	}

	// redelivery at the exact stored time is also superseded
	_, outcome = applyTask(events.TaskAssigned{ID: "task-1", Assignee: "zoro", Time: t1}, &existing)
	if outcome != Superseded {
		t.Fatalf("equal-time redelivery must be superseded, got %v", outcome)
	}
}

func TestApplyTaskUpdateWithoutProjectionIsMissing(t *testing.T) {
	_, outcome := applyTask(events.TaskAssigned{ID: "task-1", Assignee: "zoro", Time: t0}, nil)
	if outcome != Missing {
		t.Fatalf("expected Missing, got %v", outcome)
	}
}

func TestApplyTaskAttributesOverlay(t *testing.T) {
	existing := view.Task{
		ID:           "task-1",
		Name:         "old name",
		Description:  "old description",
		Priority:     10,
		Owner:        "piggy",
		Payload:      map[string]any{"amount": 1.0},
		LastModified: t0,
	}
	update := events.TaskAttributesUpdated{
		ID:       "task-1",
		Name:     strPtr("new name"),
		Priority: intPtr(99),
		Payload:  map[string]any{"amount": 2.0},
		Time:     t1,
	}
	task, outcome := applyTask(update, &existing)
	if outcome != Applied {
		t.Fatalf("expected Applied, got %v", outcome)
	}
	if task.Name != "new name" || task.Priority != 99 {
		t.Fatalf("changed fields not applied: %+v", task)
	}
	if task.Description != "old description" || task.Owner != "piggy" {
		t.Fatalf("absent fields must keep stored values: %+v", task)
	}
	if task.Payload["amount"] != 2.0 {
		t.Fatalf("payload not replaced: %+v", task.Payload)
	}
	if !task.LastModified.Equal(t1) {
		t.Fatalf("last modified not advanced: %v", task.LastModified)
	}
}

func TestApplyTaskCompleteAndDeleteSoftDelete(t *testing.T) {
	existing := view.Task{ID: "task-1", LastModified: t0}

	task, outcome := applyTask(events.TaskCompleted{ID: "task-1", Time: t1}, &existing)
	if outcome != Applied || !task.Deleted || !task.DeleteTime.Equal(t1) {
		t.Fatalf("complete must soft-delete: %v %+v", outcome, task)
	}

	task, outcome = applyTask(events.TaskDeleted{ID: "task-1", Reason: "cancelled", Time: t1}, &existing)
	if outcome != Applied || !task.Deleted {
		t.Fatalf("delete must soft-delete: %v %+v", outcome, task)
	}
}

func TestApplyTaskDeleteClassOrderingExceptions(t *testing.T) {
	// completing at the exact stored instant still applies
	existing := view.Task{ID: "task-1", LastModified: t1}
	task, outcome := applyTask(events.TaskCompleted{ID: "task-1", Time: t1}, &existing)
	if outcome != Applied || !task.Deleted || !task.DeleteTime.Equal(t1) {
		t.Fatalf("same-instant complete must soft-delete: %v %+v", outcome, task)
	}
	if !task.LastModified.Equal(t1) {
		t.Fatalf("last modified changed unexpectedly: %v", task.LastModified)
	}

	// deletes do not order among themselves
	deleted := view.Task{ID: "task-1", Deleted: true, DeleteTime: t2, LastModified: t2}
	task, outcome = applyTask(events.TaskDeleted{ID: "task-1", Reason: "late", Time: t1}, &deleted)
	if outcome != Applied || !task.Deleted || !task.DeleteTime.Equal(t1) {
		t.Fatalf("delete over delete must apply: %v %+v", outcome, task)
	}
	if !task.LastModified.Equal(t2) {
		t.Fatalf("last modified must not move backwards: %v", task.LastModified)
	}

	// a strictly later non-delete update still wins over the delete
	updated := view.Task{ID: "task-1", LastModified: t2}
	_, outcome = applyTask(events.TaskCompleted{ID: "task-1", Time: t1}, &updated)
	if outcome != Superseded {
		t.Fatalf("delete before a later update must be superseded, got %v", outcome)
	}
}

func TestApplyTaskCandidateChanges(t *testing.T) {
	existing := view.Task{ID: "task-1", CandidateGroups: []string{"old"}, LastModified: t0}

	task, outcome := applyTask(events.TaskCandidateGroupsChanged{ID: "task-1", Groups: []string{"muppets", "avengers"}, Time: t1}, &existing)
	if outcome != Applied || len(task.CandidateGroups) != 2 || task.CandidateGroups[0] != "muppets" {
		t.Fatalf("groups not replaced: %v %+v", outcome, task)
	}

	task, outcome = applyTask(events.TaskCandidateUsersChanged{ID: "task-1", Users: []string{"zoro"}, Time: t2}, &task)
	if outcome != Applied || len(task.CandidateUsers) != 1 {
		t.Fatalf("users not replaced: %v %+v", outcome, task)
	}
}

func TestApplyDataEntryRevisionBreaksTimestampTie(t *testing.T) {
	existing := view.DataEntry{EntryType: "order", EntryID: "1", Name: "v2", LastModified: t1, Revision: 2}

	// same time, lower or equal revision loses
	_, outcome := applyDataEntry(events.DataEntryUpdated{EntryType: "order", EntryID: "1", Name: "v2-again", Revision: 2, Time: t1}, &existing)
	if outcome != Superseded {
		t.Fatalf("equal time and revision must be superseded, got %v", outcome)
	}

	// same time, higher revision wins
	entry, outcome := applyDataEntry(events.DataEntryUpdated{EntryType: "order", EntryID: "1", Name: "v3", Revision: 3, Time: t1}, &existing)
	if outcome != Applied || entry.Name != "v3" || entry.Revision != 3 {
		t.Fatalf("higher revision must win: %v %+v", outcome, entry)
	}

	// earlier time loses regardless of revision
	_, outcome = applyDataEntry(events.DataEntryUpdated{EntryType: "order", EntryID: "1", Revision: 9, Time: t0}, &existing)
	if outcome != Superseded {
		t.Fatalf("earlier event must be superseded, got %v", outcome)
	}
}

func TestApplyDataEntryUpdateOverlay(t *testing.T) {
	existing := view.DataEntry{
		EntryType:      "order",
		EntryID:        "1",
		Name:           "Order 1",
		Description:    "stays",
		State:          view.DataEntryState{ProcessingType: "IN_PROGRESS", State: "In review"},
		Authorizations: []auth.Principal{auth.User("zoro")},
		LastModified:   t0,
		Revision:       1,
	}
	update := events.DataEntryUpdated{
		EntryType: "order",
		EntryID:   "1",
		State:     view.DataEntryState{ProcessingType: "COMPLETED", State: "Approved"},
		Revision:  2,
		Time:      t1,
	}
	entry, outcome := applyDataEntry(update, &existing)
	if outcome != Applied {
		t.Fatalf("expected Applied, got %v", outcome)
	}
	if entry.State.ProcessingType != "COMPLETED" {
		t.Fatalf("state not replaced: %+v", entry.State)
	}
	if entry.Name != "Order 1" || entry.Description != "stays" {
		t.Fatalf("absent fields must keep stored values: %+v", entry)
	}
	if len(entry.Authorizations) != 1 {
		t.Fatalf("nil authorization list must keep stored grants: %+v", entry.Authorizations)
	}
}

func TestApplyDataEntryUpdateWithoutProjectionIsMissing(t *testing.T) {
	_, outcome := applyDataEntry(events.DataEntryUpdated{EntryType: "order", EntryID: "1", Time: t0}, nil)
	if outcome != Missing {
		t.Fatalf("expected Missing, got %v", outcome)
	}
}
