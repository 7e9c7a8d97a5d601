package projector

import (
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/events"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

// Outcome classifies what applying an event to the stored state produced.
type Outcome int

const (
	// Applied means the event changed stored state.
	Applied Outcome = iota
	// Superseded means stored state already reflects this or a later event.
	Superseded
	// Missing means the event needs an existing projection that is absent.
	Missing
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Superseded:
		return "superseded"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// applyTask resolves a task event against the stored task. existing is nil
// when no projection exists yet. Resolution is last-writer-wins on event time:
// an event at or before the stored lastModified is superseded, which makes
// redelivery idempotent. Completed/deleted events are exempt from ordering
// among themselves; only a strictly later non-delete update supersedes them.
func applyTask(ev events.TaskEvent, existing *view.Task) (view.Task, Outcome) {
	if existing != nil && !ev.EventTime().After(existing.LastModified) {
		if !isDeleteClass(ev) || (existing.LastModified.After(ev.EventTime()) && !existing.Deleted) {
			return *existing, Superseded
		}
	}

	if existing == nil {
		created, ok := ev.(events.TaskCreated)
		if !ok {
			return view.Task{}, Missing
		}
		return taskFromCreated(created), Applied
	}

	t := existing.Copy()
	switch e := ev.(type) {
	case events.TaskCreated:
		t = taskFromCreated(e)
	case events.TaskAssigned:
		t.Assignee = e.Assignee
	case events.TaskCompleted:
		t.Deleted = true
		t.DeleteTime = e.Time
	case events.TaskDeleted:
		t.Deleted = true
		t.DeleteTime = e.Time
	case events.TaskAttributesUpdated:
		if e.Name != nil {
			t.Name = *e.Name
		}
		if e.Description != nil {
			t.Description = *e.Description
		}
		if e.Priority != nil {
			t.Priority = *e.Priority
		}
		if e.Owner != nil {
			t.Owner = *e.Owner
		}
		if e.DueDate != nil {
			t.DueDate = *e.DueDate
		}
		if e.FollowUpDate != nil {
			t.FollowUpDate = *e.FollowUpDate
		}
		if e.BusinessKey != nil {
			t.BusinessKey = *e.BusinessKey
		}
		if e.Payload != nil {
			t.Payload = e.Payload
		}
		if e.Correlations != nil {
			t.Correlations = e.Correlations
		}
	case events.TaskCandidateGroupsChanged:
		t.CandidateGroups = append([]string(nil), e.Groups...)
	case events.TaskCandidateUsersChanged:
		t.CandidateUsers = append([]string(nil), e.Users...)
	}
	if ev.EventTime().After(t.LastModified) {
		t.LastModified = ev.EventTime()
	}
	return t, Applied
}

func isDeleteClass(ev events.TaskEvent) bool {
	switch ev.(type) {
	case events.TaskCompleted, events.TaskDeleted:
		return true
	}
	return false
}

func taskFromCreated(e events.TaskCreated) view.Task {
	return view.Task{
		ID:                e.ID,
		SourceReference:   e.SourceReference,
		TaskDefinitionKey: e.TaskDefinitionKey,
		Name:              e.Name,
		Description:       e.Description,
		Priority:          e.Priority,
		Assignee:          e.Assignee,
		Owner:             e.Owner,
		CandidateUsers:    append([]string(nil), e.CandidateUsers...),
		CandidateGroups:   append([]string(nil), e.CandidateGroups...),
		BusinessKey:       e.BusinessKey,
		CreateTime:        e.CreateTime,
		DueDate:           e.DueDate,
		FollowUpDate:      e.FollowUpDate,
		Payload:           e.Payload,
		Correlations:      e.Correlations,
		LastModified:      e.Time,
	}
}

// applyDataEntry resolves a data entry event against the stored entry. Ties on
// event time fall back to the upstream revision counter, so a redelivered
// event loses while a higher-revision event with the same timestamp wins.
func applyDataEntry(ev events.DataEntryEvent, existing *view.DataEntry) (view.DataEntry, Outcome) {
	if existing != nil {
		when, revision := ev.EventTime(), eventRevision(ev)
		if when.Before(existing.LastModified) {
			return *existing, Superseded
		}
		if when.Equal(existing.LastModified) && revision <= existing.Revision {
			return *existing, Superseded
		}
	}

	switch e := ev.(type) {
	case events.DataEntryCreated:
		return view.DataEntry{
			EntryType:       e.EntryType,
			EntryID:         e.EntryID,
			Type:            e.Type,
			Name:            e.Name,
			ApplicationName: e.ApplicationName,
			Description:     e.Description,
			State:           e.State,
			Payload:         e.Payload,
			Authorizations:  e.Authorizations,
			LastModified:    e.Time,
			Revision:        e.Revision,
		}, Applied
	case events.DataEntryUpdated:
		if existing == nil {
			return view.DataEntry{}, Missing
		}
		d := existing.Copy()
		if e.Type != "" {
			d.Type = e.Type
		}
		if e.Name != "" {
			d.Name = e.Name
		}
		if e.ApplicationName != "" {
			d.ApplicationName = e.ApplicationName
		}
		if e.Description != "" {
			d.Description = e.Description
		}
		if e.State.ProcessingType != "" || e.State.State != "" {
			d.State = e.State
		}
		if e.Payload != nil {
			d.Payload = e.Payload
		}
		if e.Authorizations != nil {
			d.Authorizations = e.Authorizations
		}
		d.LastModified = e.Time
		d.Revision = e.Revision
		return d, Applied
	}
	return view.DataEntry{}, Missing
}

func eventRevision(ev events.DataEntryEvent) int64 {
	switch e := ev.(type) {
	case events.DataEntryCreated:
		return e.Revision
	case events.DataEntryUpdated:
		return e.Revision
	}
	return 0
}
