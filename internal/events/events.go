// Package events defines the inbound domain events the projection consumes.
// Events arrive at-least-once and not necessarily in order across identities;
// the projector resolves ordering per identity by event time.
package events

import (
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

// TaskEvent is the closed set of task lifecycle events.
type TaskEvent interface {
	TaskID() string
	EventTime() time.Time
	taskEvent()
}

// DataEntryEvent is the closed set of business data events.
type DataEntryEvent interface {
	Identity() view.DataIdentity
	EventTime() time.Time
	dataEntryEvent()
}

// TaskCreated carries the full initial state of a task.
type TaskCreated struct {
	ID                string               `json:"id"`
	SourceReference   view.SourceReference `json:"sourceReference"`
	TaskDefinitionKey string               `json:"taskDefinitionKey,omitempty"`
	Name              string               `json:"name,omitempty"`
	Description       string               `json:"description,omitempty"`
	Priority          int                  `json:"priority"`
	Assignee          string               `json:"assignee,omitempty"`
	Owner             string               `json:"owner,omitempty"`
	CandidateUsers    []string             `json:"candidateUsers,omitempty"`
	CandidateGroups   []string             `json:"candidateGroups,omitempty"`
	BusinessKey       string               `json:"businessKey,omitempty"`
	CreateTime        time.Time            `json:"createTime"`
	DueDate           time.Time            `json:"dueDate"`
	FollowUpDate      time.Time            `json:"followUpDate"`
	Payload           map[string]any       `json:"payload,omitempty"`
	Correlations      map[string]string    `json:"correlations,omitempty"`
	Time              time.Time            `json:"time"`
}

// TaskAssigned changes the assignee of an existing task.
type TaskAssigned struct {
	ID       string    `json:"id"`
	Assignee string    `json:"assignee"`
	Time     time.Time `json:"time"`
}

// TaskCompleted finishes a task; the projection soft-deletes it.
type TaskCompleted struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
}

// TaskDeleted removes a task from the pool; the projection soft-deletes it.
type TaskDeleted struct {
	ID     string    `json:"id"`
	Reason string    `json:"reason,omitempty"`
	Time   time.Time `json:"time"`
}

// TaskAttributesUpdated overlays changed attributes onto an existing task.
// Nil fields are absent from the update and must not erase stored values.
type TaskAttributesUpdated struct {
	ID           string            `json:"id"`
	Name         *string           `json:"name,omitempty"`
	Description  *string           `json:"description,omitempty"`
	Priority     *int              `json:"priority,omitempty"`
	Owner        *string           `json:"owner,omitempty"`
	DueDate      *time.Time        `json:"dueDate,omitempty"`
	FollowUpDate *time.Time        `json:"followUpDate,omitempty"`
	BusinessKey  *string           `json:"businessKey,omitempty"`
	Payload      map[string]any    `json:"payload,omitempty"`
	Correlations map[string]string `json:"correlations,omitempty"`
	Time         time.Time         `json:"time"`
}

// TaskCandidateGroupsChanged replaces the candidate group set.
type TaskCandidateGroupsChanged struct {
	ID     string    `json:"id"`
	Groups []string  `json:"groups"`
	Time   time.Time `json:"time"`
}

// TaskCandidateUsersChanged replaces the candidate user set.
type TaskCandidateUsersChanged struct {
	ID    string    `json:"id"`
	Users []string  `json:"users"`
	Time  time.Time `json:"time"`
}

// DataEntryCreated carries the full initial state of a data entry.
type DataEntryCreated struct {
	EntryType       string              `json:"entryType"`
	EntryID         string              `json:"entryId"`
	Type            string              `json:"type,omitempty"`
	Name            string              `json:"name,omitempty"`
	ApplicationName string              `json:"applicationName,omitempty"`
	Description     string              `json:"description,omitempty"`
	State           view.DataEntryState `json:"state"`
	Payload         map[string]any      `json:"payload,omitempty"`
	Authorizations  []auth.Principal    `json:"authorizations,omitempty"`
	Revision        int64               `json:"revision"`
	Time            time.Time           `json:"time"`
}

// DataEntryUpdated overlays changed attributes onto an existing entry. Empty
// scalar fields, a nil payload and a nil authorization list are absent from
// the update and keep the stored values.
type DataEntryUpdated struct {
	EntryType       string              `json:"entryType"`
	EntryID         string              `json:"entryId"`
	Type            string              `json:"type,omitempty"`
	Name            string              `json:"name,omitempty"`
	ApplicationName string              `json:"applicationName,omitempty"`
	Description     string              `json:"description,omitempty"`
	State           view.DataEntryState `json:"state"`
	Payload         map[string]any      `json:"payload,omitempty"`
	Authorizations  []auth.Principal    `json:"authorizations,omitempty"`
	Revision        int64               `json:"revision"`
	Time            time.Time           `json:"time"`
}

func (e TaskCreated) TaskID() string                { return e.ID }
func (e TaskAssigned) TaskID() string               { return e.ID }
func (e TaskCompleted) TaskID() string              { return e.ID }
func (e TaskDeleted) TaskID() string                { return e.ID }
func (e TaskAttributesUpdated) TaskID() string      { return e.ID }
func (e TaskCandidateGroupsChanged) TaskID() string { return e.ID }
func (e TaskCandidateUsersChanged) TaskID() string  { return e.ID }

func (e TaskCreated) EventTime() time.Time                { return e.Time }
func (e TaskAssigned) EventTime() time.Time               { return e.Time }
func (e TaskCompleted) EventTime() time.Time              { return e.Time }
func (e TaskDeleted) EventTime() time.Time                { return e.Time }
func (e TaskAttributesUpdated) EventTime() time.Time      { return e.Time }
func (e TaskCandidateGroupsChanged) EventTime() time.Time { return e.Time }
func (e TaskCandidateUsersChanged) EventTime() time.Time  { return e.Time }

func (TaskCreated) taskEvent()                {}
func (TaskAssigned) taskEvent()               {}
func (TaskCompleted) taskEvent()              {}
func (TaskDeleted) taskEvent()                {}
func (TaskAttributesUpdated) taskEvent()      {}
func (TaskCandidateGroupsChanged) taskEvent() {}
func (TaskCandidateUsersChanged) taskEvent()  {}

func (e DataEntryCreated) Identity() view.DataIdentity {
	return view.DataIdentity{EntryType: e.EntryType, EntryID: e.EntryID}
}

func (e DataEntryUpdated) Identity() view.DataIdentity {
	return view.DataIdentity{EntryType: e.EntryType, EntryID: e.EntryID}
}

func (e DataEntryCreated) EventTime() time.Time { return e.Time }
func (e DataEntryUpdated) EventTime() time.Time { return e.Time }

func (DataEntryCreated) dataEntryEvent() {}
func (DataEntryUpdated) dataEntryEvent() {}
