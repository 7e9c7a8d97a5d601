// Package view holds the materialized read-model shapes served by the
// projection: tasks, business data entries and their composite. All types are
// plain values without I/O; the storage adapters decide how they persist.
package view

import "time"

// SourceReference points at the process execution a task originated from.
type SourceReference struct {
	InstanceID      string `json:"instanceId"`
	ExecutionID     string `json:"executionId,omitempty"`
	DefinitionID    string `json:"definitionId"`
	DefinitionKey   string `json:"definitionKey"`
	Name            string `json:"name,omitempty"`
	ApplicationName string `json:"applicationName"`
	TenantID        string `json:"tenantId,omitempty"`
}

// Task is the task projection. It is created by the first lifecycle event for
// its id and mutated by every later one. Tasks are never physically removed,
// only soft-deleted, so stale late events can be detected and discarded.
type Task struct {
	ID                string            `json:"id"`
	SourceReference   SourceReference   `json:"sourceReference"`
	TaskDefinitionKey string            `json:"taskDefinitionKey,omitempty"`
	Name              string            `json:"name,omitempty"`
	Description       string            `json:"description,omitempty"`
	Priority          int               `json:"priority"`
	Assignee          string            `json:"assignee,omitempty"`
	Owner             string            `json:"owner,omitempty"`
	CandidateUsers    []string          `json:"candidateUsers,omitempty"`
	CandidateGroups   []string          `json:"candidateGroups,omitempty"`
	BusinessKey       string            `json:"businessKey,omitempty"`
	CreateTime        time.Time         `json:"createTime"`
	DueDate           time.Time         `json:"dueDate"`
	FollowUpDate      time.Time         `json:"followUpDate"`
	Payload           map[string]any    `json:"payload,omitempty"`
	Correlations      map[string]string `json:"correlations,omitempty"`
	Deleted           bool              `json:"deleted"`
	DeleteTime        time.Time         `json:"deleteTime"`
	LastModified      time.Time         `json:"lastModified"`
}

// ApplicationName is a shorthand for the originating process application.
func (t Task) ApplicationName() string {
	return t.SourceReference.ApplicationName
}

// CorrelationIdentities resolves the correlation map into data entry identities.
func (t Task) CorrelationIdentities() []DataIdentity {
	if len(t.Correlations) == 0 {
		return nil
	}
	res := make([]DataIdentity, 0, len(t.Correlations))
	for entryType, entryID := range t.Correlations {
		res = append(res, DataIdentity{EntryType: entryType, EntryID: entryID})
	}
	return res
}

// Copy returns a deep copy, so in-memory storage can hand out snapshots that
// callers may mutate freely.
func (t Task) Copy() Task {
	c := t
	c.CandidateUsers = append([]string(nil), t.CandidateUsers...)
	c.CandidateGroups = append([]string(nil), t.CandidateGroups...)
	c.Payload = copyPayload(t.Payload)
	if t.Correlations != nil {
		c.Correlations = make(map[string]string, len(t.Correlations))
		for k, v := range t.Correlations {
			c.Correlations[k] = v
		}
	}
	return c
}
