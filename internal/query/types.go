// Package query serves the read side: nine query kinds over the stored
// projections, each usable both as a one-shot request and as a live query
// filter for the subscription registry.
package query

import (
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/subscription"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/filter"
)

// Page is the shared paging and sorting envelope. Page numbers are 1-based;
// a Size below one disables paging. Sort specs are a signed attribute name
// like "+name" or "-dueDate"; unknown attributes leave the order unchanged.
type Page struct {
	Page int    `json:"page"`
	Size int    `json:"size"`
	Sort string `json:"sort,omitempty"`
}

func (p Page) slice(length int) (int, int) {
	if p.Size < 1 {
		return 0, length
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	lo := (page - 1) * p.Size
	if lo > length {
		lo = length
	}
	hi := lo + p.Size
	if hi > length {
		hi = length
	}
	return lo, hi
}

// TaskForIDQuery looks up a single task by id.
type TaskForIDQuery struct {
	ID string `json:"id"`
}

func (q TaskForIDQuery) Type() subscription.QueryType { return subscription.QueryTaskForID }

func (q TaskForIDQuery) Matches(update any) bool {
	t, ok := update.(view.Task)
	return ok && t.ID == q.ID
}

// TasksForUserQuery lists the tasks visible to the acting user, optionally
// restricted by filter criteria.
type TasksForUserQuery struct {
	User    auth.ActingUser `json:"user"`
	Filters []string        `json:"filters,omitempty"`
	Page    Page            `json:"page"`
}

func (q TasksForUserQuery) Type() subscription.QueryType { return subscription.QueryTasksForUser }

// Matches keeps matching on soft-deleted updates: a subscriber needs the
// deleted=true emission to learn a task left its list.
func (q TasksForUserQuery) Matches(update any) bool {
	t, ok := update.(view.Task)
	if !ok || !taskVisibleTo(t, q.User) {
		return false
	}
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return false
	}
	return filter.MatchTask(t, criteria)
}

// TasksForApplicationQuery lists the tasks of one process application.
type TasksForApplicationQuery struct {
	ApplicationName string `json:"applicationName"`
	Page            Page   `json:"page"`
}

func (q TasksForApplicationQuery) Type() subscription.QueryType {
	return subscription.QueryTasksForApplication
}

func (q TasksForApplicationQuery) Matches(update any) bool {
	t, ok := update.(view.Task)
	return ok && t.ApplicationName() == q.ApplicationName
}

// TaskWithDataEntriesForIDQuery looks up a task together with its correlated
// data entries.
type TaskWithDataEntriesForIDQuery struct {
	ID string `json:"id"`
}

func (q TaskWithDataEntriesForIDQuery) Type() subscription.QueryType {
	return subscription.QueryTaskWithDataEntriesForID
}

func (q TaskWithDataEntriesForIDQuery) Matches(update any) bool {
	c, ok := update.(view.TaskWithDataEntries)
	return ok && c.Task.ID == q.ID
}

// TasksWithDataEntriesForUserQuery lists visible tasks joined with their
// correlated data entries. Filter criteria with a data prefix match against
// any of the correlated entries.
type TasksWithDataEntriesForUserQuery struct {
	User    auth.ActingUser `json:"user"`
	Filters []string        `json:"filters,omitempty"`
	Page    Page            `json:"page"`
}

func (q TasksWithDataEntriesForUserQuery) Type() subscription.QueryType {
	return subscription.QueryTasksWithDataEntriesForUser
}

func (q TasksWithDataEntriesForUserQuery) Matches(update any) bool {
	c, ok := update.(view.TaskWithDataEntries)
	if !ok || !taskVisibleTo(c.Task, q.User) {
		return false
	}
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return false
	}
	return filter.MatchTaskWithDataEntries(c, criteria)
}

// DataEntryForIdentityQuery looks up data entries by identity. An empty
// EntryID addresses every entry of the type.
type DataEntryForIdentityQuery struct {
	EntryType string `json:"entryType"`
	EntryID   string `json:"entryId,omitempty"`
}

func (q DataEntryForIdentityQuery) Type() subscription.QueryType {
	return subscription.QueryDataEntryForIdentity
}

func (q DataEntryForIdentityQuery) Matches(update any) bool {
	e, ok := update.(view.DataEntry)
	if !ok || e.EntryType != q.EntryType {
		return false
	}
	return q.EntryID == "" || e.EntryID == q.EntryID
}

// DataEntriesForUserQuery lists the data entries visible to the acting user.
type DataEntriesForUserQuery struct {
	User    auth.ActingUser `json:"user"`
	Filters []string        `json:"filters,omitempty"`
	Page    Page            `json:"page"`
}

func (q DataEntriesForUserQuery) Type() subscription.QueryType {
	return subscription.QueryDataEntriesForUser
}

func (q DataEntriesForUserQuery) Matches(update any) bool {
	e, ok := update.(view.DataEntry)
	if !ok || !e.VisibleTo(q.User) {
		return false
	}
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return false
	}
	return filter.MatchDataEntry(e, criteria)
}

// DataEntriesQuery lists all data entries without an authorization scope.
type DataEntriesQuery struct {
	Filters []string `json:"filters,omitempty"`
	Page    Page     `json:"page"`
}

func (q DataEntriesQuery) Type() subscription.QueryType { return subscription.QueryDataEntries }

func (q DataEntriesQuery) Matches(update any) bool {
	e, ok := update.(view.DataEntry)
	if !ok {
		return false
	}
	criteria, err := filter.ToCriteria(q.Filters)
	if err != nil {
		return false
	}
	return filter.MatchDataEntry(e, criteria)
}

// TaskCountByApplicationQuery subscribes to per-application task counts.
type TaskCountByApplicationQuery struct{}

func (q TaskCountByApplicationQuery) Type() subscription.QueryType {
	return subscription.QueryTaskCountByApplication
}

func (q TaskCountByApplicationQuery) Matches(update any) bool {
	_, ok := update.(view.ApplicationWithTaskCount)
	return ok
}

func taskVisibleTo(t view.Task, u auth.ActingUser) bool {
	if t.Assignee == u.Username {
		return true
	}
	for _, c := range t.CandidateUsers {
		if c == u.Username {
			return true
		}
	}
	for _, g := range t.CandidateGroups {
		for _, mine := range u.Groups {
			if g == mine {
				return true
			}
		}
	}
	return false
}
