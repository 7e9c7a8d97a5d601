// Package filter parses textual filter criteria into typed predicates over
// view attributes and evaluates them. Evaluation is pure: the query service
// and the subscription registry share the exact same semantics.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

// Operator of a single criterion.
type Operator string

const (
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
	OpContains Operator = "%"
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
)

const (
	taskPrefix = "task."
	dataPrefix = "data."
)

// operators ordered so that multi-character ones are matched first.
var operators = []Operator{OpNotEqual, OpEqual, OpContains, OpGreater, OpLess}

// Criterion is the parsed form of one textual filter expression
// `<path><operator><value>`. A list of criteria is AND-combined.
type Criterion struct {
	Path  string
	Op    Operator
	Value string
}

// taskAttributes and dataAttributes are the paths accepted behind the
// respective prefixes. Anything without a prefix addresses the payload and
// cannot be validated before evaluation.
var taskAttributes = map[string]bool{
	"id": true, "name": true, "description": true, "priority": true,
	"assignee": true, "owner": true, "businessKey": true,
	"applicationName": true, "taskDefinitionKey": true,
	"candidateUsers": true, "candidateGroups": true,
	"createTime": true, "dueDate": true, "followUpDate": true,
	"deleted": true,
}

var dataAttributes = map[string]bool{
	"entryType": true, "entryId": true, "type": true, "name": true,
	"applicationName": true, "description": true,
	"state": true, "processingType": true, "revision": true,
}

// ToCriteria parses a list of textual filter expressions. Unknown prefixed
// attribute paths and missing operators are reported, never dropped.
func ToCriteria(filters []string) ([]Criterion, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	res := make([]Criterion, 0, len(filters))
	for _, f := range filters {
		c, err := parseCriterion(f)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func parseCriterion(expr string) (Criterion, error) {
	idx, op := -1, Operator("")
	for _, candidate := range operators {
		if i := strings.Index(expr, string(candidate)); i > 0 && (idx < 0 || i < idx) {
			idx, op = i, candidate
		}
	}
	if idx < 0 {
		return Criterion{}, fmt.Errorf("invalid filter %q: no operator found", expr)
	}
	path := expr[:idx]
	value := expr[idx+len(op):]
	if value == "" {
		return Criterion{}, fmt.Errorf("invalid filter %q: empty comparison value", expr)
	}
	if attr, ok := strings.CutPrefix(path, taskPrefix); ok && !taskAttributes[attr] {
		return Criterion{}, fmt.Errorf("invalid filter %q: unknown task attribute %q", expr, attr)
	}
	if attr, ok := strings.CutPrefix(path, dataPrefix); ok && !dataAttributes[attr] {
		return Criterion{}, fmt.Errorf("invalid filter %q: unknown data attribute %q", expr, attr)
	}
	return Criterion{Path: path, Op: op, Value: value}, nil
}

// MatchTask reports whether the task satisfies every criterion. Data-prefixed
// criteria never match a bare task.
func MatchTask(t view.Task, criteria []Criterion) bool {
	for _, c := range criteria {
		if !matchTaskCriterion(t, c) {
			return false
		}
	}
	return true
}

// MatchDataEntry reports whether the entry satisfies every criterion.
func MatchDataEntry(e view.DataEntry, criteria []Criterion) bool {
	for _, c := range criteria {
		if !matchDataEntryCriterion(e, c) {
			return false
		}
	}
	return true
}

// MatchTaskWithDataEntries applies task and payload criteria to the task and
// data criteria to any of the correlated entries.
func MatchTaskWithDataEntries(twde view.TaskWithDataEntries, criteria []Criterion) bool {
	for _, c := range criteria {
		if strings.HasPrefix(c.Path, dataPrefix) {
			matched := false
			for _, e := range twde.DataEntries {
				if matchDataEntryCriterion(e, c) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		if !matchTaskCriterion(twde.Task, c) {
			return false
		}
	}
	return true
}

func matchTaskCriterion(t view.Task, c Criterion) bool {
	if attr, ok := strings.CutPrefix(c.Path, taskPrefix); ok {
		v, ok := TaskAttribute(t, attr)
		return ok && compare(v, c.Op, c.Value)
	}
	if strings.HasPrefix(c.Path, dataPrefix) {
		return false
	}
	v, ok := t.Payload[c.Path]
	return ok && compare(v, c.Op, c.Value)
}

func matchDataEntryCriterion(e view.DataEntry, c Criterion) bool {
	if attr, ok := strings.CutPrefix(c.Path, dataPrefix); ok {
		v, ok := DataEntryAttribute(e, attr)
		return ok && compare(v, c.Op, c.Value)
	}
	if strings.HasPrefix(c.Path, taskPrefix) {
		return false
	}
	v, ok := e.Payload[c.Path]
	return ok && compare(v, c.Op, c.Value)
}

// TaskAttribute resolves a task attribute by its unprefixed path.
func TaskAttribute(t view.Task, attr string) (any, bool) {
	switch attr {
	case "id":
		return t.ID, true
	case "name":
		return t.Name, true
	case "description":
		return t.Description, true
	case "priority":
		return t.Priority, true
	case "assignee":
		return t.Assignee, true
	case "owner":
		return t.Owner, true
	case "businessKey":
		return t.BusinessKey, true
	case "applicationName":
		return t.ApplicationName(), true
	case "taskDefinitionKey":
		return t.TaskDefinitionKey, true
	case "candidateUsers":
		return t.CandidateUsers, true
	case "candidateGroups":
		return t.CandidateGroups, true
	case "createTime":
		return t.CreateTime, true
	case "dueDate":
		return t.DueDate, true
	case "followUpDate":
		return t.FollowUpDate, true
	case "deleted":
		return t.Deleted, true
	default:
		return nil, false
	}
}

// DataEntryAttribute resolves a data entry attribute by its unprefixed path.
func DataEntryAttribute(e view.DataEntry, attr string) (any, bool) {
	switch attr {
	case "entryType":
		return e.EntryType, true
	case "entryId":
		return e.EntryID, true
	case "type":
		return e.Type, true
	case "name":
		return e.Name, true
	case "applicationName":
		return e.ApplicationName, true
	case "description":
		return e.Description, true
	case "state":
		return e.State.State, true
	case "processingType":
		return e.State.ProcessingType, true
	case "revision":
		return e.Revision, true
	default:
		return nil, false
	}
}

func compare(value any, op Operator, raw string) bool {
	switch v := value.(type) {
	case string:
		return compareString(v, op, raw)
	case bool:
		want, err := strconv.ParseBool(raw)
		if err != nil {
			return false
		}
		switch op {
		case OpEqual:
			return v == want
		case OpNotEqual:
			return v != want
		default:
			return false
		}
	case int:
		return compareFloat(float64(v), op, raw)
	case int64:
		return compareFloat(float64(v), op, raw)
	case float64:
		return compareFloat(v, op, raw)
	case time.Time:
		return compareTime(v, op, raw)
	case []string:
		return compareSlice(v, op, raw)
	case []any:
		ss := make([]string, 0, len(v))
		for _, el := range v {
			ss = append(ss, fmt.Sprint(el))
		}
		return compareSlice(ss, op, raw)
	default:
		return compareString(fmt.Sprint(value), op, raw)
	}
}

func compareString(v string, op Operator, raw string) bool {
	switch op {
	case OpEqual:
		return v == raw
	case OpNotEqual:
		return v != raw
	case OpContains:
		return strings.Contains(v, raw)
	case OpGreater:
		return v > raw
	case OpLess:
		return v < raw
	default:
		return false
	}
}

func compareFloat(v float64, op Operator, raw string) bool {
	want, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false
	}
	switch op {
	case OpEqual:
		return v == want
	case OpNotEqual:
		return v != want
	case OpGreater:
		return v > want
	case OpLess:
		return v < want
	default:
		return false
	}
}

func compareTime(v time.Time, op Operator, raw string) bool {
	want, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	switch op {
	case OpEqual:
		return v.Equal(want)
	case OpNotEqual:
		return !v.Equal(want)
	case OpGreater:
		return v.After(want)
	case OpLess:
		return v.Before(want)
	default:
		return false
	}
}

func compareSlice(v []string, op Operator, raw string) bool {
	switch op {
	case OpContains, OpEqual:
		for _, el := range v {
			if el == raw {
				return true
			}
		}
		return false
	case OpNotEqual:
		for _, el := range v {
			if el == raw {
				return false
			}
		}
		return true
	default:
		return false
	}
}
