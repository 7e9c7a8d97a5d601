package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

// parseSort splits a sort spec "<+|-><attribute>" into attribute and
// direction. A missing, malformed or unknown spec yields ok=false and the
// collection is left unsorted; a bad sort never fails a query.
func parseSort(spec string, known map[string]bool) (attr string, desc, ok bool) {
	if len(spec) < 2 {
		return "", false, false
	}
	attr = strings.TrimPrefix(spec[1:], taskPrefix)
	attr = strings.TrimPrefix(attr, dataPrefix)
	if !known[attr] {
		return "", false, false
	}
	switch spec[0] {
	case '+':
		return attr, false, true
	case '-':
		return attr, true, true
	default:
		return "", false, false
	}
}

// SortTasks sorts tasks in place according to the sort spec.
func SortTasks(tasks []view.Task, spec string) {
	attr, desc, ok := parseSort(spec, taskAttributes)
	if !ok {
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, _ := TaskAttribute(tasks[i], attr)
		b, _ := TaskAttribute(tasks[j], attr)
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
}

// SortTasksWithDataEntries sorts composites by a task attribute.
func SortTasksWithDataEntries(elements []view.TaskWithDataEntries, spec string) {
	attr, desc, ok := parseSort(spec, taskAttributes)
	if !ok {
		return
	}
	sort.SliceStable(elements, func(i, j int) bool {
		a, _ := TaskAttribute(elements[i].Task, attr)
		b, _ := TaskAttribute(elements[j].Task, attr)
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
}

// SortDataEntries sorts data entries in place according to the sort spec.
func SortDataEntries(entries []view.DataEntry, spec string) {
	attr, desc, ok := parseSort(spec, dataAttributes)
	if !ok {
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, _ := DataEntryAttribute(entries[i], attr)
		b, _ := DataEntryAttribute(entries[j], attr)
		if desc {
			return less(b, a)
		}
		return less(a, b)
	})
}

func less(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case int:
		bv, ok := b.(int)
		return ok && av < bv
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	case bool:
		bv, ok := b.(bool)
		return ok && !av && bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Before(bv)
	default:
		return false
	}
}
