package filter_test

import (
	"strings"
	"testing"
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/filter"
)

func TestToCriteriaParsing(t *testing.T) {
	tests := []struct {
		expr    string
		want    filter.Criterion
		wantErr string
	}{
		{expr: "task.priority>50", want: filter.Criterion{Path: "task.priority", Op: filter.OpGreater, Value: "50"}},
		{expr: "task.assignee!=kermit", want: filter.Criterion{Path: "task.assignee", Op: filter.OpNotEqual, Value: "kermit"}},
		{expr: "data.entryType=order", want: filter.Criterion{Path: "data.entryType", Op: filter.OpEqual, Value: "order"}},
		{expr: "task.name%approve", want: filter.Criterion{Path: "task.name", Op: filter.OpContains, Value: "approve"}},
		{expr: "amount<10", want: filter.Criterion{Path: "amount", Op: filter.OpLess, Value: "10"}},
		{expr: "task.nonsense=1", wantErr: "unknown task attribute"},
		{expr: "data.nonsense=1", wantErr: "unknown data attribute"},
		{expr: "no-operator-here", wantErr: "no operator"},
		{expr: "task.assignee=", wantErr: "empty comparison value"},
		{expr: "=orphanvalue", wantErr: "no operator"},
	}
	for _, tc := range tests {
		criteria, err := filter.ToCriteria([]string{tc.expr})
		if tc.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("%q: expected error containing %q, got %v", tc.expr, tc.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: %v", tc.expr, err)
			continue
		}
		if criteria[0] != tc.want {
			t.Errorf("%q: got %+v, want %+v", tc.expr, criteria[0], tc.want)
		}
	}
}

func TestMatchTaskOperators(t *testing.T) {
	due := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	task := view.Task{
		ID:              "task-1",
		Name:            "approve order",
		Priority:        60,
		Assignee:        "kermit",
		CandidateGroups: []string{"muppets", "avengers"},
		DueDate:         due,
		Payload:         map[string]any{"amount": 120.5, "urgent": true},
		SourceReference: view.SourceReference{InstanceID: "i-1", ApplicationName: "order-approval"},
	}

	tests := []struct {
		expr  string
		match bool
	}{
		{"task.assignee=kermit", true},
		{"task.assignee=gonzo", false},
		{"task.assignee!=gonzo", true},
		{"task.assignee!=kermit", false},
		{"task.name%approve", true},
		{"task.name%reject", false},
		{"task.priority>50", true},
		{"task.priority>60", false},
		{"task.priority<100", true},
		{"task.priority=60", true},
		{"task.applicationName=order-approval", true},
		{"task.candidateGroups%muppets", true},
		{"task.candidateGroups=avengers", true},
		{"task.candidateGroups!=fraggles", true},
		{"task.candidateGroups%fraggles", false},
		{"task.dueDate>2025-06-01T00:00:00Z", true},
		{"task.dueDate<2025-06-01T00:00:00Z", false},
		{"task.dueDate=2025-06-10T12:00:00Z", true},
		{"task.deleted=false", true},
		{"task.deleted=true", false},
		{"amount>100", true},
		{"amount<100", false},
		{"amount=120.5", true},
		{"urgent=true", true},
		{"urgent!=true", false},
		{"missing=1", false},
		// data criteria never match a bare task
		{"data.entryType=order", false},
	}
	for _, tc := range tests {
		criteria, err := filter.ToCriteria([]string{tc.expr})
		if err != nil {
			t.Fatalf("%q: %v", tc.expr, err)
		}
		if got := filter.MatchTask(task, criteria); got != tc.match {
			t.Errorf("%q: got %v, want %v", tc.expr, got, tc.match)
		}
	}
}

func TestMatchTaskCombinesCriteriaWithAnd(t *testing.T) {
	task := view.Task{ID: "task-1", Assignee: "kermit", Priority: 60}

	criteria, err := filter.ToCriteria([]string{"task.assignee=kermit", "task.priority>50"})
	if err != nil {
		t.Fatal(err)
	}
	if !filter.MatchTask(task, criteria) {
		t.Fatal("both criteria hold, task must match")
	}

	criteria, err = filter.ToCriteria([]string{"task.assignee=kermit", "task.priority>99"})
	if err != nil {
		t.Fatal(err)
	}
	if filter.MatchTask(task, criteria) {
		t.Fatal("one failing criterion must reject the task")
	}
}

func TestMatchDataEntryOperators(t *testing.T) {
	entry := view.DataEntry{
		EntryType: "order",
		EntryID:   "1",
		Name:      "Order 1",
		State:     view.DataEntryState{ProcessingType: "IN_PROGRESS", State: "In review"},
		Payload:   map[string]any{"total": 99.0},
		Revision:  4,
	}

	tests := []struct {
		expr  string
		match bool
	}{
		{"data.entryType=order", true},
		{"data.entryType!=invoice", true},
		{"data.name%Order", true},
		{"data.state=In review", true},
		{"data.processingType=IN_PROGRESS", true},
		{"data.revision>3", true},
		{"data.revision>4", false},
		{"total<100", true},
		// task criteria never match a bare data entry
		{"task.assignee=kermit", false},
	}
	for _, tc := range tests {
		criteria, err := filter.ToCriteria([]string{tc.expr})
		if err != nil {
			t.Fatalf("%q: %v", tc.expr, err)
		}
		if got := filter.MatchDataEntry(entry, criteria); got != tc.match {
			t.Errorf("%q: got %v, want %v", tc.expr, got, tc.match)
		}
	}
}

func TestMatchTaskWithDataEntriesRoutesByPrefix(t *testing.T) {
	composite := view.TaskWithDataEntries{
		Task: view.Task{ID: "task-1", Assignee: "kermit"},
		DataEntries: []view.DataEntry{
			{EntryType: "order", EntryID: "1"},
			{EntryType: "invoice", EntryID: "7", State: view.DataEntryState{State: "Paid"}},
		},
	}

	tests := []struct {
		filters []string
		match   bool
	}{
		// data criteria match when any correlated entry satisfies them
		{[]string{"data.entryType=invoice"}, true},
		{[]string{"data.state=Paid"}, true},
		{[]string{"data.entryType=payment"}, false},
		{[]string{"task.assignee=kermit", "data.entryType=order"}, true},
		{[]string{"task.assignee=gonzo", "data.entryType=order"}, false},
	}
	for _, tc := range tests {
		criteria, err := filter.ToCriteria(tc.filters)
		if err != nil {
			t.Fatalf("%v: %v", tc.filters, err)
		}
		if got := filter.MatchTaskWithDataEntries(composite, criteria); got != tc.match {
			t.Errorf("%v: got %v, want %v", tc.filters, got, tc.match)
		}
	}
}
