// Package sqlstore is the SQLite storage adapter. Candidate and authorization
// lists are stored as JSON arrays so visibility predicates can be pushed into
// the database with json_each instead of filtering rows in memory.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

// Tasks returns the task port backed by this store.
func (s *Store) Tasks() *TaskStore { return &TaskStore{db: s.DB} }

// DataEntries returns the data entry port backed by this store.
func (s *Store) DataEntries() *DataEntryStore { return &DataEntryStore{db: s.DB} }

const taskColumns = `id,task_definition_key,name,description,priority,assignee,owner,
candidate_users_json,candidate_groups_json,business_key,source_json,payload_json,correlations_json,
create_time,due_date,follow_up_date,deleted,delete_time,last_modified`

type TaskStore struct {
	db *sql.DB
}

func (ts *TaskStore) GetByID(ctx context.Context, id string) (view.Task, error) {
	rows, err := ts.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	if err != nil {
		return view.Task{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return view.Task{}, err
		}
		return view.Task{}, storage.ErrNotFound
	}
	return scanTask(rows)
}

func (ts *TaskStore) Save(ctx context.Context, t view.Task) error {
	candidateUsers, err := json.Marshal(emptySlice(t.CandidateUsers))
	if err != nil {
		return err
	}
	candidateGroups, err := json.Marshal(emptySlice(t.CandidateGroups))
	if err != nil {
		return err
	}
	source, err := json.Marshal(t.SourceReference)
	if err != nil {
		return err
	}
	payload, err := marshalMap(t.Payload)
	if err != nil {
		return err
	}
	correlations, err := marshalMap(t.Correlations)
	if err != nil {
		return err
	}
	_, err = ts.db.ExecContext(ctx, `INSERT INTO tasks(`+strings.ReplaceAll(taskColumns, "\n", "")+`,application_name)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
task_definition_key=excluded.task_definition_key, name=excluded.name, description=excluded.description,
priority=excluded.priority, assignee=excluded.assignee, owner=excluded.owner,
candidate_users_json=excluded.candidate_users_json, candidate_groups_json=excluded.candidate_groups_json,
business_key=excluded.business_key, source_json=excluded.source_json, payload_json=excluded.payload_json,
correlations_json=excluded.correlations_json, create_time=excluded.create_time, due_date=excluded.due_date,
follow_up_date=excluded.follow_up_date, deleted=excluded.deleted, delete_time=excluded.delete_time,
last_modified=excluded.last_modified, application_name=excluded.application_name`,
		t.ID, t.TaskDefinitionKey, t.Name, t.Description, t.Priority, t.Assignee, t.Owner,
		string(candidateUsers), string(candidateGroups), t.BusinessKey, string(source), string(payload), string(correlations),
		fmtTime(t.CreateTime), fmtTime(t.DueDate), fmtTime(t.FollowUpDate), boolInt(t.Deleted), fmtTime(t.DeleteTime),
		fmtTime(t.LastModified), t.ApplicationName())
	return err
}

func (ts *TaskStore) FindForUser(ctx context.Context, username string, groups []string) ([]view.Task, error) {
	clauses := []string{
		"assignee=?",
		"EXISTS (SELECT 1 FROM json_each(tasks.candidate_users_json) WHERE json_each.value=?)",
	}
	args := []any{username, username}
	if len(groups) > 0 {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(tasks.candidate_groups_json) WHERE json_each.value IN (%s))",
			placeholders(len(groups))))
		for _, g := range groups {
			args = append(args, g)
		}
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE deleted=0 AND (` + strings.Join(clauses, " OR ") + `) ORDER BY id`
	return ts.queryTasks(ctx, query, args...)
}

func (ts *TaskStore) FindForApplication(ctx context.Context, applicationName string) ([]view.Task, error) {
	return ts.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE deleted=0 AND application_name=? ORDER BY id`, applicationName)
}

func (ts *TaskStore) CountForApplication(ctx context.Context, applicationName string) (view.ApplicationWithTaskCount, error) {
	var count int
	err := ts.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE deleted=0 AND application_name=?`, applicationName).Scan(&count)
	if err != nil {
		return view.ApplicationWithTaskCount{}, err
	}
	return view.ApplicationWithTaskCount{ApplicationName: applicationName, TaskCount: count}, nil
}

func (ts *TaskStore) CountsByApplication(ctx context.Context) ([]view.ApplicationWithTaskCount, error) {
	rows, err := ts.db.QueryContext(ctx, `SELECT application_name, COUNT(*) FROM tasks WHERE deleted=0 GROUP BY application_name ORDER BY application_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []view.ApplicationWithTaskCount
	for rows.Next() {
		var c view.ApplicationWithTaskCount
		if err := rows.Scan(&c.ApplicationName, &c.TaskCount); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (ts *TaskStore) queryTasks(ctx context.Context, query string, args ...any) ([]view.Task, error) {
	rows, err := ts.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []view.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func scanTask(rows *sql.Rows) (view.Task, error) {
	var (
		t                                                  view.Task
		candidateUsers, candidateGroups                    string
		source, payload, correlations                      string
		createTime, dueDate, followUp, deleteTime, lastMod string
		deleted                                            int
	)
	err := rows.Scan(&t.ID, &t.TaskDefinitionKey, &t.Name, &t.Description, &t.Priority, &t.Assignee, &t.Owner,
		&candidateUsers, &candidateGroups, &t.BusinessKey, &source, &payload, &correlations,
		&createTime, &dueDate, &followUp, &deleted, &deleteTime, &lastMod)
	if err != nil {
		return view.Task{}, err
	}
	if err := json.Unmarshal([]byte(candidateUsers), &t.CandidateUsers); err != nil {
		return view.Task{}, fmt.Errorf("task %s: candidate users: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(candidateGroups), &t.CandidateGroups); err != nil {
		return view.Task{}, fmt.Errorf("task %s: candidate groups: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(source), &t.SourceReference); err != nil {
		return view.Task{}, fmt.Errorf("task %s: source: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return view.Task{}, fmt.Errorf("task %s: payload: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(correlations), &t.Correlations); err != nil {
		return view.Task{}, fmt.Errorf("task %s: correlations: %w", t.ID, err)
	}
	t.Deleted = deleted != 0
	if t.CreateTime, err = parseTime(createTime); err != nil {
		return view.Task{}, err
	}
	if t.DueDate, err = parseTime(dueDate); err != nil {
		return view.Task{}, err
	}
	if t.FollowUpDate, err = parseTime(followUp); err != nil {
		return view.Task{}, err
	}
	if t.DeleteTime, err = parseTime(deleteTime); err != nil {
		return view.Task{}, err
	}
	if t.LastModified, err = parseTime(lastMod); err != nil {
		return view.Task{}, err
	}
	return t, nil
}

const dataEntryColumns = `entry_type,entry_id,type,name,application_name,description,
state_processing_type,state_label,payload_json,authorizations_json,last_modified,revision`

type DataEntryStore struct {
	db *sql.DB
}

func (ds *DataEntryStore) GetByIdentity(ctx context.Context, id view.DataIdentity) (view.DataEntry, error) {
	rows, err := ds.db.QueryContext(ctx, `SELECT `+dataEntryColumns+` FROM data_entries WHERE entry_type=? AND entry_id=?`, id.EntryType, id.EntryID)
	if err != nil {
		return view.DataEntry{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return view.DataEntry{}, err
		}
		return view.DataEntry{}, storage.ErrNotFound
	}
	return scanDataEntry(rows)
}

func (ds *DataEntryStore) Save(ctx context.Context, e view.DataEntry) error {
	payload, err := marshalMap(e.Payload)
	if err != nil {
		return err
	}
	principals := make([]string, 0, len(e.Authorizations))
	for _, p := range e.Authorizations {
		principals = append(principals, p.String())
	}
	authorizations, err := json.Marshal(principals)
	if err != nil {
		return err
	}
	_, err = ds.db.ExecContext(ctx, `INSERT INTO data_entries(`+strings.ReplaceAll(dataEntryColumns, "\n", "")+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(entry_type,entry_id) DO UPDATE SET
type=excluded.type, name=excluded.name, application_name=excluded.application_name,
description=excluded.description, state_processing_type=excluded.state_processing_type,
state_label=excluded.state_label, payload_json=excluded.payload_json,
authorizations_json=excluded.authorizations_json, last_modified=excluded.last_modified,
revision=excluded.revision`,
		e.EntryType, e.EntryID, e.Type, e.Name, e.ApplicationName, e.Description,
		e.State.ProcessingType, e.State.State, string(payload), string(authorizations),
		fmtTime(e.LastModified), e.Revision)
	return err
}

func (ds *DataEntryStore) FindAll(ctx context.Context) ([]view.DataEntry, error) {
	return ds.queryEntries(ctx, `SELECT `+dataEntryColumns+` FROM data_entries ORDER BY entry_type, entry_id`)
}

func (ds *DataEntryStore) FindByType(ctx context.Context, entryType string) ([]view.DataEntry, error) {
	return ds.queryEntries(ctx, `SELECT `+dataEntryColumns+` FROM data_entries WHERE entry_type=? ORDER BY entry_type, entry_id`, entryType)
}

func (ds *DataEntryStore) FindForUser(ctx context.Context, username string, groups []string) ([]view.DataEntry, error) {
	user := auth.ActingUser{Username: username, Groups: groups}
	principals := user.Principals()
	args := make([]any, 0, len(principals))
	for _, p := range principals {
		args = append(args, p.String())
	}
	query := fmt.Sprintf(`SELECT `+dataEntryColumns+` FROM data_entries
WHERE json_array_length(authorizations_json)=0
   OR EXISTS (SELECT 1 FROM json_each(data_entries.authorizations_json) WHERE json_each.value IN (%s))
ORDER BY entry_type, entry_id`, placeholders(len(args)))
	return ds.queryEntries(ctx, query, args...)
}

func (ds *DataEntryStore) FindByIdentities(ctx context.Context, ids []view.DataIdentity) ([]view.DataEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(ids))
	args := make([]any, 0, 2*len(ids))
	for _, id := range ids {
		clauses = append(clauses, "(entry_type=? AND entry_id=?)")
		args = append(args, id.EntryType, id.EntryID)
	}
	query := `SELECT ` + dataEntryColumns + ` FROM data_entries WHERE ` + strings.Join(clauses, " OR ") + ` ORDER BY entry_type, entry_id`
	return ds.queryEntries(ctx, query, args...)
}

func (ds *DataEntryStore) queryEntries(ctx context.Context, query string, args ...any) ([]view.DataEntry, error) {
	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []view.DataEntry
	for rows.Next() {
		e, err := scanDataEntry(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func scanDataEntry(rows *sql.Rows) (view.DataEntry, error) {
	var (
		e                       view.DataEntry
		payload, authorizations string
		lastMod                 string
	)
	err := rows.Scan(&e.EntryType, &e.EntryID, &e.Type, &e.Name, &e.ApplicationName, &e.Description,
		&e.State.ProcessingType, &e.State.State, &payload, &authorizations, &lastMod, &e.Revision)
	if err != nil {
		return view.DataEntry{}, err
	}
	if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
		return view.DataEntry{}, fmt.Errorf("data entry %s: payload: %w", e.Identity(), err)
	}
	var principals []string
	if err := json.Unmarshal([]byte(authorizations), &principals); err != nil {
		return view.DataEntry{}, fmt.Errorf("data entry %s: authorizations: %w", e.Identity(), err)
	}
	for _, s := range principals {
		p, err := auth.ParsePrincipal(s)
		if err != nil {
			return view.DataEntry{}, fmt.Errorf("data entry %s: %w", e.Identity(), err)
		}
		e.Authorizations = append(e.Authorizations, p)
	}
	if e.LastModified, err = parseTime(lastMod); err != nil {
		return view.DataEntry{}, err
	}
	return e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func marshalMap[V any](m map[string]V) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
