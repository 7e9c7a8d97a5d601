package taskviewsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal task view HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                string            `json:"id"`
	TaskDefinitionKey string            `json:"taskDefinitionKey"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Priority          int               `json:"priority"`
	Assignee          string            `json:"assignee"`
	Owner             string            `json:"owner"`
	CandidateUsers    []string          `json:"candidateUsers"`
	CandidateGroups   []string          `json:"candidateGroups"`
	BusinessKey       string            `json:"businessKey"`
	CreateTime        time.Time         `json:"createTime"`
	DueDate           time.Time         `json:"dueDate"`
	FollowUpDate      time.Time         `json:"followUpDate"`
	Payload           map[string]any    `json:"payload"`
	Correlations      map[string]string `json:"correlations"`
	Deleted           bool              `json:"deleted"`
	LastModified      time.Time         `json:"lastModified"`
}

// DataEntryState captures the processing type and state label of an entry.
type DataEntryState struct {
	ProcessingType string `json:"processingType"`
	State          string `json:"state"`
}

// DataEntry represents the API business data entry model (partial).
type DataEntry struct {
	EntryType       string         `json:"entryType"`
	EntryID         string         `json:"entryId"`
	Type            string         `json:"type"`
	Name            string         `json:"name"`
	ApplicationName string         `json:"applicationName"`
	Description     string         `json:"description"`
	State           DataEntryState `json:"state"`
	Payload         map[string]any `json:"payload"`
	LastModified    time.Time      `json:"lastModified"`
	Revision        int64          `json:"revision"`
}

// TaskWithDataEntries joins a task with its correlated data entries.
type TaskWithDataEntries struct {
	Task        Task        `json:"task"`
	DataEntries []DataEntry `json:"dataEntries"`
}

// ApplicationWithTaskCount is a per-application task tally.
type ApplicationWithTaskCount struct {
	ApplicationName string `json:"applicationName"`
	TaskCount       int    `json:"taskCount"`
}

// TaskPage wraps paged task listings.
type TaskPage struct {
	Elements     []Task    `json:"elements"`
	TotalCount   int       `json:"totalCount"`
	LastModified time.Time `json:"lastModified"`
}

// TaskWithDataEntriesPage wraps paged composite listings.
type TaskWithDataEntriesPage struct {
	Elements   []TaskWithDataEntries `json:"elements"`
	TotalCount int                   `json:"totalCount"`
}

// DataEntryPage wraps paged data entry listings.
type DataEntryPage struct {
	Elements    []DataEntry `json:"elements"`
	TotalCount  int         `json:"totalCount"`
	MaxRevision int64       `json:"maxRevision"`
}

// ListOptions selects a page of a listing. Filters use the criteria syntax,
// e.g. "task.priority>50" or "data.entryType=order". Page numbers start at 1.
type ListOptions struct {
	Filters []string
	Page    int
	Size    int
	Sort    string
}

func (o ListOptions) encode() string {
	q := url.Values{}
	for _, f := range o.Filters {
		q.Add("filter", f)
	}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Size > 0 {
		q.Set("size", strconv.Itoa(o.Size))
	}
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// GetTask fetches a task by id. Completed or deleted tasks answer not-found.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v1/tasks/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Tasks lists tasks visible to the authenticated user.
func (c *Client) Tasks(ctx context.Context, opts ListOptions) (TaskPage, error) {
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, "v1/tasks"+opts.encode(), nil, &resp)
	return resp, err
}

// TaskWithData fetches a task joined with its correlated data entries.
func (c *Client) TaskWithData(ctx context.Context, id string) (TaskWithDataEntries, error) {
	var resp TaskWithDataEntries
	endpoint := fmt.Sprintf("v1/tasks/%s/data-entries", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TasksWithData lists visible tasks joined with their data entries.
func (c *Client) TasksWithData(ctx context.Context, opts ListOptions) (TaskWithDataEntriesPage, error) {
	var resp TaskWithDataEntriesPage
	err := c.do(ctx, http.MethodGet, "v1/tasks-with-data-entries"+opts.encode(), nil, &resp)
	return resp, err
}

// TasksForApplication lists tasks of one originating application.
func (c *Client) TasksForApplication(ctx context.Context, application string, opts ListOptions) (TaskPage, error) {
	var resp TaskPage
	endpoint := fmt.Sprintf("v1/applications/%s/tasks%s", url.PathEscape(application), opts.encode())
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// TaskCounts returns the task tally per application.
func (c *Client) TaskCounts(ctx context.Context) ([]ApplicationWithTaskCount, error) {
	var resp []ApplicationWithTaskCount
	err := c.do(ctx, http.MethodGet, "v1/task-counts", nil, &resp)
	return resp, err
}

// DataEntries lists data entries visible to the authenticated user.
func (c *Client) DataEntries(ctx context.Context, opts ListOptions) (DataEntryPage, error) {
	var resp DataEntryPage
	err := c.do(ctx, http.MethodGet, "v1/data-entries"+opts.encode(), nil, &resp)
	return resp, err
}

// DataEntriesForType lists all entries of one entry type.
func (c *Client) DataEntriesForType(ctx context.Context, entryType string, opts ListOptions) (DataEntryPage, error) {
	var resp DataEntryPage
	endpoint := fmt.Sprintf("v1/data-entries/%s%s", url.PathEscape(entryType), opts.encode())
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DataEntriesForIdentity lists the entry with the given identity, typically a
// single element.
func (c *Client) DataEntriesForIdentity(ctx context.Context, entryType, entryID string) (DataEntryPage, error) {
	var resp DataEntryPage
	endpoint := fmt.Sprintf("v1/data-entries/%s/%s", url.PathEscape(entryType), url.PathEscape(entryID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitEvent delivers an event envelope to the projection. The type field
// selects the payload shape, e.g. "task.created" or "data.updated".
func (c *Client) SubmitEvent(ctx context.Context, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	body := map[string]any{
		"type":    eventType,
		"payload": json.RawMessage(raw),
	}
	return c.do(ctx, http.MethodPost, "v1/events", body, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
