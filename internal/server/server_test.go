package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/events"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/projector"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/query"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage/memstore"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/subscription"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Store  *memstore.Store
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	registry := subscription.NewRegistry(nil)
	emitter := subscription.NewEmitter(registry, store.Tasks(), store.DataEntries(), nil)
	proj := projector.New(store.Tasks(), store.DataEntries(), emitter, projector.Config{PayloadLevelLimit: -1}, nil)
	handler, err := New(Config{
		Query:     query.NewService(store.Tasks(), store.DataEntries()),
		Projector: proj,
		Registry:  registry,
		Auth:      AuthConfig{JWTSecret: testSecret, AllowUserHeaders: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Store:  store,
		client: &http.Client{},
		close: func() {
			registry.CloseAll()
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func asZoro() map[string]string {
	return map[string]string{"X-User": "zoro", "X-Groups": "muppets"}
}

func seedTaskEvent(t *testing.T, ts *testServer, id string) {
	t.Helper()
	env, err := events.Encode(events.TaskCreated{
		ID:       id,
		Name:     "approve order",
		Assignee: "zoro",
		SourceReference: view.SourceReference{
			InstanceID:      "i-" + id,
			ApplicationName: "order-approval",
		},
		Correlations: map[string]string{"order": "4711"},
		Time:         time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/events", env, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest: %d %s", resp.StatusCode, body)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
}

func TestIngestThenQueryTask(t *testing.T) {
	ts := newTestServer(t)
	seedTaskEvent(t, ts, "task-1")

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/task-1", nil, asZoro())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", resp.StatusCode, body)
	}
	var task view.Task
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Name != "approve order" || task.Assignee != "zoro" {
		t.Fatalf("unexpected task: %+v", task)
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/nope", nil, asZoro())
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing task: %d %s", resp.StatusCode, body)
	}
}

func TestListTasksRequiresUser(t *testing.T) {
	ts := newTestServer(t)
	seedTaskEvent(t, ts, "task-1")

	resp, _ := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous list: %d", resp.StatusCode)
	}

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks?filter=assignee=zoro", nil, asZoro())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, body)
	}
	var res query.TaskQueryResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 1 || len(res.Elements) != 1 {
		t.Fatalf("unexpected result: %s", body)
	}
}

func TestListTasksWithJWT(t *testing.T) {
	ts := newTestServer(t)
	seedTaskEvent(t, ts, "task-1")

	token, err := MintToken(testSecret, "zoro", []string{"muppets"}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list with jwt: %d %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("broken token: %d", resp.StatusCode)
	}
}

func TestTaskWithDataEntriesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	env, err := events.Encode(events.DataEntryCreated{
		EntryType: "order",
		EntryID:   "4711",
		Name:      "Order 4711",
		Revision:  1,
		Time:      time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/events", env, nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest entry: %d %s", resp.StatusCode, body)
	}
	seedTaskEvent(t, ts, "task-1")

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/tasks/task-1/data-entries", nil, asZoro())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("composite: %d %s", resp.StatusCode, body)
	}
	var composite view.TaskWithDataEntries
	if err := json.Unmarshal(body, &composite); err != nil {
		t.Fatal(err)
	}
	if len(composite.DataEntries) != 1 || composite.DataEntries[0].Name != "Order 4711" {
		t.Fatalf("join missing: %s", body)
	}
}

func TestTaskCountsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	seedTaskEvent(t, ts, "task-1")
	seedTaskEvent(t, ts, "task-2")

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/task-counts", nil, asZoro())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("counts: %d %s", resp.StatusCode, body)
	}
	var counts []view.ApplicationWithTaskCount
	if err := json.Unmarshal(body, &counts); err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0].TaskCount != 2 {
		t.Fatalf("unexpected counts: %s", body)
	}
}

func TestIngestRejectsUnknownEventType(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/events", map[string]any{
		"type":    "task.exploded",
		"payload": map[string]any{},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown type: %d %s", resp.StatusCode, body)
	}
}

func TestDataEntryIdentityEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for i, id := range []string{"1", "2"} {
		env, err := events.Encode(events.DataEntryCreated{
			EntryType: "order",
			EntryID:   id,
			Revision:  int64(i + 1),
			Time:      time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatal(err)
		}
		if resp, body := doJSON(t, ts.client, http.MethodPost, ts.URL+"/v1/events", env, nil); resp.StatusCode != http.StatusAccepted {
			t.Fatalf("ingest: %d %s", resp.StatusCode, body)
		}
	}

	resp, body := doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/data-entries/order/1", nil, asZoro())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("identity: %d %s", resp.StatusCode, body)
	}
	var res query.DataEntriesQueryResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Elements) != 1 || res.Elements[0].EntryID != "1" {
		t.Fatalf("unexpected identity result: %s", body)
	}

	resp, body = doJSON(t, ts.client, http.MethodGet, ts.URL+"/v1/data-entries/order", nil, asZoro())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("type listing: %d %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.TotalCount != 2 || res.MaxRevision != 2 {
		t.Fatalf("unexpected type result: %s", body)
	}
}
