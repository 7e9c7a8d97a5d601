// Package server exposes the read model over HTTP: one GET operation per
// query kind, an event ingestion endpoint, and a websocket for live queries.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/events"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/projector"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/query"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/subscription"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view"
)

// Config for the HTTP API handler.
type Config struct {
	Query     *query.Service
	Projector *projector.Projector
	Registry  *subscription.Registry
	Auth      AuthConfig
	BasePath  string
	// SubscriptionBuffer sizes the per-subscription update channel.
	SubscriptionBuffer int
	Logger             *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the task view API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SubscriptionBuffer < 1 {
		cfg.SubscriptionBuffer = 32
	}

	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Task View API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTasks(group, cfg.Query)
	registerDataEntries(group, cfg.Query)
	registerEvents(group, cfg.Projector)
	if cfg.Registry != nil {
		registerSubscriptions(router, basePath, cfg)
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, storage.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "unsupported") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

func writeError(w http.ResponseWriter, err huma.StatusError) {
	ae, ok := err.(*apiError)
	if !ok {
		http.Error(w, err.Error(), err.GetStatus())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.status)
	json.NewEncoder(w).Encode(map[string]apiErrorBody{"error": ae.Body})
}

type pageParams struct {
	Filter []string `query:"filter" doc:"Filter criteria like assignee=zoro or task.priority>50"`
	Page   int      `query:"page" doc:"1-based page number"`
	Size   int      `query:"size" doc:"Page size; omit for all elements"`
	Sort   string   `query:"sort" doc:"Signed sort attribute, e.g. -dueDate"`
}

func (p pageParams) page() query.Page {
	return query.Page{Page: p.Page, Size: p.Size, Sort: p.Sort}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Status string `json:"status" example:"ok"`
		} `json:"body"`
	}, error) {
		resp := &struct {
			Body struct {
				Status string `json:"status" example:"ok"`
			} `json:"body"`
		}{}
		resp.Body.Status = "ok"
		return resp, nil
	})
}

func registerTasks(api huma.API, svc *query.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task by id",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body view.Task `json:"body"`
	}, error) {
		t, err := svc.TaskForID(ctx, query.TaskForIDQuery{ID: input.TaskID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body view.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks visible to the acting user",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		pageParams
	}) (*struct {
		Body query.TaskQueryResult `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := svc.TasksForUser(ctx, query.TasksForUserQuery{
			User:    user,
			Filters: input.Filter,
			Page:    input.page(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.TaskQueryResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-with-data-entries",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/data-entries",
		Summary:     "Get task joined with its correlated data entries",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body view.TaskWithDataEntries `json:"body"`
	}, error) {
		c, err := svc.TaskWithDataEntriesForID(ctx, query.TaskWithDataEntriesForIDQuery{ID: input.TaskID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body view.TaskWithDataEntries `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks-with-data-entries",
		Method:      http.MethodGet,
		Path:        "/tasks-with-data-entries",
		Summary:     "List visible tasks joined with their correlated data entries",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		pageParams
	}) (*struct {
		Body query.TasksWithDataEntriesQueryResult `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := svc.TasksWithDataEntriesForUser(ctx, query.TasksWithDataEntriesForUserQuery{
			User:    user,
			Filters: input.Filter,
			Page:    input.page(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.TasksWithDataEntriesQueryResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-application-tasks",
		Method:      http.MethodGet,
		Path:        "/applications/{application_name}/tasks",
		Summary:     "List tasks of one process application",
	}, func(ctx context.Context, input *struct {
		ApplicationName string `path:"application_name"`
		pageParams
	}) (*struct {
		Body query.TaskQueryResult `json:"body"`
	}, error) {
		res, err := svc.TasksForApplication(ctx, query.TasksForApplicationQuery{
			ApplicationName: input.ApplicationName,
			Page:            input.page(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.TaskQueryResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-counts",
		Method:      http.MethodGet,
		Path:        "/task-counts",
		Summary:     "Count tasks per process application",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []view.ApplicationWithTaskCount `json:"body"`
	}, error) {
		counts, err := svc.TaskCountsByApplication(ctx, query.TaskCountByApplicationQuery{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []view.ApplicationWithTaskCount `json:"body"`
		}{Body: counts}, nil
	})
}

func registerDataEntries(api huma.API, svc *query.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-data-entries",
		Method:      http.MethodGet,
		Path:        "/data-entries",
		Summary:     "List data entries visible to the acting user",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		pageParams
	}) (*struct {
		Body query.DataEntriesQueryResult `json:"body"`
	}, error) {
		user, authErr := userFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := svc.DataEntriesForUser(ctx, query.DataEntriesForUserQuery{
			User:    user,
			Filters: input.Filter,
			Page:    input.page(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.DataEntriesQueryResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "query-data-entries",
		Method:      http.MethodPost,
		Path:        "/data-entries/query",
		Summary:     "Query all data entries without authorization scope",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body query.DataEntriesQuery `json:"body"`
	}) (*struct {
		Body query.DataEntriesQueryResult `json:"body"`
	}, error) {
		res, err := svc.DataEntries(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.DataEntriesQueryResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-data-entries-of-type",
		Method:      http.MethodGet,
		Path:        "/data-entries/{entry_type}",
		Summary:     "List all data entries of one type",
	}, func(ctx context.Context, input *struct {
		EntryType string `path:"entry_type"`
	}) (*struct {
		Body query.DataEntriesQueryResult `json:"body"`
	}, error) {
		res, err := svc.DataEntryForIdentity(ctx, query.DataEntryForIdentityQuery{EntryType: input.EntryType})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.DataEntriesQueryResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-data-entry",
		Method:      http.MethodGet,
		Path:        "/data-entries/{entry_type}/{entry_id}",
		Summary:     "Get a data entry by identity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		EntryType string `path:"entry_type"`
		EntryID   string `path:"entry_id"`
	}) (*struct {
		Body query.DataEntriesQueryResult `json:"body"`
	}, error) {
		res, err := svc.DataEntryForIdentity(ctx, query.DataEntryForIdentityQuery{
			EntryType: input.EntryType,
			EntryID:   input.EntryID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body query.DataEntriesQueryResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, p *projector.Projector) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Apply a domain event to the read model",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body events.Envelope `json:"body"`
	}) (*struct{}, error) {
		event, err := input.Body.Decode()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if err := p.Handle(ctx, event); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
