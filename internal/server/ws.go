package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/query"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/subscription"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

const wsWriteTimeout = 10 * time.Second

// subscribeFrame is the first client message on a live query socket.
type subscribeFrame struct {
	QueryType subscription.QueryType `json:"queryType"`
	Query     json.RawMessage        `json:"query"`
}

// updateFrame wraps every update pushed to the client.
type updateFrame struct {
	QueryType subscription.QueryType `json:"queryType"`
	Update    any                    `json:"update"`
}

func registerSubscriptions(router chi.Router, basePath string, cfg Config) {
	router.Get(path.Join(basePath, "subscriptions"), func(w http.ResponseWriter, r *http.Request) {
		user, authErr := userFromContext(r.Context())
		if authErr != nil {
			writeError(w, authErr)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			cfg.Logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "closed")

		ctx := r.Context()
		var frame subscribeFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "subscribe frame expected")
			return
		}
		fq, err := decodeFilterQuery(frame, user)
		if err != nil {
			conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}

		sub := cfg.Registry.Subscribe(fq, cfg.SubscriptionBuffer)
		defer sub.Dispose()
		cfg.Logger.Debug("live query subscribed",
			"subscription_id", sub.ID, "query_type", string(frame.QueryType), "user", user.Username)

		// reads only serve to detect the peer going away
		go func() {
			for {
				if _, _, err := conn.Read(ctx); err != nil {
					sub.Dispose()
					return
				}
			}
		}()

		for update := range sub.Updates() {
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(writeCtx, conn, updateFrame{QueryType: frame.QueryType, Update: update})
			cancel()
			if err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "subscription disposed")
	})
}

// decodeFilterQuery builds the live query from the subscribe frame. User
// scoped kinds are always bound to the authenticated user, never to a user
// named in the frame.
func decodeFilterQuery(frame subscribeFrame, user auth.ActingUser) (subscription.FilterQuery, error) {
	unmarshal := func(target any) error {
		if len(frame.Query) == 0 {
			return nil
		}
		return json.Unmarshal(frame.Query, target)
	}
	switch frame.QueryType {
	case subscription.QueryTaskForID:
		q := query.TaskForIDQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		return q, nil
	case subscription.QueryTasksForUser:
		q := query.TasksForUserQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		q.User = user
		return q, nil
	case subscription.QueryTasksForApplication:
		q := query.TasksForApplicationQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		return q, nil
	case subscription.QueryTaskWithDataEntriesForID:
		q := query.TaskWithDataEntriesForIDQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		return q, nil
	case subscription.QueryTasksWithDataEntriesForUser:
		q := query.TasksWithDataEntriesForUserQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		q.User = user
		return q, nil
	case subscription.QueryDataEntryForIdentity:
		q := query.DataEntryForIdentityQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		return q, nil
	case subscription.QueryDataEntriesForUser:
		q := query.DataEntriesForUserQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		q.User = user
		return q, nil
	case subscription.QueryDataEntries:
		q := query.DataEntriesQuery{}
		if err := unmarshal(&q); err != nil {
			return nil, err
		}
		return q, nil
	case subscription.QueryTaskCountByApplication:
		return query.TaskCountByApplicationQuery{}, nil
	default:
		return nil, fmt.Errorf("unknown query type %q", frame.QueryType)
	}
}
