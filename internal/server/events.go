package server

import (
	"context"
	"io"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"tutelliv/internal/domain"
	"tutelliv/internal/engine"
)

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Journal history",
		Description: "Persisted domain events, oldest first. The first page is the most recent window; resume with after=<last id>.",
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" minimum:"0"`
		Limit int   `query:"limit" minimum:"1" maximum:"500"`
	}) (*struct {
		Body EventsResponse `json:"body"`
	}, error) {
		if _, authErr := callerFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit == 0 {
			limit = 100
		}
		var (
			entries []domain.JournalEntry
			err     error
		)
		if input.After > 0 {
			entries, err = e.Journal.After(ctx, limit, input.After)
		} else {
			entries, err = e.Journal.Tail(ctx, limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventsResponse{Events: entries}
		if len(entries) > 0 {
			resp.NextID = entries[len(entries)-1].ID
		}
		return &struct {
			Body EventsResponse `json:"body"`
		}{Body: resp}, nil
	})
}

// registerEventStream wires the SSE endpoint straight on the chi router:
// huma buffers responses, which defeats server push.
func registerEventStream(r chi.Router, basePath string, e *engine.Engine, log zerolog.Logger) {
	route := path.Join("/", basePath, "events/stream")
	r.Get(route, func(w http.ResponseWriter, req *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}
		sub := e.Bus.Subscribe()
		defer e.Bus.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, ": connected\n\n")
		flusher.Flush()

		for {
			select {
			case <-req.Context().Done():
				return
			case frame, open := <-sub.C():
				if !open {
					return
				}
				if _, err := w.Write(append(append([]byte("data: "), frame...), '\n', '\n')); err != nil {
					log.Debug().Err(err).Msg("sse client gone")
					return
				}
				flusher.Flush()
			}
		}
	})
}
