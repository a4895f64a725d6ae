// Package api exposes the HTTP surface: the streaming chat endpoint, the
// management API, health, and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/taskpilot/internal/conversation"
	"github.com/kalambet/taskpilot/internal/stream"
)

const maxChatBodySize = 1 << 20 // 1MB

// TurnProcessor runs one conversation turn, emitting events as it goes.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, threadID, message string, emitter stream.Emitter) error
}

type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

type ChatDeps struct {
	Processor TurnProcessor
	Token     string
}

// NewChatHandler returns the public chat surface. POST /v1/chat streams the
// turn's events back as SSE; unauthenticated /health and /metrics ride along.
func NewChatHandler(deps ChatDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/v1/chat", handleChat(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleChat(deps ChatDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if req.ThreadID == "" {
			req.ThreadID = uuid.New().String()
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		emitter := stream.NewChannelEmitter(0)
		errCh := make(chan error, 1)
		go func() {
			errCh <- deps.Processor.ProcessTurn(r.Context(), req.ThreadID, req.Message, emitter)
			emitter.Close()
		}()

		// The only failure before the first event is acquisition; wait for
		// one or the other before committing to a status code.
		first, open := <-emitter.Events()
		if !open {
			err := <-errCh
			switch {
			case errors.Is(err, conversation.ErrBusy):
				httpError(w, http.StatusConflict, "busy_error", "a turn is already in flight for this thread")
			case err != nil:
				httpError(w, http.StatusInternalServerError, "api_error", "turn failed: %v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "turn produced no events")
			}
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Thread-ID", req.ThreadID)

		writeEvent(w, flusher, first)
		for ev := range emitter.Events() {
			writeEvent(w, flusher, ev)
		}

		if err := <-errCh; err != nil {
			slog.Warn("turn ended with error", "thread_id", req.ThreadID, "error", err)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev stream.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshaling event failed", "type", string(ev.Type), "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	flusher.Flush()
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
