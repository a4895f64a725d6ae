package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/taskpilot/internal/feedback"
	"github.com/kalambet/taskpilot/internal/storage"
)

type AppDeps struct {
	Store *storage.Store
	Token string
}

// NewAppHandler returns the management API: conversations, classification
// records, feedback submission, and read access to the tracker data.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Get("/conversations", handleListConversations(deps))
	r.Get("/conversations/{id}", handleGetConversation(deps))
	r.Delete("/conversations/{id}", handleDeleteConversation(deps))
	r.Get("/classifications", handleListClassifications(deps))
	r.Post("/feedback", handlePostFeedback(deps))
	r.Get("/projects", handleListProjects(deps))
	r.Get("/tasks", handleListTasks(deps))

	return r
}

func handleListConversations(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r, 50)
		convs, err := deps.Store.ListConversations(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing conversations: %v", err)
			return
		}

		type item struct {
			ThreadID  string `json:"thread_id"`
			State     string `json:"state"`
			UpdatedAt string `json:"updated_at"`
		}
		out := make([]item, 0, len(convs))
		for _, c := range convs {
			out = append(out, item{ThreadID: c.ThreadID, State: c.State, UpdatedAt: c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00")})
		}
		writeJSON(w, map[string]any{"conversations": out})
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Store.GetConversation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(conv.SnapshotJSON))
	}
}

func handleDeleteConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteConversation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting conversation: %v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListClassifications(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r, 50)
		records, err := deps.Store.ListClassificationRecords(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing classifications: %v", err)
			return
		}
		writeJSON(w, map[string]any{"classifications": records})
	}
}

type FeedbackRequest struct {
	RecordID        string `json:"record_id"`
	WasCorrect      *bool  `json:"was_correct"`
	CorrectedIntent string `json:"corrected_intent"`
}

func handlePostFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.RecordID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "record_id is required")
			return
		}
		if req.WasCorrect == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "was_correct is required")
			return
		}
		if !*req.WasCorrect && req.CorrectedIntent == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "corrected_intent is required when was_correct is false")
			return
		}

		if _, err := deps.Store.GetClassificationRecord(req.RecordID); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "classification record not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading record: %v", err)
			return
		}

		jobID, err := feedback.Enqueue(deps.Store, feedback.Payload{
			RecordID:        req.RecordID,
			WasCorrect:      *req.WasCorrect,
			CorrectedIntent: req.CorrectedIntent,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "enqueueing feedback: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"job_id": jobID, "status": "queued"})
	}
}

func handleListProjects(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r, 50)
		projects, err := deps.Store.ListProjects(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing projects: %v", err)
			return
		}
		writeJSON(w, map[string]any{"projects": projects})
	}
}

func handleListTasks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := pagination(r, 100)
		filter := storage.TaskFilter{
			ProjectID: r.URL.Query().Get("project_id"),
			SprintID:  r.URL.Query().Get("sprint_id"),
			Assignee:  r.URL.Query().Get("assignee"),
			Status:    r.URL.Query().Get("status"),
		}
		tasks, err := deps.Store.ListTasks(filter, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing tasks: %v", err)
			return
		}
		writeJSON(w, map[string]any{"tasks": tasks})
	}
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
