package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/outreach/internal/interaction"
	"github.com/kalambet/outreach/internal/processor"
)

func handleAnalyzeTranscript(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var payload processor.TranscriptPayload
		if err := decodeJSON(r, &payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(payload.Transcript) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "transcript is required")
			return
		}

		result, err := deps.Processor.AnalyzeTranscript(r.Context(), payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "analyzing transcript: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleSubmitTranscript(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var payload processor.TranscriptPayload
		if err := decodeJSON(r, &payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(payload.Transcript) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "transcript is required")
			return
		}

		ack, err := deps.Dispatcher.SubmitTranscript(r.Context(), payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "dispatching job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

func handleGetTranscriptJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		entry, ok := deps.Store.Get(jobID)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "unknown job id %q", jobID)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func handleListTranscripts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Log.Configured() {
			httpError(w, http.StatusServiceUnavailable, "not_configured", "interaction log is not configured")
			return
		}

		limit, offset := listParams(r)
		rows := bestEffortList(r.Context(), deps.Log, processor.RouteTranscript, limit, offset)
		if rows == nil {
			rows = []interaction.Row{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
	}
}

func handleDeleteInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Log.Configured() {
			httpError(w, http.StatusServiceUnavailable, "not_configured", "interaction log is not configured")
			return
		}

		id := chi.URLParam(r, "id")
		n, err := deps.Log.Delete(r.Context(), id)
		if err != nil {
			// Best-effort surface: a backend failure looks like no match.
			n = 0
		}
		if n == 0 {
			httpError(w, http.StatusNotFound, "not_found", "no interaction with id %q", id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}
