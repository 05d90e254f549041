// Package api exposes the HTTP surface: job submission, queue callbacks,
// synchronous generation endpoints, interaction history, and the poll
// endpoint for transcript jobs.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kalambet/outreach/internal/dispatch"
	"github.com/kalambet/outreach/internal/gateway"
	"github.com/kalambet/outreach/internal/interaction"
	"github.com/kalambet/outreach/internal/jobs"
	"github.com/kalambet/outreach/internal/processor"
)

const (
	maxJSONBodySize   = 1 << 20  // 1MB
	maxUploadBodySize = 10 << 20 // 10MB

	defaultListLimit = 50
)

// Verifier checks the queue signature on an inbound callback.
type Verifier interface {
	VerifyCallback(r *http.Request, rawBody []byte) error
}

var _ Verifier = (*gateway.Gateway)(nil)

type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Processor  *processor.Processor
	Verifier   Verifier
	Store      *jobs.Store
	Log        interaction.Log
	// AllowedOrigins feeds the CORS middleware; empty allows no
	// cross-origin browser calls.
	AllowedOrigins []string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}

	r.Get("/wake", handleWake)

	const apiPrefix = "/api/v1"

	r.Route(apiPrefix, func(r chi.Router) {
		r.Post("/icebreakers/jobs", handleSubmitIcebreaker(deps))
		r.Post("/generate-icebreaker-from-pdf", handleIcebreakerFromPDF(deps))
		r.Get("/icebreakers", handleListIcebreakers(deps))
		r.Delete("/icebreakers/{id}", handleDeleteInteraction(deps))

		r.Post("/analyze-transcript", handleAnalyzeTranscript(deps))
		r.Post("/transcripts/jobs", handleSubmitTranscript(deps))
		r.Get("/transcripts/jobs/{jobID}", handleGetTranscriptJob(deps))
		r.Get("/transcripts", handleListTranscripts(deps))
		r.Delete("/transcripts/{id}", handleDeleteInteraction(deps))

		// Derived from the dispatcher's constants so the mounted paths can
		// never drift from the destinations it publishes.
		r.Post(strings.TrimPrefix(dispatch.IcebreakerCallbackPath, apiPrefix), handleCallback(deps, processor.KindIcebreaker))
		r.Post(strings.TrimPrefix(dispatch.TranscriptCallbackPath, apiPrefix), handleCallback(deps, processor.KindTranscript))
	})

	return r
}

func handleWake(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "server is awake"})
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

// decodeJSON is the lenient decode for user-facing endpoints; callbacks use
// the strict variant instead.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// listParams reads limit/offset with the shared defaults. Bad values fall
// back rather than erroring; history listing is a convenience surface.
func listParams(r *http.Request) (limit, offset int) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := parsePositive(raw); err == nil {
			limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := parsePositive(raw); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func parsePositive(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value")
	}
	return n, nil
}

// bestEffortList queries the log, mapping any backend failure to an empty
// page. Only a missing backend is surfaced, as a 503 by the caller.
func bestEffortList(ctx context.Context, log interaction.Log, route string, limit, offset int) []interaction.Row {
	rows, err := log.List(ctx, route, limit, offset)
	if err != nil {
		return nil
	}
	return rows
}
