package api

import (
	"errors"
	"io"
	"net/http"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/outreach/internal/interaction"
	"github.com/kalambet/outreach/internal/pdftext"
	"github.com/kalambet/outreach/internal/processor"
)

func handleSubmitIcebreaker(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		payload := processor.IcebreakerPayload{
			LinkedinBio: r.FormValue("linkedinBio"),
			DeckText:    r.FormValue("deckText"),
		}
		if payload.LinkedinBio == "" || payload.DeckText == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "linkedinBio and deckText are required")
			return
		}

		ack, err := deps.Dispatcher.SubmitIcebreaker(r.Context(), payload)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "dispatching job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

func handleIcebreakerFromPDF(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}

		bio := r.FormValue("linkedinBio")
		if bio == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "linkedinBio is required")
			return
		}

		file, header, err := r.FormFile("pitchDeck")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "pitchDeck file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading pitchDeck: %v", err)
			return
		}

		deckText, err := pdftext.Extract(data)
		if err != nil {
			switch {
			case errors.Is(err, pdftext.ErrNoText):
				httpError(w, http.StatusUnprocessableEntity, "invalid_request_error", "%v", err)
			default:
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			}
			return
		}

		result, err := deps.Processor.IcebreakerFromDeck(r.Context(), bio, processor.DeckUpload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        len(data),
			Text:        deckText,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "generating icebreaker: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// handleListIcebreakers merges the history of both icebreaker workflows. The
// two routes are fetched concurrently; type=plain|pdf narrows to one of them.
func handleListIcebreakers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Log.Configured() {
			httpError(w, http.StatusServiceUnavailable, "not_configured", "interaction log is not configured")
			return
		}

		limit, offset := listParams(r)

		kind := r.URL.Query().Get("type")
		var routes []string
		switch kind {
		case "plain":
			routes = []string{processor.RouteIcebreaker}
		case "pdf":
			routes = []string{processor.RouteIcebreakerFromPDF}
		case "", "all":
			routes = []string{processor.RouteIcebreaker, processor.RouteIcebreakerFromPDF}
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "type must be plain, pdf, or all")
			return
		}

		pages := make([][]interaction.Row, len(routes))
		g, ctx := errgroup.WithContext(r.Context())
		for i, route := range routes {
			i, route := i, route
			g.Go(func() error {
				// Over-fetch so the merged page stays correct at any offset.
				pages[i] = bestEffortList(ctx, deps.Log, route, limit+offset, 0)
				return nil
			})
		}
		_ = g.Wait() // workers are best-effort and never return an error

		var merged []interaction.Row
		for _, page := range pages {
			merged = append(merged, page...)
		}
		sort.SliceStable(merged, func(i, j int) bool {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		})
		merged = paginate(merged, limit, offset)

		writeJSON(w, http.StatusOK, map[string]any{"items": merged, "count": len(merged)})
	}
}

func paginate(rows []interaction.Row, limit, offset int) []interaction.Row {
	if offset >= len(rows) {
		return []interaction.Row{}
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
