package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/outreach/internal/processor"
)

// handleCallback receives a queue delivery: verify the signature over the raw
// body, parse strictly, then hand off to a background task and answer before
// the queue's response deadline. Duplicate deliveries are acknowledged with
// 202 as well, so the queue stops redelivering a job that is already running.
func handleCallback(deps Deps, kind processor.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		rawBody, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading body: %v", err)
			return
		}

		if err := deps.Verifier.VerifyCallback(r, rawBody); err != nil {
			httpError(w, http.StatusUnauthorized, "auth_error", "%v", err)
			return
		}

		jobID, body, err := parseCallbackPayload(kind, rawBody)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		scheduled := deps.Dispatcher.Schedule(kind, jobID, body)

		resp := map[string]any{"status": "processing"}
		if !scheduled {
			resp["status"] = "duplicate"
		}
		if kind == processor.KindTranscript {
			resp["job_id"] = jobID
		}
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// parseCallbackPayload validates the delivery strictly and guarantees a job
// id: a payload published without one gets a fresh id so execution and
// status tracking can proceed.
func parseCallbackPayload(kind processor.Kind, rawBody []byte) (jobID string, body []byte, err error) {
	switch kind {
	case processor.KindIcebreaker:
		var payload processor.IcebreakerPayload
		if err := decodeStrict(rawBody, &payload); err != nil {
			return "", nil, err
		}
		if payload.JobID == "" {
			payload.JobID = newCallbackJobID()
		}
		body, err := json.Marshal(payload)
		return payload.JobID, body, err
	case processor.KindTranscript:
		var payload processor.TranscriptPayload
		if err := decodeStrict(rawBody, &payload); err != nil {
			return "", nil, err
		}
		if payload.JobID == "" {
			payload.JobID = newCallbackJobID()
		}
		body, err := json.Marshal(payload)
		return payload.JobID, body, err
	}
	return "", nil, fmt.Errorf("unknown job kind %q", kind)
}

func newCallbackJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
