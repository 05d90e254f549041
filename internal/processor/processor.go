// Package processor runs the LLM workflows behind each job: it builds the
// prompt, calls the completion API with retries, persists the interaction,
// and records the terminal job status.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/outreach/internal/completion"
	"github.com/kalambet/outreach/internal/interaction"
	"github.com/kalambet/outreach/internal/jobs"
)

const (
	RouteIcebreaker        = "/api/v1/generate-icebreaker"
	RouteIcebreakerFromPDF = "/api/v1/generate-icebreaker-from-pdf"
	RouteTranscript        = "/api/v1/analyze-transcript"
)

// Completer is the subset of the completion client the processor needs.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (completion.Completion, error)
	Model() string
}

var _ Completer = (*completion.Client)(nil)

// Result is the payload stored for a finished job and echoed to pollers.
type Result struct {
	Type   string `json:"type"`
	Result string `json:"result"`
}

// Processor executes jobs. The retry knobs are fields so tests can shrink
// them; production values come from New.
type Processor struct {
	completer Completer
	log       interaction.Log
	store     *jobs.Store
	logger    *slog.Logger

	attempts          int
	completionBackoff time.Duration
	persistBackoff    time.Duration
}

func New(completer Completer, log interaction.Log, store *jobs.Store, logger *slog.Logger) *Processor {
	return &Processor{
		completer:         completer,
		log:               log,
		store:             store,
		logger:            logger,
		attempts:          3,
		completionBackoff: time.Second,
		persistBackoff:    500 * time.Millisecond,
	}
}

// Run executes one job to a terminal state. The caller has already moved the
// job to processing; Run only performs the final Complete or Fail, so a
// duplicate delivery racing past the processing check still cannot overwrite
// a finished job.
func (p *Processor) Run(ctx context.Context, kind Kind, raw json.RawMessage) {
	var (
		jobID  string
		result Result
		err    error
	)

	switch kind {
	case KindIcebreaker:
		var payload IcebreakerPayload
		if err = strictUnmarshal(raw, &payload); err == nil {
			jobID = payload.JobID
			result, err = p.ProcessIcebreaker(ctx, payload)
		}
	case KindTranscript:
		var payload TranscriptPayload
		if err = strictUnmarshal(raw, &payload); err == nil {
			jobID = payload.JobID
			result, err = p.ProcessTranscript(ctx, payload)
		}
	default:
		err = fmt.Errorf("unknown job kind %q", kind)
	}

	if jobID == "" {
		if err != nil {
			p.logger.Error("job failed before an id could be read", "kind", kind, "error", err)
		}
		return
	}

	if err != nil {
		p.logger.Error("job failed", "job_id", jobID, "kind", kind, "error", err)
		p.store.Fail(jobID, err.Error())
		return
	}

	encoded, merr := json.Marshal(result)
	if merr != nil {
		p.store.Fail(jobID, merr.Error())
		return
	}
	p.store.Complete(jobID, encoded)
	p.logger.Info("job completed", "job_id", jobID, "kind", kind)
}

// ProcessIcebreaker runs the plain icebreaker workflow: bio plus pasted deck
// text in, cleaned outreach message out.
func (p *Processor) ProcessIcebreaker(ctx context.Context, payload IcebreakerPayload) (Result, error) {
	bio := strings.TrimSpace(payload.LinkedinBio)
	deck := strings.TrimSpace(payload.DeckText)
	if bio == "" || deck == "" {
		return Result{}, errors.New("linkedinBio and deckText are required")
	}

	comp, err := p.completeWithRetry(ctx, completion.Request{
		System: systemIcebreaker,
		User:   icebreakerPrompt(bio, deck, "Sales Deck Summary"),
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Type: "Icebreaker", Result: cleanIcebreaker(comp.Text)}

	input, _ := json.Marshal(IcebreakerPayload{LinkedinBio: payload.LinkedinBio, DeckText: payload.DeckText})
	if err := p.persist(ctx, interaction.Row{
		Route:  RouteIcebreaker,
		Model:  comp.Model,
		Input:  input,
		Output: mustMarshal(result),
	}); err != nil {
		return Result{}, err
	}
	return result, nil
}

// DeckUpload carries an uploaded pitch deck through the PDF workflow: the
// file metadata recorded alongside the interaction, and the extracted text.
type DeckUpload struct {
	Filename    string
	ContentType string
	Size        int
	Text        string
}

// IcebreakerFromDeck is the synchronous PDF workflow: summarize the extracted
// deck text, then generate the icebreaker from the bio plus that summary.
// The caller is waiting on the response, so the interaction is logged
// best-effort; a dead log backend must not discard the completion.
func (p *Processor) IcebreakerFromDeck(ctx context.Context, bio string, deck DeckUpload) (Result, error) {
	bio = strings.TrimSpace(bio)
	if bio == "" {
		return Result{}, errors.New("linkedinBio is required")
	}

	summary, err := p.SummarizeDeck(ctx, deck.Text)
	if err != nil {
		return Result{}, err
	}

	comp, err := p.completeWithRetry(ctx, completion.Request{
		System: systemIcebreaker,
		User:   icebreakerPrompt(bio, summary, "Sales Deck Summary (auto-generated)"),
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Type: "Icebreaker", Result: cleanIcebreaker(comp.Text)}

	input, _ := json.Marshal(map[string]any{
		"linkedinBio": bio,
		"pitchDeck": map[string]any{
			"filename":     deck.Filename,
			"content_type": deck.ContentType,
			"bytes":        deck.Size,
		},
		"extracted_text_preview": truncate(deck.Text, 1000),
		"deck_summary":           summary,
	})
	p.persistBestEffort(ctx, interaction.Row{
		Route:  RouteIcebreakerFromPDF,
		Model:  comp.Model,
		Input:  input,
		Output: mustMarshal(result),
	})
	return result, nil
}

// SummarizeDeck condenses raw extracted deck text into an executive summary
// for the PDF workflow. The intermediate summary is not persisted; only the
// final icebreaker row is.
func (p *Processor) SummarizeDeck(ctx context.Context, rawText string) (string, error) {
	rawText = strings.TrimSpace(rawText)
	if rawText == "" {
		return "", errors.New("deck text is empty")
	}

	comp, err := p.completeWithRetry(ctx, completion.Request{
		System:      systemDeckSummary,
		User:        deckSummaryPrompt(rawText),
		Temperature: completion.Temp(0.2),
	})
	if err != nil {
		return "", err
	}
	return collapseWhitespace(comp.Text), nil
}

// ProcessTranscript runs the meeting review workflow for a dispatched job.
// A record that cannot be persisted fails the job: for detached execution the
// log row is the only durable evidence the job ran.
func (p *Processor) ProcessTranscript(ctx context.Context, payload TranscriptPayload) (Result, error) {
	result, row, err := p.reviewTranscript(ctx, payload)
	if err != nil {
		return Result{}, err
	}
	if err := p.persist(ctx, row); err != nil {
		return Result{}, err
	}
	return result, nil
}

// AnalyzeTranscript is the synchronous variant: the caller receives the
// report directly, so logging is best-effort and never costs them the result.
func (p *Processor) AnalyzeTranscript(ctx context.Context, payload TranscriptPayload) (Result, error) {
	result, row, err := p.reviewTranscript(ctx, payload)
	if err != nil {
		return Result{}, err
	}
	p.persistBestEffort(ctx, row)
	return result, nil
}

func (p *Processor) reviewTranscript(ctx context.Context, payload TranscriptPayload) (Result, interaction.Row, error) {
	if strings.TrimSpace(payload.Transcript) == "" {
		return Result{}, interaction.Row{}, errors.New("transcript is required")
	}

	comp, err := p.completeWithRetry(ctx, completion.Request{
		System: systemTranscript,
		User:   transcriptPrompt(payload),
	})
	if err != nil {
		return Result{}, interaction.Row{}, err
	}

	result := Result{Type: "transcript", Result: strings.TrimSpace(comp.Text)}

	input, _ := json.Marshal(TranscriptPayload{
		Name:       payload.Name,
		Company:    payload.Company,
		Attendees:  payload.Attendees,
		Date:       payload.Date,
		Transcript: payload.Transcript,
	})
	row := interaction.Row{
		Route:  RouteTranscript,
		Model:  comp.Model,
		Input:  input,
		Output: mustMarshal(result),
		Extra: map[string]any{
			"company": payload.Company,
			"name":    payload.Name,
		},
	}
	return result, row, nil
}

// completeWithRetry calls the completion API up to p.attempts times with
// exponential backoff. The context cancels both the calls and the sleeps.
func (p *Processor) completeWithRetry(ctx context.Context, req completion.Request) (completion.Completion, error) {
	var lastErr error
	backoff := p.completionBackoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		comp, err := p.completer.Complete(ctx, req)
		if err == nil {
			return comp, nil
		}
		lastErr = err
		p.logger.Warn("completion attempt failed", "attempt", attempt, "error", err)
		if attempt < p.attempts {
			if err := sleep(ctx, backoff); err != nil {
				return completion.Completion{}, err
			}
			backoff *= 2
		}
	}
	return completion.Completion{}, fmt.Errorf("completion failed after %d attempts: %w", p.attempts, lastErr)
}

// persist writes the interaction row with its own retry loop. When no backend
// is configured the write is skipped. Exhausting the retries fails the job:
// a completion we could not record is treated as not delivered.
func (p *Processor) persist(ctx context.Context, row interaction.Row) error {
	if !p.log.Configured() {
		return nil
	}

	var lastErr error
	backoff := p.persistBackoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		err := p.log.Insert(ctx, row)
		if err == nil {
			return nil
		}
		lastErr = err
		p.logger.Warn("interaction insert failed", "route", row.Route, "attempt", attempt, "error", err)
		if attempt < p.attempts {
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("persisting interaction failed after %d attempts: %w", p.attempts, lastErr)
}

// persistBestEffort writes the row once and only logs on failure. Used by
// the synchronous endpoints, where the caller already holds the result and a
// lost history row is the lesser harm.
func (p *Processor) persistBestEffort(ctx context.Context, row interaction.Row) {
	if !p.log.Configured() {
		return
	}
	if err := p.log.Insert(ctx, row); err != nil {
		p.logger.Warn("interaction insert failed", "route", row.Route, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// strictUnmarshal rejects unknown fields so malformed callback bodies fail
// loudly instead of running with zero values.
func strictUnmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding job payload: %w", err)
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
