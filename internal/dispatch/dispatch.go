// Package dispatch decides how a submitted job runs: pushed through the
// QStash queue to this server's callback endpoint, or executed by a local
// background task when the queue is not configured or the server is not
// reachable from outside.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/outreach/internal/gateway"
	"github.com/kalambet/outreach/internal/jobs"
	"github.com/kalambet/outreach/internal/processor"
)

// Callback paths the queue delivers to. The HTTP layer mounts its handlers on
// the same constants so the published destination can never drift from the
// route table.
const (
	IcebreakerCallbackPath = "/api/v1/icebreakers/callback"
	TranscriptCallbackPath = "/api/v1/transcripts/callback"
)

const (
	ModeLocal  = "local"
	ModeQStash = "qstash"
)

// Publisher is the queue-side subset of the gateway the dispatcher uses.
type Publisher interface {
	BuildCallbackURL(path string) (string, error)
	Publish(ctx context.Context, destination string, body []byte) (string, error)
}

var _ Publisher = (*gateway.Gateway)(nil)

// Ack is the response body for a job submission.
type Ack struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Mode     string `json:"mode"`
	QStashID string `json:"qstash_id,omitempty"`
}

// Config carries the settings that pick the dispatch mode.
type Config struct {
	// Token is the queue credential; empty forces local mode.
	Token string
	// CallbackBaseURL is this server's external base URL. A loopback or
	// private address also forces local mode: the queue could not reach
	// the callback anyway.
	CallbackBaseURL string
}

type Dispatcher struct {
	cfg      Config
	pub      Publisher
	registry *jobs.Registry
	store    *jobs.Store
	proc     *processor.Processor
	logger   *slog.Logger
}

func New(cfg Config, pub Publisher, registry *jobs.Registry, store *jobs.Store, proc *processor.Processor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		pub:      pub,
		registry: registry,
		store:    store,
		proc:     proc,
		logger:   logger,
	}
}

// Mode reports which path submissions currently take.
func (d *Dispatcher) Mode() string {
	if d.cfg.Token == "" {
		return ModeLocal
	}
	base, err := gateway.NormalizeBaseURL(d.cfg.CallbackBaseURL)
	if err != nil || gateway.IsLoopbackOrPrivate(base) {
		return ModeLocal
	}
	return ModeQStash
}

// SubmitIcebreaker enqueues an icebreaker job. In queue mode the ack's job id
// is the queue message id; the self-generated id embedded in the payload is
// what the callback deduplicates on.
func (d *Dispatcher) SubmitIcebreaker(ctx context.Context, payload processor.IcebreakerPayload) (Ack, error) {
	mode := d.Mode()
	payload.JobID = newJobID(mode)

	body, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("encoding job payload: %w", err)
	}

	if mode == ModeLocal {
		d.runLocal("icebreaker", payload.JobID, processor.KindIcebreaker, body)
		return Ack{JobID: payload.JobID, Status: string(jobs.StatusQueued), Mode: ModeLocal}, nil
	}

	messageID, err := d.publish(ctx, IcebreakerCallbackPath, body)
	if err != nil {
		return Ack{}, err
	}
	d.logger.Info("job published", "job_id", payload.JobID, "kind", processor.KindIcebreaker, "qstash_id", messageID)
	return Ack{JobID: messageID, Status: string(jobs.StatusQueued), Mode: ModeQStash}, nil
}

// SubmitTranscript enqueues a transcript job. The store entry is created
// before dispatch so pollers can see the job in queued state immediately, and
// the ack's job id is stable across both modes.
func (d *Dispatcher) SubmitTranscript(ctx context.Context, payload processor.TranscriptPayload) (Ack, error) {
	mode := d.Mode()
	payload.JobID = newJobID(mode)

	body, err := json.Marshal(payload)
	if err != nil {
		return Ack{}, fmt.Errorf("encoding job payload: %w", err)
	}

	d.store.Create(payload.JobID)

	if mode == ModeLocal {
		d.runLocal("transcript", payload.JobID, processor.KindTranscript, body)
		return Ack{JobID: payload.JobID, Status: string(jobs.StatusQueued), Mode: ModeLocal}, nil
	}

	messageID, err := d.publish(ctx, TranscriptCallbackPath, body)
	if err != nil {
		d.store.Fail(payload.JobID, fmt.Sprintf("queueing failed: %v", err))
		return Ack{}, err
	}
	d.logger.Info("job published", "job_id", payload.JobID, "kind", processor.KindTranscript, "qstash_id", messageID)
	return Ack{JobID: payload.JobID, Status: string(jobs.StatusQueued), Mode: ModeQStash, QStashID: messageID}, nil
}

// Schedule runs an already-verified callback payload on a background task.
// Reports false when the job id is already processing or finished, which is
// how duplicate queue deliveries are dropped.
func (d *Dispatcher) Schedule(kind processor.Kind, jobID string, body []byte) bool {
	if !d.store.MarkProcessing(jobID) {
		d.logger.Info("duplicate delivery ignored", "job_id", jobID, "kind", kind)
		return false
	}
	raw := append([]byte(nil), body...)
	d.registry.Go(string(kind)+" "+jobID, func() {
		d.proc.Run(context.Background(), kind, raw)
	})
	return true
}

// runLocal mimics the queue round-trip in-process: the job moves to
// processing and runs detached from the submitting request.
func (d *Dispatcher) runLocal(name, jobID string, kind processor.Kind, body []byte) {
	d.store.MarkProcessing(jobID)
	d.registry.Go(name+" "+jobID, func() {
		d.proc.Run(context.Background(), kind, body)
	})
	d.logger.Info("job scheduled locally", "job_id", jobID, "kind", kind)
}

func (d *Dispatcher) publish(ctx context.Context, callbackPath string, body []byte) (string, error) {
	destination, err := d.pub.BuildCallbackURL(callbackPath)
	if err != nil {
		return "", err
	}
	return d.pub.Publish(ctx, destination, body)
}

// newJobID generates the job id the way the submitter expects: hex with a
// "local-" prefix when the job never leaves the process.
func newJobID(mode string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if mode == ModeLocal {
		return "local-" + id
	}
	return id
}
