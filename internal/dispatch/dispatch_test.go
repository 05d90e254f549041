package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/outreach/internal/completion"
	"github.com/kalambet/outreach/internal/interaction"
	"github.com/kalambet/outreach/internal/jobs"
	"github.com/kalambet/outreach/internal/processor"
)

type stubPublisher struct {
	base        string
	destination string
	body        []byte
	err         error
}

func (s *stubPublisher) BuildCallbackURL(path string) (string, error) {
	return s.base + path, nil
}

func (s *stubPublisher) Publish(_ context.Context, destination string, body []byte) (string, error) {
	s.destination = destination
	s.body = append([]byte(nil), body...)
	if s.err != nil {
		return "", s.err
	}
	return "msg-123", nil
}

type instantCompleter struct{}

func (instantCompleter) Complete(context.Context, completion.Request) (completion.Completion, error) {
	return completion.Completion{Text: "done", Model: "allam-2-7b"}, nil
}

func (instantCompleter) Model() string { return "allam-2-7b" }

func newTestDispatcher(t *testing.T, cfg Config, pub Publisher) (*Dispatcher, *jobs.Store, *jobs.Registry) {
	t.Helper()
	store := jobs.NewStore()
	registry := jobs.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proc := processor.New(instantCompleter{}, interaction.Disabled{}, store, logger)
	return New(cfg, pub, registry, store, proc, logger), store, registry
}

func drain(t *testing.T, registry *jobs.Registry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := registry.Wait(ctx); err != nil {
		t.Fatalf("registry did not drain: %v", err)
	}
}

func TestSubmitIcebreaker_LocalMode(t *testing.T) {
	d, store, registry := newTestDispatcher(t, Config{}, &stubPublisher{})

	ack, err := d.SubmitIcebreaker(context.Background(), processor.IcebreakerPayload{
		LinkedinBio: "bio", DeckText: "deck",
	})
	if err != nil {
		t.Fatalf("SubmitIcebreaker: %v", err)
	}

	if !strings.HasPrefix(ack.JobID, "local-") {
		t.Errorf("job id = %q, want local- prefix", ack.JobID)
	}
	if ack.Status != "queued" || ack.Mode != ModeLocal {
		t.Errorf("ack = %+v", ack)
	}
	if ack.QStashID != "" {
		t.Errorf("local ack should not carry a queue id: %+v", ack)
	}

	drain(t, registry)
	entry, ok := store.Get(ack.JobID)
	if !ok {
		t.Fatal("local job should be tracked in the store")
	}
	if entry.Status != jobs.StatusCompleted {
		t.Errorf("status = %s after drain", entry.Status)
	}
}

func TestSubmitIcebreaker_QueueMode(t *testing.T) {
	pub := &stubPublisher{base: "https://api.example.com"}
	d, _, _ := newTestDispatcher(t, Config{Token: "tok", CallbackBaseURL: "https://api.example.com"}, pub)

	ack, err := d.SubmitIcebreaker(context.Background(), processor.IcebreakerPayload{
		LinkedinBio: "bio", DeckText: "deck",
	})
	if err != nil {
		t.Fatalf("SubmitIcebreaker: %v", err)
	}

	// The queue message id stands in for the job id in the ack.
	if ack.JobID != "msg-123" {
		t.Errorf("job id = %q, want queue message id", ack.JobID)
	}
	if ack.Mode != ModeQStash {
		t.Errorf("mode = %q", ack.Mode)
	}
	if pub.destination != "https://api.example.com"+IcebreakerCallbackPath {
		t.Errorf("destination = %q", pub.destination)
	}

	var payload processor.IcebreakerPayload
	if err := json.Unmarshal(pub.body, &payload); err != nil {
		t.Fatalf("published body: %v", err)
	}
	if payload.JobID == "" || strings.HasPrefix(payload.JobID, "local-") {
		t.Errorf("embedded job id = %q", payload.JobID)
	}
}

func TestSubmitTranscript_QueueMode(t *testing.T) {
	pub := &stubPublisher{base: "https://api.example.com"}
	d, store, _ := newTestDispatcher(t, Config{Token: "tok", CallbackBaseURL: "https://api.example.com"}, pub)

	ack, err := d.SubmitTranscript(context.Background(), processor.TranscriptPayload{Transcript: "t"})
	if err != nil {
		t.Fatalf("SubmitTranscript: %v", err)
	}

	if ack.JobID == "" || ack.JobID == "msg-123" {
		t.Errorf("transcript ack should carry the stable job id, got %q", ack.JobID)
	}
	if ack.QStashID != "msg-123" {
		t.Errorf("qstash_id = %q", ack.QStashID)
	}
	if pub.destination != "https://api.example.com"+TranscriptCallbackPath {
		t.Errorf("destination = %q", pub.destination)
	}

	entry, ok := store.Get(ack.JobID)
	if !ok {
		t.Fatal("store entry should be pre-created")
	}
	if entry.Status != jobs.StatusQueued {
		t.Errorf("status = %s, want queued while the queue holds the job", entry.Status)
	}
}

func TestSubmitTranscript_PublishFailure(t *testing.T) {
	pub := &stubPublisher{base: "https://api.example.com", err: errors.New("queue down")}
	d, store, _ := newTestDispatcher(t, Config{Token: "tok", CallbackBaseURL: "https://api.example.com"}, pub)

	_, err := d.SubmitTranscript(context.Background(), processor.TranscriptPayload{Transcript: "t"})
	if err == nil {
		t.Fatal("publish failure should surface")
	}

	// The pre-created entry must not stay queued forever.
	var payload processor.TranscriptPayload
	if err := json.Unmarshal(pub.body, &payload); err != nil {
		t.Fatalf("published body: %v", err)
	}
	entry, ok := store.Get(payload.JobID)
	if !ok {
		t.Fatal("store entry should exist")
	}
	if entry.Status != jobs.StatusFailed {
		t.Errorf("status = %s, want failed after publish error", entry.Status)
	}
}

func TestMode_LoopbackForcesLocal(t *testing.T) {
	d, _, _ := newTestDispatcher(t, Config{Token: "tok", CallbackBaseURL: "http://localhost:8000"}, &stubPublisher{})
	if d.Mode() != ModeLocal {
		t.Errorf("mode = %q, want local for loopback callback URL", d.Mode())
	}
}

func TestSchedule_DropsDuplicates(t *testing.T) {
	d, store, registry := newTestDispatcher(t, Config{}, &stubPublisher{})

	body, _ := json.Marshal(processor.IcebreakerPayload{JobID: "job-9", LinkedinBio: "b", DeckText: "d"})

	if !d.Schedule(processor.KindIcebreaker, "job-9", body) {
		t.Fatal("first delivery should schedule")
	}
	if d.Schedule(processor.KindIcebreaker, "job-9", body) {
		t.Error("second delivery should be dropped")
	}

	drain(t, registry)
	entry, _ := store.Get("job-9")
	if entry.Status != jobs.StatusCompleted {
		t.Errorf("status = %s", entry.Status)
	}

	// Still a duplicate after completion.
	if d.Schedule(processor.KindIcebreaker, "job-9", body) {
		t.Error("delivery after completion should be dropped")
	}
}
