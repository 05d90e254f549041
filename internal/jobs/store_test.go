package jobs

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestStore_Lifecycle(t *testing.T) {
	s := NewStore()

	if !s.Create("j1") {
		t.Fatal("Create should succeed for a new id")
	}
	if s.Create("j1") {
		t.Error("Create should report false for an existing id")
	}

	e, ok := s.Get("j1")
	if !ok {
		t.Fatal("Get should find j1")
	}
	if e.Status != StatusQueued {
		t.Errorf("Status = %q, want queued", e.Status)
	}

	if !s.MarkProcessing("j1") {
		t.Fatal("MarkProcessing from queued should succeed")
	}
	if !s.Complete("j1", json.RawMessage(`{"result":"ok"}`)) {
		t.Fatal("Complete from processing should succeed")
	}

	e, _ = s.Get("j1")
	if e.Status != StatusCompleted {
		t.Errorf("Status = %q, want completed", e.Status)
	}
	if string(e.Result) != `{"result":"ok"}` {
		t.Errorf("Result = %s", e.Result)
	}
}

func TestStore_MonotonicTerminal(t *testing.T) {
	s := NewStore()
	s.Create("j1")
	s.MarkProcessing("j1")
	s.Complete("j1", json.RawMessage(`{"n":1}`))

	// A redelivered callback must not reopen or overwrite a finished job.
	if s.MarkProcessing("j1") {
		t.Error("MarkProcessing must not transition out of a terminal state")
	}
	if s.Fail("j1", "late failure") {
		t.Error("Fail must not overwrite completed")
	}
	if s.Complete("j1", json.RawMessage(`{"n":2}`)) {
		t.Error("Complete must not overwrite a terminal entry")
	}

	e, _ := s.Get("j1")
	if e.Status != StatusCompleted || string(e.Result) != `{"n":1}` || e.Error != "" {
		t.Errorf("entry mutated after terminal state: %+v", e)
	}
}

func TestStore_DuplicateProcessing(t *testing.T) {
	s := NewStore()
	s.Create("j1")

	if !s.MarkProcessing("j1") {
		t.Fatal("first MarkProcessing should succeed")
	}
	if s.MarkProcessing("j1") {
		t.Error("second MarkProcessing should report duplicate")
	}
}

func TestStore_MarkProcessingUnknownID(t *testing.T) {
	s := NewStore()

	if !s.MarkProcessing("from-callback") {
		t.Fatal("MarkProcessing should create entries for unknown ids")
	}
	e, ok := s.Get("from-callback")
	if !ok || e.Status != StatusProcessing {
		t.Errorf("entry = %+v, ok = %v", e, ok)
	}
}

func TestStore_NoEviction(t *testing.T) {
	s := NewStore()
	s.Create("j1")
	s.MarkProcessing("j1")
	s.Fail("j1", "boom")

	e, ok := s.Get("j1")
	if !ok {
		t.Fatal("failed entries must stay resolvable")
	}
	if e.Error != "boom" {
		t.Errorf("Error = %q", e.Error)
	}
}

func TestStore_ConcurrentSameKey(t *testing.T) {
	s := NewStore()
	s.Create("j1")
	s.MarkProcessing("j1")

	// Simulate a duplicate delivery racing the original: exactly one
	// terminal write may win.
	var wg sync.WaitGroup
	wins := make(chan bool, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		wins <- s.Complete("j1", json.RawMessage(`{"winner":"a"}`))
	}()
	go func() {
		defer wg.Done()
		wins <- s.Fail("j1", "winner b")
	}()
	wg.Wait()
	close(wins)

	var winners int
	for w := range wins {
		if w {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("terminal writes won = %d, want exactly 1", winners)
	}
}
