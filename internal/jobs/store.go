// Package jobs holds the in-process job state: a status store that clients
// can poll, and a registry that keeps background job goroutines referenced
// until they finish.
package jobs

import (
	"encoding/json"
	"sync"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// terminal reports whether no further transitions are allowed from s.
func terminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// Entry is one job's lifecycle record. Result is set iff completed, Error iff
// failed.
type Entry struct {
	ID        string          `json:"job_id"`
	Status    Status          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store maps job ids to entries for the lifetime of the process. Entries are
// never evicted: once an id is known, Get keeps answering for it. Transitions
// are monotonic; a terminal status is never overwritten, which is what makes
// duplicate queue deliveries harmless.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Create registers a job in the queued state. Creating an id that already
// exists is a no-op and reports false.
func (s *Store) Create(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		return false
	}
	now := s.now().UTC()
	s.entries[id] = &Entry{ID: id, Status: StatusQueued, CreatedAt: now, UpdatedAt: now}
	return true
}

// Get returns a copy of the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// MarkProcessing transitions queued -> processing, creating the entry if the
// id is unknown (a remote callback can arrive for a job this process never
// dispatched). Returns false without mutating when the job is already
// processing or terminal; callers use that as the duplicate-delivery check.
func (s *Store) MarkProcessing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		now := s.now().UTC()
		s.entries[id] = &Entry{ID: id, Status: StatusProcessing, CreatedAt: now, UpdatedAt: now}
		return true
	}
	if e.Status != StatusQueued {
		return false
	}
	e.Status = StatusProcessing
	e.UpdatedAt = s.now().UTC()
	return true
}

// Complete transitions to completed with the given result. Returns false if
// the id is unknown or the entry is already terminal.
func (s *Store) Complete(id string, result json.RawMessage) bool {
	return s.finish(id, StatusCompleted, result, "")
}

// Fail transitions to failed with the given error message. Returns false if
// the id is unknown or the entry is already terminal.
func (s *Store) Fail(id string, errMsg string) bool {
	return s.finish(id, StatusFailed, nil, errMsg)
}

func (s *Store) finish(id string, status Status, result json.RawMessage, errMsg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || terminal(e.Status) {
		return false
	}
	e.Status = status
	e.Result = result
	e.Error = errMsg
	e.UpdatedAt = s.now().UTC()
	return true
}
