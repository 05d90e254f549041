// Package interaction persists one record per processed job: which workflow
// produced it, the model used, and the input/output payloads. Two backends
// exist: the Supabase REST API for deployments, and a local SQLite database
// for development.
package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotConfigured is returned when no persistence backend is available.
var ErrNotConfigured = errors.New("interaction log not configured")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Row is one logged interaction. Input and Output are JSON documents; Extra
// holds arbitrary additional columns merged into the stored row.
type Row struct {
	ID        string          `json:"id,omitempty"`
	CreatedAt time.Time       `json:"created_at,omitempty"`
	Route     string          `json:"route"`
	Model     string          `json:"model,omitempty"`
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output"`
	Extra     map[string]any  `json:"-"`
}

// Log is the persistence interface the processor and API depend on.
type Log interface {
	// Configured reports whether a real backend is wired; list/delete
	// endpoints answer 503 when it is false.
	Configured() bool
	Insert(ctx context.Context, row Row) error
	List(ctx context.Context, route string, limit, offset int) ([]Row, error)
	Delete(ctx context.Context, id string) (int, error)
}

// Disabled is the null backend used when neither Supabase nor a local data
// directory is configured.
type Disabled struct{}

var _ Log = Disabled{}

func (Disabled) Configured() bool { return false }

func (Disabled) Insert(context.Context, Row) error { return ErrNotConfigured }

func (Disabled) List(context.Context, string, int, int) ([]Row, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Delete(context.Context, string) (int, error) { return 0, ErrNotConfigured }

// clampLimit bounds a caller-supplied page size the same way for both backends.
func clampLimit(limit int) int {
	if limit < 0 {
		return 0
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func clampOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
