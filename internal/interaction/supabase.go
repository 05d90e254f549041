package interaction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	insertTimeout = 6 * time.Second
	queryTimeout  = 8 * time.Second

	maxErrorBodySize = 2048
)

// SupabaseLog stores interactions through the Supabase PostgREST API.
type SupabaseLog struct {
	baseURL    string
	key        string
	table      string
	httpClient *http.Client
}

var _ Log = (*SupabaseLog)(nil)

// NewSupabaseLog builds a REST-backed log. baseURL is the project URL
// (https://<project>.supabase.co), key the service-role or anon key.
func NewSupabaseLog(baseURL, key, table string) *SupabaseLog {
	return &SupabaseLog{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		table:      table,
		httpClient: &http.Client{},
	}
}

func (l *SupabaseLog) Configured() bool {
	return l.baseURL != "" && l.key != "" && l.table != ""
}

func (l *SupabaseLog) endpoint() string {
	return l.baseURL + "/rest/v1/" + l.table
}

func (l *SupabaseLog) setHeaders(req *http.Request) {
	req.Header.Set("apikey", l.key)
	req.Header.Set("Authorization", "Bearer "+l.key)
	req.Header.Set("Accept", "application/json")
}

// Insert writes one row. Unlike reads, insert failures are returned to the
// caller: the processor retries them and treats exhaustion as terminal.
func (l *SupabaseLog) Insert(ctx context.Context, row Row) error {
	if !l.Configured() {
		return ErrNotConfigured
	}

	payload := map[string]any{
		"route":  row.Route,
		"model":  row.Model,
		"input":  row.Input,
		"output": row.Output,
	}
	for k, v := range row.Extra {
		payload[k] = v
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling row: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, l.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating insert request: %w", err)
	}
	l.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return fmt.Errorf("interaction insert status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return nil
}

// List fetches rows for a route, newest first.
func (l *SupabaseLog) List(ctx context.Context, route string, limit, offset int) ([]Row, error) {
	if !l.Configured() {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("select", "*")
	params.Set("route", "eq."+route)
	params.Set("order", "created_at.desc")
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	params.Set("offset", strconv.Itoa(clampOffset(offset)))

	reqCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, l.endpoint()+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating list request: %w", err)
	}
	l.setHeaders(req)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("interaction list status %d", resp.StatusCode)
	}

	var raw []map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding interactions: %w", err)
	}

	rows := make([]Row, 0, len(raw))
	for _, m := range raw {
		rows = append(rows, decodeRow(m))
	}
	return rows, nil
}

// Delete removes one row by id, returning the number of deleted rows.
func (l *SupabaseLog) Delete(ctx context.Context, id string) (int, error) {
	if !l.Configured() {
		return 0, ErrNotConfigured
	}
	if id == "" {
		return 0, nil
	}

	params := url.Values{}
	params.Set("id", "eq."+id)

	reqCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodDelete, l.endpoint()+"?"+params.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("creating delete request: %w", err)
	}
	l.setHeaders(req)
	// Ask for the deleted rows back so they can be counted.
	req.Header.Set("Prefer", "return=representation")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deleting interaction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("interaction delete status %d", resp.StatusCode)
	}

	var deleted []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&deleted); err != nil {
		// Minimal or empty body: the delete went through but the count is
		// unknown; report one row like the representation would.
		return 1, nil
	}
	return len(deleted), nil
}

// decodeRow maps a PostgREST result object onto Row, collecting unknown
// columns into Extra.
func decodeRow(m map[string]json.RawMessage) Row {
	var row Row
	row.Extra = make(map[string]any)

	for k, v := range m {
		switch k {
		case "id":
			// id columns may be uuid strings or numeric serials.
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				row.ID = s
			} else {
				row.ID = string(v)
			}
		case "created_at":
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				if ts, err := time.Parse(time.RFC3339, s); err == nil {
					row.CreatedAt = ts
				}
			}
		case "route":
			json.Unmarshal(v, &row.Route)
		case "model":
			json.Unmarshal(v, &row.Model)
		case "input":
			row.Input = v
		case "output":
			row.Output = v
		default:
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				row.Extra[k] = val
			}
		}
	}
	return row
}
