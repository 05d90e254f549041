package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.groq.com/openai/v1"
	defaultTimeout     = 120 * time.Second
	defaultTemperature = 0.3

	maxErrorBodySize = 4096
)

// ErrResponseShape is returned when the upstream response does not contain
// choices[0].message.content in any recognized form. The caller treats it as
// retryable since malformed responses are usually transient upstream hiccups.
var ErrResponseShape = errors.New("unexpected completion response shape")

// Client talks to a Groq (OpenAI-compatible) chat completion endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	timeout    time.Duration
}

// Request describes one chat completion call. Model defaults to the client's
// when empty; a nil Temperature means the default, so an explicit zero is
// still expressible.
type Request struct {
	System      string
	User        string
	Model       string
	Temperature *float64
}

// Temp is a convenience for building Request.Temperature literals.
func Temp(v float64) *float64 { return &v }

// Completion is the normalized result of a chat call. Downstream code only
// ever sees plain text; response-shape tolerance lives entirely here.
type Completion struct {
	Text  string
	Model string
}

// NewClient creates a client for the Groq API with the given key and default model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      model,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing
// or alternative OpenAI-compatible providers).
func NewClientWithBaseURL(apiKey, model, baseURL string) *Client {
	c := NewClient(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Model returns the client's default model name.
func (c *Client) Model() string {
	return c.model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete performs a single chat completion call. It does not retry; the job
// processor owns the retry loop so completion and persistence failures back
// off independently.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	payload := chatRequest{
		Model:       model,
		Temperature: temperature,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return Completion{}, fmt.Errorf("completion API status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Completion{}, fmt.Errorf("%w: decoding body: %v", ErrResponseShape, err)
	}

	text, err := extractContent(parsed)
	if err != nil {
		return Completion{}, err
	}

	respModel := parsed.Model
	if respModel == "" {
		respModel = model
	}
	return Completion{Text: text, Model: respModel}, nil
}

// extractContent pulls the assistant text out of the response, tolerating the
// two content encodings OpenAI-compatible providers produce: a plain string,
// or a list of typed content parts.
func extractContent(resp chatResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrResponseShape)
	}

	raw := resp.Choices[0].Message.Content
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("%w: choices[0].message.content missing", ErrResponseShape)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(p.Text)
		}
		return sb.String(), nil
	}

	return "", fmt.Errorf("%w: choices[0].message.content is neither string nor parts", ErrResponseShape)
}
