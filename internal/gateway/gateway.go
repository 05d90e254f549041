// Package gateway handles the QStash push-queue integration: building the
// externally reachable callback URLs, publishing job payloads, and verifying
// the signature on inbound callbacks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultQStashURL = "https://qstash.upstash.io"
	publishTimeout   = 30 * time.Second

	maxErrorBodySize = 4096
)

// ErrNotConfigured indicates a required gateway setting (token or base URL)
// is missing. Surfaced to HTTP callers as a 500.
var ErrNotConfigured = errors.New("gateway not configured")

// Config carries the QStash and callback settings the gateway needs.
type Config struct {
	// Token authenticates publish calls to QStash.
	Token string
	// QStashURL is the queue's API endpoint; overridable for tests.
	QStashURL string
	// CallbackBaseURL is this server's externally reachable base URL.
	CallbackBaseURL string
	// CurrentSigningKey and NextSigningKey verify inbound callback
	// signatures. Both empty means verification is skipped (dev mode).
	CurrentSigningKey string
	NextSigningKey    string
	// VerifyDisabled switches signature verification off explicitly.
	VerifyDisabled bool
}

// Gateway is safe for concurrent use.
type Gateway struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Gateway {
	if cfg.QStashURL == "" {
		cfg.QStashURL = defaultQStashURL
	}
	cfg.QStashURL = strings.TrimRight(cfg.QStashURL, "/")
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: publishTimeout},
	}
}

// NormalizeBaseURL trims whitespace and trailing slashes, strips one layer of
// matching quotes (tolerating quoted .env entries), and prepends a scheme if
// missing: http:// for localhost-like hosts, https:// otherwise.
// Already-normalized input comes back unchanged.
func NormalizeBaseURL(raw string) (string, error) {
	v := strings.TrimRight(strings.TrimSpace(raw), "/")
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	if v == "" {
		return "", fmt.Errorf("%w: base URL is empty", ErrNotConfigured)
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		lower := strings.ToLower(v)
		if strings.HasPrefix(lower, "localhost") || strings.HasPrefix(lower, "127.0.0.1") || strings.HasPrefix(lower, "0.0.0.0") {
			v = "http://" + v
		} else {
			v = "https://" + v
		}
	}
	return v, nil
}

// BuildCallbackURL joins the configured base URL with path, inserting the
// leading slash when absent.
func (g *Gateway) BuildCallbackURL(path string) (string, error) {
	base, err := NormalizeBaseURL(g.cfg.CallbackBaseURL)
	if err != nil {
		return "", fmt.Errorf("%w: BACKEND_URL is not set", ErrNotConfigured)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path, nil
}

// IsLoopbackOrPrivate reports whether the URL's host is loopback, private, or
// otherwise unreachable from QStash. Parse failures count as local: the safe
// direction is to never hand such a URL to the remote queue.
func IsLoopbackOrPrivate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := u.Hostname()
	if host == "" {
		return true
	}
	if host == "localhost" || host == "ip6-localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()
}

type publishResponse struct {
	MessageID      string `json:"messageId"`
	MessageIDSnake string `json:"message_id"`
}

// Publish sends body to QStash for delivery to destination. The destination
// goes in the Upstash-Forward-Url header rather than the request path, which
// sidesteps URL-encoding ambiguity on the publish endpoint. Returns the
// queue's message id.
func (g *Gateway) Publish(ctx context.Context, destination string, body []byte) (string, error) {
	if g.cfg.Token == "" {
		return "", fmt.Errorf("%w: QSTASH_TOKEN is not set", ErrNotConfigured)
	}

	reqCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.cfg.QStashURL+"/v2/publish", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating publish request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Upstash-Forward-Url", destination)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("publishing to queue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", fmt.Errorf("queue publish failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var parsed publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding publish response: %w", err)
	}

	// Queue service versions disagree on the key casing; accept both.
	id := parsed.MessageID
	if id == "" {
		id = parsed.MessageIDSnake
	}
	if id == "" {
		return "", errors.New("publish response missing message id")
	}
	return id, nil
}
