package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the server needs, resolved once at startup.
// Components never read environment variables directly; they receive the
// values they need through constructors.
type Config struct {
	Server   ServerConfig
	Groq     GroqConfig
	QStash   QStashConfig
	Callback CallbackConfig
	Supabase SupabaseConfig
	Storage  StorageConfig
}

type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type QStashConfig struct {
	Token             string
	URL               string
	CurrentSigningKey string
	NextSigningKey    string
	VerifyDisabled    bool
}

type CallbackConfig struct {
	// BaseURL is the externally reachable URL of this server, used to build
	// the callback URLs handed to QStash.
	BaseURL string
}

type SupabaseConfig struct {
	URL   string
	Key   string
	Table string
}

type StorageConfig struct {
	// DataDir enables the local SQLite interaction log when Supabase is not
	// configured. Empty means no local persistence.
	DataDir string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8000,
			AllowedOrigins: []string{"http://localhost:8000", "http://127.0.0.1:3000"},
		},
		Groq: GroqConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "allam-2-7b",
		},
		QStash: QStashConfig{
			URL: "https://qstash.upstash.io",
		},
		Supabase: SupabaseConfig{
			Table: "llm_interactions",
		},
	}
}

// Load builds a Config from environment variables on top of defaults.
// Variable names match the deployment contract of the hosted service
// (GROQ_*, QSTASH_*, SUPABASE_*, BACKEND_URL, CLIENT_URL, PORT, DATA_DIR).
func Load() (Config, error) {
	cfg := defaults()

	if raw := os.Getenv("PORT"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing PORT=%q: %w", raw, err)
		}
		cfg.Server.Port = p
	}
	if raw := os.Getenv("CLIENT_URL"); raw != "" {
		cfg.Server.AllowedOrigins = splitOrigins(raw)
	}

	applyString(&cfg.Groq.APIKey, "GROQ_API_KEY")
	applyString(&cfg.Groq.BaseURL, "GROQ_BASE_URL")
	applyString(&cfg.Groq.Model, "GROQ_MODEL")

	applyString(&cfg.QStash.Token, "QSTASH_TOKEN")
	applyString(&cfg.QStash.URL, "QSTASH_URL")
	applyString(&cfg.QStash.CurrentSigningKey, "QSTASH_CURRENT_SIGNING_KEY")
	if cfg.QStash.CurrentSigningKey == "" {
		applyString(&cfg.QStash.CurrentSigningKey, "QSTASH_SIGNING_KEY")
	}
	applyString(&cfg.QStash.NextSigningKey, "QSTASH_NEXT_SIGNING_KEY")
	cfg.QStash.VerifyDisabled = isDisabled(os.Getenv("QSTASH_VERIFY"))

	applyString(&cfg.Callback.BaseURL, "BACKEND_URL")

	applyString(&cfg.Supabase.URL, "SUPABASE_URL")
	applyString(&cfg.Supabase.Key, "SUPABASE_SERVICE_ROLE")
	if cfg.Supabase.Key == "" {
		applyString(&cfg.Supabase.Key, "SUPABASE_ANON_KEY")
	}
	applyString(&cfg.Supabase.Table, "SUPABASE_TABLE")

	applyString(&cfg.Storage.DataDir, "DATA_DIR")

	if cfg.Groq.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Groq API key. Set it via environment variable GROQ_API_KEY")
	}

	return cfg, nil
}

func applyString(dst *string, env string) {
	if raw := strings.TrimSpace(os.Getenv(env)); raw != "" {
		*dst = raw
	}
}

// isDisabled reports whether a verify-style flag is explicitly switched off.
// Unset or unrecognized values leave verification on.
func isDisabled(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "false", "no":
		return true
	}
	return false
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
