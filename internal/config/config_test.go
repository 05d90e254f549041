package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Groq.Model != "allam-2-7b" {
		t.Errorf("Model = %q, want allam-2-7b", cfg.Groq.Model)
	}
	if cfg.QStash.URL != "https://qstash.upstash.io" {
		t.Errorf("QStash.URL = %q", cfg.QStash.URL)
	}
	if cfg.QStash.VerifyDisabled {
		t.Error("VerifyDisabled should default to false")
	}
	if cfg.Supabase.Table != "llm_interactions" {
		t.Errorf("Table = %q", cfg.Supabase.Table)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail without GROQ_API_KEY")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("PORT", "9001")
	t.Setenv("CLIENT_URL", "https://app.example.com, https://staging.example.com")
	t.Setenv("QSTASH_SIGNING_KEY", "sig-legacy")
	t.Setenv("QSTASH_VERIFY", "false")
	t.Setenv("SUPABASE_ANON_KEY", "anon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Server.Port)
	}
	want := []string{"https://app.example.com", "https://staging.example.com"}
	if len(cfg.Server.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.Server.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.Server.AllowedOrigins[i], want[i])
		}
	}
	if cfg.QStash.CurrentSigningKey != "sig-legacy" {
		t.Errorf("CurrentSigningKey = %q, want legacy alias value", cfg.QStash.CurrentSigningKey)
	}
	if !cfg.QStash.VerifyDisabled {
		t.Error("QSTASH_VERIFY=false should disable verification")
	}
	if cfg.Supabase.Key != "anon" {
		t.Errorf("Supabase.Key = %q, want anon fallback", cfg.Supabase.Key)
	}
}

func TestLoad_SigningKeyPrefersCurrent(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("QSTASH_CURRENT_SIGNING_KEY", "sig-current")
	t.Setenv("QSTASH_SIGNING_KEY", "sig-legacy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QStash.CurrentSigningKey != "sig-current" {
		t.Errorf("CurrentSigningKey = %q, want sig-current", cfg.QStash.CurrentSigningKey)
	}
}

func TestLoad_BadPort(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("PORT", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("Load should fail on unparseable PORT")
	}
}
