package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseSubstitutesEnv(t *testing.T) {
	t.Setenv("TEST_GOOGLE_KEY", "g-key")
	doc := `{
		"llm": {"api_key": "${TEST_GOOGLE_KEY}", "model": "${TEST_UNSET_MODEL:gemini-2.0-flash}"},
		"database": {"url": "postgres://localhost/db", "query_timeout": "5s"},
		"memory": {"max_items": 25}
	}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LLM.APIKey != "g-key" {
		t.Errorf("api key %q, want g-key", cfg.LLM.APIKey)
	}
	if cfg.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("model %q, want default from substitution", cfg.LLM.Model)
	}
	if cfg.Database.QueryTimeout.Std() != 5*time.Second {
		t.Errorf("query timeout %v, want 5s", cfg.Database.QueryTimeout.Std())
	}
	if cfg.Memory.MaxItems != 25 {
		t.Errorf("max items %d, want 25", cfg.Memory.MaxItems)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port %d, want 8000", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.Model != "gemini-2.5-flash" {
		t.Errorf("llm defaults %q/%q", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.Memory.MaxItems != 1000 {
		t.Errorf("max items %d, want 1000", cfg.Memory.MaxItems)
	}
	if cfg.Database.MaxRows != 1000 {
		t.Errorf("max rows %d, want 1000", cfg.Database.MaxRows)
	}
	if cfg.Auth.CookieName != "vanna_email" || cfg.Auth.DefaultEmail != "guest@example.com" {
		t.Errorf("auth defaults %+v", cfg.Auth)
	}
	if len(cfg.Auth.AdminEmails) != 1 || cfg.Auth.AdminEmails[0] != "admin@example.com" {
		t.Errorf("admin emails %v", cfg.Auth.AdminEmails)
	}
}

func TestValidateReportsAllMissing(t *testing.T) {
	cfg, err := Parse([]byte(`{"server": {"log_level": "loud"}, "llm": {"provider": "mystery"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"GOOGLE_API_KEY", "DATABASE_URL", `"mystery"`, `"loud"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadFallsBackToDefaultDocument(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "k")
	t.Setenv("DATABASE_URL", "postgres://localhost/db")
	t.Setenv("MEMORY_MAX_ITEMS", "42")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "k" || cfg.Database.URL != "postgres://localhost/db" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.Memory.MaxItems != 42 {
		t.Errorf("max items %d, want 42", cfg.Memory.MaxItems)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"server": {"port": 9090}, "llm": {"provider": "openai", "api_key": "sk"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port %d, want 9090", cfg.Server.Port)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model %q, want openai default", cfg.LLM.Model)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"server": `), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFallbackDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"llm": {"api_key": "g", "fallbacks": [{"provider": "anthropic", "api_key": "a"}, {"provider": "openai"}]},
		"database": {"url": "postgres://localhost/db"}
	}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.LLM.Fallbacks) != 2 {
		t.Fatalf("got %d fallbacks, want 2", len(cfg.LLM.Fallbacks))
	}
	if m := cfg.LLM.Fallbacks[0].Model; m != "claude-3-5-haiku-latest" {
		t.Errorf("anthropic fallback model %q", m)
	}
	if m := cfg.LLM.Fallbacks[1].Model; m != "gpt-4o-mini" {
		t.Errorf("openai fallback model %q", m)
	}
	if cfg.LLM.Fallbacks[1].Timeout.Std() != 120*time.Second {
		t.Errorf("fallback timeout %v", cfg.LLM.Fallbacks[1].Timeout.Std())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}
