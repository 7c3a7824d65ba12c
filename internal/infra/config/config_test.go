package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Service.Name != "a3sist" {
		t.Errorf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.Service.ConfidenceThreshold != 0.7 {
		t.Errorf("ConfidenceThreshold = %v, want 0.7", cfg.Service.ConfidenceThreshold)
	}
	if cfg.Service.DefaultRetry.MaxRetries != 3 {
		t.Errorf("DefaultRetry.MaxRetries = %d, want 3", cfg.Service.DefaultRetry.MaxRetries)
	}
	if cfg.Service.DefaultRetry.InitialDelay != 500*time.Millisecond {
		t.Errorf("DefaultRetry.InitialDelay = %v, want 500ms", cfg.Service.DefaultRetry.InitialDelay)
	}
	if _, ok := cfg.Provider("openai"); !ok {
		t.Error("default openai provider missing")
	}
	if cfg.Journal.Enabled || cfg.Scheduler.Enabled || cfg.Tracer.Enabled {
		t.Error("journal, scheduler and tracer must default to off")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Defaults do not validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Name != "a3sist" {
		t.Errorf("Service.Name = %q, want default", cfg.Service.Name)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
service:
  name: custom
  strict_registration: true
  history_path: /tmp/failures.jsonl
  confidence_threshold: 0.6
models:
  default_provider: local
  providers:
    - name: local
      base_url: http://localhost:8080/v1
      model: qwen2.5-coder
      timeout: 30s
handlers:
  - name: fixer
    type: code_fixer
    capabilities: [fix, error]
    languages: [go]
    retry:
      max_retries: 1
      initial_delay: 100ms
      multiplier: 2.0
logger:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "custom" {
		t.Errorf("Service.Name = %q, want custom", cfg.Service.Name)
	}
	if !cfg.Service.StrictRegistration {
		t.Error("StrictRegistration not parsed")
	}
	if cfg.Service.ConfidenceThreshold != 0.6 {
		t.Errorf("ConfidenceThreshold = %v, want 0.6", cfg.Service.ConfidenceThreshold)
	}
	if cfg.Models.DefaultProvider != "local" {
		t.Errorf("DefaultProvider = %q, want local", cfg.Models.DefaultProvider)
	}
	p, ok := cfg.Provider("local")
	if !ok {
		t.Fatal("local provider missing")
	}
	if p.Timeout != 30*time.Second {
		t.Errorf("provider timeout = %v, want 30s", p.Timeout)
	}
	if len(cfg.Handlers) != 1 || cfg.Handlers[0].Name != "fixer" {
		t.Fatalf("Handlers = %+v", cfg.Handlers)
	}
	if cfg.Handlers[0].Retry.MaxRetries != 1 {
		t.Errorf("handler retry = %+v", cfg.Handlers[0].Retry)
	}
	// Untouched sections keep their defaults.
	if cfg.Tools.TokenBudget != 2000 {
		t.Errorf("TokenBudget = %d, want default 2000", cfg.Tools.TokenBudget)
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.Format != "json" {
		t.Errorf("Logger = %+v", cfg.Logger)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("service:\n  name: x\n"), 0666); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// WriteFile's mode is masked by the process umask; force the
	// insecure mode this test depends on.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatalf("chmod config: %v", err)
	}

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "insecure permissions") {
		t.Fatalf("Load = %v, want permissions error", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("A3SIST_LOGGER_LEVEL", "debug")
	t.Setenv("A3SIST_MODELS_DEFAULT_PROVIDER", "openai")
	t.Setenv("A3SIST_MODEL_PROVIDER_OPENAI_API_KEY", "sk-test")
	t.Setenv("A3SIST_STRICT_REGISTRATION", "true")
	t.Setenv("A3SIST_JOURNAL_RETENTION_DAYS", "7")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if !cfg.Service.StrictRegistration {
		t.Error("StrictRegistration override not applied")
	}
	p, _ := cfg.Provider("openai")
	if p.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", p.APIKey)
	}
	if cfg.Journal.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.Journal.RetentionDays)
	}
}

func TestRetryFor(t *testing.T) {
	cfg := Defaults()
	own := RetryConfig{MaxRetries: 1, InitialDelay: time.Second, Multiplier: 3}

	with := HandlerConfig{Name: "a", Retry: &own}
	without := HandlerConfig{Name: "b"}

	if got := cfg.RetryFor(with); got.MaxRetries != 1 {
		t.Errorf("RetryFor(with) = %+v, want handler's own", got)
	}
	if got := cfg.RetryFor(without); got.MaxRetries != 3 {
		t.Errorf("RetryFor(without) = %+v, want service default", got)
	}
}
