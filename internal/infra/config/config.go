package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Models    ModelsConfig    `yaml:"models"`
	Handlers  []HandlerConfig `yaml:"handlers,omitempty"`
	Tools     ToolsConfig     `yaml:"tools"`
	Journal   JournalConfig   `yaml:"journal"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ServiceConfig holds the routing core settings.
type ServiceConfig struct {
	Name                string      `yaml:"name"`
	StrictRegistration  bool        `yaml:"strict_registration"`  // duplicate handler names fail instead of replacing
	HistoryPath         string      `yaml:"history_path"`         // failure history JSONL file
	ConfidenceThreshold float64     `yaml:"confidence_threshold"` // classifier confidence cap
	DefaultRetry        RetryConfig `yaml:"default_retry"`
}

// RetryConfig mirrors the handler retry policy in config form.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	RetryableKinds []string      `yaml:"retryable_kinds"`
}

// ModelsConfig holds model provider settings: the primary, the failover
// chain, and the resilience wrappers applied to every provider.
type ModelsConfig struct {
	DefaultProvider string           `yaml:"default_provider"`
	Fallbacks       []string         `yaml:"fallbacks,omitempty"` // tried in order after the primary
	Providers       []ProviderConfig `yaml:"providers,omitempty"`
	CircuitBreaker  BreakerConfig    `yaml:"circuit_breaker"`
	RateLimit       RateLimitConfig  `yaml:"rate_limit"`
}

// ProviderConfig defines one OpenAI-compatible chat endpoint.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// BreakerConfig holds circuit breaker settings shared by all providers.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // failures before the breaker opens
	OpenTimeout         time.Duration `yaml:"open_timeout"`         // how long the breaker stays open
}

// RateLimitConfig holds client-side request rate limiting per provider.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// HandlerConfig declares one agent handler to register at startup.
type HandlerConfig struct {
	Name         string       `yaml:"name"`
	Type         string       `yaml:"type"`
	Capabilities []string     `yaml:"capabilities"`
	Languages    []string     `yaml:"languages,omitempty"`
	Extensions   []string     `yaml:"extensions,omitempty"`
	Provider     string       `yaml:"provider,omitempty"`      // model provider; empty uses the default
	SystemPrompt string       `yaml:"system_prompt,omitempty"`
	Tools        []string     `yaml:"tools,omitempty"` // tool names this handler may invoke
	Retry        *RetryConfig `yaml:"retry,omitempty"` // nil uses service.default_retry
}

// ToolsConfig holds the tool subsystem settings.
type ToolsConfig struct {
	WorkspaceRoot string            `yaml:"workspace_root"` // file tools never escape this directory
	MaxFileKB     int               `yaml:"max_file_kb"`    // per-file read cap
	TokenBudget   int               `yaml:"token_budget"`   // tool output budget when merging into prompts
	TokenModel    string            `yaml:"token_model"`    // tiktoken model used for counting
	MCPServers    []MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// MCPServerConfig defines one MCP server to bridge tools from.
type MCPServerConfig struct {
	Name      string        `yaml:"name"`
	Transport string        `yaml:"transport"` // "stdio" or "http"
	Command   string        `yaml:"command,omitempty"`
	Args      []string      `yaml:"args,omitempty"`
	URL       string        `yaml:"url,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// JournalConfig holds dispatch journal settings.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// SchedulerConfig holds maintenance scheduler settings.
type SchedulerConfig struct {
	Enabled bool         `yaml:"enabled"`
	Tasks   []TaskConfig `yaml:"tasks,omitempty"`
}

// TaskConfig defines one scheduled maintenance task.
type TaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration
	Action   string `yaml:"action"`
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout or noop
}

// Defaults returns the configuration used when no file and no overrides
// are present. The result runs entirely locally: journal, scheduler and
// tracing are off, tools stay inside the current directory.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:                "a3sist",
			HistoryPath:         filepath.Join("data", "failures.jsonl"),
			ConfidenceThreshold: 0.7,
			DefaultRetry: RetryConfig{
				MaxRetries:     3,
				InitialDelay:   500 * time.Millisecond,
				Multiplier:     2.0,
				RetryableKinds: []string{"rate_limit", "timeout", "provider", "context_overflow"},
			},
		},
		Models: ModelsConfig{
			DefaultProvider: "openai",
			Providers: []ProviderConfig{
				{
					Name:        "openai",
					BaseURL:     "https://api.openai.com/v1",
					Model:       "gpt-4o-mini",
					MaxTokens:   4096,
					Temperature: 0.2,
					Timeout:     60 * time.Second,
				},
			},
			CircuitBreaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
			},
			RateLimit: RateLimitConfig{
				Enabled: false,
				RPS:     2,
				Burst:   5,
			},
		},
		Tools: ToolsConfig{
			WorkspaceRoot: ".",
			MaxFileKB:     512,
			TokenBudget:   2000,
			TokenModel:    "gpt-4o",
		},
		Journal: JournalConfig{
			Enabled:       false,
			Path:          filepath.Join("data", "journal.db"),
			RetentionDays: 30,
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
			Tasks: []TaskConfig{
				{Name: "journal-prune", Schedule: "@hourly", Action: "journal_prune"},
				{Name: "metrics-report", Schedule: "10m", Action: "metrics_report"},
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus overrides apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps A3SIST_* env vars onto cfg. Provider API keys use
// A3SIST_MODEL_PROVIDER_<NAME>_API_KEY so keys stay out of the file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("A3SIST_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("A3SIST_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("A3SIST_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("A3SIST_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("A3SIST_MODELS_DEFAULT_PROVIDER"); v != "" {
		cfg.Models.DefaultProvider = v
	}
	if v := os.Getenv("A3SIST_HISTORY_PATH"); v != "" {
		cfg.Service.HistoryPath = v
	}
	if v := os.Getenv("A3SIST_STRICT_REGISTRATION"); v == "true" {
		cfg.Service.StrictRegistration = true
	}
	if v := os.Getenv("A3SIST_WORKSPACE_ROOT"); v != "" {
		cfg.Tools.WorkspaceRoot = v
	}
	if v := os.Getenv("A3SIST_JOURNAL_ENABLED"); v == "true" {
		cfg.Journal.Enabled = true
	}
	if v := os.Getenv("A3SIST_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("A3SIST_JOURNAL_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Journal.RetentionDays = n
		}
	}
	if v := os.Getenv("A3SIST_SCHEDULER_ENABLED"); v == "true" {
		cfg.Scheduler.Enabled = true
	}

	for i := range cfg.Models.Providers {
		envKey := "A3SIST_MODEL_PROVIDER_" + strings.ToUpper(cfg.Models.Providers[i].Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			cfg.Models.Providers[i].APIKey = v
		}
	}
}

// Provider returns the named provider config.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Models.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// RetryFor returns the retry settings for a handler, falling back to the
// service default when the handler declares none.
func (c *Config) RetryFor(h HandlerConfig) RetryConfig {
	if h.Retry != nil {
		return *h.Retry
	}
	return c.Service.DefaultRetry
}

// validatePermissions rejects config files writable or overly readable by
// other users. API keys may live in the file.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// 0600 and 0644 are fine.
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
