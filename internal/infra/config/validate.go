package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors so a broken file
// reports every problem at once.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateService(cfg, ve)
	validateModels(cfg, ve)
	validateHandlers(cfg, ve)
	validateTools(cfg, ve)
	validateJournal(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validFailureKinds = map[string]bool{
	"rate_limit":       true,
	"timeout":          true,
	"provider":         true,
	"context_overflow": true,
	"auth":             true,
	"invalid_input":    true,
	"tool":             true,
	"internal":         true,
}

func validateRetry(prefix string, r RetryConfig, ve *ValidationError) {
	if r.MaxRetries < 0 {
		ve.Add("%s.max_retries must be >= 0", prefix)
	}
	if r.InitialDelay < 0 {
		ve.Add("%s.initial_delay must be >= 0", prefix)
	}
	if r.Multiplier < 1.0 {
		ve.Add("%s.multiplier must be >= 1.0", prefix)
	}
	for _, k := range r.RetryableKinds {
		if !validFailureKinds[k] {
			ve.Add("%s.retryable_kinds: unknown kind %q", prefix, k)
		}
	}
}

func validateService(cfg *Config, ve *ValidationError) {
	if cfg.Service.Name == "" {
		ve.Add("service.name must not be empty")
	}
	if cfg.Service.ConfidenceThreshold <= 0 || cfg.Service.ConfidenceThreshold > 1 {
		ve.Add("service.confidence_threshold must be in (0, 1]")
	}
	validateRetry("service.default_retry", cfg.Service.DefaultRetry, ve)
}

func validateModels(cfg *Config, ve *ValidationError) {
	if cfg.Models.DefaultProvider == "" {
		ve.Add("models.default_provider must not be empty")
	}
	if len(cfg.Models.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	names := make(map[string]bool)
	for i, p := range cfg.Models.Providers {
		if p.Name == "" {
			ve.Add("models.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("models.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true
		names[p.Name] = true

		if p.BaseURL == "" {
			ve.Add("models.providers[%d] (%s): base_url must not be empty", i, p.Name)
		}
		if p.Model == "" {
			ve.Add("models.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Timeout < 0 {
			ve.Add("models.providers[%d] (%s): timeout must be >= 0", i, p.Name)
		}
	}

	if !names[cfg.Models.DefaultProvider] {
		ve.Add("models.default_provider %q does not match any configured provider", cfg.Models.DefaultProvider)
	}
	for _, f := range cfg.Models.Fallbacks {
		if !names[f] {
			ve.Add("models.fallbacks: %q does not match any configured provider", f)
		}
	}

	if cfg.Models.CircuitBreaker.Enabled && cfg.Models.CircuitBreaker.ConsecutiveFailures == 0 {
		ve.Add("models.circuit_breaker.consecutive_failures must be > 0 when enabled")
	}
	if cfg.Models.RateLimit.Enabled {
		if cfg.Models.RateLimit.RPS <= 0 {
			ve.Add("models.rate_limit.rps must be > 0 when enabled")
		}
		if cfg.Models.RateLimit.Burst <= 0 {
			ve.Add("models.rate_limit.burst must be > 0 when enabled")
		}
	}
}

func validateHandlers(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, h := range cfg.Handlers {
		if h.Name == "" {
			ve.Add("handlers[%d].name must not be empty", i)
			continue
		}
		if seen[h.Name] {
			ve.Add("handlers[%d]: duplicate handler name %q", i, h.Name)
		}
		seen[h.Name] = true

		if len(h.Capabilities) == 0 && len(h.Languages) == 0 {
			ve.Add("handlers[%d] (%s): declare at least one capability or language", i, h.Name)
		}
		if h.Provider != "" {
			if _, ok := cfg.Provider(h.Provider); !ok {
				ve.Add("handlers[%d] (%s): provider %q is not configured", i, h.Name, h.Provider)
			}
		}
		if h.Retry != nil {
			validateRetry(fmt.Sprintf("handlers[%d].retry", i), *h.Retry, ve)
		}
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	if cfg.Tools.WorkspaceRoot == "" {
		ve.Add("tools.workspace_root must not be empty")
	}
	if cfg.Tools.MaxFileKB <= 0 {
		ve.Add("tools.max_file_kb must be > 0")
	}
	if cfg.Tools.TokenBudget <= 0 {
		ve.Add("tools.token_budget must be > 0")
	}
	for i, m := range cfg.Tools.MCPServers {
		if m.Name == "" {
			ve.Add("tools.mcp_servers[%d].name must not be empty", i)
		}
		switch m.Transport {
		case "stdio":
			if m.Command == "" {
				ve.Add("tools.mcp_servers[%d] (%s): command is required for stdio transport", i, m.Name)
			}
		case "http":
			if m.URL == "" {
				ve.Add("tools.mcp_servers[%d] (%s): url is required for http transport", i, m.Name)
			}
		default:
			ve.Add("tools.mcp_servers[%d] (%s): transport %q is invalid (want stdio or http)", i, m.Name, m.Transport)
		}
	}
}

func validateJournal(cfg *Config, ve *ValidationError) {
	if !cfg.Journal.Enabled {
		return
	}
	if cfg.Journal.Path == "" {
		ve.Add("journal.path must not be empty when the journal is enabled")
	}
	if cfg.Journal.RetentionDays <= 0 {
		ve.Add("journal.retention_days must be > 0 when the journal is enabled")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, task := range cfg.Scheduler.Tasks {
		if task.Name == "" {
			ve.Add("scheduler.tasks[%d].name must not be empty", i)
		}
		if task.Schedule == "" {
			ve.Add("scheduler.tasks[%d] (%s): schedule must not be empty", i, task.Name)
		}
		if task.Action == "" {
			ve.Add("scheduler.tasks[%d] (%s): action must not be empty", i, task.Name)
		}
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want debug, info, warn, or error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q is invalid (want stdout or noop)", cfg.Tracer.Exporter)
	}
}
