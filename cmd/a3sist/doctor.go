package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"a3sist/internal/adapter/journal"
	"a3sist/internal/adapter/tool"
	"a3sist/internal/infra/config"
	"a3sist/internal/usecase"
)

// CheckStatus is the outcome of one doctor check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// CheckResult is what a single check reports.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string
}

// Check pairs a display name with the function that produces its result.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes every check against the loaded config and prints a
// report. It returns an error when any check fails so the exit code
// reflects the outcome.
func runDoctor(args []string) error {
	fs := flag.NewFlagSet("a3sist doctor", flag.ContinueOnError)
	cfgPath := fs.String("config", defaultConfigPath(), "path to the YAML config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, cfgErr := config.Load(*cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(*cfgPath, cfgErr)},
		{Name: "Model API keys", Fn: checkModelAPIKeys},
		{Name: "Provider reachability", Fn: checkProviderReachability},
		{Name: "Handlers", Fn: checkHandlers},
		{Name: "Tool workspace", Fn: checkToolWorkspace},
		{Name: "MCP servers", Fn: checkMCPServers},
		{Name: "Failure history", Fn: checkFailureHistory},
		{Name: "Dispatch journal", Fn: checkJournal},
	}

	fmt.Println("a3sist doctor")
	fmt.Println(strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, c := range checks {
		result := c.Fn(cfg)
		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), c.Name, result.Message)
		if result.Fix != "" && result.Status != StatusPass {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports how the config was obtained. Running on
// defaults is fine; a file that exists but does not load is not.
func checkConfigFile(cfgPath string, cfgErr error) func(cfg *config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Fix the YAML syntax or permissions of %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, running on defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("loaded %s", cfgPath)}
	}
}

func checkModelAPIKeys(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if len(cfg.Models.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no model providers configured",
			Fix:     "Add a providers entry under models in the config",
		}
	}

	var missing []string
	for _, p := range cfg.Models.Providers {
		if p.APIKey == "" {
			missing = append(missing, p.Name)
		}
	}
	switch {
	case len(missing) == 0:
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("API keys present for all %d provider(s)", len(cfg.Models.Providers)),
		}
	case len(missing) == len(cfg.Models.Providers):
		return CheckResult{
			Status:  StatusFail,
			Message: "no provider has an API key",
			Fix:     "Set A3SIST_MODEL_PROVIDER_<NAME>_API_KEY or api_key in the config",
		}
	default:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("missing API keys for: %s", strings.Join(missing, ", ")),
			Fix:     "Set A3SIST_MODEL_PROVIDER_<NAME>_API_KEY for the listed providers",
		}
	}
}

// checkProviderReachability probes the default provider's /models
// endpoint. Skipped when no API key is set, since an unauthenticated
// probe proves nothing about the configured setup.
func checkProviderReachability(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	pc, ok := cfg.Provider(cfg.Models.DefaultProvider)
	if !ok {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q is not configured", cfg.Models.DefaultProvider),
			Fix:     "Point models.default_provider at one of models.providers",
		}
	}
	if pc.APIKey == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("skipped: no API key for %q", pc.Name),
		}
	}
	if pc.BaseURL == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("provider %q has no base_url", pc.Name),
			Fix:     "Set base_url for the provider",
		}
	}

	endpoint := strings.TrimRight(pc.BaseURL, "/") + "/models"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("bad endpoint %s: %v", endpoint, err)}
	}
	req.Header.Set("Authorization", "Bearer "+pc.APIKey)

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check base_url and network access",
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%q reachable but the API key was rejected (status %d)", pc.Name, resp.StatusCode),
			Fix:     "Check the API key",
		}
	case resp.StatusCode >= 400:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%q answered with status %d", pc.Name, resp.StatusCode),
		}
	default:
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("%q reachable in %dms", pc.Name, time.Since(start).Milliseconds()),
		}
	}
}

// builtinTools are the tool names the process itself registers; anything
// else has to come from an MCP server.
var builtinTools = map[string]bool{
	"file_operations": true,
	"code_analysis":   true,
}

func checkHandlers(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if len(cfg.Handlers) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no handlers configured, the built-in assistant serves every intent",
		}
	}

	var problems []string
	hasMCP := len(cfg.Tools.MCPServers) > 0
	for _, hc := range cfg.Handlers {
		if len(hc.Capabilities) == 0 {
			problems = append(problems, fmt.Sprintf("handler %q declares no capabilities", hc.Name))
		}
		if hc.Provider != "" {
			if _, ok := cfg.Provider(hc.Provider); !ok {
				problems = append(problems, fmt.Sprintf("handler %q references unknown provider %q", hc.Name, hc.Provider))
			}
		}
		for _, t := range hc.Tools {
			if !builtinTools[t] && !hasMCP {
				problems = append(problems, fmt.Sprintf("handler %q names tool %q and no MCP server provides it", hc.Name, t))
			}
		}
	}
	if len(problems) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: strings.Join(problems, "; "),
			Fix:     "Fix the handler entries in the config",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d handler(s) configured", len(cfg.Handlers)),
	}
}

func checkToolWorkspace(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	ws, err := tool.NewWorkspace(cfg.Tools.WorkspaceRoot)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("workspace root: %v", err),
			Fix:     "Create the directory or change tools.workspace_root",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("workspace root %s", ws.Root())}
}

// checkMCPServers validates each server entry is runnable: the stdio
// command resolves on PATH, the http endpoint answers at all. Any HTTP
// status counts as answering; MCP endpoints routinely reject bare GETs.
func checkMCPServers(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if len(cfg.Tools.MCPServers) == 0 {
		return CheckResult{Status: StatusPass, Message: "no MCP servers configured"}
	}

	var problems []string
	for _, srv := range cfg.Tools.MCPServers {
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				problems = append(problems, fmt.Sprintf("%s: stdio server has no command", srv.Name))
				continue
			}
			if _, err := exec.LookPath(srv.Command); err != nil {
				problems = append(problems, fmt.Sprintf("%s: command %q not found", srv.Name, srv.Command))
			}
		case "http":
			if srv.URL == "" {
				problems = append(problems, fmt.Sprintf("%s: http server has no url", srv.Name))
				continue
			}
			if _, err := url.ParseRequestURI(srv.URL); err != nil {
				problems = append(problems, fmt.Sprintf("%s: bad url %q", srv.Name, srv.URL))
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
			resp, err := http.DefaultClient.Do(req)
			cancel()
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: cannot reach %s", srv.Name, srv.URL))
				continue
			}
			resp.Body.Close()
		default:
			problems = append(problems, fmt.Sprintf("%s: unsupported transport %q", srv.Name, srv.Transport))
		}
	}
	if len(problems) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: strings.Join(problems, "; "),
			Fix:     "Fix the mcp_servers entries or install the missing commands",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d MCP server(s) look runnable", len(cfg.Tools.MCPServers)),
	}
}

// checkFailureHistory loads the demotion history the router consults.
// Loading creates the file when missing, which doubles as a write check.
func checkFailureHistory(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if cfg.Service.HistoryPath == "" {
		return CheckResult{Status: StatusPass, Message: "failure history disabled, demotion is in-memory only"}
	}

	history := usecase.NewFailureHistory(cfg.Service.HistoryPath, nil)
	if err := history.Load(); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot load %s: %v", cfg.Service.HistoryPath, err),
			Fix:     "Fix or remove the history file",
		}
	}
	n := history.Len()
	if err := history.Close(); err != nil {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("close %s: %v", cfg.Service.HistoryPath, err)}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d failure record(s) at %s", n, cfg.Service.HistoryPath),
	}
}

func checkJournal(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if !cfg.Journal.Enabled {
		return CheckResult{Status: StatusPass, Message: "journal disabled"}
	}

	if dir := filepath.Dir(cfg.Journal.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("journal dir: %v", err),
				Fix:     "Check that the journal path is writable",
			}
		}
	}
	store, err := journal.New(cfg.Journal.Path, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Journal.Path, err),
			Fix:     "Check the path and that the directory is writable",
		}
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), 5)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot read %s: %v", cfg.Journal.Path, err),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("journal open at %s, %d recent entries", cfg.Journal.Path, len(entries)),
	}
}
