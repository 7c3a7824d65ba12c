// Command a3sist routes one prompt through the agent orchestration core:
// classify the intent, pick a handler, dispatch with retries, print the
// result. The doctor subcommand checks the surrounding setup without
// processing anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"a3sist/internal/domain"
	"a3sist/internal/infra/config"
	"a3sist/internal/infra/logger"
	"a3sist/internal/infra/tracer"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(args[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("a3sist", flag.ContinueOnError)
	fs.Usage = showUsage
	cfgPath := fs.String("config", defaultConfigPath(), "path to the YAML config file")
	prompt := fs.String("prompt", "", "request to classify, route, and dispatch")
	file := fs.String("file", "", "workspace file giving the request its context")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*prompt) == "" {
		showUsage()
		return fmt.Errorf("a prompt is required (-prompt)")
	}

	// 1. Config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, closeLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	// 3. Runtime: models, tools, handlers, routing core, journal, scheduler
	rt, cleanup, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cleanup(stopCtx)
	}()

	// 4. Start handlers
	if err := rt.service.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// 5. One request through the pipeline
	req := domain.NewRequest(*prompt)
	req.FilePath = *file

	res, err := rt.service.Process(ctx, req)
	printResult(os.Stdout, res)
	return err
}

// defaultConfigPath resolves the config file: the A3SIST_CONFIG env var
// when set, config.yaml in the working directory otherwise.
func defaultConfigPath() string {
	if p := os.Getenv("A3SIST_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// printResult writes the handler output followed by the routing metadata.
// res is nil when the request never reached a handler; the error already
// says why.
func printResult(w io.Writer, res *domain.DispatchResult) {
	if res == nil {
		return
	}

	if res.Output != nil && res.Output.Content != "" {
		fmt.Fprintln(w, res.Output.Content)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "--- routing ---")
	fmt.Fprintf(w, "request:    %s\n", res.RequestID)
	fmt.Fprintf(w, "target:     %s (%s)\n", res.Decision.Target, res.Decision.TargetType)
	fmt.Fprintf(w, "intent:     %s (confidence %.2f)\n", res.Decision.Intent, res.Decision.Confidence)
	fmt.Fprintf(w, "reason:     %s\n", res.Decision.Reason)
	fmt.Fprintf(w, "fallback:   %t\n", res.Decision.IsFallback)
	if res.Decision.FollowUpQuestion != "" {
		fmt.Fprintf(w, "follow-up:  %s\n", res.Decision.FollowUpQuestion)
	}
	fmt.Fprintf(w, "outcome:    %s after %d attempt(s) in %dms\n", res.Status, res.Attempts, res.LatencyMS)
	if res.Error != "" {
		fmt.Fprintf(w, "error:      %s\n", res.Error)
	}
	if res.Output != nil {
		if res.Output.Model != "" {
			fmt.Fprintf(w, "model:      %s\n", res.Output.Model)
		}
		if res.Output.Usage != nil {
			fmt.Fprintf(w, "tokens:     %d prompt, %d completion\n",
				res.Output.Usage.PromptTokens, res.Output.Usage.CompletionTokens)
		}
		if len(res.Output.ToolsUsed) > 0 {
			fmt.Fprintf(w, "tools:      %s\n", formatToolTraces(res.Output.ToolsUsed))
		}
	}
}

func formatToolTraces(traces []domain.ToolTrace) string {
	parts := make([]string, 0, len(traces))
	for _, tr := range traces {
		s := fmt.Sprintf("%s %dms", tr.Name, tr.Duration.Milliseconds())
		if tr.Failed {
			s += " (failed)"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}

func showUsage() {
	fmt.Print(`a3sist - intent-routed agent orchestration

USAGE:
    a3sist [FLAGS]           Process one request through the routing core
    a3sist doctor [FLAGS]    Check config, providers, tools, and state files

FLAGS:
    -config PATH    Config file (default: config.yaml or $A3SIST_CONFIG)
    -prompt TEXT    Request to classify, route, and dispatch (required)
    -file PATH      Workspace file the request is about
    -h, --help      Show this help

CONFIGURATION:
    A missing config file is fine; built-in defaults apply. Environment
    overrides use the A3SIST_ prefix, provider API keys come from
    A3SIST_MODEL_PROVIDER_<NAME>_API_KEY.

EXAMPLES:
    a3sist -prompt "explain what the dispatcher does"
    a3sist -prompt "fix the nil pointer crash" -file internal/server.go
    a3sist doctor -config deploy/config.yaml
`)
}
