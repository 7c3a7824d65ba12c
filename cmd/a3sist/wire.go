package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"a3sist/internal/adapter/agent"
	"a3sist/internal/adapter/journal"
	"a3sist/internal/adapter/model"
	"a3sist/internal/adapter/tool"
	"a3sist/internal/domain"
	"a3sist/internal/infra/config"
	"a3sist/internal/usecase"
	"a3sist/internal/usecase/eventbus"
	"a3sist/internal/usecase/scheduling"
)

// runtime bundles the wired components of one process.
type runtime struct {
	service      *usecase.Service
	registry     *usecase.Registry
	bus          *eventbus.Bus
	models       *model.Registry
	tools        *tool.Registry
	mcp          *tool.MCPBridge
	journal      *journal.Store
	journalUnsub func()
	scheduler    *scheduling.Scheduler
}

// buildRuntime wires everything from config: the model provider stack,
// the tool registry, the configured handlers, the routing core, and the
// optional journal and scheduler. The returned cleanup releases it all
// in reverse dependency order and tolerates partially built runtimes.
func buildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger) (*runtime, func(context.Context), error) {
	rt := &runtime{}
	fail := func(err error) (*runtime, func(context.Context), error) {
		rt.close(context.Background(), log)
		return nil, nil, err
	}

	// Event bus first: everything downstream publishes to it.
	rt.bus = eventbus.New(log)

	models, defaultProvider, err := model.BuildStack(cfg.Models, log)
	if err != nil {
		return fail(fmt.Errorf("models: %w", err))
	}
	rt.models = models

	tools, bridge, err := buildTools(ctx, cfg, log)
	if err != nil {
		return fail(fmt.Errorf("tools: %w", err))
	}
	rt.tools = tools
	rt.mcp = bridge

	counter := tool.NewTokenCounter(cfg.Tools.TokenModel, log)

	registry := usecase.NewRegistry(cfg.Service.StrictRegistration, log)
	if err := registerHandlers(cfg, models, defaultProvider, tools, counter, registry, log); err != nil {
		return fail(err)
	}
	rt.registry = registry

	history := usecase.NewFailureHistory(cfg.Service.HistoryPath, log)
	classifier := usecase.NewKeywordClassifier(cfg.Service.ConfidenceThreshold, log)
	router := usecase.NewRouter(registry, history, log)
	dispatcher := usecase.NewDispatcher(registry, history, usecase.NewErrorClassifier(), log)

	svc := usecase.NewService(classifier, router, dispatcher, registry, history, log)
	svc.SetEventBus(rt.bus)
	rt.service = svc

	if cfg.Journal.Enabled {
		if dir := filepath.Dir(cfg.Journal.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail(fmt.Errorf("journal dir: %w", err))
			}
		}
		store, err := journal.New(cfg.Journal.Path, log)
		if err != nil {
			return fail(fmt.Errorf("journal: %w", err))
		}
		rt.journal = store
		rt.journalUnsub = store.Subscribe(rt.bus)
	}

	if cfg.Scheduler.Enabled {
		rt.scheduler = buildScheduler(cfg, rt.journal, registry, log)
		if err := rt.scheduler.Start(ctx); err != nil {
			return fail(fmt.Errorf("scheduler: %w", err))
		}
	}

	cleanup := func(ctx context.Context) { rt.close(ctx, log) }
	return rt, cleanup, nil
}

// close releases everything wired so far. Order matters: the scheduler
// stops before the stores it prunes, the service shuts handlers down,
// the bus drains so the journal sees every completion event, and only
// then do the stores and server connections close.
func (rt *runtime) close(ctx context.Context, log *slog.Logger) {
	if rt.scheduler != nil {
		if err := rt.scheduler.Stop(); err != nil {
			log.Warn("scheduler stop", "error", err)
		}
	}
	if rt.service != nil {
		if err := rt.service.Shutdown(ctx); err != nil {
			log.Warn("service shutdown", "error", err)
		}
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.journalUnsub != nil {
		rt.journalUnsub()
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			log.Warn("journal close", "error", err)
		}
	}
	if rt.mcp != nil {
		rt.mcp.Close()
	}
}

// buildTools assembles the tool registry: the built-in workspace tools
// plus whatever the configured MCP servers export. MCP failures degrade
// to warnings; the built-ins must register.
func buildTools(ctx context.Context, cfg *config.Config, log *slog.Logger) (*tool.Registry, *tool.MCPBridge, error) {
	ws, err := tool.NewWorkspace(cfg.Tools.WorkspaceRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: %w", err)
	}

	reg := tool.NewRegistry(log)
	builtins := []domain.Tool{
		tool.NewFileOpsTool(ws, cfg.Tools.MaxFileKB, log),
		tool.NewCodeScanTool(ws, log),
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return nil, nil, fmt.Errorf("register tool %q: %w", t.Name(), err)
		}
	}

	if len(cfg.Tools.MCPServers) == 0 {
		return reg, nil, nil
	}

	bridge, err := tool.NewMCPBridge(ctx, cfg.Tools.MCPServers, log)
	if err != nil {
		log.Warn("mcp bridge unavailable, continuing without it", "error", err)
		return reg, nil, nil
	}
	for _, t := range bridge.Tools() {
		if err := reg.Register(t); err != nil {
			log.Warn("mcp tool skipped", "tool", t.Name(), "error", err)
		}
	}
	return reg, bridge, nil
}

// registerHandlers builds a model agent per configured handler and
// registers it. An empty handler list gets the built-in assistant so a
// bare config still dispatches.
func registerHandlers(
	cfg *config.Config,
	models *model.Registry,
	defaultProvider domain.ModelProvider,
	tools *tool.Registry,
	counter *tool.TokenCounter,
	registry *usecase.Registry,
	log *slog.Logger,
) error {
	handlers := cfg.Handlers
	if len(handlers) == 0 {
		handlers = defaultHandlers()
		log.Info("no handlers configured, registering the built-in assistant")
	}

	for _, hc := range handlers {
		provider := defaultProvider
		if hc.Provider != "" {
			p, err := models.Get(hc.Provider)
			if err != nil {
				return fmt.Errorf("handler %q: %w", hc.Name, err)
			}
			provider = p
		}

		h := agent.NewModelAgent(agent.Config{
			Name:         hc.Name,
			SystemPrompt: hc.SystemPrompt,
			Tools:        hc.Tools,
			TokenBudget:  cfg.Tools.TokenBudget,
		}, provider, tools, counter, log)

		desc := domain.HandlerDescriptor{
			Name:         hc.Name,
			Type:         handlerType(hc.Type),
			Capabilities: hc.Capabilities,
			Languages:    hc.Languages,
			Extensions:   hc.Extensions,
		}
		if err := registry.Register(desc, h, retryPolicy(cfg.RetryFor(hc))); err != nil {
			return fmt.Errorf("register handler %q: %w", hc.Name, err)
		}
	}
	return nil
}

func handlerType(t string) string {
	if t == "" {
		return "agent"
	}
	return t
}

// defaultHandlers covers every classifier intent with one general
// assistant. Unknown intents reach it through the router's fallback.
func defaultHandlers() []config.HandlerConfig {
	return []config.HandlerConfig{
		{
			Name: "assistant",
			Type: "agent",
			Capabilities: []string{
				domain.IntentFixError,
				domain.IntentRefactor,
				domain.IntentAnalyze,
				domain.IntentExplain,
				domain.IntentGenerate,
				domain.IntentDocument,
				domain.IntentTest,
			},
			SystemPrompt: "You are a pragmatic software assistant. Answer directly, show code when it helps, and say so when you are unsure.",
			Tools:        []string{"file_operations", "code_analysis"},
		},
	}
}

// retryPolicy converts retry settings from their config form.
func retryPolicy(rc config.RetryConfig) domain.RetryPolicy {
	kinds := make([]domain.FailureKind, 0, len(rc.RetryableKinds))
	for _, k := range rc.RetryableKinds {
		kinds = append(kinds, domain.FailureKind(k))
	}
	return domain.RetryPolicy{
		MaxRetries:     rc.MaxRetries,
		InitialDelay:   rc.InitialDelay,
		Multiplier:     rc.Multiplier,
		RetryableKinds: kinds,
	}
}

// buildScheduler registers the maintenance actions and the configured
// tasks. Journal pruning is only available when the journal is on; a
// task naming an unavailable action is skipped with a warning.
func buildScheduler(cfg *config.Config, store *journal.Store, registry *usecase.Registry, log *slog.Logger) *scheduling.Scheduler {
	sched := scheduling.NewScheduler(log)

	if store != nil {
		retention := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
		sched.RegisterAction(scheduling.ActionJournalPrune, func(ctx context.Context) error {
			removed, err := store.Prune(ctx, retention)
			if err != nil {
				return err
			}
			if removed > 0 {
				log.Info("journal pruned", "removed", removed)
			}
			return nil
		})
	}

	sched.RegisterAction(scheduling.ActionMetricsReport, func(ctx context.Context) error {
		for _, snap := range registry.Snapshots() {
			log.Info("handler metrics",
				"handler", snap.Handler,
				"processed", snap.Processed,
				"succeeded", snap.Succeeded,
				"failed", snap.Failed,
				"success_rate", snap.SuccessRate,
				"avg_latency", snap.AvgLatency,
			)
		}
		return nil
	})

	for _, tc := range cfg.Scheduler.Tasks {
		task := scheduling.Task{
			Name:     tc.Name,
			Schedule: tc.Schedule,
			Action:   scheduling.Action(tc.Action),
			OneShot:  tc.OneShot,
		}
		if err := sched.AddTask(task); err != nil {
			log.Warn("maintenance task skipped", "task", tc.Name, "error", err)
		}
	}
	return sched
}
