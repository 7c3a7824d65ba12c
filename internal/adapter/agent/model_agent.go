package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"a3sist/internal/adapter/tool"
	"a3sist/internal/domain"
	"a3sist/internal/infra/tracer"
)

// defaultTokenBudget caps merged tool output when no budget is configured.
const defaultTokenBudget = 2000

// Config declares one model agent instance.
type Config struct {
	Name         string
	SystemPrompt string
	Tools        []string // tool names this agent may invoke, in fan-out order
	TokenBudget  int      // token cap on merged tool output
	MaxTokens    int      // completion cap, 0 uses the provider default
	Temperature  float64
}

// ModelAgent handles requests by gathering tool context and making one
// model call. Before the call it scans the request for tool triggers,
// fans the selected tools out concurrently, and merges their outputs
// into an augmented prompt under the token budget. Tool failures degrade
// into inline error text; only the model call itself can fail a request.
//
// The lifecycle guard serializes Handle per instance, so the agent keeps
// no cross-request mutable state.
type ModelAgent struct {
	cfg      Config
	provider domain.ModelProvider
	tools    domain.ToolExecutor
	counter  *tool.TokenCounter
	logger   *slog.Logger
}

var _ domain.Handler = (*ModelAgent)(nil)

// NewModelAgent creates an agent backed by the given provider and tools.
// tools may be nil when cfg.Tools is empty; counter nil falls back to a
// character-ratio token estimate.
func NewModelAgent(
	cfg Config,
	provider domain.ModelProvider,
	tools domain.ToolExecutor,
	counter *tool.TokenCounter,
	logger *slog.Logger,
) *ModelAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = defaultTokenBudget
	}
	if counter == nil {
		counter = tool.NewTokenCounter("", logger)
	}
	return &ModelAgent{
		cfg:      cfg,
		provider: provider,
		tools:    tools,
		counter:  counter,
		logger:   logger,
	}
}

// Initialize verifies the agent's provider and every configured tool
// resolve. Called through the lifecycle guard before the first Handle.
func (a *ModelAgent) Initialize(ctx context.Context) error {
	const op = "ModelAgent.Initialize"

	if a.provider == nil {
		return domain.NewDomainError(op, domain.ErrProviderNotFound,
			fmt.Sprintf("agent %q has no model provider", a.cfg.Name))
	}
	if len(a.cfg.Tools) > 0 && a.tools == nil {
		return domain.NewDomainError(op, domain.ErrToolNotFound,
			fmt.Sprintf("agent %q declares tools but has no executor", a.cfg.Name))
	}
	for _, name := range a.cfg.Tools {
		if _, err := a.tools.Get(name); err != nil {
			return domain.WrapOp(op, err)
		}
	}

	a.logger.Info("model agent initialized",
		"agent", a.cfg.Name,
		"provider", a.provider.Name(),
		"tools", len(a.cfg.Tools),
	)
	return nil
}

// CanHandle reports whether the agent is willing to process the request.
// Routing has already matched capabilities; this only rejects requests
// with nothing to say.
func (a *ModelAgent) CanHandle(req domain.Request) bool {
	return strings.TrimSpace(req.Prompt) != ""
}

// Handle runs the augmented execution path: tool trigger scan, fan-out,
// prompt assembly, one model call.
func (a *ModelAgent) Handle(ctx context.Context, req domain.Request) (*domain.HandlerResult, error) {
	const op = "ModelAgent.Handle"

	ctx, span := tracer.StartSpan(ctx, "agent.handle",
		trace.WithAttributes(
			tracer.StringAttr("agent.name", a.cfg.Name),
			tracer.StringAttr("request.id", req.ID),
		))
	defer span.End()

	invocations := a.selectTools(req)
	traces := a.runTools(ctx, invocations)
	if err := ctx.Err(); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	messages := make([]domain.Message, 0, 2)
	if a.cfg.SystemPrompt != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: a.cfg.SystemPrompt})
	}
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: a.buildPrompt(req, traces)})

	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}

	span.SetAttributes(
		tracer.IntAttr("agent.tools_used", len(traces)),
		tracer.IntAttr("agent.total_tokens", resp.Usage.TotalTokens),
	)
	tracer.SetOK(span)

	a.logger.Debug("model agent handled request",
		"agent", a.cfg.Name,
		"request", req.ID,
		"tools", len(traces),
		"tokens", resp.Usage.TotalTokens,
	)

	usage := resp.Usage
	return &domain.HandlerResult{
		Content:   resp.Message.Content,
		Model:     resp.Model,
		ToolsUsed: traces,
		Usage:     &usage,
	}, nil
}

// Shutdown releases nothing today; the provider and tools are shared and
// owned by the wiring layer.
func (a *ModelAgent) Shutdown(ctx context.Context) error {
	a.logger.Debug("model agent shut down", "agent", a.cfg.Name)
	return nil
}

// toolInvocation is one triggered tool call.
type toolInvocation struct {
	name   string
	params json.RawMessage
}

// selectTools scans the request and returns the triggered invocations in
// the agent's configured tool order.
func (a *ModelAgent) selectTools(req domain.Request) []toolInvocation {
	if a.tools == nil {
		return nil
	}

	text := strings.ToLower(req.Text())
	var out []toolInvocation
	for _, name := range a.cfg.Tools {
		params, ok := triggerFor(name, req, text)
		if !ok {
			continue
		}
		out = append(out, toolInvocation{name: name, params: params})
	}
	return out
}

// triggerFor decides whether a tool fires for the request and with what
// parameters. Builtin tools get dedicated heuristics; any other tool,
// MCP-bridged ones included, fires when the request mentions it by name.
func triggerFor(name string, req domain.Request, text string) (json.RawMessage, bool) {
	switch name {
	case "file_operations":
		return fileOpsTrigger(req, text)
	case "code_analysis":
		return codeAnalysisTrigger(req, text)
	default:
		if strings.Contains(text, strings.ToLower(name)) {
			return json.RawMessage(`{}`), true
		}
		return nil, false
	}
}

var listKeywords = []string{"list files", "list the files", "directory", "folder"}

// fileOpsTrigger reads the request's file when the content was not
// already supplied, and lists the workspace on listing language.
func fileOpsTrigger(req domain.Request, text string) (json.RawMessage, bool) {
	if req.FilePath != "" && req.Content == "" {
		return mustParams(map[string]string{"action": "read", "path": req.FilePath}), true
	}
	if containsAny(text, listKeywords...) {
		return mustParams(map[string]string{"action": "list", "path": "."}), true
	}
	return nil, false
}

var (
	analysisKeywords = []string{"analyze", "analyse", "review", "refactor", "structure", "complexity", "issues"}
	backtickRe       = regexp.MustCompile("`([^`\n]+)`")
)

// codeAnalysisTrigger searches for a backquoted term from the prompt, or
// reports the request's file when the prompt asks for analysis.
func codeAnalysisTrigger(req domain.Request, text string) (json.RawMessage, bool) {
	if m := backtickRe.FindStringSubmatch(req.Prompt); m != nil {
		return mustParams(map[string]string{"action": "search", "pattern": regexp.QuoteMeta(m[1])}), true
	}
	if req.FilePath != "" && containsAny(text, analysisKeywords...) {
		return mustParams(map[string]string{"action": "report", "path": req.FilePath}), true
	}
	return nil, false
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func mustParams(v map[string]string) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// runTools executes the invocations concurrently. Results land in an
// indexed slice so merge order matches trigger order regardless of
// completion order.
func (a *ModelAgent) runTools(ctx context.Context, invocations []toolInvocation) []domain.ToolTrace {
	if len(invocations) == 0 {
		return nil
	}

	traces := make([]domain.ToolTrace, len(invocations))
	var wg sync.WaitGroup
	for i, inv := range invocations {
		wg.Add(1)
		go func(idx int, inv toolInvocation) {
			defer wg.Done()
			traces[idx] = a.runTool(ctx, inv)
		}(i, inv)
	}
	wg.Wait()
	return traces
}

// runTool executes one tool call. Every failure shape lands in the trace
// as inline error text; nothing a tool does can fail the request.
func (a *ModelAgent) runTool(ctx context.Context, inv toolInvocation) domain.ToolTrace {
	ctx, span := tracer.StartSpan(ctx, "agent.run_tool",
		trace.WithAttributes(tracer.StringAttr("tool.name", inv.name)))
	defer span.End()

	start := time.Now()
	tr := domain.ToolTrace{Name: inv.name}

	tl, err := a.tools.Get(inv.name)
	if err != nil {
		tracer.RecordError(span, err)
		tr.Failed = true
		tr.Output = err.Error()
		tr.Duration = time.Since(start)
		return tr
	}

	res, err := tl.Execute(ctx, inv.params)
	tr.Duration = time.Since(start)
	switch {
	case err != nil:
		// The middleware keeps failures inside results; a Go error here
		// is a contract breach by the tool. Degrade it the same way.
		tracer.RecordError(span, err)
		tr.Failed = true
		tr.Output = err.Error()
	case res.IsError:
		tracer.RecordError(span, fmt.Errorf("%s", res.Content))
		tr.Failed = true
		tr.Output = res.Content
	default:
		tracer.SetOK(span)
		tr.Output = res.Content
	}

	if tr.Failed {
		a.logger.Warn("tool degraded to inline error", "tool", inv.name, "error", tr.Output)
	}
	return tr
}

// buildPrompt merges the request and tool outputs into the augmented
// prompt. Each successful tool output gets an equal share of the token
// budget; the traces keep the raw output for result metadata.
func (a *ModelAgent) buildPrompt(req domain.Request, traces []domain.ToolTrace) string {
	var sb strings.Builder
	sb.WriteString(req.Prompt)

	if req.Content != "" {
		sb.WriteString("\n\n--- file")
		if req.FilePath != "" {
			sb.WriteString(": " + req.FilePath)
		}
		sb.WriteString(" ---\n")
		sb.WriteString(req.Content)
	}

	if len(traces) == 0 {
		return sb.String()
	}

	share := a.cfg.TokenBudget / len(traces)
	for _, tr := range traces {
		sb.WriteString("\n\n--- tool: " + tr.Name + " ---\n")
		if tr.Failed {
			sb.WriteString("error: " + tr.Output)
			continue
		}
		out, cut := a.counter.TruncateToBudget(tr.Output, share)
		sb.WriteString(out)
		if cut {
			a.logger.Debug("tool output truncated for prompt budget",
				"tool", tr.Name, "budget_tokens", share)
		}
	}
	return sb.String()
}
