package domain

import (
	"context"
	"time"
)

// LifecycleState is the single state enum governing a handler instance.
type LifecycleState string

const (
	StateIdle         LifecycleState = "idle"
	StateInitializing LifecycleState = "initializing"
	StateReady        LifecycleState = "ready"
	StateExecuting    LifecycleState = "executing"
	StateCompleted    LifecycleState = "completed"
	StateError        LifecycleState = "error"
	StateShuttingDown LifecycleState = "shutting_down"
)

// lifecycleTransitions lists the legal state transitions. A successful
// execution settles on Ready via Completed; a failed one sticks on Error.
// Error leads back to Ready only through the dispatcher's retry recovery;
// every other path out of Error goes through shutdown.
var lifecycleTransitions = map[LifecycleState][]LifecycleState{
	StateIdle:         {StateInitializing, StateShuttingDown},
	StateInitializing: {StateReady, StateError},
	StateReady:        {StateExecuting, StateShuttingDown},
	StateExecuting:    {StateCompleted, StateError},
	StateCompleted:    {StateReady, StateShuttingDown},
	StateError:        {StateReady, StateShuttingDown},
	StateShuttingDown: {StateIdle},
}

// CanTransition reports whether moving from one lifecycle state to another
// is legal.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range lifecycleTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s LifecycleState) String() string { return string(s) }

// Handler is the contract every agent implementation fulfills. The routing
// core drives it exclusively through a lifecycle guard; implementations do
// not need to be safe for concurrent Handle calls.
type Handler interface {
	// Initialize performs handler-specific setup. Called once before the
	// first Handle; an error leaves the handler unusable until Shutdown.
	Initialize(ctx context.Context) error
	// CanHandle reports whether this handler is willing to process req.
	// Advisory: routing has already matched capabilities when this is asked.
	CanHandle(req Request) bool
	// Handle processes the request and returns its result.
	Handle(ctx context.Context, req Request) (*HandlerResult, error)
	// Shutdown releases handler resources.
	Shutdown(ctx context.Context) error
}

// HandlerDescriptor declares a registered handler's identity and
// capabilities. Immutable after registration.
type HandlerDescriptor struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`         // intent labels the handler serves
	Languages    []string `json:"languages,omitempty"`  // e.g. "go", "csharp"
	Extensions   []string `json:"extensions,omitempty"` // e.g. ".go", ".cs"
}

// SupportsIntent reports whether the descriptor lists the intent as a
// capability.
func (d HandlerDescriptor) SupportsIntent(intent string) bool {
	for _, c := range d.Capabilities {
		if c == intent {
			return true
		}
	}
	return false
}

// SupportsLanguage reports whether the descriptor lists the language.
// An empty language matches nothing; a descriptor with no languages
// declared matches nothing by language.
func (d HandlerDescriptor) SupportsLanguage(lang string) bool {
	if lang == "" {
		return false
	}
	for _, l := range d.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// ToolTrace records one auxiliary tool invocation made while serving a
// request. Failed traces carry the degraded error text in Output.
type ToolTrace struct {
	Name     string        `json:"name"`
	Output   string        `json:"output"`
	Failed   bool          `json:"failed,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// HandlerResult is the output of a single successful Handle call.
type HandlerResult struct {
	Content   string      `json:"content"`
	Model     string      `json:"model,omitempty"`
	ToolsUsed []ToolTrace `json:"tools_used,omitempty"`
	Usage     *Usage      `json:"usage,omitempty"`
}
