package domain

// RoutingDecision is the routing engine's verdict for one request. Created
// once, consumed by the dispatcher, then attached to the dispatch result as
// metadata; never mutated after creation.
type RoutingDecision struct {
	Target           string  `json:"target"`
	TargetType       string  `json:"target_type"`
	Intent           string  `json:"intent"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason"`
	IsFallback       bool    `json:"is_fallback"`
	FollowUpQuestion string  `json:"follow_up_question,omitempty"`
}

// DispatchStatus is the terminal outcome of one dispatch.
type DispatchStatus string

const (
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
	DispatchCancelled DispatchStatus = "cancelled"
)

// DispatchResult packages the outcome of executing a routing decision.
// Output is nil unless Status is DispatchSucceeded; Error carries the final
// failure text otherwise.
type DispatchResult struct {
	RequestID string          `json:"request_id"`
	Status    DispatchStatus  `json:"status"`
	Output    *HandlerResult  `json:"output,omitempty"`
	Decision  RoutingDecision `json:"decision"`
	Attempts  int             `json:"attempts"`
	LatencyMS int64           `json:"latency_ms"`
	Error     string          `json:"error,omitempty"`
}
