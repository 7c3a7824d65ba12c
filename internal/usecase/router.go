package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"a3sist/internal/domain"
	"a3sist/internal/infra/tracer"
)

// FollowUpThreshold is the decision confidence below which a routing
// decision carries a clarification question. The question annotates the
// decision; it never blocks dispatch.
const FollowUpThreshold = 0.8

// followUpQuestion is the generic clarification attached to low-confidence
// decisions.
const followUpQuestion = "Could you clarify what you want done? Naming the file involved or describing the expected behavior helps me pick the right agent."

// Router turns a classification into a routing decision: candidate lookup
// by capability and language, scoring with deterministic tie-breaks,
// demotion of handlers with a recent failure on a similar task, and a
// language-only fallback chain.
type Router struct {
	registry *Registry
	history  *FailureHistory
	logger   *slog.Logger
}

// NewRouter creates a routing engine over the given registry and failure
// history.
func NewRouter(registry *Registry, history *FailureHistory, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, history: history, logger: logger}
}

// scoredCandidate pairs a handler with its capability match count.
type scoredCandidate struct {
	lc    *Lifecycle
	score int
}

// Route selects the target handler for a classified request. The only hard
// failure is no candidate at all; everything else degrades through the
// fallback chain.
func (r *Router) Route(ctx context.Context, req domain.Request, cls domain.IntentClassification) (domain.RoutingDecision, error) {
	const op = "Router.Route"

	_, span := tracer.StartSpan(ctx, "router.route",
		trace.WithAttributes(
			tracer.StringAttr("request.id", req.ID),
			tracer.StringAttr("intent", cls.Intent),
		))
	defer span.End()

	// 1. Candidates: handlers whose declared capabilities or languages
	//    intersect the classification.
	candidates := r.registry.Query(func(d domain.HandlerDescriptor) bool {
		return capabilityScore(d, cls.Intent) > 0 || d.SupportsLanguage(cls.Language)
	})

	// 2. Score by matching capability count, descending. Query returns
	//    registration order, and the stable sort keeps it for equal scores:
	//    first registered wins ties.
	var scored []scoredCandidate
	for _, lc := range candidates {
		if s := capabilityScore(lc.Descriptor(), cls.Intent); s > 0 {
			scored = append(scored, scoredCandidate{lc: lc, score: s})
		}
	}
	stableSortByScore(scored)

	if len(scored) > 0 {
		dec := r.decideFromScored(req, cls, scored)
		r.finish(span, &dec)
		return dec, nil
	}

	// 4. No capability match at all: fall back by language alone, first
	//    registered handler supporting the detected language.
	for _, lc := range candidates {
		if lc.Descriptor().SupportsLanguage(cls.Language) {
			dec := domain.RoutingDecision{
				Target:     lc.Descriptor().Name,
				TargetType: lc.Descriptor().Type,
				Intent:     cls.Intent,
				Confidence: cls.Confidence,
				IsFallback: true,
				Reason: fmt.Sprintf("no capability match for intent %q; first registered handler supporting language %q",
					cls.Intent, cls.Language),
			}
			r.finish(span, &dec)
			return dec, nil
		}
	}

	// 5. Nothing left: the engine's only hard failure.
	err := domain.NewDomainError(op, domain.ErrNoAgentAvailable,
		fmt.Sprintf("intent %q, language %q", cls.Intent, cls.Language))
	tracer.RecordError(span, err)
	r.logger.Warn("no agent available",
		"request_id", req.ID,
		"intent", cls.Intent,
		"language", cls.Language,
	)
	return domain.RoutingDecision{}, err
}

// decideFromScored applies failure-history demotion (step 3) and picks the
// final target from the scored candidates.
func (r *Router) decideFromScored(req domain.Request, cls domain.IntentClassification, scored []scoredCandidate) domain.RoutingDecision {
	top := scored[0]
	dec := domain.RoutingDecision{
		Target:     top.lc.Descriptor().Name,
		TargetType: top.lc.Descriptor().Type,
		Intent:     cls.Intent,
		Confidence: cls.Confidence,
		Reason:     fmt.Sprintf("%d matching capabilities for intent %q", top.score, cls.Intent),
	}

	// 3. Demote the top candidate if the most recent matching failure
	//    record names it, and an alternative exists.
	if r.history != nil {
		if rec, ok := r.history.MostRecentMatch(req.Text()); ok && rec.Handler == dec.Target {
			if len(scored) > 1 {
				next := scored[1]
				dec.Target = next.lc.Descriptor().Name
				dec.TargetType = next.lc.Descriptor().Type
				dec.IsFallback = true
				dec.Reason = fmt.Sprintf("demoted %q after recent failure on a similar task (%s); selected next candidate with %d matching capabilities",
					rec.Handler, rec.Timestamp.Format("2006-01-02 15:04:05"), next.score)
			} else {
				dec.Reason += fmt.Sprintf("; %q previously failed on a similar task but no alternative exists", rec.Handler)
			}
		}
	}

	return dec
}

// finish applies the follow-up annotation (step 6) and logs the decision.
func (r *Router) finish(span trace.Span, dec *domain.RoutingDecision) {
	if dec.Confidence < FollowUpThreshold {
		dec.FollowUpQuestion = followUpQuestion
	}

	span.SetAttributes(
		tracer.StringAttr("routing.target", dec.Target),
		tracer.BoolAttr("routing.fallback", dec.IsFallback),
	)
	tracer.SetOK(span)

	r.logger.Info("routing decided",
		"target", dec.Target,
		"intent", dec.Intent,
		"confidence", dec.Confidence,
		"fallback", dec.IsFallback,
	)
}

// capabilityScore counts the descriptor's capability names matching the
// intent label. A capability matches on case-insensitive equality or
// containment in either direction, so granular capabilities like "fix" and
// "error" both count toward the intent "fix_error".
func capabilityScore(d domain.HandlerDescriptor, intent string) int {
	if intent == "" || intent == domain.IntentUnknown {
		return 0
	}
	in := strings.ToLower(intent)
	score := 0
	for _, c := range d.Capabilities {
		cl := strings.ToLower(c)
		if cl == in || strings.Contains(in, cl) || strings.Contains(cl, in) {
			score++
		}
	}
	return score
}

// stableSortByScore orders candidates by score descending without
// disturbing registration order within equal scores.
func stableSortByScore(s []scoredCandidate) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].score > s[j].score
	})
}
