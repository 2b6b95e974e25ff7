package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom-build/internal/ai"
)

// Planner makes the final agent/tier choice and optionally decomposes a
// request into independent subtasks. A nil planner means heuristic-only
// routing.
type Planner interface {
	Plan(ctx context.Context, description string, multimodal bool) (*RoutingDecision, error)
}

// Router turns a task description into a RoutingDecision. Preflight runs
// first and is free; the planner is only consulted for feasible requests.
type Router struct {
	planner     Planner
	maxSubtasks int
	log         *zap.Logger
}

// NewRouter creates a router. planner may be nil.
func NewRouter(planner Planner, maxSubtasks int, logger *zap.Logger) *Router {
	if maxSubtasks <= 0 {
		maxSubtasks = 4
	}
	return &Router{planner: planner, maxSubtasks: maxSubtasks, log: logger}
}

// RouteOutcome pairs the preflight verdict with the routing decision.
// Decision is nil when preflight rejects the request.
type RouteOutcome struct {
	Preflight PreflightResult  `json:"preflight"`
	Decision  *RoutingDecision `json:"decision,omitempty"`
}

// Route runs preflight, then the planner (when configured), falling back to
// the deterministic keyword heuristic on any planner failure.
func (r *Router) Route(ctx context.Context, description string, multimodal bool) RouteOutcome {
	pf := Preflight(description)
	RecordPreflight(pf)
	if !pf.Feasible {
		return RouteOutcome{Preflight: pf}
	}

	if r.planner != nil {
		decision, err := r.planner.Plan(ctx, description, multimodal)
		if err == nil && decision != nil {
			r.sanitize(decision, pf.Complexity)
			return RouteOutcome{Preflight: pf, Decision: decision}
		}
		r.log.Warn("planner failed, using heuristic routing", zap.Error(err))
	}

	return RouteOutcome{Preflight: pf, Decision: heuristicDecision(description, pf.Complexity)}
}

// sanitize enforces enum validity and the subtask cap on planner output.
func (r *Router) sanitize(d *RoutingDecision, fallback Complexity) {
	if !d.TargetAgent.Valid() {
		d.TargetAgent = AgentBackend
	}
	if !d.Tier.Valid() {
		d.Tier = ai.TierStandard
	}
	if d.Complexity == "" {
		d.Complexity = fallback
	}
	if len(d.Subtasks) > r.maxSubtasks {
		d.Subtasks = d.Subtasks[:r.maxSubtasks]
	}
	for i := range d.Subtasks {
		if !d.Subtasks[i].Agent.Valid() {
			d.Subtasks[i].Agent = AgentBackend
		}
		if !d.Subtasks[i].Tier.Valid() {
			d.Subtasks[i].Tier = d.Tier
		}
	}
}

var uiKeywords = []string{
	"ui", "page", "screen", "button", "layout", "css", "style", "component",
	"frontend", "design", "responsive", "form",
}

var dbKeywords = []string{
	"database", "schema", "table", "migration", "query", "index", "sql",
}

var testKeywords = []string{
	"test", "coverage", "regression", "flaky",
}

// heuristicDecision is the deterministic fallback mapping: keyword buckets
// pick the agent, complexity picks the tier.
func heuristicDecision(description string, complexity Complexity) *RoutingDecision {
	lower := strings.ToLower(description)

	agent := AgentBackend
	switch {
	case containsAny(lower, uiKeywords):
		agent = AgentFrontend
	case containsAny(lower, dbKeywords):
		agent = AgentDatabase
	case containsAny(lower, testKeywords):
		agent = AgentTesting
	case complexity == ComplexityArchitectural:
		agent = AgentArchitect
	}

	tier := ai.TierStandard
	switch complexity {
	case ComplexityTrivial, ComplexitySimple:
		tier = ai.TierEconomy
	case ComplexityArchitectural:
		tier = ai.TierPremium
	}

	return &RoutingDecision{
		TargetAgent: agent,
		Tier:        tier,
		Complexity:  complexity,
		Reasoning:   "heuristic keyword routing",
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

const plannerSystemPrompt = `You are the routing planner for an app-builder platform.
Given a task description, respond with ONLY a JSON object:
{"target_agent":"architect|frontend|backend|database|testing|reviewer",
 "tier":"economy|standard|premium",
 "complexity":"trivial|simple|moderate|complex|architectural",
 "subtasks":[{"agent":"...","prompt":"...","tier":"..."}],
 "reasoning":"one sentence"}
Decompose into subtasks only when the pieces are truly independent. Omit
subtasks for single-agent work.`

// AIPlanner delegates the routing choice to the provider fallback chain and
// parses the JSON it returns.
type AIPlanner struct {
	chain ModelCaller
}

// NewAIPlanner wraps a model caller as a Planner.
func NewAIPlanner(chain ModelCaller) *AIPlanner {
	return &AIPlanner{chain: chain}
}

// Plan asks an economy-tier model for a routing decision.
func (p *AIPlanner) Plan(ctx context.Context, description string, multimodal bool) (*RoutingDecision, error) {
	prompt := description
	if multimodal {
		prompt = "[request includes images]\n" + prompt
	}

	result := p.chain.Converse(ctx, &ai.AIRequest{
		ID:        uuid.New().String(),
		Tier:      ai.TierEconomy,
		System:    plannerSystemPrompt,
		Prompt:    prompt,
		MaxTokens: 1024,
	}, nil)

	if result.UsedFallback {
		return nil, fmt.Errorf("planner unavailable: all providers exhausted")
	}
	return parseDecision(result.Content)
}

// parseDecision extracts the first JSON object from model output and decodes
// it. Surrounding prose and code fences are tolerated.
func parseDecision(content string) (*RoutingDecision, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in planner output")
	}

	var d RoutingDecision
	if err := json.Unmarshal([]byte(content[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("decode planner output: %w", err)
	}
	if d.TargetAgent == "" {
		return nil, fmt.Errorf("planner output missing target_agent")
	}
	return &d, nil
}
