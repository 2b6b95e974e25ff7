package orchestrator

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"loom-build/internal/ai"
)

type scriptedPlanner struct {
	decision *RoutingDecision
	err      error
}

func (p *scriptedPlanner) Plan(context.Context, string, bool) (*RoutingDecision, error) {
	return p.decision, p.err
}

func TestRouteHeuristicFallbackOnPlannerFailure(t *testing.T) {
	router := NewRouter(&scriptedPlanner{err: errors.New("planner down")}, 4, zap.NewNop())

	out := router.Route(context.Background(), "restyle the settings page layout", false)
	if out.Decision == nil {
		t.Fatal("planner failure must fall back to heuristic routing")
	}
	if out.Decision.TargetAgent != AgentFrontend {
		t.Fatalf("agent = %s for UI keywords, want frontend", out.Decision.TargetAgent)
	}
}

func TestRouteHeuristicKeywordBuckets(t *testing.T) {
	router := NewRouter(nil, 4, zap.NewNop())
	cases := []struct {
		description string
		want        AgentKind
	}{
		{"tweak the css on the landing page", AgentFrontend},
		{"add an index to the orders table in the database", AgentDatabase},
		{"the checkout test is flaky, stabilize it", AgentTesting},
		{"add request validation to the invoices endpoint", AgentBackend},
	}
	for _, tc := range cases {
		t.Run(tc.description, func(t *testing.T) {
			out := router.Route(context.Background(), tc.description, false)
			if out.Decision == nil || out.Decision.TargetAgent != tc.want {
				t.Fatalf("Route(%q) agent = %v, want %s", tc.description, out.Decision, tc.want)
			}
		})
	}
}

func TestRouteCapsSubtasks(t *testing.T) {
	decision := &RoutingDecision{
		TargetAgent: AgentArchitect,
		Tier:        ai.TierPremium,
		Subtasks: []Subtask{
			{Agent: AgentFrontend, Prompt: "1", Tier: ai.TierStandard},
			{Agent: AgentBackend, Prompt: "2", Tier: ai.TierStandard},
			{Agent: AgentDatabase, Prompt: "3", Tier: ai.TierStandard},
			{Agent: AgentTesting, Prompt: "4", Tier: ai.TierStandard},
			{Agent: AgentBackend, Prompt: "5", Tier: ai.TierStandard},
			{Agent: AgentBackend, Prompt: "6", Tier: ai.TierStandard},
		},
	}
	router := NewRouter(&scriptedPlanner{decision: decision}, 4, zap.NewNop())

	out := router.Route(context.Background(), "build a storefront with admin and reporting", false)
	if len(out.Decision.Subtasks) != 4 {
		t.Fatalf("subtasks = %d, want capped at 4", len(out.Decision.Subtasks))
	}
}

func TestRoutePreflightRejectionSkipsPlanner(t *testing.T) {
	planner := &scriptedPlanner{decision: &RoutingDecision{TargetAgent: AgentBackend}}
	router := NewRouter(planner, 4, zap.NewNop())

	out := router.Route(context.Background(), "build me a facebook", false)
	if out.Decision != nil {
		t.Fatal("rejected request must never reach the planner")
	}
	if out.Preflight.Feasible {
		t.Fatal("preflight must reject the denylist match")
	}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain json", `{"target_agent":"frontend","tier":"standard","complexity":"simple"}`, false},
		{"fenced json", "Here you go:\n```json\n{\"target_agent\":\"backend\",\"tier\":\"economy\"}\n```", false},
		{"no json", "I cannot decide.", true},
		{"missing agent", `{"tier":"standard"}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := parseDecision(tc.content)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("parseDecision(%q) succeeded with %+v, want error", tc.content, d)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDecision(%q) failed: %v", tc.content, err)
			}
		})
	}
}
