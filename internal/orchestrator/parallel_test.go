package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/tools"
)

// sleepyRunner tags results by prompt and simulates per-task latency.
type sleepyRunner struct {
	delay time.Duration
	fail  map[string]bool

	mu    sync.Mutex
	calls []string
}

func (s *sleepyRunner) Execute(_ context.Context, _ string, agent AgentKind, prompt string, _ ai.ModelTier, _ *tools.Context) AgentResult {
	s.mu.Lock()
	s.calls = append(s.calls, prompt)
	s.mu.Unlock()

	time.Sleep(s.delay)
	if s.fail[prompt] {
		return AgentResult{Agent: agent, Success: false, Error: "subtask exploded", Duration: s.delay}
	}
	return AgentResult{Agent: agent, Success: true, Output: "did " + prompt, Duration: s.delay}
}

func TestExecuteParallelCompleteness(t *testing.T) {
	runner := &sleepyRunner{delay: 20 * time.Millisecond, fail: map[string]bool{"t2": true}}
	pc := NewParallelCoordinator(runner, NewRouter(nil, 4, zap.NewNop()), zap.NewNop())

	tasks := []Subtask{
		{Agent: AgentFrontend, Prompt: "t1", Tier: ai.TierStandard},
		{Agent: AgentBackend, Prompt: "t2", Tier: ai.TierStandard},
		{Agent: AgentDatabase, Prompt: "t3", Tier: ai.TierStandard},
	}
	res := pc.ExecuteParallel(context.Background(), "s1", tasks, false, tools.NewContext("s1"))

	if len(res.Results) != 3 {
		t.Fatalf("results = %d, want exactly 3 regardless of failures", len(res.Results))
	}
	// Results are in task order, not completion order.
	if res.Results[0].Output != "did t1" || res.Results[2].Output != "did t3" {
		t.Fatalf("result order wrong: %+v", res.Results)
	}
	if res.Results[1].Success {
		t.Fatal("failed subtask must be reported as success=false, not dropped")
	}
	if res.Checkpoint == "" {
		t.Fatal("checkpoint name missing")
	}
	if res.Speedup < 1 {
		t.Fatalf("speedup = %f for concurrent tasks, want >= 1", res.Speedup)
	}
}

func TestExecuteParallelMerge(t *testing.T) {
	runner := &sleepyRunner{delay: time.Millisecond}
	pc := NewParallelCoordinator(runner, NewRouter(nil, 4, zap.NewNop()), zap.NewNop())

	tasks := []Subtask{
		{Agent: AgentFrontend, Prompt: "t1", Tier: ai.TierStandard},
		{Agent: AgentBackend, Prompt: "t2", Tier: ai.TierStandard},
	}
	res := pc.ExecuteParallel(context.Background(), "s1", tasks, true, tools.NewContext("s1"))

	if res.Merged == nil {
		t.Fatal("merge requested but no merged result")
	}
	if res.Merged.Agent != AgentArchitect {
		t.Fatalf("merge agent = %s, want architect", res.Merged.Agent)
	}
	// The synthesis prompt carries every subtask output.
	runner.mu.Lock()
	mergePrompt := runner.calls[len(runner.calls)-1]
	runner.mu.Unlock()
	if !strings.Contains(mergePrompt, "did t1") || !strings.Contains(mergePrompt, "did t2") {
		t.Fatalf("merge prompt missing subtask outputs: %q", mergePrompt)
	}
}

func TestOrchestrateParallelSingleTaskFallback(t *testing.T) {
	runner := &sleepyRunner{delay: time.Millisecond}
	// nil planner: heuristic routing produces no subtasks.
	pc := NewParallelCoordinator(runner, NewRouter(nil, 4, zap.NewNop()), zap.NewNop())

	res, route := pc.OrchestrateParallel(context.Background(), "s1", "add a contact form to the about page", tools.NewContext("s1"))
	if route.Decision == nil {
		t.Fatal("feasible request must produce a decision")
	}
	if len(res.Results) != 1 {
		t.Fatalf("results = %d, want single-task fallback", len(res.Results))
	}
}

func TestOrchestrateParallelPreflightRejection(t *testing.T) {
	runner := &sleepyRunner{delay: time.Millisecond}
	pc := NewParallelCoordinator(runner, NewRouter(nil, 4, zap.NewNop()), zap.NewNop())

	res, route := pc.OrchestrateParallel(context.Background(), "s1", "build me a facebook", tools.NewContext("s1"))
	if route.Decision != nil || route.Preflight.Feasible {
		t.Fatal("denylist request must be rejected before any execution")
	}
	if len(res.Results) != 0 || len(runner.calls) != 0 {
		t.Fatal("rejected request must not execute anything")
	}
}
