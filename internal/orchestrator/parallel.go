package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/metrics"
	"loom-build/internal/tools"
)

// ParallelResult is the fan-out/fan-in outcome. Results holds exactly one
// entry per input task, in task order, regardless of individual failures.
type ParallelResult struct {
	Results       []AgentResult `json:"results"`
	Merged        *AgentResult  `json:"merged,omitempty"`
	Checkpoint    string        `json:"checkpoint"`
	TotalDuration time.Duration `json:"total_duration_ms"`
	Speedup       float64       `json:"speedup"`
}

// ParallelCoordinator fans independent subtasks out across goroutines and
// collects all results before any merge. Task independence is the caller's
// obligation.
type ParallelCoordinator struct {
	exec   AgentRunner
	router *Router
	log    *zap.Logger
}

// NewParallelCoordinator creates a coordinator over an executor and router.
func NewParallelCoordinator(exec AgentRunner, router *Router, logger *zap.Logger) *ParallelCoordinator {
	return &ParallelCoordinator{exec: exec, router: router, log: logger}
}

// ExecuteParallel runs all tasks concurrently and awaits every completion.
// A failed subtask appears as a Success=false result, never as an error.
// Speedup is sum-of-durations over wall clock, a reporting metric only.
func (pc *ParallelCoordinator) ExecuteParallel(ctx context.Context, session string, tasks []Subtask, mergeWithArchitect bool, tc *tools.Context) ParallelResult {
	checkpoint := "checkpoint-" + uuid.New().String()[:8]
	pc.log.Info("parallel fan-out",
		zap.String("session", session),
		zap.String("checkpoint", checkpoint),
		zap.Int("tasks", len(tasks)))
	metrics.Get().ParallelFanoutSize.Observe(float64(len(tasks)))

	started := time.Now()
	results := make([]AgentResult, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(idx int, t Subtask) {
			defer wg.Done()
			results[idx] = pc.exec.Execute(ctx, session, t.Agent, t.Prompt, t.Tier, tc)
		}(i, task)
	}
	wg.Wait()

	wall := time.Since(started)
	var sum time.Duration
	for _, r := range results {
		sum += r.Duration
	}
	speedup := 1.0
	if wall > 0 && sum > 0 {
		speedup = float64(sum) / float64(wall)
	}

	out := ParallelResult{
		Results:       results,
		Checkpoint:    checkpoint,
		TotalDuration: wall,
		Speedup:       speedup,
	}

	if mergeWithArchitect {
		merged := pc.mergeWithArchitect(ctx, session, results, tc)
		out.Merged = &merged
	}
	return out
}

// mergeWithArchitect asks the architect agent to synthesize the individual
// outputs. A merge failure is reported in the merged result; the individual
// results are never rolled back.
func (pc *ParallelCoordinator) mergeWithArchitect(ctx context.Context, session string, results []AgentResult, tc *tools.Context) AgentResult {
	var b strings.Builder
	b.WriteString("Integrate the following agent outputs into one coherent result:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- agent %d (%s, success=%t) ---\n%s\n", i+1, r.Agent, r.Success, r.Output)
		if r.Error != "" {
			fmt.Fprintf(&b, "(error: %s)\n", r.Error)
		}
	}

	merged := pc.exec.Execute(ctx, session, AgentArchitect, b.String(), ai.TierPremium, tc)
	if !merged.Success {
		pc.log.Warn("architect merge failed, individual results retained",
			zap.String("session", session),
			zap.String("error", merged.Error))
	}
	return merged
}

// OrchestrateParallel routes a single request, decomposes it via the planner,
// and fans the subtasks out. When decomposition yields nothing usable the
// request runs as a single task.
func (pc *ParallelCoordinator) OrchestrateParallel(ctx context.Context, session, description string, tc *tools.Context) (ParallelResult, RouteOutcome) {
	route := pc.router.Route(ctx, description, false)
	if route.Decision == nil {
		return ParallelResult{}, route
	}

	tasks := route.Decision.Subtasks
	if len(tasks) == 0 {
		tasks = []Subtask{{
			Agent:  route.Decision.TargetAgent,
			Prompt: description,
			Tier:   route.Decision.Tier,
		}}
	}

	return pc.ExecuteParallel(ctx, session, tasks, len(tasks) > 1, tc), route
}
