// Package orchestrator is the multi-agent task orchestration engine for
// LOOM.BUILD: request routing, agent-turn execution under a fuel budget,
// audit gating, and parallel fan-out.
package orchestrator

import (
	"context"
	"time"

	"loom-build/internal/ai"
	"loom-build/internal/tools"
)

// AgentKind is the specialized role an agent plays.
type AgentKind string

const (
	AgentArchitect AgentKind = "architect"
	AgentFrontend  AgentKind = "frontend"
	AgentBackend   AgentKind = "backend"
	AgentDatabase  AgentKind = "database"
	AgentTesting   AgentKind = "testing"
	AgentReviewer  AgentKind = "reviewer"
)

// Valid reports whether k is a known agent kind.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentArchitect, AgentFrontend, AgentBackend, AgentDatabase, AgentTesting, AgentReviewer:
		return true
	}
	return false
}

// Complexity is the estimated difficulty band of a request.
type Complexity string

const (
	ComplexityTrivial       Complexity = "trivial"
	ComplexitySimple        Complexity = "simple"
	ComplexityModerate      Complexity = "moderate"
	ComplexityComplex       Complexity = "complex"
	ComplexityArchitectural Complexity = "architectural"
)

// Subtask is one independent unit produced by decomposition.
type Subtask struct {
	Agent  AgentKind    `json:"agent"`
	Prompt string       `json:"prompt"`
	Tier   ai.ModelTier `json:"tier"`
}

// RoutingDecision is produced once per request (or subtask) and never
// mutated afterwards.
type RoutingDecision struct {
	TargetAgent AgentKind    `json:"target_agent"`
	Tier        ai.ModelTier `json:"tier"`
	Complexity  Complexity   `json:"complexity"`
	Subtasks    []Subtask    `json:"subtasks,omitempty"`
	Reasoning   string       `json:"reasoning,omitempty"`
}

// ToolCall records one tool invocation inside an agent turn, in issued order.
type ToolCall struct {
	Name     string         `json:"name"`
	Args     map[string]any `json:"args"`
	Result   string         `json:"result"`
	Duration time.Duration  `json:"duration_ms"`
}

// AgentResult is the outcome of exactly one Executor invocation.
type AgentResult struct {
	AgentID   string        `json:"agent_id"`
	Agent     AgentKind     `json:"agent"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	ToolCalls []ToolCall    `json:"tool_calls,omitempty"`
	Duration  time.Duration `json:"duration_ms"`
	FuelUsed  int           `json:"fuel_used"`
}

// ModelCaller abstracts the provider fallback chain for the executor and
// planner; tests substitute a scripted implementation.
type ModelCaller interface {
	Converse(ctx context.Context, req *ai.AIRequest, emit ai.StreamFunc) *ai.ConverseResult
}

// AgentRunner is the executor seam consumed by the retry flow, the parallel
// coordinator, and the audit pipeline.
type AgentRunner interface {
	Execute(ctx context.Context, session string, agent AgentKind, prompt string, tier ai.ModelTier, tc *tools.Context) AgentResult
}

// systemPrompts carries the per-role system prompt. Content is deliberately
// short here; prompt engineering lives with the product team.
var systemPrompts = map[AgentKind]string{
	AgentArchitect: "You are the architect agent. Design structure and integrate partial results into a coherent whole.",
	AgentFrontend:  "You are the frontend agent. Build UI components and client-side logic.",
	AgentBackend:   "You are the backend agent. Build APIs, business logic, and integrations.",
	AgentDatabase:  "You are the database agent. Design schemas, queries, and migrations.",
	AgentTesting:   "You are the testing agent. Write and run tests for generated code.",
	AgentReviewer:  "You are the reviewer agent. Audit code for defects and fix the issues you are given.",
}

// SystemPrompt returns the role prompt for an agent kind.
func SystemPrompt(k AgentKind) string {
	if p, ok := systemPrompts[k]; ok {
		return p
	}
	return systemPrompts[AgentBackend]
}
