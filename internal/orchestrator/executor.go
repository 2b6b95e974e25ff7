package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/metrics"
	"loom-build/internal/tools"
)

// baseFuelRate is the fuel charged per tool call before the tier multiplier.
const baseFuelRate = 1

// toolDirectivePrefix marks a tool invocation line in model output:
//
//	TOOL {"name":"write_file","args":{"path":"a.ts","content":"..."}}
const toolDirectivePrefix = "TOOL "

type toolDirective struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Executor runs exactly one agent turn: breaker check, model call, bounded
// tool loop, fuel accounting. It never retries and never returns an error;
// every failure path resolves to an AgentResult with Success=false.
type Executor struct {
	chain    ModelCaller
	tools    *tools.Registry
	breakers *BreakerRegistry
	maxSteps int
	log      *zap.Logger
}

// NewExecutor creates an executor with the given tool step cap.
func NewExecutor(chain ModelCaller, registry *tools.Registry, breakers *BreakerRegistry, maxSteps int, logger *zap.Logger) *Executor {
	if maxSteps <= 0 {
		maxSteps = 12
	}
	return &Executor{
		chain:    chain,
		tools:    registry,
		breakers: breakers,
		maxSteps: maxSteps,
		log:      logger,
	}
}

// Execute performs one agent turn for a session. Tool calls are executed
// synchronously in issued order, each timed and charged against the session
// fuel budget at a tier-scaled rate.
func (e *Executor) Execute(ctx context.Context, session string, agent AgentKind, prompt string, tier ai.ModelTier, tc *tools.Context) AgentResult {
	agentID := uuid.New().String()
	started := time.Now()

	result := AgentResult{AgentID: agentID, Agent: agent}

	if ok, reason := e.breakers.Check(session); !ok {
		result.Error = "circuit breaker open: " + reason
		result.Duration = time.Since(started)
		return result
	}

	system := SystemPrompt(agent) + "\n\n" + toolProtocol(e.tools.Names())
	conversation := prompt

	steps := 0
	for {
		conv := e.chain.Converse(ctx, &ai.AIRequest{
			ID:     agentID,
			Tier:   tier,
			System: system,
			Prompt: conversation,
		}, nil)

		if conv.UsedFallback {
			e.breakers.RecordRetry(session)
			result.Error = "all AI providers unavailable"
			result.Duration = time.Since(started)
			return result
		}

		directives, prose := splitDirectives(conv.Content)
		result.Output = prose

		if len(directives) == 0 {
			break
		}

		var feedback strings.Builder
		truncated := false
		for _, d := range directives {
			if steps >= e.maxSteps {
				truncated = true
				break
			}
			steps++

			callStart := time.Now()
			out := e.tools.Execute(ctx, d.Name, d.Args, tc)
			elapsed := time.Since(callStart)

			units := baseFuelRate * tier.FuelMultiplier()
			e.breakers.ChargeFuel(session, units)
			metrics.Get().RecordFuelSpend(string(tier), units)

			result.ToolCalls = append(result.ToolCalls, ToolCall{
				Name:     d.Name,
				Args:     d.Args,
				Result:   out,
				Duration: elapsed,
			})
			result.FuelUsed += units

			fmt.Fprintf(&feedback, "result of %s: %s\n", d.Name, out)
		}

		if truncated || steps >= e.maxSteps {
			e.log.Warn("tool step budget exhausted",
				zap.String("session", session),
				zap.Int("steps", steps))
			break
		}

		conversation = prompt + "\n\nTool results so far:\n" + feedback.String() +
			"\nContinue. Emit further TOOL lines only if more work is needed."
	}

	result.Success = true
	result.Duration = time.Since(started)
	return result
}

// RecordFailure bumps the session retry counter for an error caught outside
// the executor itself (retry policy lives with the caller).
func (e *Executor) RecordFailure(session string) {
	e.breakers.RecordRetry(session)
}

// toolProtocol describes the directive syntax to the model.
func toolProtocol(names []string) string {
	return "Available tools: " + strings.Join(names, ", ") + ".\n" +
		`To call a tool, emit a line: TOOL {"name":"<tool>","args":{...}}` + "\n" +
		"Tool results are returned in the next message."
}

// splitDirectives separates TOOL lines from prose, preserving directive
// order as issued by the model.
func splitDirectives(content string) ([]toolDirective, string) {
	var directives []toolDirective
	var prose []string

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, toolDirectivePrefix) {
			prose = append(prose, line)
			continue
		}

		var d toolDirective
		if err := json.Unmarshal([]byte(trimmed[len(toolDirectivePrefix):]), &d); err != nil || d.Name == "" {
			// Malformed directives are treated as prose, not failures.
			prose = append(prose, line)
			continue
		}
		directives = append(directives, d)
	}

	return directives, strings.TrimSpace(strings.Join(prose, "\n"))
}
