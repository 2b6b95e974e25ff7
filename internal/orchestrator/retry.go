package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/tools"
)

// ActionFlow wraps the Executor with the fixed three-attempt retry policy:
// attempt 1; if the failure is transient, retry the same agent/tier after a
// backoff; if still transient, one final attempt through the fallback
// agent/tier. Non-transient failures short-circuit immediately.
type ActionFlow struct {
	exec    AgentRunner
	backoff time.Duration
	log     *zap.Logger

	sleep func(time.Duration)
}

// NewActionFlow creates the retry wrapper.
func NewActionFlow(exec AgentRunner, backoff time.Duration, logger *zap.Logger) *ActionFlow {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &ActionFlow{exec: exec, backoff: backoff, log: logger, sleep: time.Sleep}
}

// FlowResult is the terminal outcome of an action flow, with the attempt
// count for reporting.
type FlowResult struct {
	AgentResult
	Attempts int `json:"attempts"`
}

// Run executes up to three attempts and returns the last result.
func (f *ActionFlow) Run(ctx context.Context, session string, agent AgentKind, prompt string, tier ai.ModelTier, tc *tools.Context) FlowResult {
	result := f.exec.Execute(ctx, session, agent, prompt, tier, tc)
	if result.Success || !ai.IsTransient(result.Error) {
		return FlowResult{AgentResult: result, Attempts: 1}
	}

	f.log.Info("transient failure, retrying same tier",
		zap.String("session", session),
		zap.String("error", result.Error))
	f.sleep(f.backoff)

	result = f.exec.Execute(ctx, session, agent, prompt, tier, tc)
	if result.Success || !ai.IsTransient(result.Error) {
		return FlowResult{AgentResult: result, Attempts: 2}
	}

	fbAgent, fbTier := fallbackTarget(agent, tier)
	f.log.Info("transient failure persists, using fallback target",
		zap.String("session", session),
		zap.String("agent", string(fbAgent)),
		zap.String("tier", string(fbTier)))
	f.sleep(f.backoff)

	result = f.exec.Execute(ctx, session, fbAgent, prompt, fbTier, tc)
	return FlowResult{AgentResult: result, Attempts: 3}
}

// fallbackTarget picks the third-attempt agent/tier: step the tier down one
// band (cheaper models sit behind different capacity pools) and keep the
// agent, except architects fall back to backend.
func fallbackTarget(agent AgentKind, tier ai.ModelTier) (AgentKind, ai.ModelTier) {
	fbTier := tier
	switch tier {
	case ai.TierPremium:
		fbTier = ai.TierStandard
	case ai.TierStandard:
		fbTier = ai.TierEconomy
	}
	if agent == AgentArchitect {
		return AgentBackend, fbTier
	}
	return agent, fbTier
}
