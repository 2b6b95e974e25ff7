package orchestrator

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/tools"
)

// fixerRunner plays the reviewer: it rewrites workspace files to strip the
// offending markers when asked to autofix.
type fixerRunner struct {
	fix   bool
	calls int
}

func (f *fixerRunner) Execute(_ context.Context, _ string, agent AgentKind, _ string, _ ai.ModelTier, tc *tools.Context) AgentResult {
	f.calls++
	if f.fix {
		for _, path := range tc.ListFiles() {
			content, _ := tc.ReadFile(path)
			content = strings.ReplaceAll(content, "console.log(\"debug\");", "")
			tc.WriteFile(path, content)
		}
	}
	return AgentResult{Agent: agent, Success: true}
}

func TestAuditAllGatesPass(t *testing.T) {
	runner := &fixerRunner{}
	pipeline := NewAuditPipeline(runner, zap.NewNop())

	tc := tools.NewContext("s1")
	tc.WriteFile("app.ts", "export const app = 1")

	outcome := pipeline.Run(context.Background(), "s1", tc)
	if !outcome.Passed || outcome.Escalated {
		t.Fatalf("clean workspace failed audit: %+v", outcome)
	}
	if len(outcome.History) != 1 {
		t.Fatalf("history = %d passes, want 1 when gates pass first time", len(outcome.History))
	}
	if runner.calls != 0 {
		t.Fatal("no autofix may run when all gates pass")
	}
}

func TestAuditAutofixRecovers(t *testing.T) {
	runner := &fixerRunner{fix: true}
	pipeline := NewAuditPipeline(runner, zap.NewNop())

	tc := tools.NewContext("s1")
	tc.WriteFile("app.ts", "export const app = 1\nconsole.log(\"debug\");")

	outcome := pipeline.Run(context.Background(), "s1", tc)
	if !outcome.Passed {
		t.Fatalf("audit failed after successful autofix: %+v", outcome)
	}
	if len(outcome.History) != 2 {
		t.Fatalf("history = %d passes, want 2 (initial + re-run)", len(outcome.History))
	}
	if runner.calls != 1 {
		t.Fatalf("autofix ran %d times, want exactly 1", runner.calls)
	}
	if outcome.History[0].Passed || !outcome.History[1].Passed {
		t.Fatalf("history verdicts wrong: %+v", outcome.History)
	}
}

func TestAuditEscalatesAfterFailedAutofix(t *testing.T) {
	runner := &fixerRunner{fix: false}
	pipeline := NewAuditPipeline(runner, zap.NewNop())

	tc := tools.NewContext("s1")
	tc.WriteFile("app.ts", "console.log(\"debug\");")

	outcome := pipeline.Run(context.Background(), "s1", tc)
	if outcome.Passed {
		t.Fatal("unfixed workspace must not pass")
	}
	if !outcome.Escalated {
		t.Fatal("second failure must escalate, not loop")
	}
	if runner.calls != 1 {
		t.Fatalf("autofix ran %d times, want exactly 1 (bounded)", runner.calls)
	}
	if len(outcome.Issues) == 0 {
		t.Fatal("escalation must carry itemized issues")
	}
	if !strings.Contains(outcome.Issues[0], "[hygiene]") {
		t.Fatalf("issues = %v, want hygiene gate attribution", outcome.Issues)
	}
}

func TestSecurityGateFlagsHardcodedSecrets(t *testing.T) {
	tc := tools.NewContext("s1")
	tc.WriteFile("config.ts", `const password = "hunter2"`)

	res := securityGate(tc)
	if res.Passed {
		t.Fatal("hardcoded credential slipped through the security gate")
	}
}

func TestFunctionalGateEmptyWorkspace(t *testing.T) {
	res := functionalGate(tools.NewContext("s1"))
	if res.Passed {
		t.Fatal("empty workspace must fail the functional gate")
	}
}
