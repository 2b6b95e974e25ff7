package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/metrics"
	"loom-build/internal/tools"
)

// GateResult is one gate's verdict over the workspace.
type GateResult struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// AuditResult is one full pass over all gates. Never mutated in place; each
// pass produces a new snapshot so history stays inspectable.
type AuditResult struct {
	Passed bool                  `json:"passed"`
	Gates  map[string]GateResult `json:"gates"`
	At     time.Time             `json:"at"`
}

// Gate is an independent quality check over a workspace.
type Gate struct {
	Name  string
	Check func(tc *tools.Context) GateResult
}

// AuditOutcome is the terminal pipeline result. Escalated means gates still
// failed after the single autofix pass; the issues then require a human.
type AuditOutcome struct {
	Passed    bool          `json:"passed"`
	Escalated bool          `json:"escalated"`
	History   []AuditResult `json:"history"`
	Issues    []string      `json:"issues,omitempty"`
}

// AuditPipeline runs named gates, drives one bounded autofix pass through
// the reviewer agent, and escalates when the re-run still fails.
type AuditPipeline struct {
	exec  AgentRunner
	gates []Gate
	log   *zap.Logger
}

// NewAuditPipeline creates the pipeline. Passing no gates installs the
// default set (visual, functional, hygiene, security).
func NewAuditPipeline(exec AgentRunner, logger *zap.Logger, gates ...Gate) *AuditPipeline {
	if len(gates) == 0 {
		gates = DefaultGates()
	}
	return &AuditPipeline{exec: exec, gates: gates, log: logger}
}

// Run gates the workspace. All pass ⇒ done. Any failure ⇒ exactly one
// autofix attempt through the reviewer, then a re-run; still failing ⇒
// escalated with full issue detail.
func (p *AuditPipeline) Run(ctx context.Context, session string, tc *tools.Context) AuditOutcome {
	first := p.runGates(tc)
	outcome := AuditOutcome{History: []AuditResult{first}}

	if first.Passed {
		outcome.Passed = true
		return outcome
	}

	issues := collectIssues(first)
	p.log.Info("audit gates failed, attempting autofix",
		zap.String("session", session),
		zap.Int("issues", len(issues)))

	fix := p.exec.Execute(ctx, session, AgentReviewer, autofixPrompt(issues), ai.TierStandard, tc)
	if !fix.Success {
		p.log.Warn("autofix execution failed",
			zap.String("session", session),
			zap.String("error", fix.Error))
	}

	second := p.runGates(tc)
	outcome.History = append(outcome.History, second)

	if second.Passed {
		outcome.Passed = true
		return outcome
	}

	outcome.Escalated = true
	outcome.Issues = collectIssues(second)
	return outcome
}

func (p *AuditPipeline) runGates(tc *tools.Context) AuditResult {
	result := AuditResult{
		Passed: true,
		Gates:  make(map[string]GateResult, len(p.gates)),
		At:     time.Now(),
	}
	for _, g := range p.gates {
		gr := g.Check(tc)
		result.Gates[g.Name] = gr
		if gr.Passed {
			metrics.Get().AuditGatesTotal.WithLabelValues(g.Name, "passed").Inc()
		} else {
			metrics.Get().AuditGatesTotal.WithLabelValues(g.Name, "failed").Inc()
			result.Passed = false
		}
	}
	return result
}

func collectIssues(r AuditResult) []string {
	var issues []string
	for name, gr := range r.Gates {
		for _, issue := range gr.Issues {
			issues = append(issues, fmt.Sprintf("[%s] %s", name, issue))
		}
	}
	return issues
}

func autofixPrompt(issues []string) string {
	return "Fix the following audit issues in the workspace files:\n- " +
		strings.Join(issues, "\n- ")
}

// DefaultGates returns the built-in deterministic checks. These are cheap
// static scans; deeper checks (sandbox runs, screenshot diffs) live with
// external collaborators.
func DefaultGates() []Gate {
	return []Gate{
		{Name: "visual", Check: visualGate},
		{Name: "functional", Check: functionalGate},
		{Name: "hygiene", Check: hygieneGate},
		{Name: "security", Check: securityGate},
	}
}

func visualGate(tc *tools.Context) GateResult {
	var issues []string
	for _, path := range tc.ListFiles() {
		content, _ := tc.ReadFile(path)
		if strings.TrimSpace(content) == "" {
			issues = append(issues, fmt.Sprintf("%s is empty", path))
		}
	}
	return GateResult{Passed: len(issues) == 0, Issues: issues}
}

func functionalGate(tc *tools.Context) GateResult {
	if tc.FileCount() == 0 {
		return GateResult{Passed: false, Issues: []string{"workspace has no files"}}
	}
	var issues []string
	for _, path := range tc.ListFiles() {
		content, _ := tc.ReadFile(path)
		if strings.Contains(content, "UNIMPLEMENTED") || strings.Contains(content, "throw new Error(\"not implemented\")") {
			issues = append(issues, fmt.Sprintf("%s contains unimplemented sections", path))
		}
	}
	return GateResult{Passed: len(issues) == 0, Issues: issues}
}

func hygieneGate(tc *tools.Context) GateResult {
	var issues []string
	for _, path := range tc.ListFiles() {
		content, _ := tc.ReadFile(path)
		if strings.Contains(content, "console.log(") {
			issues = append(issues, fmt.Sprintf("%s contains leftover console.log", path))
		}
		if strings.Contains(content, "FIXME") {
			issues = append(issues, fmt.Sprintf("%s contains FIXME markers", path))
		}
	}
	return GateResult{Passed: len(issues) == 0, Issues: issues}
}

var secretPatterns = []string{
	"api_key =", "api_key=", "apiKey = \"sk-", "secret = \"", "password = \"",
	"BEGIN RSA PRIVATE KEY",
}

func securityGate(tc *tools.Context) GateResult {
	var issues []string
	for _, path := range tc.ListFiles() {
		content, _ := tc.ReadFile(path)
		lower := strings.ToLower(content)
		for _, pat := range secretPatterns {
			if strings.Contains(lower, strings.ToLower(pat)) {
				issues = append(issues, fmt.Sprintf("%s may contain a hardcoded credential", path))
				break
			}
		}
	}
	return GateResult{Passed: len(issues) == 0, Issues: issues}
}
