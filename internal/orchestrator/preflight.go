package orchestrator

import (
	"strings"

	"loom-build/internal/metrics"
)

// FuelEstimate bounds the expected fuel cost of a request.
type FuelEstimate struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// PreflightResult is the outcome of the zero-cost feasibility check.
type PreflightResult struct {
	Feasible      bool         `json:"feasible"`
	Reason        string       `json:"reason,omitempty"`
	Complexity    Complexity   `json:"complexity"`
	EstimatedFuel FuelEstimate `json:"estimated_fuel"`
}

// denylist entries are matched as lowercase substrings. Each rejection is
// free: no model is consulted and no fuel is charged.
var denylist = []struct {
	pattern string
	reason  string
}{
	{"build me a facebook", "scope too large: cloning a major platform is beyond a single build session"},
	{"build me a twitter", "scope too large: cloning a major platform is beyond a single build session"},
	{"clone of amazon", "scope too large: cloning a major platform is beyond a single build session"},
	{"build an operating system", "scope too large: not an app-builder task"},
	{"ddos", "malicious intent"},
	{"denial of service attack", "malicious intent"},
	{"keylogger", "malicious intent"},
	{"ransomware", "malicious intent"},
	{"steal credentials", "malicious intent"},
	{"phishing site", "malicious intent"},
	{"bypass authentication", "security bypass"},
	{"bypass 2fa", "security bypass"},
	{"crack password", "security bypass"},
	{"sql injection attack", "security bypass"},
}

var complexKeywords = []string{
	"microservice", "realtime", "real-time", "websocket", "payment",
	"marketplace", "multi-tenant", "machine learning", "recommendation",
	"video", "streaming", "oauth", "distributed",
}

var trivialKeywords = []string{
	"rename", "typo", "change the color", "change color", "update the text",
	"fix the label",
}

// fuelBands maps a complexity band to its expected fuel cost range.
var fuelBands = map[Complexity]FuelEstimate{
	ComplexityTrivial:       {Min: 1, Max: 5},
	ComplexitySimple:        {Min: 5, Max: 25},
	ComplexityModerate:      {Min: 25, Max: 100},
	ComplexityComplex:       {Min: 100, Max: 400},
	ComplexityArchitectural: {Min: 400, Max: 1000},
}

// Preflight runs the pure, side-effect-free feasibility check. A denylist
// match rejects with a zero fuel estimate; everything else gets a heuristic
// complexity band and cost range.
func Preflight(description string) PreflightResult {
	lower := strings.ToLower(strings.TrimSpace(description))

	if lower == "" {
		return PreflightResult{
			Feasible: false,
			Reason:   "empty task description",
		}
	}

	for _, d := range denylist {
		if strings.Contains(lower, d.pattern) {
			return PreflightResult{
				Feasible: false,
				Reason:   d.reason,
			}
		}
	}

	complexity := estimateComplexity(lower)
	return PreflightResult{
		Feasible:      true,
		Complexity:    complexity,
		EstimatedFuel: fuelBands[complexity],
	}
}

// RecordPreflight counts a preflight verdict. Preflight itself stays
// side-effect-free so callers decide whether a check is worth counting.
func RecordPreflight(res PreflightResult) {
	verdict := "accepted"
	if !res.Feasible {
		verdict = "rejected"
	}
	metrics.Get().PreflightTotal.WithLabelValues(verdict).Inc()
}

// estimateComplexity bands a request by word count and keyword density.
func estimateComplexity(lower string) Complexity {
	words := len(strings.Fields(lower))

	hits := 0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			hits++
		}
	}
	for _, kw := range trivialKeywords {
		if strings.Contains(lower, kw) {
			return ComplexityTrivial
		}
	}

	switch {
	case hits >= 3 || words > 200:
		return ComplexityArchitectural
	case hits == 2 || words > 80:
		return ComplexityComplex
	case hits == 1 || words > 25:
		return ComplexityModerate
	case words > 6:
		return ComplexitySimple
	default:
		return ComplexityTrivial
	}
}
