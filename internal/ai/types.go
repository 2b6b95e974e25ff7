// Package ai provides the model provider clients and the conversational
// fallback chain for LOOM.BUILD.
package ai

import (
	"context"
	"time"
)

// AIProvider represents the available AI providers
type AIProvider string

const (
	ProviderClaude AIProvider = "claude"
	ProviderOpenAI AIProvider = "openai"
	ProviderOllama AIProvider = "ollama"
)

// ModelTier selects a cost/capability band. Each provider maps tiers to
// concrete model names; fuel accounting scales with the tier.
type ModelTier string

const (
	TierEconomy  ModelTier = "economy"
	TierStandard ModelTier = "standard"
	TierPremium  ModelTier = "premium"
)

// FuelMultiplier returns the per-tool-call fuel cost multiplier for a tier.
func (t ModelTier) FuelMultiplier() int {
	switch t {
	case TierEconomy:
		return 1
	case TierPremium:
		return 5
	default:
		return 2
	}
}

// Valid reports whether t is a known tier.
func (t ModelTier) Valid() bool {
	switch t {
	case TierEconomy, TierStandard, TierPremium:
		return true
	}
	return false
}

// AIRequest represents a request to an AI provider
type AIRequest struct {
	ID          string    `json:"id"`
	Tier        ModelTier `json:"tier"`
	Model       string    `json:"model,omitempty"` // explicit override
	System      string    `json:"system,omitempty"`
	Prompt      string    `json:"prompt"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

// AIResponse represents a response from an AI provider
type AIResponse struct {
	ID        string        `json:"id"`
	Provider  AIProvider    `json:"provider"`
	Content   string        `json:"content"`
	Usage     *Usage        `json:"usage,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Usage represents token usage for an AI request
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamFunc receives text chunks as a provider produces them. Returning an
// error aborts the stream.
type StreamFunc func(chunk string) error

// AIClient is implemented by every provider client.
type AIClient interface {
	// Provider returns the provider identifier
	Provider() AIProvider

	// Stream generates content, forwarding chunks to emit as they arrive.
	// The returned response carries the full accumulated content.
	Stream(ctx context.Context, req *AIRequest, emit StreamFunc) (*AIResponse, error)

	// Generate is Stream without a chunk consumer.
	Generate(ctx context.Context, req *AIRequest) (*AIResponse, error)
}
