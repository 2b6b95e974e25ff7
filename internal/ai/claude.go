package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ClaudeClient implements the Anthropic Messages API client
type ClaudeClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float32         `json:"temperature,omitempty"`
	System      string          `json:"system,omitempty"`
	Stream      bool            `json:"stream"`
}

// claudeStreamEvent is the subset of SSE event payloads we care about.
type claudeStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClaudeClient creates a new Anthropic API client
func NewClaudeClient(apiKey string) *ClaudeClient {
	return &ClaudeClient{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1/messages",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Provider implements AIClient
func (c *ClaudeClient) Provider() AIProvider { return ProviderClaude }

// model maps a tier to a concrete Anthropic model name.
func (c *ClaudeClient) model(req *AIRequest) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.Tier {
	case TierEconomy:
		return "claude-haiku-4-5-20251001"
	case TierPremium:
		return "claude-opus-4-5-20251101"
	default:
		return "claude-sonnet-4-5-20250929"
	}
}

// Generate implements AIClient
func (c *ClaudeClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	return c.Stream(ctx, req, nil)
}

// Stream implements AIClient using the Anthropic SSE streaming protocol
func (c *ClaudeClient) Stream(ctx context.Context, req *AIRequest, emit StreamFunc) (*AIResponse, error) {
	startTime := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(&claudeRequest{
		Model:       c.model(req),
		MaxTokens:   maxTokens,
		Messages:    []claudeMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		System:      req.System,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("claude: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("claude: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claude: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("claude: API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var content strings.Builder
	usage := &Usage{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var event claudeStreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			usage.PromptTokens = event.Message.Usage.InputTokens
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				content.WriteString(event.Delta.Text)
				if emit != nil {
					if err := emit(event.Delta.Text); err != nil {
						return nil, fmt.Errorf("claude: stream consumer aborted: %w", err)
					}
				}
			}
		case "message_delta":
			usage.CompletionTokens = event.Usage.OutputTokens
		case "error":
			if event.Error != nil {
				return nil, fmt.Errorf("claude: stream error %s: %s", event.Error.Type, event.Error.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("claude: stream read failed: %w", err)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return &AIResponse{
		ID:        req.ID,
		Provider:  ProviderClaude,
		Content:   content.String(),
		Usage:     usage,
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}
