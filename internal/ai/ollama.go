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

// OllamaClient talks to a local Ollama server. Free to run, so the fallback
// chain keeps it as the last resort before the canned local answer.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// NewOllamaClient creates a client for an Ollama server at baseURL
// (e.g. http://localhost:11434).
func NewOllamaClient(baseURL string) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 300 * time.Second, // local models can be slow
		},
	}
}

// Provider implements AIClient
func (c *OllamaClient) Provider() AIProvider { return ProviderOllama }

func (c *OllamaClient) model(req *AIRequest) string {
	if req.Model != "" {
		return req.Model
	}
	// Local models are not tiered; one default serves all tiers.
	return "qwen2.5-coder:14b"
}

// Generate implements AIClient
func (c *OllamaClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	return c.Stream(ctx, req, nil)
}

// Stream implements AIClient using Ollama's NDJSON streaming chat endpoint
func (c *OllamaClient) Stream(ctx context.Context, req *AIRequest, emit StreamFunc) (*AIResponse, error) {
	startTime := time.Now()

	messages := []ollamaMessage{}
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Prompt})

	options := map[string]any{}
	if req.Temperature > 0 {
		options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(&ollamaChatRequest{
		Model:    c.model(req),
		Messages: messages,
		Stream:   true,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama: API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var content strings.Builder
	usage := &Usage{}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaChatChunk
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama: stream error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if emit != nil {
				if err := emit(chunk.Message.Content); err != nil {
					return nil, fmt.Errorf("ollama: stream consumer aborted: %w", err)
				}
			}
		}
		if chunk.Done {
			usage.PromptTokens = chunk.PromptEvalCount
			usage.CompletionTokens = chunk.EvalCount
			usage.TotalTokens = chunk.PromptEvalCount + chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama: stream read failed: %w", err)
	}

	return &AIResponse{
		ID:        req.ID,
		Provider:  ProviderOllama,
		Content:   content.String(),
		Usage:     usage,
		Duration:  time.Since(startTime),
		CreatedAt: time.Now(),
	}, nil
}
