package ai

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"loom-build/internal/metrics"
)

// LocalFallbackMessage is returned when every provider is exhausted. The
// chain never raises to its caller.
const LocalFallbackMessage = "I could not reach any AI provider right now. " +
	"Your request has not been lost; please try again in a moment."

// ConverseResult is the terminal outcome of a fallback-chain call. Exactly
// one provider's output (or the local fallback string) is ever forwarded.
// Interrupted marks a stream that failed after its first forwarded chunk;
// the chain does not switch providers at that point.
type ConverseResult struct {
	Provider     AIProvider  `json:"provider,omitempty"`
	Content      string      `json:"content"`
	UsedFallback bool        `json:"used_fallback"`
	FailedOver   bool        `json:"failed_over"`
	Interrupted  bool        `json:"interrupted,omitempty"`
	Response     *AIResponse `json:"-"`
}

// FallbackChain walks configured providers in health-ranked order until one
// yields output. Transient failures earn a single same-provider retry before
// the chain advances.
type FallbackChain struct {
	clients  []AIClient
	board    *HealthBoard
	limiters map[AIProvider]*rate.Limiter
	log      *zap.Logger

	// sleep is swappable for tests.
	sleep func(time.Duration)
}

// NewFallbackChain creates a chain over clients in priority order.
func NewFallbackChain(clients []AIClient, board *HealthBoard, logger *zap.Logger) *FallbackChain {
	if board == nil {
		board = NewHealthBoard()
	}
	limiters := make(map[AIProvider]*rate.Limiter, len(clients))
	for _, c := range clients {
		// 2 req/s sustained with small bursts; local Ollama is effectively unmetered.
		limit, burst := rate.Limit(2), 4
		if c.Provider() == ProviderOllama {
			limit, burst = rate.Limit(100), 100
		}
		limiters[c.Provider()] = rate.NewLimiter(limit, burst)
	}
	return &FallbackChain{
		clients:  clients,
		board:    board,
		limiters: limiters,
		log:      logger,
		sleep:    time.Sleep,
	}
}

// Board exposes the health board for status reporting.
func (fc *FallbackChain) Board() *HealthBoard { return fc.board }

// Providers returns the configured providers in priority order.
func (fc *FallbackChain) Providers() []AIProvider {
	out := make([]AIProvider, 0, len(fc.clients))
	for _, c := range fc.clients {
		out = append(out, c.Provider())
	}
	return out
}

// ranked returns available clients ordered by failure streak, then by
// configured priority. Providers inside a cooldown window are skipped.
func (fc *FallbackChain) ranked() []AIClient {
	type entry struct {
		client AIClient
		streak int
		order  int
	}
	entries := make([]entry, 0, len(fc.clients))
	for i, c := range fc.clients {
		p := c.Provider()
		if !fc.board.Available(p) {
			metrics.Get().SetAIProviderHealth(string(p), false)
			continue
		}
		metrics.Get().SetAIProviderHealth(string(p), true)
		entries = append(entries, entry{client: c, streak: fc.board.FailureStreak(p), order: i})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].streak != entries[j].streak {
			return entries[i].streak < entries[j].streak
		}
		return entries[i].order < entries[j].order
	})
	out := make([]AIClient, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.client)
	}
	return out
}

// Converse resolves a conversational request through the provider chain.
// Output forwarded to emit always comes from a single provider; once the
// first chunk of a provider has been forwarded, the chain is committed to it
// and will not fall over to another provider mid-response.
func (fc *FallbackChain) Converse(ctx context.Context, req *AIRequest, emit StreamFunc) *ConverseResult {
	failedOver := false

	for _, client := range fc.ranked() {
		provider := client.Provider()

		if limiter := fc.limiters[provider]; limiter != nil && !limiter.Allow() {
			fc.log.Warn("provider rate limited, skipping",
				zap.String("provider", string(provider)))
			failedOver = true
			continue
		}

		result, partial := fc.attempt(ctx, client, req, emit)
		if result != nil {
			result.FailedOver = failedOver
			return result
		}
		if partial != nil {
			// Output already reached the consumer; resolving with another
			// provider (or the fallback string) would interleave responses.
			// The request ends with what was forwarded.
			return &ConverseResult{
				Provider:    provider,
				Content:     *partial,
				FailedOver:  failedOver,
				Interrupted: true,
			}
		}
		failedOver = true
		if len(fc.clients) > 1 {
			metrics.Get().RecordAIFallback(string(provider), "next", "error")
		}
	}

	fc.log.Warn("all providers exhausted, returning local fallback")
	if emit != nil {
		_ = emit(LocalFallbackMessage)
	}
	return &ConverseResult{
		Content:      LocalFallbackMessage,
		UsedFallback: true,
		FailedOver:   failedOver,
	}
}

// attempt runs up to two tries against one provider (second try only for a
// transient failure with nothing yet forwarded). Returns a non-nil result on
// success; a non-nil partial holds the chunks already forwarded when the
// stream failed after commitment.
func (fc *FallbackChain) attempt(ctx context.Context, client AIClient, req *AIRequest, emit StreamFunc) (result *ConverseResult, partial *string) {
	provider := client.Provider()

	for try := 0; try < 2; try++ {
		started := time.Now()
		var forwarded strings.Builder
		emitted := false

		var guard StreamFunc
		if emit != nil {
			guard = func(chunk string) error {
				emitted = true
				forwarded.WriteString(chunk)
				return emit(chunk)
			}
		}

		resp, err := client.Stream(ctx, req, guard)
		if err == nil {
			fc.board.RecordSuccess(provider)
			metrics.Get().RecordAIRequest(string(provider), "ok", time.Since(started))
			return &ConverseResult{
				Provider: provider,
				Content:  resp.Content,
				Response: resp,
			}, nil
		}

		fc.board.RecordFailure(provider, err.Error())
		metrics.Get().RecordAIRequest(string(provider), "error", time.Since(started))
		fc.log.Warn("provider call failed",
			zap.String("provider", string(provider)),
			zap.Int("try", try+1),
			zap.Error(err))

		if emitted {
			s := forwarded.String()
			return nil, &s
		}
		if !IsTransientErr(err) || ctx.Err() != nil {
			return nil, nil
		}
		if try == 0 {
			fc.sleep(500 * time.Millisecond)
		}
	}
	return nil, nil
}
