package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// scriptedClient replays a fixed sequence of outcomes. The last entry
// repeats once the script is exhausted.
type scriptedClient struct {
	provider AIProvider
	script   []func(emit StreamFunc) (*AIResponse, error)
	calls    int
}

func (c *scriptedClient) Provider() AIProvider { return c.provider }

func (c *scriptedClient) Stream(_ context.Context, _ *AIRequest, emit StreamFunc) (*AIResponse, error) {
	i := c.calls
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	c.calls++
	return c.script[i](emit)
}

func (c *scriptedClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	return c.Stream(ctx, req, nil)
}

func succeeds(content string) func(StreamFunc) (*AIResponse, error) {
	return func(emit StreamFunc) (*AIResponse, error) {
		if emit != nil {
			if err := emit(content); err != nil {
				return nil, err
			}
		}
		return &AIResponse{Content: content}, nil
	}
}

func fails(msg string) func(StreamFunc) (*AIResponse, error) {
	return func(StreamFunc) (*AIResponse, error) {
		return nil, errors.New(msg)
	}
}

func newTestChain(clients ...AIClient) *FallbackChain {
	fc := NewFallbackChain(clients, NewHealthBoard(), zap.NewNop())
	fc.sleep = func(time.Duration) {}
	return fc
}

func TestConverseSkipsCoolingProvider(t *testing.T) {
	a := &scriptedClient{provider: ProviderClaude, script: []func(StreamFunc) (*AIResponse, error){succeeds("from A")}}
	b := &scriptedClient{provider: ProviderOpenAI, script: []func(StreamFunc) (*AIResponse, error){succeeds("from B")}}
	fc := newTestChain(a, b)

	for i := 0; i < 3; i++ {
		fc.board.RecordFailure(ProviderClaude, "503")
	}

	res := fc.Converse(context.Background(), &AIRequest{Prompt: "hi"}, nil)
	if res.Provider != ProviderOpenAI {
		t.Fatalf("provider = %s, want openai", res.Provider)
	}
	if a.calls != 0 {
		t.Fatalf("cooling provider was attempted %d times", a.calls)
	}
	if res.UsedFallback {
		t.Fatal("healthy provider available, fallback must not be used")
	}
}

func TestConverseRetriesTransientOnce(t *testing.T) {
	a := &scriptedClient{provider: ProviderClaude, script: []func(StreamFunc) (*AIResponse, error){
		fails("429 rate limit"),
		succeeds("second try"),
	}}
	fc := newTestChain(a)

	res := fc.Converse(context.Background(), &AIRequest{Prompt: "hi"}, nil)
	if res.Content != "second try" {
		t.Fatalf("content = %q, want second try", res.Content)
	}
	if a.calls != 2 {
		t.Fatalf("calls = %d, want 2 (one retry)", a.calls)
	}
	if res.FailedOver {
		t.Fatal("same-provider retry is not a failover")
	}
}

func TestConverseNonTransientAdvancesImmediately(t *testing.T) {
	a := &scriptedClient{provider: ProviderClaude, script: []func(StreamFunc) (*AIResponse, error){fails("invalid api key")}}
	b := &scriptedClient{provider: ProviderOpenAI, script: []func(StreamFunc) (*AIResponse, error){succeeds("from B")}}
	fc := newTestChain(a, b)

	res := fc.Converse(context.Background(), &AIRequest{Prompt: "hi"}, nil)
	if a.calls != 1 {
		t.Fatalf("non-transient failure retried same provider: %d calls", a.calls)
	}
	if res.Provider != ProviderOpenAI || !res.FailedOver {
		t.Fatalf("expected failover to openai, got provider=%s failedOver=%t", res.Provider, res.FailedOver)
	}
}

func TestConverseExhaustionReturnsLocalFallback(t *testing.T) {
	a := &scriptedClient{provider: ProviderClaude, script: []func(StreamFunc) (*AIResponse, error){fails("500")}}
	b := &scriptedClient{provider: ProviderOpenAI, script: []func(StreamFunc) (*AIResponse, error){fails("503")}}
	fc := newTestChain(a, b)

	var streamed string
	res := fc.Converse(context.Background(), &AIRequest{Prompt: "hi"}, func(chunk string) error {
		streamed += chunk
		return nil
	})

	if !res.UsedFallback {
		t.Fatal("expected local fallback after exhaustion")
	}
	if res.Content != LocalFallbackMessage || streamed != LocalFallbackMessage {
		t.Fatalf("fallback message not forwarded: content=%q streamed=%q", res.Content, streamed)
	}
	// Transient failures earn one retry each.
	if a.calls != 2 || b.calls != 2 {
		t.Fatalf("calls = %d/%d, want 2/2", a.calls, b.calls)
	}
}

func TestConverseNeverInterleavesProviders(t *testing.T) {
	// A forwards a chunk, then dies. The chain must not switch to B or
	// append the fallback string after A's output.
	a := &scriptedClient{provider: ProviderClaude, script: []func(StreamFunc) (*AIResponse, error){
		func(emit StreamFunc) (*AIResponse, error) {
			_ = emit("partial from A")
			return nil, errors.New("connection reset")
		},
	}}
	b := &scriptedClient{provider: ProviderOpenAI, script: []func(StreamFunc) (*AIResponse, error){succeeds("from B")}}
	fc := newTestChain(a, b)

	var streamed string
	res := fc.Converse(context.Background(), &AIRequest{Prompt: "hi"}, func(chunk string) error {
		streamed += chunk
		return nil
	})

	if b.calls != 0 {
		t.Fatal("chain switched providers after output was forwarded")
	}
	if streamed != "partial from A" {
		t.Fatalf("streamed = %q, want only A's partial output", streamed)
	}
	if !res.Interrupted || res.Provider != ProviderClaude {
		t.Fatalf("result = %+v, want interrupted claude result", res)
	}
}

func TestModelTierFuelMultiplier(t *testing.T) {
	cases := []struct {
		tier ModelTier
		want int
	}{
		{TierEconomy, 1},
		{TierStandard, 2},
		{TierPremium, 5},
	}
	for _, tc := range cases {
		if got := tc.tier.FuelMultiplier(); got != tc.want {
			t.Fatalf("FuelMultiplier(%s) = %d, want %d", tc.tier, got, tc.want)
		}
	}
}
