package runs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestRunCacheMemoryRoundTrip(t *testing.T) {
	cache := NewRunCache("", zap.NewNop())
	ctx := context.Background()

	if _, ok := cache.Get(ctx, "missing"); ok {
		t.Fatal("empty cache returned a run")
	}

	run := &BackgroundRun{
		ID:       uuid.New().String(),
		Status:   StatusSucceeded,
		Action:   ActionWeb,
		Progress: "done",
		Output:   "mem://releases/web/out.json",
	}
	cache.Set(ctx, run)

	got, ok := cache.Get(ctx, run.ID)
	if !ok {
		t.Fatal("cached run not found")
	}
	if got.Status != StatusSucceeded || got.Output != run.Output || got.Progress != "done" {
		t.Fatalf("cached run = %+v, want the stored copy", got)
	}

	// The cache hands out copies, not aliases.
	got.Output = "mutated"
	again, _ := cache.Get(ctx, run.ID)
	if again.Output != run.Output {
		t.Fatal("cache returned a mutable alias")
	}
}

func TestRunCacheBadRedisURLFallsBackToMemory(t *testing.T) {
	cache := NewRunCache("not a redis url", zap.NewNop())
	ctx := context.Background()

	run := &BackgroundRun{ID: uuid.New().String(), Status: StatusFailed}
	cache.Set(ctx, run)

	got, ok := cache.Get(ctx, run.ID)
	if !ok || got.Status != StatusFailed {
		t.Fatalf("fallback cache get = %+v ok=%t, want the stored run", got, ok)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRunCacheOverwriteKeepsLatest(t *testing.T) {
	cache := NewRunCache("", zap.NewNop())
	ctx := context.Background()
	id := uuid.New().String()

	cache.Set(ctx, &BackgroundRun{ID: id, Status: StatusQueued})
	cache.Set(ctx, &BackgroundRun{ID: id, Status: StatusRunning, Progress: "building", UpdatedAt: time.Now()})

	got, ok := cache.Get(ctx, id)
	if !ok || got.Status != StatusRunning || got.Progress != "building" {
		t.Fatalf("cache = %+v, want the latest write", got)
	}
}
