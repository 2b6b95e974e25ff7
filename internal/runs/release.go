package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"loom-build/internal/storage"
)

// Release actions handled by the ReleaseWorker.
const (
	ActionWeb     = "web"
	ActionAndroid = "android"
	ActionIOS     = "ios"
)

// ReleaseWorker builds and publishes one release artifact. Mobile actions
// require an Expo token; building without one is a terminal configuration
// failure, not something a retry can fix.
type ReleaseWorker struct {
	expoToken string
	artifacts storage.ArtifactStore
	log       *zap.Logger

	// buildStage is swappable for tests; the default just sleeps briefly to
	// model real build latency.
	buildStage func(ctx context.Context, run *BackgroundRun, stage string) error
}

// NewReleaseWorker creates the worker. artifacts may be nil, in which case
// the manifest is kept inline in the run output.
func NewReleaseWorker(expoToken string, artifacts storage.ArtifactStore, logger *zap.Logger) *ReleaseWorker {
	return &ReleaseWorker{
		expoToken: expoToken,
		artifacts: artifacts,
		log:       logger,
		buildStage: func(ctx context.Context, _ *BackgroundRun, _ string) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Millisecond):
				return nil
			}
		},
	}
}

var releaseStages = []string{"preparing", "building", "packaging", "uploading"}

// Run executes one release attempt, reporting staged progress and observing
// the cancel flag between stages.
func (w *ReleaseWorker) Run(ctx context.Context, run *BackgroundRun, progress ProgressFunc, cancelled CancelledFunc) (string, error) {
	switch run.Action {
	case ActionWeb:
	case ActionAndroid, ActionIOS:
		if w.expoToken == "" {
			return "", Terminal("EXPO_TOKEN is not configured; %s builds require an Expo access token", run.Action)
		}
	default:
		return "", Terminal("unsupported release action %q", run.Action)
	}

	for _, stage := range releaseStages {
		if cancelled() {
			w.log.Info("release cancelled at checkpoint",
				zap.String("run_id", run.ID),
				zap.String("stage", stage))
			return "", ErrCancelled
		}
		progress(stage)
		if err := w.buildStage(ctx, run, stage); err != nil {
			return "", fmt.Errorf("release stage %s: %w", stage, err)
		}
	}

	manifest, err := w.manifest(run)
	if err != nil {
		return "", err
	}

	if w.artifacts != nil {
		key := fmt.Sprintf("releases/%s/%s.json", run.Action, run.ID)
		url, err := w.artifacts.Put(ctx, key, strings.NewReader(manifest), "application/json")
		if err != nil {
			return "", fmt.Errorf("upload release manifest: %w", err)
		}
		return url, nil
	}
	return manifest, nil
}

// manifest describes the built release.
func (w *ReleaseWorker) manifest(run *BackgroundRun) (string, error) {
	m := map[string]any{
		"runId":   run.ID,
		"action":  run.Action,
		"attempt": run.AttemptCount,
		"builtAt": time.Now().UTC().Format(time.RFC3339),
	}
	if run.Action == ActionAndroid && run.AndroidTrack != "" {
		m["track"] = run.AndroidTrack
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode release manifest: %w", err)
	}
	return string(data), nil
}
