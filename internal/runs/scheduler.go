package runs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom-build/internal/metrics"
)

// SchedulerConfig carries the run defaults.
type SchedulerConfig struct {
	DefaultMaxAttempts int
	RetryBackoff       time.Duration
	DispatchLimit      int
}

// Scheduler drives the background run state machine. It is stateless between
// calls: liveness depends on Dispatch being invoked repeatedly by an external
// trigger, not on any resident worker thread.
type Scheduler struct {
	store   *Store
	events  *EventLog
	cache   *RunCache
	workers map[string]Worker
	cfg     SchedulerConfig
	log     *zap.Logger

	now func() time.Time
}

// NewScheduler creates a scheduler over the store. cache may be nil.
func NewScheduler(store *Store, events *EventLog, cache *RunCache, cfg SchedulerConfig, logger *zap.Logger) *Scheduler {
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.DispatchLimit <= 0 {
		cfg.DispatchLimit = 1
	}
	return &Scheduler{
		store:   store,
		events:  events,
		cache:   cache,
		workers: make(map[string]Worker),
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
	}
}

// RegisterWorker binds an action name to its worker.
func (s *Scheduler) RegisterWorker(action string, w Worker) {
	s.workers[action] = w
}

// EnqueueRequest is the caller's view of a new run.
type EnqueueRequest struct {
	Action         string `json:"action"`
	AndroidTrack   string `json:"androidTrack,omitempty"`
	MaxAttempts    int    `json:"maxAttempts,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	Input          string `json:"input,omitempty"`
}

// Enqueue validates and persists a run. Duplicate idempotency keys return
// the original run unchanged.
func (s *Scheduler) Enqueue(req EnqueueRequest) (*BackgroundRun, error) {
	if _, ok := s.workers[req.Action]; !ok {
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}
	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}

	run := &BackgroundRun{
		ID:             uuid.New().String(),
		Status:         StatusQueued,
		Action:         req.Action,
		AndroidTrack:   req.AndroidTrack,
		MaxAttempts:    maxAttempts,
		Retryable:      true,
		NextRetryAt:    s.now(),
		Input:          req.Input,
		IdempotencyKey: key,
	}

	persisted, created, err := s.store.Enqueue(run)
	if err != nil {
		return nil, err
	}
	if created {
		s.events.Emit("run_enqueued", persisted.ID, "", fmt.Sprintf("run enqueued for action %s", persisted.Action), "")
		metrics.Get().RecordRunTransition("", string(StatusQueued))
		s.syncCache(persisted)
		s.updateQueueGauge()
	}
	return persisted, nil
}

// Get returns a run by id. Terminal runs are immutable and may be served
// straight from the advisory cache; anything in flight is read from the
// store and the cache refreshed.
func (s *Scheduler) Get(id string) (*BackgroundRun, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(context.Background(), id); ok && cached.Status.Terminal() {
			return cached, nil
		}
	}
	run, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	s.syncCache(run)
	return run, nil
}

// Events returns a run's supervisor events.
func (s *Scheduler) Events(runID string) ([]SupervisorEvent, error) {
	return s.store.ListEvents(runID)
}

// RequestCancel sets the cooperative cancel flag. Status is untouched; only
// a later dispatch observing the flag transitions the run to cancelled.
func (s *Scheduler) RequestCancel(id string) (*BackgroundRun, error) {
	run, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}
	if err := s.store.Patch(id, map[string]any{"cancel_requested": true}); err != nil {
		return nil, err
	}
	s.events.Emit("cancel_requested", id, "", "cancellation requested", "")
	fresh, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	s.syncCache(fresh)
	return fresh, nil
}

// Retry re-queues a failed retryable run after retryAfter. The attempts
// ceiling still applies: a run at max_attempts stays terminally failed.
func (s *Scheduler) Retry(id string, retryAfter time.Duration) (*BackgroundRun, error) {
	run, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusFailed || !run.Retryable {
		return nil, fmt.Errorf("run %s is not retryable (status=%s, retryable=%t)", id, run.Status, run.Retryable)
	}
	if run.AttemptCount >= run.MaxAttempts {
		return nil, fmt.Errorf("run %s exhausted its %d attempts", id, run.MaxAttempts)
	}

	next := s.now().Add(retryAfter)
	if err := s.store.Patch(id, map[string]any{
		"status":        StatusQueued,
		"next_retry_at": next,
	}); err != nil {
		return nil, err
	}
	s.transitionEvent(run, StatusFailed, StatusQueued, "re-queued by caller")
	s.updateQueueGauge()
	fresh, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	s.syncCache(fresh)
	return fresh, nil
}

// DispatchOutcome is the per-run result of a dispatch call.
type DispatchOutcome struct {
	RunID        string     `json:"runId"`
	Status       RunStatus  `json:"status"`
	Retried      bool       `json:"retried"`
	AttemptCount int        `json:"attemptCount"`
	Progress     string     `json:"progress,omitempty"`
	Output       string     `json:"output,omitempty"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Dispatch claims and processes up to limit due runs synchronously; a
// non-positive limit uses the configured dispatch limit. Each run
// is re-read from the store after the optimistic claim; cached state is never
// trusted.
func (s *Scheduler) Dispatch(ctx context.Context, limit int) ([]DispatchOutcome, error) {
	started := time.Now()
	defer func() {
		metrics.Get().DispatchDuration.Observe(time.Since(started).Seconds())
	}()

	if limit <= 0 {
		limit = s.cfg.DispatchLimit
	}
	due, err := s.store.ListDue(limit, s.now())
	if err != nil {
		return nil, err
	}

	outcomes := make([]DispatchOutcome, 0, len(due))
	for i := range due {
		run, claimed, err := s.store.Claim(due[i].ID, s.now())
		if err != nil {
			s.log.Error("claim failed", zap.String("run_id", due[i].ID), zap.Error(err))
			continue
		}
		if !claimed {
			// Another dispatcher won the row.
			continue
		}
		outcomes = append(outcomes, s.process(ctx, run))
	}
	s.updateQueueGauge()
	return outcomes, nil
}

// process runs one claimed run through its worker and applies the resulting
// transition.
func (s *Scheduler) process(ctx context.Context, run *BackgroundRun) DispatchOutcome {
	// Pre-work cancel checkpoint.
	if run.CancelRequested {
		s.finish(run, StatusCancelled, map[string]any{"status": StatusCancelled}, "cancel flag observed before work started")
		return s.outcome(run.ID, false)
	}

	worker := s.workers[run.Action]
	if worker == nil {
		s.finish(run, StatusFailed, map[string]any{
			"status":     StatusFailed,
			"retryable":  false,
			"last_error": fmt.Sprintf("no worker registered for action %q", run.Action),
		}, "no worker for action")
		return s.outcome(run.ID, false)
	}

	progress := func(stage string) {
		if err := s.store.Patch(run.ID, map[string]any{"progress": stage}); err != nil {
			s.log.Warn("progress update failed", zap.String("run_id", run.ID), zap.Error(err))
		}
		s.events.Emit("run_progress", run.ID, stage, "stage reached", "")
	}
	cancelled := func() bool {
		fresh, err := s.store.Get(run.ID)
		if err != nil {
			return false
		}
		return fresh.CancelRequested
	}

	output, err := worker.Run(ctx, run, progress, cancelled)

	switch {
	case err == nil:
		s.finish(run, StatusSucceeded, map[string]any{
			"status":     StatusSucceeded,
			"output":     output,
			"progress":   "done",
			"last_error": "",
		}, "run completed")
		return s.outcome(run.ID, false)

	case errors.Is(err, ErrCancelled):
		s.finish(run, StatusCancelled, map[string]any{
			"status":   StatusCancelled,
			"progress": "cancelled",
		}, "cancel flag observed at checkpoint")
		return s.outcome(run.ID, false)

	case IsTerminal(err):
		s.finish(run, StatusFailed, map[string]any{
			"status":     StatusFailed,
			"retryable":  false,
			"last_error": err.Error(),
		}, "terminal failure")
		return s.outcome(run.ID, false)

	case run.Retryable && run.AttemptCount < run.MaxAttempts:
		next := s.now().Add(s.cfg.RetryBackoff)
		s.finish(run, StatusQueued, map[string]any{
			"status":        StatusQueued,
			"next_retry_at": next,
			"last_error":    err.Error(),
		}, fmt.Sprintf("retrying after %s (attempt %d/%d)", s.cfg.RetryBackoff, run.AttemptCount, run.MaxAttempts))
		return s.outcome(run.ID, true)

	default:
		s.finish(run, StatusFailed, map[string]any{
			"status":     StatusFailed,
			"last_error": err.Error(),
		}, "attempts exhausted")
		return s.outcome(run.ID, false)
	}
}

// finish patches the run, emits the transition event, and syncs the cache.
func (s *Scheduler) finish(run *BackgroundRun, to RunStatus, fields map[string]any, summary string) {
	if err := s.store.Patch(run.ID, fields); err != nil {
		s.log.Error("run transition failed",
			zap.String("run_id", run.ID),
			zap.String("to", string(to)),
			zap.Error(err))
		return
	}
	s.transitionEvent(run, StatusRunning, to, summary)
	if fresh, err := s.store.Get(run.ID); err == nil {
		s.syncCache(fresh)
	}
}

func (s *Scheduler) transitionEvent(run *BackgroundRun, from, to RunStatus, summary string) {
	metrics.Get().RecordRunTransition(string(from), string(to))
	s.events.Emit("run_"+string(to), run.ID, run.Progress, summary, "")
}

func (s *Scheduler) outcome(id string, retried bool) DispatchOutcome {
	run, err := s.store.Get(id)
	if err != nil {
		return DispatchOutcome{RunID: id, Error: "run disappeared during dispatch"}
	}
	out := DispatchOutcome{
		RunID:        run.ID,
		Status:       run.Status,
		Retried:      retried,
		AttemptCount: run.AttemptCount,
		Progress:     run.Progress,
		Output:       run.Output,
		Error:        run.LastError,
	}
	if run.Status == StatusQueued {
		t := run.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}

func (s *Scheduler) syncCache(run *BackgroundRun) {
	if s.cache == nil {
		return
	}
	s.cache.Set(context.Background(), run)
}

func (s *Scheduler) updateQueueGauge() {
	if n, err := s.store.CountQueued(); err == nil {
		metrics.Get().RunsQueuedGauge.Set(float64(n))
	}
}
