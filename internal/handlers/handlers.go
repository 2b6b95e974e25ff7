// Package handlers exposes the orchestration and dispatch HTTP API.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"loom-build/internal/ai"
	"loom-build/internal/orchestrator"
	"loom-build/internal/runs"
	"loom-build/internal/tools"
)

// Handler carries the wired orchestration components.
type Handler struct {
	router      *orchestrator.Router
	flow        *orchestrator.ActionFlow
	coordinator *orchestrator.ParallelCoordinator
	audit       *orchestrator.AuditPipeline
	scheduler   *runs.Scheduler
	chain       *ai.FallbackChain
	log         *zap.Logger
}

// New creates the handler set.
func New(
	router *orchestrator.Router,
	flow *orchestrator.ActionFlow,
	coordinator *orchestrator.ParallelCoordinator,
	audit *orchestrator.AuditPipeline,
	scheduler *runs.Scheduler,
	chain *ai.FallbackChain,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		router:      router,
		flow:        flow,
		coordinator: coordinator,
		audit:       audit,
		scheduler:   scheduler,
		chain:       chain,
		log:         logger,
	}
}

type orchestrateRequest struct {
	Session     string `json:"session"`
	Description string `json:"description" binding:"required"`
	Multimodal  bool   `json:"multimodal"`
	Parallel    bool   `json:"parallel"`
	Audit       bool   `json:"audit"`
}

type orchestrateResponse struct {
	Session   string                         `json:"session"`
	Preflight orchestrator.PreflightResult   `json:"preflight"`
	Decision  *orchestrator.RoutingDecision  `json:"decision,omitempty"`
	Result    *orchestrator.FlowResult       `json:"result,omitempty"`
	Parallel  *orchestrator.ParallelResult   `json:"parallel,omitempty"`
	Audit     *orchestrator.AuditOutcome     `json:"audit,omitempty"`
	Files     []string                       `json:"files,omitempty"`
}

// Orchestrate routes a request and executes it, fanning out when the planner
// decomposed the work and parallel execution was asked for.
func (h *Handler) Orchestrate(c *gin.Context) {
	var req orchestrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}
	if req.Session == "" {
		req.Session = uuid.New().String()
	}

	tc := tools.NewContext(req.Session)
	resp := orchestrateResponse{Session: req.Session}

	if req.Parallel {
		parallel, route := h.coordinator.OrchestrateParallel(c.Request.Context(), req.Session, req.Description, tc)
		resp.Preflight = route.Preflight
		resp.Decision = route.Decision
		if route.Decision == nil {
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		resp.Parallel = &parallel
	} else {
		route := h.router.Route(c.Request.Context(), req.Description, req.Multimodal)
		resp.Preflight = route.Preflight
		resp.Decision = route.Decision
		if route.Decision == nil {
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		result := h.flow.Run(c.Request.Context(), req.Session, route.Decision.TargetAgent, req.Description, route.Decision.Tier, tc)
		resp.Result = &result
	}

	if req.Audit {
		outcome := h.audit.Run(c.Request.Context(), req.Session, tc)
		resp.Audit = &outcome
	}
	resp.Files = tc.ListFiles()

	c.JSON(http.StatusOK, resp)
}

// Preflight runs only the zero-cost feasibility check.
func (h *Handler) Preflight(c *gin.Context) {
	var req struct {
		Description string `json:"description" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}
	res := orchestrator.Preflight(req.Description)
	orchestrator.RecordPreflight(res)
	c.JSON(http.StatusOK, res)
}

// EnqueueRun creates (or idempotently returns) a background run.
func (h *Handler) EnqueueRun(c *gin.Context) {
	var req runs.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Action == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	run, err := h.scheduler.Enqueue(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// GetRun returns a run with its supervisor events.
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.scheduler.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, runs.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		h.internalError(c, err)
		return
	}

	events, err := h.scheduler.Events(run.ID)
	if err != nil {
		h.log.Warn("event listing failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "events": events})
}

type dispatchRequest struct {
	Operation         string `json:"operation" binding:"required"`
	Limit             int    `json:"limit"`
	RunID             string `json:"runId"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// DispatchRuns is the pull-based dispatch API: dispatch, request-cancel, retry.
func (h *Handler) DispatchRuns(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operation is required"})
		return
	}

	switch req.Operation {
	case "dispatch":
		outcomes, err := h.scheduler.Dispatch(c.Request.Context(), req.Limit)
		if err != nil {
			h.internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"dispatched": len(outcomes), "runs": outcomes})

	case "request-cancel":
		run, err := h.scheduler.RequestCancel(req.RunID)
		if err != nil {
			h.runOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)

	case "retry":
		run, err := h.scheduler.Retry(req.RunID, time.Duration(req.RetryAfterSeconds)*time.Second)
		if err != nil {
			h.runOpError(c, err)
			return
		}
		c.JSON(http.StatusOK, run)

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "operation must be dispatch, request-cancel, or retry"})
	}
}

// Health reports liveness plus provider health, without naming providers to
// unauthenticated callers beyond their configured labels.
func (h *Handler) Health(c *gin.Context) {
	providers := gin.H{}
	for p, rec := range h.chain.Board().Snapshot() {
		providers[string(p)] = gin.H{
			"consecutive_failures": rec.ConsecutiveFailures,
			"cooling_down":         !h.chain.Board().Available(p),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"providers": providers,
	})
}

func (h *Handler) runOpError(c *gin.Context, err error) {
	if errors.Is(err, runs.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
}

// internalError hides internals behind a generic message; details go to the
// log only.
func (h *Handler) internalError(c *gin.Context, err error) {
	h.log.Error("internal error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown error"})
}
