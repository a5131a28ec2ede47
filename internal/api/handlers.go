package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// HealthChecker reports broker health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StateReader loads the ServiceState singleton.
type StateReader interface {
	Load(ctx context.Context) (core.ServiceState, error)
}

// CheckScheduler queues a check trigger.
type CheckScheduler interface {
	ScheduleNextCheck(ctx context.Context, delay time.Duration, skipActiveCheck bool) (bool, error)
}

// CycleReader loads recorded cycles.
type CycleReader interface {
	Get(ctx context.Context, id string) (*core.CheckCycle, error)
}

// QueueInspector exposes queue counts and failed jobs.
type QueueInspector interface {
	QueueStats(ctx context.Context, name string) (*core.QueueStats, error)
	ListFailed(ctx context.Context, queue string, limit int) ([]*core.Job, error)
}

// ResultReader returns the newest stored probe results.
type ResultReader interface {
	Recent(ctx context.Context, n int) ([]core.ProbeResult, error)
}

// SystemHandler serves liveness.
type SystemHandler struct {
	health HealthChecker
	start  time.Time
}

// NewSystemHandler creates a SystemHandler.
func NewSystemHandler(health HealthChecker) *SystemHandler {
	return &SystemHandler{health: health, start: time.Now()}
}

// Health handles GET /healthz.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.start).Seconds()),
	}
	if err := h.health.Health(r.Context()); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// CheckHandler serves the scheduler state and manual triggers.
type CheckHandler struct {
	state     StateReader
	scheduler CheckScheduler
}

// NewCheckHandler creates a CheckHandler.
func NewCheckHandler(state StateReader, scheduler CheckScheduler) *CheckHandler {
	return &CheckHandler{state: state, scheduler: scheduler}
}

// State handles GET /v1/state.
func (h *CheckHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.state.Load(r.Context())
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

type scheduleRequest struct {
	DelayMs         int64 `json:"delay_ms"`
	SkipActiveCheck bool  `json:"skip_active_check"`
}

// Schedule handles POST /v1/checks/schedule. An empty body schedules an
// immediate check.
func (h *CheckHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("Invalid JSON body.", map[string]any{"error": err.Error()}))
			return
		}
	}
	if req.DelayMs < 0 {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("delay_ms must not be negative.", nil))
		return
	}

	queued, err := h.scheduler.ScheduleNextCheck(r.Context(), time.Duration(req.DelayMs)*time.Millisecond, req.SkipActiveCheck)
	if err != nil {
		HandleError(w, err)
		return
	}

	status := http.StatusAccepted
	if !queued {
		status = http.StatusOK
	}
	WriteJSON(w, status, map[string]any{"queued": queued, "delay_ms": req.DelayMs})
}

// CycleHandler serves recorded cycles.
type CycleHandler struct {
	cycles CycleReader
}

// NewCycleHandler creates a CycleHandler.
func NewCycleHandler(cycles CycleReader) *CycleHandler {
	return &CycleHandler{cycles: cycles}
}

// Get handles GET /v1/cycles/{id}.
func (h *CycleHandler) Get(w http.ResponseWriter, r *http.Request) {
	cycle, err := h.cycles.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"cycle": cycle})
}

// QueueHandler serves queue inspection.
type QueueHandler struct {
	queues QueueInspector
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(queues QueueInspector) *QueueHandler {
	return &QueueHandler{queues: queues}
}

// Stats handles GET /v1/queues/{name}/stats.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queues.QueueStats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		HandleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// Failed handles GET /v1/queues/{name}/failed?limit=n.
func (h *QueueHandler) Failed(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 50)
	if !ok {
		return
	}

	jobs, err := h.queues.ListFailed(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// ResultHandler serves stored probe results for trend reporting.
type ResultHandler struct {
	results ResultReader
}

// NewResultHandler creates a ResultHandler.
func NewResultHandler(results ResultReader) *ResultHandler {
	return &ResultHandler{results: results}
}

// MaxResultsLimit caps GET /v1/results.
const MaxResultsLimit = 1000

// Recent handles GET /v1/results?limit=n, newest first.
func (h *ResultHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 100)
	if !ok {
		return
	}
	if limit > MaxResultsLimit {
		limit = MaxResultsLimit
	}

	results, err := h.results.Recent(r.Context(), limit)
	if err != nil {
		HandleError(w, err)
		return
	}
	if results == nil {
		results = []core.ProbeResult{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// queryLimit reads a positive ?limit= parameter, writing a 400 when it is malformed.
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		WriteError(w, http.StatusBadRequest, core.NewInvalidRequestError("limit must be a positive integer.", map[string]any{"limit": raw}))
		return 0, false
	}
	return n, true
}
