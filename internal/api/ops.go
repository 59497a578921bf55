package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"medremind/internal/reminder"
	"medremind/internal/scheduler"
	"medremind/internal/types"
)

// healthCheckTimeout bounds the database probe on /healthz.
const healthCheckTimeout = 2 * time.Second

// Pinger reports database connectivity. Satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CycleService runs one due-dose evaluation cycle.
type CycleService interface {
	ProcessAndNotifyDueReminders(ctx context.Context) (reminder.CycleResult, error)
}

// OrphanService disables reminders whose medication no longer exists.
type OrphanService interface {
	ReconcileOrphanedReminders(ctx context.Context, now time.Time) (int, error)
}

// PurgeService archives and hard-deletes expired soft-deleted reminders.
type PurgeService interface {
	PurgeSoftDeletedReminders(ctx context.Context, now time.Time, retentionDays, pageSize int) (scheduler.PurgeResult, error)
}

// BackfillService fills missing timing policy fields on legacy reminders.
type BackfillService interface {
	BackfillTimingPolicy(ctx context.Context, now time.Time, cursor string, pageSize int) (scheduler.BackfillResult, error)
}

// OpsHandler exposes health checks and manual maintenance triggers. The
// trigger endpoints run the same services the Lambda workers run, which
// makes runbook intervention and local development possible without
// EventBridge.
type OpsHandler struct {
	db       Pinger
	cycle    CycleService
	orphans  OrphanService
	purger   PurgeService
	backfill BackfillService
	clock    types.Clock
	logger   *slog.Logger
}

// NewOpsHandler creates the ops handler. A nil clock uses the real clock;
// a nil logger uses slog.Default().
func NewOpsHandler(db Pinger, cycle CycleService, orphans OrphanService, purger PurgeService, backfill BackfillService, clock types.Clock, logger *slog.Logger) *OpsHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpsHandler{
		db:       db,
		cycle:    cycle,
		orphans:  orphans,
		purger:   purger,
		backfill: backfill,
		clock:    clock,
		logger:   logger,
	}
}

// RegisterRoutes mounts the ops endpoints on the given router.
func (h *OpsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/v1/ops", func(r chi.Router) {
		r.Post("/evaluate", h.handleEvaluate)
		r.Post("/reconcile-orphans", h.handleReconcileOrphans)
		r.Post("/purge", h.handlePurge)
		r.Post("/backfill-timing", h.handleBackfill)
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (h *OpsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "health check failed", "error", err)
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{Status: "unhealthy", Database: "unreachable"})
		return
	}
	JSON(w, r, http.StatusOK, healthResponse{Status: "healthy", Database: "ok"})
}

func (h *OpsHandler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	result, err := h.cycle.ProcessAndNotifyDueReminders(r.Context())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, Response{Data: result})
}

type reconcileResponse struct {
	Disabled int `json:"disabled"`
}

func (h *OpsHandler) handleReconcileOrphans(w http.ResponseWriter, r *http.Request) {
	disabled, err := h.orphans.ReconcileOrphanedReminders(r.Context(), h.clock.Now())
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, Response{Data: reconcileResponse{Disabled: disabled}})
}

type purgeRequest struct {
	RetentionDays int `json:"retention_days"`
	PageSize      int `json:"page_size"`
}

func (h *OpsHandler) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req purgeRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if req.RetentionDays < 0 || req.PageSize < 0 {
		Error(w, r, types.NewAppError(errCodeInvalidJSON, "retention_days and page_size must be non-negative", nil))
		return
	}

	result, err := h.purger.PurgeSoftDeletedReminders(r.Context(), h.clock.Now(), req.RetentionDays, req.PageSize)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, Response{Data: result})
}

type backfillRequest struct {
	Cursor   string `json:"cursor"`
	PageSize int    `json:"page_size"`
}

func (h *OpsHandler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if req.PageSize < 0 {
		Error(w, r, types.NewAppError(errCodeInvalidJSON, "page_size must be non-negative", nil))
		return
	}

	result, err := h.backfill.BackfillTimingPolicy(r.Context(), h.clock.Now(), req.Cursor, req.PageSize)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, Response{Data: result})
}
