// Package api implements the HTTP control surface consumed by the admin
// application.
//
// All job control is asynchronous: endpoints return promptly and callers
// observe outcomes via job status, not by blocking on completion.
//
// Routes:
//
//	POST /jobs/start        → create + enqueue a scrape job
//	POST /jobs/pause        → flag a job to pause at its next checkpoint
//	POST /jobs/resume       → re-enqueue a paused job
//	POST /jobs/stop         → halt a job, preserving partial counts
//	POST /hard-reset        → force all non-terminal jobs to canceled
//	POST /schedules/upsert  → create/replace a board's schedule config
//	GET  /health            → engine state snapshot
//	GET  /boards            → boards known to the engine (read-only)
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"boardwatch/scraper-engine/internal/engine"
	"boardwatch/scraper-engine/internal/model"
	"boardwatch/scraper-engine/internal/store"
)

// Controller is the job-control subset of engine.Runner used by the API.
type Controller interface {
	Enqueue(jobID string) error
	Pause(ctx context.Context, jobID string) (string, error)
	Resume(ctx context.Context, jobID string) (string, error)
	Stop(ctx context.Context, jobID string) (string, error)
	HardReset(ctx context.Context) (int64, error)
	State() *engine.State
}

// Store is the persistence subset the API reads and writes directly.
type Store interface {
	Board(ctx context.Context, id string) (*model.JobBoard, error)
	ListBoards(ctx context.Context) ([]model.JobBoard, error)
	CreateJob(ctx context.Context, job *model.ScrapeJob) error
}

// ScheduleUpserter validates and persists schedule configs. Implemented by
// scheduler.Scheduler.
type ScheduleUpserter interface {
	Upsert(ctx context.Context, cfg *model.ScheduleConfig) error
}

// Handler holds shared dependencies.
type Handler struct {
	store     Store
	runner    Controller
	scheduler ScheduleUpserter
}

// NewHandler returns a configured Handler.
func NewHandler(st Store, runner Controller, sched ScheduleUpserter) *Handler {
	return &Handler{store: st, runner: runner, scheduler: sched}
}

// RegisterRoutes mounts all control routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs/start", h.startJob)
	mux.HandleFunc("POST /jobs/pause", h.jobControl(h.runner.Pause))
	mux.HandleFunc("POST /jobs/resume", h.jobControl(h.runner.Resume))
	mux.HandleFunc("POST /jobs/stop", h.jobControl(h.runner.Stop))
	mux.HandleFunc("POST /hard-reset", h.hardReset)
	mux.HandleFunc("POST /schedules/upsert", h.upsertSchedule)
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /boards", h.listBoards)
}

// ─── Job endpoints ────────────────────────────────────────────────────────────

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BoardID string `json:"board_id"`
		Mode    string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", "validation_error", http.StatusBadRequest)
		return
	}

	mode, err := model.ParseMode(body.Mode)
	if err != nil {
		jsonError(w, err.Error(), "validation_error", http.StatusBadRequest)
		return
	}

	// Board problems are rejected synchronously — the job is never created.
	if body.BoardID != "" {
		board, err := h.store.Board(r.Context(), body.BoardID)
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "board not found", "not_found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.internalError(w, "board lookup", err)
			return
		}
		if !board.IsActive {
			jsonError(w, "board is inactive", "validation_error", http.StatusBadRequest)
			return
		}
		if mode == model.ModeRSS && board.RSSURL == "" {
			jsonError(w, "board has no rss_url", "validation_error", http.StatusBadRequest)
			return
		}
	}

	job := &model.ScrapeJob{
		ID:          uuid.NewString(),
		BoardID:     body.BoardID,
		Mode:        mode,
		Status:      string(engine.StatusQueued),
		RequestedBy: requestedBy(r),
	}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.internalError(w, "create job", err)
		return
	}
	if err := h.runner.Enqueue(job.ID); err != nil {
		jsonError(w, err.Error(), "queue_full", http.StatusServiceUnavailable)
		return
	}

	jsonOK(w, map[string]any{
		"job_id":  job.ID,
		"status":  job.Status,
		"message": "job queued",
	})
}

// jobControl adapts the pause/resume/stop runner calls, which share a
// request/response shape.
func (h *Handler) jobControl(op func(context.Context, string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			JobID string `json:"job_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.JobID == "" {
			jsonError(w, "body must contain job_id", "validation_error", http.StatusBadRequest)
			return
		}

		status, err := op(r.Context(), body.JobID)
		var verr *model.ValidationError
		switch {
		case errors.Is(err, store.ErrNotFound):
			jsonError(w, "job not found", "not_found", http.StatusNotFound)
			return
		case errors.As(err, &verr):
			jsonError(w, verr.Msg, "invalid_transition", http.StatusConflict)
			return
		case err != nil:
			h.internalError(w, "job control", err)
			return
		}

		jsonOK(w, map[string]any{"success": true, "status": status})
	}
}

func (h *Handler) hardReset(w http.ResponseWriter, r *http.Request) {
	n, err := h.runner.HardReset(r.Context())
	if err != nil {
		h.internalError(w, "hard reset", err)
		return
	}
	jsonOK(w, map[string]any{
		"success": true,
		"message": fmt.Sprintf("%d job(s) canceled, queue cleared", n),
	})
}

// ─── Schedule endpoint ────────────────────────────────────────────────────────

func (h *Handler) upsertSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BoardID         string `json:"board_id"`
		Cron            string `json:"cron"`
		IntervalMinutes int    `json:"interval_minutes"`
		Timezone        string `json:"timezone"`
		RateLimitPerMin int    `json:"rate_limit_per_min"`
		MaxConcurrency  int    `json:"max_concurrency"`
		Enabled         bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", "validation_error", http.StatusBadRequest)
		return
	}

	cfg := &model.ScheduleConfig{
		BoardID:         body.BoardID,
		Cron:            body.Cron,
		IntervalMinutes: body.IntervalMinutes,
		Timezone:        body.Timezone,
		RateLimitPerMin: body.RateLimitPerMin,
		MaxConcurrency:  body.MaxConcurrency,
		Enabled:         body.Enabled,
	}
	err := h.scheduler.Upsert(r.Context(), cfg)
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		jsonError(w, verr.Error(), "validation_error", http.StatusBadRequest)
		return
	case err != nil:
		h.internalError(w, "upsert schedule", err)
		return
	}

	jsonOK(w, map[string]any{
		"id":                 cfg.ID,
		"board_id":           cfg.BoardID,
		"cron":               cfg.Cron,
		"interval_minutes":   cfg.IntervalMinutes,
		"timezone":           cfg.Timezone,
		"is_paused":          cfg.IsPaused,
		"next_run_at":        cfg.NextRunAt.Format(time.RFC3339),
		"rate_limit_per_min": cfg.RateLimitPerMin,
		"max_concurrency":    cfg.MaxConcurrency,
		"enabled":            cfg.Enabled,
	})
}

// ─── Read endpoints ───────────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	st := h.runner.State().Snapshot()
	jsonOK(w, map[string]any{
		"status":         st.Status,
		"worker_count":   st.WorkerCount,
		"queue_depth":    st.QueueDepth,
		"last_heartbeat": st.LastHeartbeat.Format(time.RFC3339),
	})
}

func (h *Handler) listBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := h.store.ListBoards(r.Context())
	if err != nil {
		h.internalError(w, "list boards", err)
		return
	}

	type boardResponse struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		BaseURL  string `json:"base_url"`
		RSSURL   string `json:"rss_url,omitempty"`
		Region   string `json:"region"`
		IsActive bool   `json:"is_active"`
	}
	out := make([]boardResponse, 0, len(boards))
	for _, b := range boards {
		out = append(out, boardResponse{
			ID: b.ID, Name: b.Name, BaseURL: b.BaseURL,
			RSSURL: b.RSSURL, Region: b.Region, IsActive: b.IsActive,
		})
	}
	jsonOK(w, out)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func requestedBy(r *http.Request) string {
	if user := r.Header.Get("x-user-id"); user != "" {
		return user
	}
	return "admin"
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("[api] %s error: %v", op, err)
	jsonError(w, "internal error", "internal", http.StatusInternalServerError)
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg, kind string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "kind": kind})
}
