// Package api serves the cleanup-run HTTP API.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"histclean/internal/domain"
	"histclean/internal/middleware"
	"histclean/internal/service/cleanup"
)

// Runner starts cleanup runs. It is implemented by *cleanup.Service.
type Runner interface {
	Start(ctx context.Context, trigger string, models []domain.Model, opts domain.CleanupOptions) (string, func(context.Context) (*domain.Report, error), error)
	Active() bool
}

// Handler implements the HTTP endpoints.
type Handler struct {
	runner   Runner
	resolver cleanup.ModelResolver
	runs     domain.RunRepository
	job      cleanup.Job
	health   func(ctx context.Context) error
	logger   *slog.Logger

	// ctx bounds runs started over HTTP; they outlive the request.
	ctx context.Context
	wg  sync.WaitGroup
}

// NewHandler creates a Handler. job supplies the defaults of runs triggered
// over HTTP. health may be nil.
func NewHandler(
	ctx context.Context,
	runner Runner,
	resolver cleanup.ModelResolver,
	runs domain.RunRepository,
	job cleanup.Job,
	health func(ctx context.Context) error,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ctx:      ctx,
		runner:   runner,
		resolver: resolver,
		runs:     runs,
		job:      job,
		health:   health,
		logger:   logger,
	}
}

// Wait blocks until runs started over HTTP have finished.
func (h *Handler) Wait() { h.wg.Wait() }

// Healthz reports liveness and, when configured, database reachability.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": h.runner.Active()})
}

// ListRuns returns ledger entries newest-first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	page := domain.PageRequest{PageToken: r.URL.Query().Get("page_token")}
	if v := r.URL.Query().Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domain.ErrValidation("invalid max_results %q", v))
			return
		}
		page.MaxResults = n
	}

	runs, total, err := h.runs.List(r.Context(), page)
	if err != nil {
		h.logger.Error("list runs failed", "error", err, "request_id", middleware.RequestIDFromContext(r.Context()))
		writeError(w, err)
		return
	}
	out := RunList{Runs: make([]Run, 0, len(runs)), Total: total}
	for _, run := range runs {
		out.Runs = append(out.Runs, runToAPI(run))
	}
	out.NextPageToken = domain.NextPageToken(page.Offset(), page.Limit(), total)
	writeJSON(w, http.StatusOK, out)
}

// GetRun returns one ledger entry.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runToAPI(*run))
}

// TriggerRun resolves the requested models and starts a run in the
// background. The response carries the run id to poll.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.ErrValidation("invalid request body: %v", err))
			return
		}
	}
	job, err := h.jobFromRequest(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.runner.Active() {
		writeError(w, domain.ErrConflict("a cleanup run is already in progress"))
		return
	}

	models, err := job.Models(r.Context(), h.resolver)
	if err != nil {
		writeError(w, err)
		return
	}

	opts := job.Options
	opts.RunID = uuid.NewString()
	// The reservation and the ledger row exist before the response is sent.
	runID, exec, err := h.runner.Start(r.Context(), domain.TriggerAPI, models, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	principal, _ := middleware.PrincipalFromContext(r.Context())
	logger := h.logger.With("run_id", runID, "principal", principal, "request_id", middleware.RequestIDFromContext(r.Context()))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		report, err := exec(h.ctx)
		if err != nil {
			logger.Warn("api cleanup run failed", "error", err)
			return
		}
		_, dups, deleted := report.Totals()
		logger.Info("api cleanup run finished", "duplicates", dups, "deleted", deleted)
	}()

	labels := make([]string, len(models))
	for i, m := range models {
		labels[i] = m.Label
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{RunID: runID, Models: labels, DryRun: opts.DryRun})
}

func (h *Handler) jobFromRequest(req TriggerRequest) (cleanup.Job, error) {
	job := h.job
	job.Options.ExcludedFields = append([]string(nil), h.job.Options.ExcludedFields...)
	if len(req.Models) > 0 {
		job.Labels = req.Models
	}
	if req.Auto != nil {
		job.Auto = *req.Auto
	}
	if req.DryRun != nil {
		job.Options.DryRun = *req.DryRun
	}
	if req.Minutes != nil {
		job.Options.Window = time.Duration(*req.Minutes) * time.Minute
	}
	if len(req.ExcludedFields) > 0 {
		job.Options.ExcludedFields = req.ExcludedFields
	}
	if req.BatchSize != nil {
		job.Options.BatchSize = *req.BatchSize
	}
	if req.BatchSleepSeconds != nil {
		job.Options.BatchSleep = time.Duration(*req.BatchSleepSeconds) * time.Second
	}
	if req.Keep != nil {
		keep, err := domain.ParseKeepPolicy(*req.Keep)
		if err != nil {
			return cleanup.Job{}, err
		}
		job.Options.Keep = keep
	}
	return job, job.Options.Validate()
}
