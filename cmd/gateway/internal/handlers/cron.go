package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/config"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/schedules"
)

// JobRunner runs registered batch jobs on demand
type JobRunner interface {
	RunNow(ctx context.Context, name string) error
	Statuses() []schedules.Status
}

type CronHandler struct {
	jobs   JobRunner
	logger *zap.Logger
}

func NewCronHandler(jobs JobRunner, logger *zap.Logger) *CronHandler {
	return &CronHandler{jobs: jobs, logger: logger}
}

// VisibilityScore handles POST /api/cron/visibility-score. With
// ?competitors=1 the competitor refresh runs after scoring.
func (h *CronHandler) VisibilityScore(w http.ResponseWriter, r *http.Request) {
	names := []string{config.JobVisibilityScore}
	if r.URL.Query().Get("competitors") == "1" {
		names = append(names, config.JobCompetitorRefresh)
	}

	for _, name := range names {
		err := h.jobs.RunNow(r.Context(), name)
		switch {
		case errors.Is(err, schedules.ErrJobRunning):
			writeError(w, h.logger, http.StatusConflict, "Job already running", err)
			return
		case errors.Is(err, schedules.ErrJobNotFound):
			writeError(w, h.logger, http.StatusNotFound, "Job not enabled", err)
			return
		case err != nil:
			writeError(w, h.logger, http.StatusInternalServerError, "Job failed", err)
			return
		}
	}

	h.logger.Info("Cron trigger completed", zap.Strings("jobs", names))
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"ran": names, "jobs": h.jobs.Statuses()})
}
