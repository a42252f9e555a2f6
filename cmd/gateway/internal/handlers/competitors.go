package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ratecontrol"
)

// allTargets keys the refresh throttle for a full recompute
const allTargets = "*"

// CompetitorService serves and recomputes competitor metrics
type CompetitorService interface {
	CanonicalDomain(raw string) (string, error)
	List(ctx context.Context, target string) ([]competitors.CompetitorMetric, error)
	Queries(ctx context.Context, target, competitor string) ([]competitors.QueryComparison, error)
	Leaderboard(ctx context.Context, target string) (competitors.Leaderboard, error)
	Refresh(ctx context.Context, target string) ([]competitors.CompetitorMetric, error)
	RefreshAll(ctx context.Context) (competitors.RefreshSummary, error)
}

type CompetitorHandler struct {
	svc     CompetitorService
	limiter *ratecontrol.KeyedLimiter
	logger  *zap.Logger
}

// NewCompetitorHandler creates the handler. limiter throttles refreshes per target.
func NewCompetitorHandler(svc CompetitorService, limiter *ratecontrol.KeyedLimiter, logger *zap.Logger) *CompetitorHandler {
	return &CompetitorHandler{svc: svc, limiter: limiter, logger: logger}
}

// List handles GET /api/competitors?domain=
func (h *CompetitorHandler) List(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("domain")
	rows, err := h.svc.List(r.Context(), target)
	if err != nil {
		h.sendServiceError(w, "Failed to load competitors", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"domain": target, "competitors": rows})
}

// Queries handles GET /api/competitors/queries?domain=&competitor=
func (h *CompetitorHandler) Queries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.svc.Queries(r.Context(), q.Get("domain"), q.Get("competitor"))
	if err != nil {
		h.sendServiceError(w, "Failed to compare domains", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"queries": rows, "count": len(rows)})
}

// Leaderboard handles GET /api/competitors/leaderboard?domain=
func (h *CompetitorHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.svc.Leaderboard(r.Context(), r.URL.Query().Get("domain"))
	if err != nil {
		h.sendServiceError(w, "Failed to load leaderboard", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, lb)
}

// Refresh handles POST /api/competitors/refresh. Without a domain every target is recomputed.
func (h *CompetitorHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("domain")
	key := allTargets
	if raw != "" {
		target, err := h.svc.CanonicalDomain(raw)
		if err != nil {
			h.sendServiceError(w, "Invalid domain", err)
			return
		}
		key = target
	}

	if ok, wait := h.limiter.Allow(key); !ok {
		metrics.RateLimited.WithLabelValues("competitor_refresh").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(w, h.logger, http.StatusTooManyRequests, "Refresh throttled", nil)
		return
	}

	if key == allTargets {
		summary, err := h.svc.RefreshAll(r.Context())
		if err != nil {
			h.logger.Error("Competitor refresh failed", zap.Error(err))
			writeError(w, h.logger, http.StatusInternalServerError, "Refresh failed", err)
			return
		}
		writeJSON(w, h.logger, http.StatusOK, summary)
		return
	}

	rows, err := h.svc.Refresh(r.Context(), key)
	if err != nil {
		h.sendServiceError(w, "Refresh failed", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"domain": key, "competitors": rows})
}

func (h *CompetitorHandler) sendServiceError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, competitors.ErrInvalidDomain) || errors.Is(err, competitors.ErrSameDomain) {
		writeError(w, h.logger, http.StatusBadRequest, message, err)
		return
	}
	h.logger.Error(message, zap.Error(err))
	writeError(w, h.logger, http.StatusInternalServerError, message, err)
}
