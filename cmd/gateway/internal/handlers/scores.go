package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
)

const (
	defaultScoreLimit = 100
	defaultHistory    = 30
)

// ScoreReader serves stored visibility scores
type ScoreReader interface {
	ListScores(ctx context.Context, limit int) ([]db.ScoreRow, error)
	ScoreByDomain(ctx context.Context, domain string, history int) (db.DomainScore, error)
}

type ScoreHandler struct {
	store  ScoreReader
	norm   *urlnorm.Normalizer
	logger *zap.Logger
}

func NewScoreHandler(store ScoreReader, norm *urlnorm.Normalizer, logger *zap.Logger) *ScoreHandler {
	return &ScoreHandler{store: store, norm: norm, logger: logger}
}

// List handles GET /api/visibility-scores
func (h *ScoreHandler) List(w http.ResponseWriter, r *http.Request) {
	rows, err := h.store.ListScores(r.Context(), intParam(r, "limit", defaultScoreLimit))
	if err != nil {
		h.logger.Error("Failed to list scores", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load scores", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"scores": rows, "count": len(rows)})
}

// Get handles GET /api/visibility-scores/{domain}
func (h *ScoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	domain, err := h.norm.DomainOf(r.PathValue("domain"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid domain", err)
		return
	}

	score, err := h.store.ScoreByDomain(r.Context(), domain, intParam(r, "history", defaultHistory))
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, "Domain has no score", nil)
		return
	case err != nil:
		h.logger.Error("Failed to load score", zap.String("domain", domain), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load score", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, score)
}
