package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/db"
)

// SummaryReader counts the corpus
type SummaryReader interface {
	Summary(ctx context.Context) (db.Summary, error)
}

type SummaryHandler struct {
	store  SummaryReader
	logger *zap.Logger
}

func NewSummaryHandler(store SummaryReader, logger *zap.Logger) *SummaryHandler {
	return &SummaryHandler{store: store, logger: logger}
}

// Get handles GET /api/summary
func (h *SummaryHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Summary(r.Context())
	if err != nil {
		h.logger.Error("Failed to load summary", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load summary", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, s)
}
