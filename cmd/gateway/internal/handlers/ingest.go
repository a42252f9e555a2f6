package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ingest"
)

const maxIngestBody = 1 << 20

// Ingester stores one model response and its citations
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

type IngestHandler struct {
	svc    Ingester
	logger *zap.Logger
}

func NewIngestHandler(svc Ingester, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{svc: svc, logger: logger}
}

// Ingest handles POST /api/ingest
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)

	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.svc.Ingest(r.Context(), req)
	switch {
	case errors.Is(err, ingest.ErrInvalidRequest):
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request", err)
		return
	case err != nil:
		h.logger.Error("Ingest failed", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to store response", err)
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, res)
}
