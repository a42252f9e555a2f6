package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlperf"
)

const defaultPageLimit = 50

// PageReader serves the URL performance leaderboard
type PageReader interface {
	TopURLs(ctx context.Context, domain string, limit int) ([]urlperf.Metric, error)
	QueriesForURL(ctx context.Context, url string, limit int) ([]urlperf.QueryCount, error)
}

type PageHandler struct {
	store  PageReader
	norm   *urlnorm.Normalizer
	logger *zap.Logger
}

func NewPageHandler(store PageReader, norm *urlnorm.Normalizer, logger *zap.Logger) *PageHandler {
	return &PageHandler{store: store, norm: norm, logger: logger}
}

// List handles GET /api/pages. The domain filter is optional.
func (h *PageHandler) List(w http.ResponseWriter, r *http.Request) {
	domain := ""
	if raw := r.URL.Query().Get("domain"); raw != "" {
		d, err := h.norm.DomainOf(raw)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid domain", err)
			return
		}
		domain = d
	}

	rows, err := h.store.TopURLs(r.Context(), domain, intParam(r, "limit", defaultPageLimit))
	if err != nil {
		h.logger.Error("Failed to load pages", zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load pages", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"pages": rows, "count": len(rows)})
}

// Queries handles GET /api/pages/queries?url=
func (h *PageHandler) Queries(w http.ResponseWriter, r *http.Request) {
	url, rows, err := urlperf.TopQueries(r.Context(), h.store, h.norm, r.URL.Query().Get("url"), urlperf.TopQueriesLimit)
	var nerr *urlnorm.UrlNormalizationError
	switch {
	case errors.As(err, &nerr):
		writeError(w, h.logger, http.StatusBadRequest, "Invalid url", err)
		return
	case err != nil:
		h.logger.Error("Failed to load queries for url", zap.String("url", url), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load queries for url", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]interface{}{"url": url, "queries": rows})
}
