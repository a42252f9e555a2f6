package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

// ReportService builds the dashboard views of stored scores
type ReportService interface {
	Overview(ctx context.Context, domain string) (visibility.Overview, error)
	Trends(ctx context.Context, target, rangeLabel string) (visibility.Trends, error)
}

type ReportHandler struct {
	svc    ReportService
	norm   *urlnorm.Normalizer
	logger *zap.Logger
}

func NewReportHandler(svc ReportService, norm *urlnorm.Normalizer, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{svc: svc, norm: norm, logger: logger}
}

// Overview handles GET /api/visibility-scores/overview. The domain is optional.
func (h *ReportHandler) Overview(w http.ResponseWriter, r *http.Request) {
	domain := ""
	if raw := r.URL.Query().Get("domain"); raw != "" {
		d, err := h.norm.DomainOf(raw)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "Invalid domain", err)
			return
		}
		domain = d
	}

	overview, err := h.svc.Overview(r.Context(), domain)
	if err != nil {
		h.logger.Error("Failed to load overview", zap.String("domain", domain), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load overview", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, overview)
}

// Trends handles GET /api/trends?domain=&range=
func (h *ReportHandler) Trends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain, err := h.norm.DomainOf(q.Get("domain"))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid domain", err)
		return
	}

	trends, err := h.svc.Trends(r.Context(), domain, q.Get("range"))
	if err != nil {
		h.logger.Error("Failed to load trends", zap.String("domain", domain), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to load trends", err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, trends)
}
