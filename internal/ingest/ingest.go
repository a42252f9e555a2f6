// Package ingest turns one AI answer into stored query, response and citation rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/citations"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
)

var (
	// ErrInvalidRequest wraps every validation failure.
	ErrInvalidRequest = errors.New("invalid ingest request")
	// ErrConflict is returned by a Store when a generated id already exists.
	ErrConflict = errors.New("ingest id conflict")
)

// Request is one AI answer to record.
type Request struct {
	Query           string `json:"query"`
	Model           string `json:"model"`
	RawResponseText string `json:"rawResponseText"`
}

// Validate trims the text fields and rejects blank ones.
func (r *Request) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	r.Model = strings.TrimSpace(r.Model)

	var missing []string
	if r.Query == "" {
		missing = append(missing, "query")
	}
	if r.Model == "" {
		missing = append(missing, "model")
	}
	if strings.TrimSpace(r.RawResponseText) == "" {
		missing = append(missing, "rawResponseText")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// CitationRow is a citation ready to insert.
type CitationRow struct {
	ID     string
	URL    string
	Domain string
}

// Record is everything one ingest writes, in a single transaction.
type Record struct {
	QueryID    string // used only if the query text is new
	QueryText  string
	ResponseID string
	Model      string
	RawText    string
	Citations  []CitationRow
	CreatedAt  time.Time
}

// Saved reports what the store actually did.
type Saved struct {
	QueryID           string
	CitationsInserted int
}

// Store persists an ingest Record.
type Store interface {
	SaveResponse(ctx context.Context, rec Record) (Saved, error)
}

// Result is returned to the caller.
type Result struct {
	QueryID       string `json:"queryId"`
	ResponseID    string `json:"responseId"`
	CitationCount int    `json:"citationCount"`
}

// Service validates, extracts and stores AI answers.
type Service struct {
	store     Store
	extractor *citations.Extractor
	logger    *zap.Logger
	now       func() time.Time
	newID     func() (uuid.UUID, error)
}

// NewService creates a Service. A nil extractor uses the default normalizer.
func NewService(store Store, extractor *citations.Extractor, logger *zap.Logger) *Service {
	if extractor == nil {
		extractor = citations.NewExtractor(nil)
	}
	return &Service{
		store:     store,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewV7,
	}
}

// Ingest records req and returns the ids it was stored under.
func (s *Service) Ingest(ctx context.Context, req Request) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.response")
	defer span.End()
	defer func() {
		status := "success"
		switch {
		case errors.Is(err, ErrInvalidRequest):
			status = "invalid"
		case err != nil:
			status = "error"
		}
		metrics.IngestRequests.WithLabelValues(status).Inc()
	}()

	if err := req.Validate(); err != nil {
		return res, err
	}

	found, err := s.extractor.ExtractStrict(req.RawResponseText)
	var perr *citations.ParseError
	if errors.As(err, &perr) {
		metrics.CandidatesRejected.Add(float64(len(perr.Rejected)))
		s.logger.Debug("Dropped malformed citation candidates", zap.Strings("candidates", perr.Rejected))
	}
	metrics.CitationsExtracted.Observe(float64(len(found)))

	rec, err := s.record(req, found)
	if err != nil {
		return res, err
	}
	saved, err := s.store.SaveResponse(ctx, rec)
	if errors.Is(err, ErrConflict) {
		s.logger.Warn("Ingest id conflict, retrying with fresh ids", zap.Error(err))
		if rec, err = s.record(req, found); err != nil {
			return res, err
		}
		saved, err = s.store.SaveResponse(ctx, rec)
	}
	if err != nil {
		s.logger.Error("Failed to store response", zap.Error(err))
		return res, fmt.Errorf("save response: %w", err)
	}
	metrics.RecordCitationInserts(saved.CitationsInserted, len(found))

	span.SetAttributes(
		attribute.String("query_id", saved.QueryID),
		attribute.Int("citations", len(found)),
	)
	s.logger.Info("Response ingested",
		zap.String("query_id", saved.QueryID),
		zap.String("response_id", rec.ResponseID),
		zap.String("model", rec.Model),
		zap.Int("citations", len(found)),
		zap.Int("inserted", saved.CitationsInserted),
	)

	return Result{
		QueryID:       saved.QueryID,
		ResponseID:    rec.ResponseID,
		CitationCount: len(found),
	}, nil
}

func (s *Service) record(req Request, found []citations.Citation) (Record, error) {
	rec := Record{
		QueryText: req.Query,
		Model:     req.Model,
		RawText:   req.RawResponseText,
		CreatedAt: s.now().UTC(),
		Citations: make([]CitationRow, 0, len(found)),
	}
	var err error
	if rec.QueryID, err = s.id(); err != nil {
		return rec, err
	}
	if rec.ResponseID, err = s.id(); err != nil {
		return rec, err
	}
	// v7 ids are monotonic, so id order is extraction order
	for _, c := range found {
		id, err := s.id()
		if err != nil {
			return rec, err
		}
		rec.Citations = append(rec.Citations, CitationRow{ID: id, URL: c.URL, Domain: c.Domain})
	}
	return rec, nil
}

func (s *Service) id() (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}
