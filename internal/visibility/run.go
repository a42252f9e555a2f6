package visibility

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
)

// Store is what a scoring run reads and writes.
type Store interface {
	// ScoringInput returns the corpus and the stored score of every domain,
	// both read from one consistent snapshot.
	ScoringInput(ctx context.Context) (corpus.Snapshot, map[string]decimal.Decimal, error)
	SaveScores(ctx context.Context, results []DomainScoreResult, computedAt time.Time) error
}

// RunSummary describes a finished scoring run.
type RunSummary struct {
	DomainsScored int           `json:"domainsScored"`
	Citations     int           `json:"citations"`
	ComputedAt    time.Time     `json:"computedAt"`
	Duration      time.Duration `json:"duration"`
}

// Runner performs scoring runs against a Store.
type Runner struct {
	store  Store
	logger *zap.Logger
	params atomic.Pointer[Params]
	now    func() time.Time
}

// NewRunner creates a Runner using params until SetParams replaces them.
func NewRunner(store Store, params Params, logger *zap.Logger) *Runner {
	r := &Runner{store: store, logger: logger, now: time.Now}
	r.SetParams(params)
	return r
}

// SetParams swaps the parameters used by subsequent runs.
func (r *Runner) SetParams(p Params) {
	p = p.withDefaults()
	r.params.Store(&p)
}

// Params returns the parameters the next run will use.
func (r *Runner) Params() Params {
	return *r.params.Load()
}

// Run reads one corpus snapshot, scores every cited domain and stores the results.
// An empty corpus is not an error; the summary then reports zero domains.
func (r *Runner) Run(ctx context.Context) (summary RunSummary, err error) {
	start := r.now()
	ctx, span := tracing.StartSpan(ctx, "visibility.score_run")
	defer span.End()

	params := r.Params()
	snap, previous, err := r.store.ScoringInput(ctx)
	if err != nil {
		r.logger.Error("Failed to load corpus", zap.Error(err))
		return summary, fmt.Errorf("load corpus: %w", err)
	}
	metrics.CorpusCitations.Set(float64(len(snap.Citations)))

	results := Score(Aggregate(snap, params), previous, params)
	computedAt := snap.TakenAt
	if computedAt.IsZero() {
		computedAt = start
	}
	computedAt = computedAt.UTC()

	if len(results) > 0 {
		if err := r.store.SaveScores(ctx, results, computedAt); err != nil {
			r.logger.Error("Failed to save scores", zap.Error(err), zap.Int("domains", len(results)))
			return summary, fmt.Errorf("save scores: %w", err)
		}
	}

	summary = RunSummary{
		DomainsScored: len(results),
		Citations:     len(snap.Citations),
		ComputedAt:    computedAt,
		Duration:      r.now().Sub(start),
	}
	metrics.DomainsScored.Set(float64(summary.DomainsScored))
	span.SetAttributes(
		attribute.Int("domains", summary.DomainsScored),
		attribute.Int("citations", summary.Citations),
	)

	if summary.DomainsScored == 0 {
		r.logger.Info("Scoring run found no citations")
		return summary, nil
	}
	r.logger.Info("Scoring run completed",
		zap.Int("domains", summary.DomainsScored),
		zap.Int("citations", summary.Citations),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
