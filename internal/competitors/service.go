package competitors

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
)

// ErrInvalidDomain is returned when a domain argument does not normalize.
var ErrInvalidDomain = errors.New("invalid domain")

// Store is the persistence the competitor service needs.
type Store interface {
	LoadCorpus(ctx context.Context) (corpus.Snapshot, error)
	CurrentScores(ctx context.Context) (map[string]decimal.Decimal, error)
	ReplaceCompetitorMetrics(ctx context.Context, target string, rows []CompetitorMetric) error
	CompetitorMetrics(ctx context.Context, target string) ([]CompetitorMetric, error)
	QueryTexts(ctx context.Context, queryIDs []string) (map[string]string, error)
}

// Options tune a Service.
type Options struct {
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// RefreshSummary describes a refresh over many targets.
type RefreshSummary struct {
	Targets  int           `json:"targets"`
	Rows     int           `json:"rows"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Service materializes and serves competitor metrics.
type Service struct {
	store       Store
	cache       *Cache
	norm        *urlnorm.Normalizer
	concurrency int
	logger      *zap.Logger
}

// NewService creates a Service. cache may be nil.
func NewService(store Store, cache *Cache, norm *urlnorm.Normalizer, opts Options, logger *zap.Logger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if norm == nil {
		norm = urlnorm.New(urlnorm.Options{})
	}
	return &Service{
		store:       store,
		cache:       cache,
		norm:        norm,
		concurrency: opts.Concurrency,
		logger:      logger,
	}
}

// CanonicalDomain normalizes a user supplied domain ("WWW.Acme.com", "https://acme.com/x").
func (s *Service) CanonicalDomain(raw string) (string, error) {
	domain, err := s.norm.DomainOf(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return domain, nil
}

// Refresh recomputes and replaces the competitor rows of one target.
func (s *Service) Refresh(ctx context.Context, target string) ([]CompetitorMetric, error) {
	target, err := s.CanonicalDomain(target)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "competitors.refresh", attribute.String("target", target))
	defer span.End()

	snap, scores, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.refreshTarget(ctx, snap, scores, target)
	if err != nil {
		metrics.CompetitorRefreshes.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.CompetitorRefreshes.WithLabelValues("success").Inc()
	return rows, nil
}

// RefreshAll recomputes every cited domain as a target. Targets run
// concurrently; a failed target does not stop the others.
func (s *Service) RefreshAll(ctx context.Context) (summary RefreshSummary, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "competitors.refresh_all")
	defer span.End()

	snap, scores, err := s.load(ctx)
	if err != nil {
		return summary, err
	}
	targets := snap.Domains()

	var rows, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			out, err := s.refreshTarget(ctx, snap, scores, target)
			if err != nil {
				failed.Add(1)
				metrics.CompetitorRefreshes.WithLabelValues("error").Inc()
				s.logger.Warn("Competitor refresh failed", zap.String("target", target), zap.Error(err))
				return err
			}
			rows.Add(int64(len(out)))
			metrics.CompetitorRefreshes.WithLabelValues("success").Inc()
			return nil
		})
	}
	err = g.Wait()

	summary = RefreshSummary{
		Targets:  len(targets),
		Rows:     int(rows.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	span.SetAttributes(attribute.Int("targets", summary.Targets), attribute.Int("failed", summary.Failed))
	if err != nil {
		return summary, fmt.Errorf("%d of %d targets failed: %w", summary.Failed, summary.Targets, err)
	}

	s.logger.Info("Competitor refresh completed",
		zap.Int("targets", summary.Targets),
		zap.Int("rows", summary.Rows),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

func (s *Service) load(ctx context.Context) (corpus.Snapshot, map[string]decimal.Decimal, error) {
	snap, err := s.store.LoadCorpus(ctx)
	if err != nil {
		return corpus.Snapshot{}, nil, fmt.Errorf("load corpus: %w", err)
	}
	scores, err := s.store.CurrentScores(ctx)
	if err != nil {
		return corpus.Snapshot{}, nil, fmt.Errorf("load scores: %w", err)
	}
	return snap, scores, nil
}

func (s *Service) refreshTarget(ctx context.Context, snap corpus.Snapshot, scores map[string]decimal.Decimal, target string) ([]CompetitorMetric, error) {
	rows := Compute(snap, target, scores)
	if err := s.store.ReplaceCompetitorMetrics(ctx, target, rows); err != nil {
		return nil, fmt.Errorf("replace competitors of %s: %w", target, err)
	}
	s.invalidate(ctx, target)
	return rows, nil
}

func (s *Service) invalidate(ctx context.Context, target string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, target); err != nil {
		s.logger.Warn("Failed to invalidate competitor cache", zap.String("target", target), zap.Error(err))
	}
}

// List returns the ranked competitors of target. It reads the cache, then
// the materialized rows, and computes on demand when nothing is stored.
func (s *Service) List(ctx context.Context, target string) ([]CompetitorMetric, error) {
	target, err := s.CanonicalDomain(target)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		rows, ok, err := s.cache.Get(ctx, target)
		if err != nil {
			s.logger.Warn("Competitor cache read failed", zap.String("target", target), zap.Error(err))
		} else if ok {
			return rows, nil
		}
	}

	rows, err := s.store.CompetitorMetrics(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("read competitors of %s: %w", target, err)
	}
	if len(rows) == 0 {
		snap, scores, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		rows = Compute(snap, target, scores)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, target, rows); err != nil {
			s.logger.Warn("Competitor cache write failed", zap.String("target", target), zap.Error(err))
		}
	}
	return rows, nil
}

// Queries returns the query-level comparison of target and competitor.
func (s *Service) Queries(ctx context.Context, target, competitor string) ([]QueryComparison, error) {
	target, err := s.CanonicalDomain(target)
	if err != nil {
		return nil, err
	}
	competitor, err = s.CanonicalDomain(competitor)
	if err != nil {
		return nil, err
	}
	if target == competitor {
		return nil, ErrSameDomain
	}

	snap, err := s.store.LoadCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	rows, err := DrillDown(snap, target, competitor)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}

	texts, err := s.store.QueryTexts(ctx, lo.Map(rows, func(r QueryComparison, _ int) string { return r.QueryID }))
	if err != nil {
		return nil, fmt.Errorf("load query texts: %w", err)
	}
	for i := range rows {
		rows[i].QueryText = texts[rows[i].QueryID]
	}
	return rows, nil
}
