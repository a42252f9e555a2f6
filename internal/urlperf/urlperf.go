// Package urlperf ranks individual cited pages.
package urlperf

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/tracing"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlnorm"
)

// Metric is the performance of one canonical URL.
type Metric struct {
	URL              string    `json:"url" db:"url"`
	Domain           string    `json:"domain" db:"domain"`
	CitationCount    int       `json:"citationCount" db:"citation_count"`
	UniqueQueryCount int       `json:"uniqueQueryCount" db:"unique_query_count"`
	AvgPosition      float64   `json:"avgPosition" db:"avg_position"`
	LastCitedAt      time.Time `json:"lastCitedAt" db:"last_cited_at"`
	ComputedAt       time.Time `json:"computedAt" db:"computed_at"`
}

type accumulator struct {
	domain      string
	count       int
	positionSum int
	queries     map[string]struct{}
	last        time.Time
}

// Aggregate computes one Metric per canonical URL. Stored URLs that
// re-normalize to the same key are merged. Rows are ordered by citation
// count descending, then URL.
func Aggregate(snap corpus.Snapshot, norm *urlnorm.Normalizer) []Metric {
	if norm == nil {
		norm = urlnorm.New(urlnorm.Options{})
	}

	acc := make(map[string]*accumulator)
	for _, c := range corpus.AssignPositions(snap.Citations) {
		key, err := norm.Normalize(c.URL)
		if err != nil {
			key = c.URL
		}
		a, ok := acc[key]
		if !ok {
			a = &accumulator{domain: c.Domain, queries: make(map[string]struct{})}
			acc[key] = a
		}
		a.count++
		a.positionSum += c.Position
		a.queries[c.QueryID] = struct{}{}
		if c.CreatedAt.After(a.last) {
			a.last = c.CreatedAt
		}
	}

	out := make([]Metric, 0, len(acc))
	for url, a := range acc {
		out = append(out, Metric{
			URL:              url,
			Domain:           a.domain,
			CitationCount:    a.count,
			UniqueQueryCount: len(a.queries),
			AvgPosition:      float64(a.positionSum) / float64(a.count),
			LastCitedAt:      a.last,
			ComputedAt:       snap.TakenAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CitationCount != out[j].CitationCount {
			return out[i].CitationCount > out[j].CitationCount
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Store is what a URL performance run reads and writes.
type Store interface {
	LoadCorpus(ctx context.Context) (corpus.Snapshot, error)
	UpsertURLMetrics(ctx context.Context, rows []Metric) (int, error)
}

// Runner recomputes url_performance_metrics.
type Runner struct {
	store  Store
	norm   *urlnorm.Normalizer
	logger *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(store Store, norm *urlnorm.Normalizer, logger *zap.Logger) *Runner {
	return &Runner{store: store, norm: norm, logger: logger}
}

// Run recomputes every URL metric and returns the number of rows written.
func (r *Runner) Run(ctx context.Context) (written int, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "urlperf.run")
	defer span.End()

	snap, err := r.store.LoadCorpus(ctx)
	if err != nil {
		return 0, fmt.Errorf("load corpus: %w", err)
	}
	rows := Aggregate(snap, r.norm)
	if len(rows) == 0 {
		r.logger.Info("No cited URLs to rank")
		return 0, nil
	}

	written, err = r.store.UpsertURLMetrics(ctx, rows)
	if err != nil {
		return written, fmt.Errorf("upsert url metrics: %w", err)
	}
	r.logger.Info("URL performance metrics updated",
		zap.Int("urls", written),
		zap.Duration("duration", time.Since(start)),
	)
	return written, nil
}

// TopQueriesLimit is the number of queries listed for one page.
const TopQueriesLimit = 5

// QueryCount is how often one query cited a page.
type QueryCount struct {
	QueryID       string `json:"queryId" db:"query_id"`
	QueryText     string `json:"queryText" db:"query_text"`
	CitationCount int    `json:"citationCount" db:"citation_count"`
}

// QueryStore reads the queries that cited a canonical URL, most citations first.
type QueryStore interface {
	QueriesForURL(ctx context.Context, url string, limit int) ([]QueryCount, error)
}

// TopQueries normalizes rawURL and returns it with the queries that cited it
// most. A URL that does not normalize returns a *urlnorm.UrlNormalizationError.
func TopQueries(ctx context.Context, store QueryStore, norm *urlnorm.Normalizer, rawURL string, limit int) (string, []QueryCount, error) {
	if norm == nil {
		norm = urlnorm.New(urlnorm.Options{})
	}
	if limit <= 0 {
		limit = TopQueriesLimit
	}
	canonical, err := norm.Normalize(rawURL)
	if err != nil {
		return "", nil, err
	}
	rows, err := store.QueriesForURL(ctx, canonical, limit)
	if err != nil {
		return canonical, nil, fmt.Errorf("load queries for %s: %w", canonical, err)
	}
	if rows == nil {
		rows = []QueryCount{}
	}
	return canonical, rows, nil
}
