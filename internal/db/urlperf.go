package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/urlperf"
)

// URLMetricBatchSize is the number of rows written per transaction
const URLMetricBatchSize = 200

// UpsertURLMetrics writes rows in batches, one transaction per batch.
// It returns the number of rows written before any failure.
func (c *Client) UpsertURLMetrics(ctx context.Context, rows []urlperf.Metric) (int, error) {
	written := 0
	for _, batch := range lo.Chunk(rows, URLMetricBatchSize) {
		err := c.WithTransactionCB(ctx, nil, func(tx *circuitbreaker.TxWrapper) error {
			stmt, err := tx.PrepareContext(ctx, c.rebind(`
				INSERT INTO url_performance_metrics (
					url, domain, citation_count, unique_query_count,
					avg_position, last_cited_at, computed_at
				) VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (url) DO UPDATE SET
					domain = excluded.domain,
					citation_count = excluded.citation_count,
					unique_query_count = excluded.unique_query_count,
					avg_position = excluded.avg_position,
					last_cited_at = excluded.last_cited_at,
					computed_at = excluded.computed_at`))
			if err != nil {
				return fmt.Errorf("prepare url metric upsert: %w", err)
			}
			defer stmt.Close()

			for _, m := range batch {
				if _, err := stmt.ExecContext(ctx,
					m.URL, m.Domain, m.CitationCount, m.UniqueQueryCount,
					m.AvgPosition, m.LastCitedAt.UTC(), m.ComputedAt.UTC(),
				); err != nil {
					return fmt.Errorf("upsert url metric %s: %w", m.URL, err)
				}
			}
			return nil
		})
		if err != nil {
			return written, err
		}
		written += len(batch)
	}
	return written, nil
}

// TopURLs returns the most cited pages, optionally restricted to one domain
func (c *Client) TopURLs(ctx context.Context, domain string, limit int) ([]urlperf.Metric, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT url, domain, citation_count, unique_query_count, avg_position, last_cited_at, computed_at
		FROM url_performance_metrics`
	args := []interface{}{}
	if domain != "" {
		query += ` WHERE domain = ?`
		args = append(args, domain)
	}
	query += ` ORDER BY citation_count DESC, url ASC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query url metrics: %w", err)
	}
	defer rows.Close()
	out := []urlperf.Metric{}
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, fmt.Errorf("scan url metrics: %w", err)
	}
	return out, nil
}

// QueriesForURL returns the queries whose responses cited url, most citations first
func (c *Client) QueriesForURL(ctx context.Context, url string, limit int) ([]urlperf.QueryCount, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT q.id AS query_id, q.text AS query_text, COUNT(*) AS citation_count
		FROM citations c
		JOIN queries q ON q.id = c.query_id
		WHERE c.url = ?
		GROUP BY q.id, q.text
		ORDER BY citation_count DESC, q.id
		LIMIT ?`), url, limit)
	if err != nil {
		return nil, fmt.Errorf("query queries for url: %w", err)
	}
	defer rows.Close()
	out := []urlperf.QueryCount{}
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, fmt.Errorf("scan queries for url: %w", err)
	}
	return out, nil
}
