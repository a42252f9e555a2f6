package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

// AllScores returns every current score, best first
func (c *Client) AllScores(ctx context.Context) ([]ScoreRow, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT domain, score, previous_score, change, computed_at
		FROM visibility_scores
		ORDER BY score DESC, domain ASC`)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()
	out := []ScoreRow{}
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, fmt.Errorf("scan scores: %w", err)
	}
	return out, nil
}

// ScoreOf returns the current score of domain, or nil when it has none
func (c *Client) ScoreOf(ctx context.Context, domain string) (*ScoreRow, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT domain, score, previous_score, change, computed_at
		FROM visibility_scores
		WHERE domain = ?`), domain)
	if err != nil {
		return nil, fmt.Errorf("query score: %w", err)
	}
	defer rows.Close()
	var dest []ScoreRow
	if err := sqlx.StructScan(rows, &dest); err != nil {
		return nil, fmt.Errorf("scan score: %w", err)
	}
	if len(dest) == 0 {
		return nil, nil
	}
	return &dest[0], nil
}

// ScoreHistorySince returns the history points of domains computed at or
// after since, ordered by domain and time.
func (c *Client) ScoreHistorySince(ctx context.Context, domains []string, since time.Time) ([]visibility.ScorePoint, error) {
	out := []visibility.ScorePoint{}
	if len(domains) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`
		SELECT domain, score, computed_at
		FROM visibility_score_history
		WHERE domain IN (?) AND computed_at >= ?
		ORDER BY domain, computed_at`, domains, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("build history lookup: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	if err := sqlx.StructScan(rows, &out); err != nil {
		return nil, fmt.Errorf("scan history: %w", err)
	}
	for i := range out {
		out[i].ComputedAt = out[i].ComputedAt.UTC()
	}
	return out, nil
}

// CitationTimes returns when each citation of domain made at or after since
// was recorded. Days are bucketed by the caller so both drivers agree.
func (c *Client) CitationTimes(ctx context.Context, domain string, since time.Time) ([]time.Time, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT created_at
		FROM citations
		WHERE domain = ? AND created_at >= ?
		ORDER BY created_at`), domain, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query citation times: %w", err)
	}
	defer rows.Close()

	out := []time.Time{}
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan citation time: %w", err)
		}
		out = append(out, at.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate citation times: %w", err)
	}
	return out, nil
}

// TopCompetitors returns the n best ranked materialized competitors of target
func (c *Client) TopCompetitors(ctx context.Context, target string, n int) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT competitor_domain
		FROM competitor_metrics
		WHERE target_domain = ?
		ORDER BY competitor_rank IS NULL, competitor_rank, overlap_score DESC, competitor_domain
		LIMIT ?`), target, n)
	if err != nil {
		return nil, fmt.Errorf("query top competitors of %s: %w", target, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		out = append(out, domain)
	}
	return out, rows.Err()
}
