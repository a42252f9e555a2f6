package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
)

// ReplaceCompetitorMetrics deletes the rows of target and writes rows in
// the same transaction, so readers see either the old set or the new one.
func (c *Client) ReplaceCompetitorMetrics(ctx context.Context, target string, rows []competitors.CompetitorMetric) error {
	return c.WithTransactionCB(ctx, nil, func(tx *circuitbreaker.TxWrapper) error {
		if _, err := tx.ExecContext(ctx, c.rebind(`DELETE FROM competitor_metrics WHERE target_domain = ?`), target); err != nil {
			return fmt.Errorf("delete competitors of %s: %w", target, err)
		}
		if len(rows) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, c.rebind(`
			INSERT INTO competitor_metrics (
				target_domain, competitor_domain, overlap_score, shared_queries,
				total_queries_target, competitor_visibility_score, competitor_rank,
				share_of_voice, computed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (target_domain, competitor_domain) DO UPDATE SET
				overlap_score = excluded.overlap_score,
				shared_queries = excluded.shared_queries,
				total_queries_target = excluded.total_queries_target,
				competitor_visibility_score = excluded.competitor_visibility_score,
				competitor_rank = excluded.competitor_rank,
				share_of_voice = excluded.share_of_voice,
				computed_at = excluded.computed_at`))
		if err != nil {
			return fmt.Errorf("prepare competitor upsert: %w", err)
		}
		defer stmt.Close()

		for _, m := range rows {
			if _, err := stmt.ExecContext(ctx,
				target, m.CompetitorDomain, m.OverlapScore, m.SharedQueries,
				m.TotalQueriesTarget, nullDecimal(m.CompetitorVisibilityScore), nullInt(m.CompetitorRank),
				m.ShareOfVoice, m.ComputedAt.UTC(),
			); err != nil {
				return fmt.Errorf("upsert competitor %s of %s: %w", m.CompetitorDomain, target, err)
			}
		}
		return nil
	})
}

// CompetitorMetrics returns the materialized rows of target in rank order
func (c *Client) CompetitorMetrics(ctx context.Context, target string) ([]competitors.CompetitorMetric, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT target_domain, competitor_domain, overlap_score, shared_queries,
		       total_queries_target, competitor_visibility_score, competitor_rank,
		       share_of_voice, computed_at
		FROM competitor_metrics
		WHERE target_domain = ?
		ORDER BY competitor_rank IS NULL, competitor_rank, overlap_score DESC, competitor_domain`), target)
	if err != nil {
		return nil, fmt.Errorf("query competitors of %s: %w", target, err)
	}
	defer rows.Close()
	var dest []competitorRow
	if err := sqlx.StructScan(rows, &dest); err != nil {
		return nil, fmt.Errorf("scan competitors of %s: %w", target, err)
	}

	out := make([]competitors.CompetitorMetric, len(dest))
	for i, r := range dest {
		out[i] = r.metric()
	}
	return out, nil
}

// QueryTexts maps query ids to their text
func (c *Client) QueryTexts(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, text FROM queries WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build query text lookup: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query texts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("scan query text: %w", err)
		}
		out[id] = text
	}
	return out, rows.Err()
}
