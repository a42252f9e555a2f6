package db

import (
	"context"
	"fmt"
)

// Summary counts queries, responses, citations and scored domains
func (c *Client) Summary(ctx context.Context) (Summary, error) {
	row, err := c.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM queries) AS queries,
			(SELECT COUNT(*) FROM responses) AS responses,
			(SELECT COUNT(*) FROM citations) AS citations,
			(SELECT COUNT(*) FROM visibility_scores) AS scored_domains`)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	var s Summary
	if err := row.Scan(&s.Queries, &s.Responses, &s.Citations, &s.ScoredDomains); err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	return s, nil
}
