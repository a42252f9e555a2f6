package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

// CurrentScores returns the stored score of every domain
func (c *Client) CurrentScores(ctx context.Context) (map[string]decimal.Decimal, error) {
	return readScores(ctx, c.db)
}

// SaveScores upserts the current score of every domain and appends one
// history point per domain. A rerun with the same computedAt overwrites
// its own history points.
func (c *Client) SaveScores(ctx context.Context, results []visibility.DomainScoreResult, computedAt time.Time) error {
	computedAt = computedAt.UTC()

	return c.WithTransactionCB(ctx, nil, func(tx *circuitbreaker.TxWrapper) error {
		upsert, err := tx.PrepareContext(ctx, c.rebind(`
			INSERT INTO visibility_scores (domain, score, previous_score, change, computed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (domain) DO UPDATE SET
				score = excluded.score,
				previous_score = excluded.previous_score,
				change = excluded.change,
				computed_at = excluded.computed_at`))
		if err != nil {
			return fmt.Errorf("prepare score upsert: %w", err)
		}
		defer upsert.Close()

		history, err := tx.PrepareContext(ctx, c.rebind(`
			INSERT INTO visibility_score_history (id, domain, score, computed_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (domain, computed_at) DO UPDATE SET score = excluded.score`))
		if err != nil {
			return fmt.Errorf("prepare history insert: %w", err)
		}
		defer history.Close()

		for _, r := range results {
			if _, err := upsert.ExecContext(ctx, r.Domain, r.Score, nullDecimal(r.PreviousScore), nullDecimal(r.Change), computedAt); err != nil {
				return fmt.Errorf("upsert score %s: %w", r.Domain, err)
			}
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("history id: %w", err)
			}
			if _, err := history.ExecContext(ctx, id.String(), r.Domain, r.Score, computedAt); err != nil {
				return fmt.Errorf("insert history %s: %w", r.Domain, err)
			}
		}
		return nil
	})
}

// ListScores returns current scores, best first
func (c *Client) ListScores(ctx context.Context, limit int) ([]ScoreRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT domain, score, previous_score, change, computed_at
		FROM visibility_scores
		ORDER BY score DESC, domain ASC
		LIMIT ?`), limit)
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

// ScoreByDomain returns the current score of domain with its last history
// points, oldest first. It returns ErrNotFound for an unscored domain.
func (c *Client) ScoreByDomain(ctx context.Context, domain string, history int) (DomainScore, error) {
	rows, err := c.db.QueryContext(ctx, c.rebind(`
		SELECT domain, score, previous_score, change, computed_at
		FROM visibility_scores
		WHERE domain = ?`), domain)
	if err != nil {
		return DomainScore{}, fmt.Errorf("query score: %w", err)
	}
	defer rows.Close()
	var current []ScoreRow
	if err := sqlx.StructScan(rows, &current); err != nil {
		return DomainScore{}, fmt.Errorf("scan score: %w", err)
	}
	if len(current) == 0 {
		return DomainScore{}, fmt.Errorf("domain %s: %w", domain, ErrNotFound)
	}

	out := DomainScore{ScoreRow: current[0], History: []HistoryPoint{}}
	if history <= 0 {
		return out, nil
	}

	rows, err = c.db.QueryContext(ctx, c.rebind(`
		SELECT score, computed_at
		FROM visibility_score_history
		WHERE domain = ?
		ORDER BY computed_at DESC
		LIMIT ?`), domain, history)
	if err != nil {
		return DomainScore{}, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	if err := sqlx.StructScan(rows, &out.History); err != nil {
		return DomainScore{}, fmt.Errorf("scan history: %w", err)
	}
	for i, j := 0, len(out.History)-1; i < j; i, j = i+1, j-1 {
		out.History[i], out.History[j] = out.History[j], out.History[i]
	}
	return out, nil
}
