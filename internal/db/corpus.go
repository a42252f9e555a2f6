package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
)

// queryer is satisfied by both the pooled connection and a transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error)
}

// LoadCorpus reads every citation and the query count in one read-only
// snapshot transaction.
func (c *Client) LoadCorpus(ctx context.Context) (corpus.Snapshot, error) {
	snap := corpus.Snapshot{TakenAt: c.now().UTC()}

	err := c.WithTransactionCB(ctx, c.snapshotTxOptions(), func(tx *circuitbreaker.TxWrapper) error {
		return readCorpus(ctx, tx, &snap)
	})
	if err != nil {
		return corpus.Snapshot{}, err
	}
	return snap, nil
}

// ScoringInput reads the corpus and the stored scores in the same snapshot
// transaction, so the previous scores a run diffs against belong to the
// corpus it scores.
func (c *Client) ScoringInput(ctx context.Context) (corpus.Snapshot, map[string]decimal.Decimal, error) {
	snap := corpus.Snapshot{TakenAt: c.now().UTC()}
	var previous map[string]decimal.Decimal

	err := c.WithTransactionCB(ctx, c.snapshotTxOptions(), func(tx *circuitbreaker.TxWrapper) error {
		if err := readCorpus(ctx, tx, &snap); err != nil {
			return err
		}
		var err error
		previous, err = readScores(ctx, tx)
		return err
	})
	if err != nil {
		return corpus.Snapshot{}, nil, err
	}
	return snap, previous, nil
}

func readCorpus(ctx context.Context, q queryer, snap *corpus.Snapshot) error {
	rows, err := q.QueryContext(ctx, `
		SELECT id, response_id, query_id, url, domain, created_at
		FROM citations
		ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("query citations: %w", err)
	}
	defer rows.Close()
	var dest []citationRow
	if err := sqlx.StructScan(rows, &dest); err != nil {
		return fmt.Errorf("scan citations: %w", err)
	}

	snap.Citations = make([]corpus.CitationRecord, len(dest))
	for i, r := range dest {
		snap.Citations[i] = r.record()
	}

	row, err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM queries`)
	if err != nil {
		return fmt.Errorf("count queries: %w", err)
	}
	if err := row.Scan(&snap.TotalQueries); err != nil {
		return fmt.Errorf("count queries: %w", err)
	}
	return nil
}

func readScores(ctx context.Context, q queryer) (map[string]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `SELECT domain, score FROM visibility_scores`)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var domain string
		var score decimal.Decimal
		if err := rows.Scan(&domain, &score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out[domain] = score
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return out, nil
}
