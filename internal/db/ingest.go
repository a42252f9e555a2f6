package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ingest"
)

// SaveResponse stores a response, its (possibly existing) query and its
// citations in one transaction. Citations already stored for the response
// are skipped.
func (c *Client) SaveResponse(ctx context.Context, rec ingest.Record) (ingest.Saved, error) {
	var saved ingest.Saved

	err := c.WithTransactionCB(ctx, nil, func(tx *circuitbreaker.TxWrapper) error {
		queryID, err := c.findOrCreateQuery(ctx, tx, rec)
		if err != nil {
			return err
		}
		saved.QueryID = queryID

		if _, err := tx.ExecContext(ctx, c.rebind(`
			INSERT INTO responses (id, query_id, model, raw_text, created_at)
			VALUES (?, ?, ?, ?, ?)`),
			rec.ResponseID, queryID, rec.Model, rec.RawText, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert response: %w", err)
		}

		if len(rec.Citations) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx, c.rebind(`
			INSERT INTO citations (id, response_id, query_id, url, domain, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (response_id, url) DO NOTHING`))
		if err != nil {
			return fmt.Errorf("prepare citation insert: %w", err)
		}
		defer stmt.Close()

		for _, cit := range rec.Citations {
			res, err := stmt.ExecContext(ctx, cit.ID, rec.ResponseID, queryID, cit.URL, cit.Domain, rec.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert citation %s: %w", cit.URL, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				saved.CitationsInserted += int(n)
			}
		}
		return nil
	})
	if IsUniqueViolation(err) {
		// an id collided with an existing row; the transaction is gone
		return ingest.Saved{}, fmt.Errorf("%w: %v", ingest.ErrConflict, err)
	}
	if err != nil {
		return ingest.Saved{}, err
	}
	return saved, nil
}

// findOrCreateQuery inserts the query text unless it exists and returns its id.
// Concurrent ingests of the same text converge on the row that won the insert.
func (c *Client) findOrCreateQuery(ctx context.Context, tx *circuitbreaker.TxWrapper, rec ingest.Record) (string, error) {
	if _, err := tx.ExecContext(ctx, c.rebind(`
		INSERT INTO queries (id, text, created_at) VALUES (?, ?, ?)
		ON CONFLICT (text) DO NOTHING`),
		rec.QueryID, rec.QueryText, rec.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("insert query: %w", err)
	}

	row, err := tx.QueryRowContext(ctx, c.rebind(`SELECT id FROM queries WHERE text = ?`), rec.QueryText)
	if err != nil {
		return "", fmt.Errorf("select query: %w", err)
	}
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("query %q vanished after insert: %w", rec.QueryText, ErrNotFound)
		}
		return "", fmt.Errorf("select query: %w", err)
	}
	return id, nil
}
