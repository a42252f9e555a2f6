package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/competitors"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/corpus"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

// Schema works on both PostgreSQL and SQLite. Timestamps are stored in UTC.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS queries (
		id         TEXT PRIMARY KEY,
		text       TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS responses (
		id         TEXT PRIMARY KEY,
		query_id   TEXT NOT NULL REFERENCES queries(id),
		model      TEXT NOT NULL,
		raw_text   TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_responses_query ON responses (query_id)`,
	`CREATE TABLE IF NOT EXISTS citations (
		id          TEXT PRIMARY KEY,
		response_id TEXT NOT NULL REFERENCES responses(id),
		query_id    TEXT NOT NULL REFERENCES queries(id),
		url         TEXT NOT NULL,
		domain      TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		UNIQUE (response_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_citations_domain ON citations (domain)`,
	`CREATE INDEX IF NOT EXISTS idx_citations_query ON citations (query_id)`,
	`CREATE TABLE IF NOT EXISTS visibility_scores (
		domain         TEXT PRIMARY KEY,
		score          NUMERIC(9,4) NOT NULL,
		previous_score NUMERIC(9,4),
		change         NUMERIC(9,4),
		computed_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS visibility_score_history (
		id          TEXT PRIMARY KEY,
		domain      TEXT NOT NULL,
		score       NUMERIC(9,4) NOT NULL,
		computed_at TIMESTAMP NOT NULL,
		UNIQUE (domain, computed_at)
	)`,
	`CREATE TABLE IF NOT EXISTS competitor_metrics (
		target_domain               TEXT NOT NULL,
		competitor_domain           TEXT NOT NULL,
		overlap_score               DOUBLE PRECISION NOT NULL,
		shared_queries              INTEGER NOT NULL,
		total_queries_target        INTEGER NOT NULL,
		competitor_visibility_score NUMERIC(9,4),
		competitor_rank             INTEGER,
		share_of_voice              DOUBLE PRECISION NOT NULL,
		computed_at                 TIMESTAMP NOT NULL,
		PRIMARY KEY (target_domain, competitor_domain)
	)`,
	`CREATE TABLE IF NOT EXISTS url_performance_metrics (
		url                TEXT PRIMARY KEY,
		domain             TEXT NOT NULL,
		citation_count     INTEGER NOT NULL,
		unique_query_count INTEGER NOT NULL,
		avg_position       DOUBLE PRECISION NOT NULL,
		last_cited_at      TIMESTAMP NOT NULL,
		computed_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_url_performance_domain ON url_performance_metrics (domain, citation_count)`,
}

// Migrate creates missing tables and indexes
func (c *Client) Migrate(ctx context.Context) error {
	for i, stmt := range Schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

type citationRow struct {
	ID         string    `db:"id"`
	ResponseID string    `db:"response_id"`
	QueryID    string    `db:"query_id"`
	URL        string    `db:"url"`
	Domain     string    `db:"domain"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r citationRow) record() corpus.CitationRecord {
	return corpus.CitationRecord{
		ID:         r.ID,
		ResponseID: r.ResponseID,
		QueryID:    r.QueryID,
		URL:        r.URL,
		Domain:     r.Domain,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

// ScoreRow is the current score of a domain
type ScoreRow = visibility.ScoreRecord

// HistoryPoint is one past score of a domain
type HistoryPoint struct {
	Score      decimal.Decimal `db:"score" json:"score"`
	ComputedAt time.Time       `db:"computed_at" json:"computedAt"`
}

// DomainScore is a current score plus its recent history, oldest first
type DomainScore struct {
	ScoreRow
	History []HistoryPoint `json:"history"`
}

type competitorRow struct {
	TargetDomain              string              `db:"target_domain"`
	CompetitorDomain          string              `db:"competitor_domain"`
	OverlapScore              float64             `db:"overlap_score"`
	SharedQueries             int                 `db:"shared_queries"`
	TotalQueriesTarget        int                 `db:"total_queries_target"`
	CompetitorVisibilityScore decimal.NullDecimal `db:"competitor_visibility_score"`
	CompetitorRank            sql.NullInt64       `db:"competitor_rank"`
	ShareOfVoice              float64             `db:"share_of_voice"`
	ComputedAt                time.Time           `db:"computed_at"`
}

func (r competitorRow) metric() competitors.CompetitorMetric {
	m := competitors.CompetitorMetric{
		TargetDomain:       r.TargetDomain,
		CompetitorDomain:   r.CompetitorDomain,
		OverlapScore:       r.OverlapScore,
		SharedQueries:      r.SharedQueries,
		TotalQueriesTarget: r.TotalQueriesTarget,
		ShareOfVoice:       r.ShareOfVoice,
		ComputedAt:         r.ComputedAt.UTC(),
	}
	if r.CompetitorVisibilityScore.Valid {
		score := r.CompetitorVisibilityScore.Decimal
		m.CompetitorVisibilityScore = &score
	}
	if r.CompetitorRank.Valid {
		rank := int(r.CompetitorRank.Int64)
		m.CompetitorRank = &rank
	}
	return m
}

// Summary counts the rows of the corpus
type Summary struct {
	Queries       int `db:"queries" json:"queries"`
	Responses     int `db:"responses" json:"responses"`
	Citations     int `db:"citations" json:"citations"`
	ScoredDomains int `db:"scored_domains" json:"scoredDomains"`
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
