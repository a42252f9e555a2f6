package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/ingest"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/visibility"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	rawDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	return NewClientFromDB(rawDB, DriverPostgres, zaptest.NewLogger(t)), mock
}

func TestRebind(t *testing.T) {
	pg, _ := newMockClient(t)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	rawDB, _, err := sqlmock.New()
	require.NoError(t, err)
	defer rawDB.Close()
	lite := NewClientFromDB(rawDB, DriverSQLite, zaptest.NewLogger(t))
	assert.Equal(t, "SELECT * FROM t WHERE a = ?", lite.rebind("SELECT * FROM t WHERE a = ?"))
	assert.Equal(t, DriverSQLite, lite.Driver())
}

func TestSaveResponsePostgres(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO queries \(id, text, created_at\) VALUES \(\$1, \$2, \$3\) ON CONFLICT \(text\) DO NOTHING`).
		WithArgs("q-new", "best crm", t0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id FROM queries WHERE text = \$1`).
		WithArgs("best crm").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("q-existing"))
	mock.ExpectExec(`INSERT INTO responses`).
		WithArgs("r1", "q-existing", "gpt-4", "raw", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(`INSERT INTO citations .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\) ON CONFLICT \(response_id, url\) DO NOTHING`)
	prep.ExpectExec().
		WithArgs("c1", "r1", "q-existing", "https://acme.com", "acme.com", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("c2", "r1", "q-existing", "https://beta.io", "beta.io", t0).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	saved, err := client.SaveResponse(context.Background(), record("q-new", "best crm", "r1", t0,
		ingest.CitationRow{ID: "c1", URL: "https://acme.com", Domain: "acme.com"},
		ingest.CitationRow{ID: "c2", URL: "https://beta.io", Domain: "beta.io"},
	))
	require.NoError(t, err)
	assert.Equal(t, ingest.Saved{QueryID: "q-existing", CitationsInserted: 1}, saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResponseUniqueViolationIsConflict(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO queries`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM queries`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("q1"))
	mock.ExpectExec(`INSERT INTO responses`).WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	_, err := client.SaveResponse(context.Background(), record("q1", "best crm", "r1", t0))
	assert.ErrorIs(t, err, ingest.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveResponseOtherErrorsPassThrough(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO queries`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := client.SaveResponse(context.Background(), record("q1", "best crm", "r1", t0))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ingest.ErrConflict)
	assert.Contains(t, err.Error(), "insert query")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveScoresPostgres(t *testing.T) {
	client, mock := newMockClient(t)

	prev := decimal.RequireFromString("50")
	change := decimal.RequireFromString("2")
	results := []visibility.DomainScoreResult{
		{Domain: "a.com", Score: decimal.RequireFromString("69")},
		{Domain: "b.com", Score: decimal.RequireFromString("52"), PreviousScore: &prev, Change: &change},
	}

	mock.ExpectBegin()
	upsert := mock.ExpectPrepare(`INSERT INTO visibility_scores .* VALUES \(\$1, \$2, \$3, \$4, \$5\) ON CONFLICT \(domain\) DO UPDATE`)
	history := mock.ExpectPrepare(`INSERT INTO visibility_score_history .* ON CONFLICT \(domain, computed_at\) DO UPDATE`)
	upsert.ExpectExec().WithArgs("a.com", "69", nil, nil, t0).WillReturnResult(sqlmock.NewResult(0, 1))
	history.ExpectExec().WithArgs(sqlmock.AnyArg(), "a.com", "69", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	upsert.ExpectExec().WithArgs("b.com", "52", "50", "2", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	history.ExpectExec().WithArgs(sqlmock.AnyArg(), "b.com", "52", t0).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, client.SaveScores(context.Background(), results, t0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveScoresRollsBackOnFailure(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	upsert := mock.ExpectPrepare(`INSERT INTO visibility_scores`)
	mock.ExpectPrepare(`INSERT INTO visibility_score_history`)
	upsert.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := client.SaveScores(context.Background(), []visibility.DomainScoreResult{
		{Domain: "a.com", Score: decimal.RequireFromString("69")},
	}, t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert score a.com")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCorpusPostgres(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, response_id, query_id, url, domain, created_at FROM citations ORDER BY created_at, id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_id", "query_id", "url", "domain", "created_at"}).
			AddRow("c1", "r1", "q1", "https://acme.com", "acme.com", t0).
			AddRow("c2", "r1", "q1", "https://beta.io", "beta.io", t0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM queries`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectCommit()

	snap, err := client.LoadCorpus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TotalQueries)
	require.Len(t, snap.Citations, 2)
	assert.Equal(t, "beta.io", snap.Citations[1].Domain)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoringInputReadsOneSnapshot(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, response_id, query_id, url, domain, created_at FROM citations ORDER BY created_at, id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_id", "query_id", "url", "domain", "created_at"}).
			AddRow("c1", "r1", "q1", "https://acme.com", "acme.com", t0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM queries`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT domain, score FROM visibility_scores`).
		WillReturnRows(sqlmock.NewRows([]string{"domain", "score"}).AddRow("acme.com", "42.5"))
	mock.ExpectCommit()

	snap, previous, err := client.ScoringInput(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Citations, 1)
	assert.Equal(t, 1, snap.TotalQueries)
	require.Contains(t, previous, "acme.com")
	assert.True(t, decimal.RequireFromString("42.5").Equal(previous["acme.com"]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoringInputRollsBackOnScoreFailure(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM citations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "response_id", "query_id", "url", "domain", "created_at"}))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM queries`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM visibility_scores`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, err := client.ScoringInput(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query scores")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionCBCommitFailure(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := client.WithTransactionCB(context.Background(), nil, func(*circuitbreaker.TxWrapper) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"pq unique", &pq.Error{Code: "23505"}, true},
		{"pq wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"pq foreign key", &pq.Error{Code: "23503"}, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestConfigDSN(t *testing.T) {
	pg := Config{Driver: DriverPostgres, Host: "db", Port: 5432, User: "u", Password: "p", Database: "vis", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=vis sslmode=disable", pg.dsn())

	lite := Config{Driver: DriverSQLite, Path: "/tmp/v.db"}
	assert.Equal(t, "file:/tmp/v.db?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", lite.dsn())

	_, err := NewClient(&Config{Driver: "mysql"}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
