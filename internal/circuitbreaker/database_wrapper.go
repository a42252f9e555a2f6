package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"
)

const databaseService = "store"

// DatabaseWrapper wraps a *sql.DB with a circuit breaker
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper whose breaker is named after the driver
func NewDatabaseWrapper(db *sql.DB, driver string, logger *zap.Logger) *DatabaseWrapper {
	config := GetDatabaseSettings().ToConfig()
	config.IsSuccessful = func(err error) bool {
		// a missing row is an answer, not an outage
		return errors.Is(err, sql.ErrNoRows) || errors.Is(err, sql.ErrTxDone)
	}
	cb := NewCircuitBreaker(driver, config, logger)
	GlobalMetricsCollector.Register(databaseService, cb)

	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

// guard runs fn under the breaker and records the outcome
func guard(ctx context.Context, cb *CircuitBreaker, fn func() error) error {
	err := cb.Execute(ctx, fn)
	GlobalMetricsCollector.RecordRequest(cb.name, databaseService, cb.State(), err == nil)
	return err
}

// PingContext wraps db ping
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return guard(ctx, dw.cb, func() error {
		return dw.db.PingContext(ctx)
	})
}

// QueryContext wraps db query
func (dw *DatabaseWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := guard(ctx, dw.cb, func() error {
		var err error
		rows, err = dw.db.QueryContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRowContext wraps db query row. Query errors surface on Scan.
func (dw *DatabaseWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row
	err := guard(ctx, dw.cb, func() error {
		row = dw.db.QueryRowContext(ctx, query, args...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ExecContext wraps db exec
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := guard(ctx, dw.cb, func() error {
		var err error
		result, err = dw.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BeginTx starts a transaction under the breaker
func (dw *DatabaseWrapper) BeginTx(ctx context.Context, opts *sql.TxOptions) (*TxWrapper, error) {
	var tx *sql.Tx
	err := guard(ctx, dw.cb, func() error {
		var err error
		tx, err = dw.db.BeginTx(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &TxWrapper{tx: tx, cb: dw.cb}, nil
}

// Stats returns database stats
func (dw *DatabaseWrapper) Stats() sql.DBStats {
	return dw.db.Stats()
}

// Close closes the database connection
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// GetDB returns the underlying connection pool
func (dw *DatabaseWrapper) GetDB() *sql.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the breaker rejects calls
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}

// TxWrapper wraps *sql.Tx with the owning breaker
type TxWrapper struct {
	tx *sql.Tx
	cb *CircuitBreaker
}

func (tw *TxWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := guard(ctx, tw.cb, func() error {
		var err error
		result, err = tw.tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (tw *TxWrapper) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := guard(ctx, tw.cb, func() error {
		var err error
		rows, err = tw.tx.QueryContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (tw *TxWrapper) QueryRowContext(ctx context.Context, query string, args ...interface{}) (*sql.Row, error) {
	var row *sql.Row
	err := guard(ctx, tw.cb, func() error {
		row = tw.tx.QueryRowContext(ctx, query, args...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// PrepareContext prepares a statement bound to the transaction
func (tw *TxWrapper) PrepareContext(ctx context.Context, query string) (*StmtWrapper, error) {
	var stmt *sql.Stmt
	err := guard(ctx, tw.cb, func() error {
		var err error
		stmt, err = tw.tx.PrepareContext(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &StmtWrapper{stmt: stmt, cb: tw.cb}, nil
}

func (tw *TxWrapper) Commit() error {
	return guard(context.Background(), tw.cb, tw.tx.Commit)
}

// Rollback bypasses the breaker; it must always be attempted
func (tw *TxWrapper) Rollback() error {
	return tw.tx.Rollback()
}

// StmtWrapper wraps a prepared statement
type StmtWrapper struct {
	stmt *sql.Stmt
	cb   *CircuitBreaker
}

func (sw *StmtWrapper) ExecContext(ctx context.Context, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := guard(ctx, sw.cb, func() error {
		var err error
		result, err = sw.stmt.ExecContext(ctx, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (sw *StmtWrapper) Close() error {
	return sw.stmt.Close()
}
