package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// TxManager coordinates writes that span several repositories.
//
//	err := txm.WithTransaction(ctx, func(tx *sql.Tx) error {
//	    if err := orders.WithTx(tx).UpdateStatus(ctx, ...); err != nil {
//	        return err // rolls back
//	    }
//	    return trades.WithTx(tx).Insert(ctx, trade)
//	})
type TxManager struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTxManager(db *sql.DB, logger *slog.Logger) *TxManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{db: db, logger: logger.With("component", "tx")}
}

// CommitError marks a failure of the final COMMIT, as opposed to an error
// returned by fn. Callers that need to know whether writes may have landed
// check for it with errors.As.
type CommitError struct{ Err error }

func (e *CommitError) Error() string { return "commit transaction: " + e.Err.Error() }
func (e *CommitError) Unwrap() error { return e.Err }

// WithTransaction runs fn in a transaction. It rolls back when fn returns an
// error or panics (the panic is re-raised) and commits otherwise.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				m.logger.Error("rollback after panic failed", "error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Error("rollback failed", "error", rbErr, "originalError", err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &CommitError{Err: err}
	}
	return nil
}
