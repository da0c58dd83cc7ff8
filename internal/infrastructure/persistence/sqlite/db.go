package sqlite

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/pkg/database"
)

type txKey struct{}

// DB scopes repository queries to the transaction carried by a context
type DB struct {
	conn   *database.DB
	logger *zap.Logger
}

// NewDB wraps an open database
func NewDB(conn *database.DB, logger *zap.Logger) *DB {
	return &DB{conn: conn, logger: logger}
}

// WithTransaction runs fn with a context carrying a transaction. A context
// that already carries one is passed through, so nested calls share it.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	err := db.conn.InTx(ctx, func(tx *sql.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
	if err != nil {
		db.logger.Debug("Transaction rolled back", zap.Error(err))
	}
	return err
}

func txFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// executor returns the transaction in ctx, or the database
func (db *DB) executor(ctx context.Context) executor {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return db.conn.DB
}

// executor covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// nullString maps an absent value to SQL NULL
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

var _ port.TransactionManager = (*DB)(nil)
