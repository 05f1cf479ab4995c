package repository

import (
	"context"
	_ "embed"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-gov-workflow/internal/database"
	"github.com/pesio-ai/be-gov-workflow/internal/errors"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *database.DB and pgx.Tx so the same queries
// run inside and outside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// pgReader implements Reader over a querier.
type pgReader struct {
	q querier
}

// pgTx implements Tx over an open pgx transaction.
type pgTx struct {
	pgReader
}

// PostgresStore is the Postgres-backed Store.
type PostgresStore struct {
	pgReader
	db *database.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{pgReader: pgReader{q: db}, db: db}
}

// InTransaction runs fn inside one database transaction.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{pgReader{q: tx}})
	})
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply schema")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func newID() string { return uuid.NewString() }

var (
	_ Store             = (*PostgresStore)(nil)
	_ Tx                = (*pgTx)(nil)
	_ LayoutCatalog     = (*CatalogRepository)(nil)
	_ PermissionCatalog = (*CatalogRepository)(nil)
	_ UserDirectory     = (*CatalogRepository)(nil)
	_ CatalogWriter     = (*CatalogRepository)(nil)
)
