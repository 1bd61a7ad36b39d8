package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// nullableString maps an empty string to SQL NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString maps SQL NULL to an empty string.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// jsonbValueMap converts a map to JSONB format for database insertion.
func jsonbValueMap(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
