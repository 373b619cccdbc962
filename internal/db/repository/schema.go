package repository

import (
	"context"
	"fmt"
	"sync"

	internaldb "histclean/internal/db"
	"histclean/internal/domain"
)

var _ domain.SchemaInspector = (*SchemaRepo)(nil)

// SchemaRepo reads table and column names from the target database catalog.
// Column lists are cached for the lifetime of the repo.
type SchemaRepo struct {
	q       querier
	dialect internaldb.Dialect

	mu      sync.Mutex
	columns map[string][]string
}

// NewSchemaRepo creates a SchemaRepo for the target database.
func NewSchemaRepo(target *internaldb.Target) *SchemaRepo {
	return &SchemaRepo{q: target.DB, dialect: target.Dialect, columns: make(map[string][]string)}
}

// Tables lists user tables.
func (r *SchemaRepo) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, r.dialect.TablesQuery())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableExists reports whether table exists in the current schema.
func (r *SchemaRepo) TableExists(ctx context.Context, table string) (bool, error) {
	cols, err := r.Columns(ctx, table)
	if err != nil {
		return false, err
	}
	return len(cols) > 0, nil
}

// Columns lists the columns of table in declaration order. A missing table
// yields an empty list.
func (r *SchemaRepo) Columns(ctx context.Context, table string) ([]string, error) {
	return r.columnsOn(ctx, r.q, table)
}

// columnsOn is Columns read through q. Callers holding a transaction pass it
// here: a single-connection pool cannot serve a second query meanwhile.
func (r *SchemaRepo) columnsOn(ctx context.Context, q querier, table string) ([]string, error) {
	r.mu.Lock()
	cached, ok := r.columns[table]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	rows, err := q.QueryContext(ctx, r.dialect.ColumnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(cols) > 0 {
		r.mu.Lock()
		r.columns[table] = cols
		r.mu.Unlock()
	}
	return cols, nil
}
