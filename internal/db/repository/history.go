package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	internaldb "histclean/internal/db"
	"histclean/internal/domain"
)

var (
	_ domain.HistoryRepository = (*HistoryRepo)(nil)
	_ domain.HistoryStore      = (*historyStore)(nil)
)

// HistoryRepo reads and deletes snapshots in the target database.
type HistoryRepo struct {
	db      *sql.DB
	dialect internaldb.Dialect
	schema  *SchemaRepo
	historyStore
}

// NewHistoryRepo creates a HistoryRepo. schema supplies (cached) column lists
// of history tables.
func NewHistoryRepo(target *internaldb.Target, schema *SchemaRepo) *HistoryRepo {
	r := &HistoryRepo{db: target.DB, dialect: target.Dialect, schema: schema}
	r.historyStore = historyStore{q: target.DB, repo: r}
	return r
}

// Count returns the number of snapshots of m, optionally only those dated >= since.
func (r *HistoryRepo) Count(ctx context.Context, m domain.Model, since *time.Time) (int64, error) {
	d := r.dialect
	query := "SELECT COUNT(*) FROM " + d.Quote(m.HistoryTable)
	var args []any
	if since != nil {
		query += " WHERE " + d.Quote(m.DateColumn) + " >= " + d.Placeholder(1)
		args = append(args, d.TimeArg(*since))
	}

	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history of %s: %w", m.Label, err)
	}
	return n, nil
}

// ObjectIDs lists objects to scan, ordered by primary key. With a live table
// only existing objects are returned; since restricts them to objects with
// snapshots dated >= since.
func (r *HistoryRepo) ObjectIDs(ctx context.Context, m domain.Model, since *time.Time) ([]any, error) {
	d := r.dialect
	pk := d.Quote(m.PKColumn)
	ht := d.Quote(m.HistoryTable)

	var query string
	var args []any
	switch {
	case m.HistoryOnly():
		query = "SELECT DISTINCT " + pk + " FROM " + ht
		if since != nil {
			query += " WHERE " + d.Quote(m.DateColumn) + " >= " + d.Placeholder(1)
			args = append(args, d.TimeArg(*since))
		}
	default:
		query = "SELECT " + pk + " FROM " + d.Quote(m.Table)
		if since != nil {
			query += " WHERE " + pk + " IN (SELECT DISTINCT " + pk + " FROM " + ht +
				" WHERE " + d.Quote(m.DateColumn) + " >= " + d.Placeholder(1) + ")"
			args = append(args, d.TimeArg(*since))
		}
	}
	query += " ORDER BY " + pk

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objects of %s: %w", m.Label, err)
	}
	defer rows.Close()

	var ids []any
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan object id: %w", err)
		}
		ids = append(ids, normalizeValue(id))
	}
	return ids, rows.Err()
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (r *HistoryRepo) InTx(ctx context.Context, fn func(domain.HistoryStore) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&historyStore{q: tx, repo: r}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// historyStore runs snapshot queries on a pool or a transaction.
type historyStore struct {
	q    querier
	repo *HistoryRepo
}

// selection is the column list read for a model's snapshots.
type selection struct {
	tracked []string
	sql     string
}

func (s *historyStore) selection(ctx context.Context, m domain.Model) (*selection, error) {
	cols, err := s.repo.schema.columnsOn(ctx, s.q, m.HistoryTable)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, domain.ErrNotHistorical("history table %s of %s does not exist", m.HistoryTable, m.Label)
	}

	d := s.repo.dialect
	sel := &selection{}
	quoted := []string{d.Quote(m.HistoryIDColumn), d.Quote(m.DateColumn)}
	for _, c := range cols {
		if m.IsMetaColumn(c) {
			continue
		}
		sel.tracked = append(sel.tracked, c)
		quoted = append(quoted, d.Quote(c))
	}
	sel.sql = "SELECT " + strings.Join(quoted, ", ") + " FROM " + d.Quote(m.HistoryTable)
	return sel, nil
}

func (s *historyStore) orderBy(m domain.Model) string {
	d := s.repo.dialect
	return " ORDER BY " + d.Quote(m.DateColumn) + " DESC, " + d.Quote(m.HistoryIDColumn) + " DESC"
}

// History streams the snapshots of one object newest-first.
func (s *historyStore) History(ctx context.Context, m domain.Model, objectID any, since *time.Time, fn func(*domain.HistoryRecord) error) error {
	sel, err := s.selection(ctx, m)
	if err != nil {
		return err
	}
	d := s.repo.dialect
	query := sel.sql + " WHERE " + d.Quote(m.PKColumn) + " = " + d.Placeholder(1)
	args := []any{objectID}
	if since != nil {
		query += " AND " + d.Quote(m.DateColumn) + " >= " + d.Placeholder(2)
		args = append(args, d.TimeArg(*since))
	}
	query += s.orderBy(m)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query history of %s %v: %w", m.Label, objectID, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows, m, sel)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Boundary returns the newest snapshot of objectID dated strictly before cutoff.
func (s *historyStore) Boundary(ctx context.Context, m domain.Model, objectID any, cutoff time.Time) (*domain.HistoryRecord, error) {
	sel, err := s.selection(ctx, m)
	if err != nil {
		return nil, err
	}
	d := s.repo.dialect
	query := sel.sql + " WHERE " + d.Quote(m.PKColumn) + " = " + d.Placeholder(1) +
		" AND " + d.Quote(m.DateColumn) + " < " + d.Placeholder(2) + s.orderBy(m) + " LIMIT 1"

	rows, err := s.q.QueryContext(ctx, query, objectID, d.TimeArg(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query boundary of %s %v: %w", m.Label, objectID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRecord(rows, m, sel)
}

// FetchByIDs loads full snapshots by history id, newest-first.
func (s *historyStore) FetchByIDs(ctx context.Context, m domain.Model, ids []any) ([]domain.HistoryRecord, error) {
	sel, err := s.selection(ctx, m)
	if err != nil {
		return nil, err
	}
	d := s.repo.dialect

	var out []domain.HistoryRecord
	for _, part := range chunk(ids, maxIDsPerStatement) {
		query := sel.sql + " WHERE " + d.Quote(m.HistoryIDColumn) + " IN (" + d.Placeholders(1, len(part)) + ")" + s.orderBy(m)
		rows, err := s.q.QueryContext(ctx, query, part...)
		if err != nil {
			return nil, fmt.Errorf("fetch history of %s: %w", m.Label, err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows, m, sel)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, *rec)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteByIDs removes snapshots by history id.
func (s *historyStore) DeleteByIDs(ctx context.Context, m domain.Model, ids []any) (int64, error) {
	d := s.repo.dialect
	var total int64
	for _, part := range chunk(ids, maxIDsPerStatement) {
		query := "DELETE FROM " + d.Quote(m.HistoryTable) + " WHERE " + d.Quote(m.HistoryIDColumn) +
			" IN (" + d.Placeholders(1, len(part)) + ")"
		res, err := s.q.ExecContext(ctx, query, part...)
		if err != nil {
			return total, fmt.Errorf("delete history of %s: %w", m.Label, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func scanRecord(rows *sql.Rows, m domain.Model, sel *selection) (*domain.HistoryRecord, error) {
	vals := make([]any, len(sel.tracked)+2)
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan history of %s: %w", m.Label, err)
	}

	rec := &domain.HistoryRecord{
		HistoryID:   normalizeValue(vals[0]),
		HistoryDate: internaldb.ParseTime(vals[1]),
		Fields:      make(map[string]any, len(sel.tracked)),
		FieldOrder:  sel.tracked,
	}
	for i, col := range sel.tracked {
		rec.Fields[col] = normalizeValue(vals[i+2])
	}
	rec.ObjectID = rec.Fields[m.PKColumn]
	return rec, nil
}
