// Package sqlstore is a crud.Collection backed by one SQL table through
// sqlx. Search expressions compile to PostgreSQL predicates.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/drblury/cidflow/internal/runtime/crud"
	"github.com/drblury/cidflow/internal/runtime/search"
)

// Table describes the mapped table. Columns are the `db` names of the item
// fields, key included; only they may appear in search expressions.
type Table struct {
	Name    string
	Key     string
	Columns []string
	// OrderBy defaults to Key.
	OrderBy string
}

// Store reads and writes items of type T, which must carry `db` struct tags.
type Store[T any] struct {
	db      *sqlx.DB
	table   Table
	columns map[string]struct{}
}

// New returns a store over db.
func New[T any](db *sqlx.DB, table Table) (*Store[T], error) {
	if db == nil {
		return nil, errors.New("sqlstore: db is required")
	}
	if table.Name == "" || table.Key == "" {
		return nil, errors.New("sqlstore: table name and key column are required")
	}
	if table.OrderBy == "" {
		table.OrderBy = table.Key
	}
	cols := make(map[string]struct{}, len(table.Columns)+1)
	cols[table.Key] = struct{}{}
	for _, c := range table.Columns {
		cols[c] = struct{}{}
	}
	return &Store[T]{db: db, table: table, columns: cols}, nil
}

func (s *Store[T]) selectList() string {
	return strings.Join(s.quotedColumns(false), ", ")
}

func (s *Store[T]) quotedColumns(skipKey bool) []string {
	out := make([]string, 0, len(s.table.Columns)+1)
	if !skipKey {
		out = append(out, quoteIdent(s.table.Key))
	}
	for _, c := range s.table.Columns {
		if c == s.table.Key {
			continue
		}
		out = append(out, quoteIdent(c))
	}
	return out
}

func (s *Store[T]) where(filter search.Expr) (string, []any, error) {
	clause, args, err := compile(filter, s.columns)
	if err != nil || clause == "" {
		return "", args, err
	}
	return " WHERE " + clause, args, nil
}

func (s *Store[T]) Get(ctx context.Context, key string) (T, error) {
	var item T
	query := s.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		s.selectList(), quoteIdent(s.table.Name), quoteIdent(s.table.Key)))
	err := s.db.GetContext(ctx, &item, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return item, crud.ErrNotFound
	}
	return item, err
}

func (s *Store[T]) Count(ctx context.Context, filter search.Expr) (int, error) {
	where, args, err := s.where(filter)
	if err != nil {
		return 0, err
	}
	var n int
	query := s.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quoteIdent(s.table.Name), where))
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store[T]) Find(ctx context.Context, filter search.Expr, offset, limit int) ([]T, error) {
	where, args, err := s.where(filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		s.selectList(), quoteIdent(s.table.Name), where, quoteIdent(s.table.OrderBy))
	if limit >= 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	items := []T{}
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return items, nil
}

// Insert writes every non-key column and returns the stored row, which
// carries the key assigned by the database.
func (s *Store[T]) Insert(ctx context.Context, item T) (T, error) {
	cols := s.quotedColumns(true)
	names := make([]string, 0, len(cols))
	for _, c := range s.table.Columns {
		if c != s.table.Key {
			names = append(names, ":"+c)
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		quoteIdent(s.table.Name), strings.Join(cols, ", "), strings.Join(names, ", "), s.selectList())

	rows, err := sqlx.NamedQueryContext(ctx, s.db, query, item)
	if err != nil {
		return item, err
	}
	defer rows.Close()

	var created T
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return item, err
		}
		return item, errors.New("sqlstore: insert returned no row")
	}
	if err := rows.StructScan(&created); err != nil {
		return item, err
	}
	return created, rows.Err()
}

// Update overwrites every non-key column of the row under key.
func (s *Store[T]) Update(ctx context.Context, key string, item T) (T, error) {
	sets := make([]string, 0, len(s.table.Columns))
	for _, c := range s.table.Columns {
		if c != s.table.Key {
			sets = append(sets, fmt.Sprintf("%s = :%s", quoteIdent(c), c))
		}
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = :_key",
		quoteIdent(s.table.Name), strings.Join(sets, ", "), quoteIdent(s.table.Key))

	arg := namedArgs(s.db, item)
	arg["_key"] = key

	res, err := s.db.NamedExecContext(ctx, query, arg)
	if err != nil {
		return item, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return item, err
	}
	if n == 0 {
		return item, crud.ErrNotFound
	}
	return s.Get(ctx, key)
}

func (s *Store[T]) Delete(ctx context.Context, key string) error {
	query := s.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(s.table.Name), quoteIdent(s.table.Key)))
	res, err := s.db.ExecContext(ctx, query, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return crud.ErrNotFound
	}
	return nil
}

// namedArgs flattens item into a map keyed by its db tags.
func namedArgs(db *sqlx.DB, item any) map[string]any {
	fields := db.Mapper.FieldMap(reflect.ValueOf(item))
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		out[name] = v.Interface()
	}
	return out
}
