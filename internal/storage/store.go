package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

var (
	ErrEmptyData     = errors.New("storage: no columns to write")
	ErrEmptyWhere    = errors.New("storage: refusing to write without a where clause")
	ErrTableNotFound = errors.New("storage: table not found")
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Row is one table row keyed by column name.
type Row = map[string]any

// WriteResult is what insert, update and delete report back.
type WriteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Row     Row    `json:"data,omitempty"`
	Changes int64  `json:"changes"`
}

// Column describes one column of a table.
type Column struct {
	Name     string  `db:"column_name" json:"name"`
	Type     string  `db:"data_type" json:"type"`
	Nullable bool    `db:"nullable" json:"nullable"`
	Default  *string `db:"column_default" json:"default"`
	Position int32   `db:"ordinal_position" json:"position"`
}

// Store runs generic CRUD against whatever tables exist in the current
// schema. Table and column names are always quoted as identifiers; values
// are always bound as parameters.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Insert adds one row and returns it as stored.
func (s *Store) Insert(ctx context.Context, table string, data Row) (WriteResult, error) {
	sql, args, err := buildInsert(table, data)
	if err != nil {
		return WriteResult{}, err
	}
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return WriteResult{}, errors.Wrapf(err, "insert into %s", table)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return WriteResult{}, errors.Wrapf(err, "insert into %s", table)
	}
	return WriteResult{Success: true, Message: "row inserted", Row: row, Changes: 1}, nil
}

func (s *Store) Update(ctx context.Context, table string, data, where Row) (WriteResult, error) {
	sql, args, err := buildUpdate(table, data, where)
	if err != nil {
		return WriteResult{}, err
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return WriteResult{}, errors.Wrapf(err, "update %s", table)
	}
	return WriteResult{Success: true, Message: "rows updated", Changes: tag.RowsAffected()}, nil
}

func (s *Store) Delete(ctx context.Context, table string, where Row) (WriteResult, error) {
	sql, args, err := buildDelete(table, where)
	if err != nil {
		return WriteResult{}, err
	}
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return WriteResult{}, errors.Wrapf(err, "delete from %s", table)
	}
	return WriteResult{Success: true, Message: "rows deleted", Changes: tag.RowsAffected()}, nil
}

// Select returns rows matching every equality in where.
func (s *Store) Select(ctx context.Context, table string, where Row, limit int) ([]Row, error) {
	sql, args := buildSelect(table, where, limit)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "select from %s", table)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, errors.Wrapf(err, "select from %s", table)
	}
	return out, nil
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `select exists (
  select 1 from information_schema.tables
   where table_schema = current_schema() and table_name = $1)`, table).Scan(&ok)
	if err != nil {
		return false, errors.Wrapf(err, "lookup table %s", table)
	}
	return ok, nil
}

func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `select table_name from information_schema.tables
   where table_schema = current_schema() and table_type = 'BASE TABLE'
   order by table_name`)
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "list tables")
	}
	return names, nil
}

func (s *Store) TableSchema(ctx context.Context, table string) ([]Column, error) {
	rows, err := s.db.Query(ctx, `select column_name, data_type, is_nullable = 'YES' as nullable,
       column_default, ordinal_position
  from information_schema.columns
 where table_schema = current_schema() and table_name = $1
 order by ordinal_position`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "describe %s", table)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowToStructByName[Column])
	if err != nil {
		return nil, errors.Wrapf(err, "describe %s", table)
	}
	if len(cols) == 0 {
		return nil, ErrTableNotFound
	}
	return cols, nil
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func sortedColumns(m Row) []string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// whereClause renders "a" = $n AND ... starting at placeholder n.
func whereClause(where Row, n int) (string, []any) {
	cols := sortedColumns(where)
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = $%d", ident(c), n+i)
		args[i] = where[c]
	}
	return strings.Join(parts, " AND "), args
}

func buildInsert(table string, data Row) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, ErrEmptyData
	}
	cols := sortedColumns(data)
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = ident(c)
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = data[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		ident(table), strings.Join(names, ", "), strings.Join(marks, ", "))
	return sql, args, nil
}

func buildUpdate(table string, data, where Row) (string, []any, error) {
	if len(data) == 0 {
		return "", nil, ErrEmptyData
	}
	if len(where) == 0 {
		return "", nil, ErrEmptyWhere
	}
	cols := sortedColumns(data)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(where))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", ident(c), i+1)
		args = append(args, data[c])
	}
	cond, condArgs := whereClause(where, len(cols)+1)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", ident(table), strings.Join(sets, ", "), cond)
	return sql, append(args, condArgs...), nil
}

func buildDelete(table string, where Row) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, ErrEmptyWhere
	}
	cond, args := whereClause(where, 1)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", ident(table), cond), args, nil
}

func buildSelect(table string, where Row, limit int) (string, []any) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	sql := "SELECT * FROM " + ident(table)
	var args []any
	if len(where) > 0 {
		var cond string
		cond, args = whereClause(where, 1)
		sql += " WHERE " + cond
	}
	return fmt.Sprintf("%s LIMIT %d", sql, limit), args
}
