// Package sqlstore implements store.Store on database/sql. Declared fields map
// to columns; any other document fields are kept as JSON in an extra column.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mirajehossain/datamigratex/internal/store"
)

const attrsColumn = "attrs"

// Store is a SQL implementation of store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect

	mu     sync.RWMutex
	tables map[string]store.TableSpec
}

// New creates a SQL store for the given dialect.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, tables: make(map[string]store.TableSpec)}
}

// EnsureTable creates the table and its indexes if they do not exist.
func (s *Store) EnsureTable(ctx context.Context, spec store.TableSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, ok := spec.Field(attrsColumn); ok {
		return fmt.Errorf("%w: %q is reserved", store.ErrInvalidIdentifier, attrsColumn)
	}
	for _, stmt := range s.dialect.CreateTable(spec) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure table %s: %w", spec.Name, err)
		}
	}

	s.mu.Lock()
	s.tables[spec.Name] = spec
	s.mu.Unlock()
	return nil
}

func (s *Store) spec(name string) (store.TableSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.tables[name]
	if !ok {
		return store.TableSpec{}, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	return spec, nil
}

// Insert adds doc under a fresh key.
// Returns store.ErrDuplicate on a unique constraint violation.
func (s *Store) Insert(ctx context.Context, table string, doc store.Document) (string, error) {
	spec, err := s.spec(table)
	if err != nil {
		return "", err
	}

	key := uuid.New().String()
	cols := []string{store.KeyField}
	args := []any{key}
	extra := store.Document{}
	for k, v := range doc {
		if k == store.KeyField {
			continue
		}
		if _, ok := spec.Field(k); ok {
			cols = append(cols, k)
			args = append(args, v)
			continue
		}
		extra[k] = v
	}
	attrs, err := store.EncodeJSON(extra)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	cols = append(cols, attrsColumn)
	args = append(args, string(attrs))

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), s.placeholders(1, len(cols)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if s.dialect.IsDuplicate(err) {
			return "", fmt.Errorf("%w: %s: %v", store.ErrDuplicate, table, err)
		}
		return "", fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	return key, nil
}

// Patch overwrites fields of the document with key inside one transaction.
// A nil value clears the field. Returns store.ErrNotFound if key does not exist.
func (s *Store) Patch(ctx context.Context, table, key string, fields store.Document) error {
	spec, err := s.spec(table)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw sql.NullString
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s%s", attrsColumn, table, store.KeyField, s.dialect.Placeholder(1), s.dialect.LockClause())
	if err := tx.QueryRowContext(ctx, query, key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("failed to read %s/%s: %w", table, key, err)
	}
	extra, err := store.DecodeJSON([]byte(raw.String))
	if err != nil {
		return fmt.Errorf("failed to decode attributes of %s/%s: %w", table, key, err)
	}

	var sets []string
	var args []any
	for k, v := range fields {
		if k == store.KeyField {
			continue
		}
		if _, ok := spec.Field(k); ok {
			sets = append(sets, fmt.Sprintf("%s = %s", k, s.dialect.Placeholder(len(args)+1)))
			args = append(args, v)
			continue
		}
		if v == nil {
			delete(extra, k)
		} else {
			extra[k] = v
		}
	}
	attrs, err := store.EncodeJSON(extra)
	if err != nil {
		return fmt.Errorf("failed to encode attributes: %w", err)
	}
	sets = append(sets, fmt.Sprintf("%s = %s", attrsColumn, s.dialect.Placeholder(len(args)+1)))
	args = append(args, string(attrs))
	args = append(args, key)

	update := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", table, strings.Join(sets, ", "), store.KeyField, s.dialect.Placeholder(len(args)))
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		if s.dialect.IsDuplicate(err) {
			return fmt.Errorf("%w: %s: %v", store.ErrDuplicate, table, err)
		}
		return fmt.Errorf("failed to patch %s/%s: %w", table, key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit patch: %w", err)
	}
	return nil
}

// FindUnique returns the document whose field equals value.
// Undeclared fields are matched in process after a full scan.
// Returns store.ErrNotFound if none exists.
func (s *Store) FindUnique(ctx context.Context, table, field string, value any) (store.Document, error) {
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}

	if _, ok := spec.Field(field); !ok && field != store.KeyField {
		docs, err := s.selectAll(ctx, spec, "", nil)
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			if v, ok := d[field]; ok && store.Equal(v, value) {
				return d, nil
			}
		}
		return nil, store.ErrNotFound
	}

	where := fmt.Sprintf(" WHERE %s = %s", field, s.dialect.Placeholder(1))
	docs, err := s.selectAll(ctx, spec, where, []any{value})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

// ScanOrderedBy returns every document ordered by field.
func (s *Store) ScanOrderedBy(ctx context.Context, table, field string, ascending bool) ([]store.Document, error) {
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}

	if _, ok := spec.Field(field); !ok {
		docs, err := s.selectAll(ctx, spec, "", nil)
		if err != nil {
			return nil, err
		}
		store.SortDocuments(docs, field, ascending)
		return docs, nil
	}

	dir := "ASC"
	if !ascending {
		dir = "DESC"
	}
	return s.selectAll(ctx, spec, fmt.Sprintf(" ORDER BY %s %s", field, dir), nil)
}

func (s *Store) selectAll(ctx context.Context, spec store.TableSpec, tail string, args []any) ([]store.Document, error) {
	cols := []string{store.KeyField}
	for _, f := range spec.Fields {
		cols = append(cols, f.Name)
	}
	cols = append(cols, attrsColumn)

	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), spec.Name, tail)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", spec.Name, err)
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", spec.Name, err)
		}

		doc, err := decodeAttrs(vals[len(vals)-1])
		if err != nil {
			return nil, fmt.Errorf("failed to decode attributes in %s: %w", spec.Name, err)
		}
		doc[store.KeyField] = asString(vals[0])
		for i, f := range spec.Fields {
			v, err := decodeColumn(f.Kind, vals[i+1])
			if err != nil {
				return nil, fmt.Errorf("column %s.%s: %w", spec.Name, f.Name, err)
			}
			if v != nil {
				doc[f.Name] = v
			}
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Store) placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = s.dialect.Placeholder(from + i)
	}
	return strings.Join(ps, ", ")
}

func decodeAttrs(v any) (store.Document, error) {
	switch raw := v.(type) {
	case nil:
		return store.Document{}, nil
	case []byte:
		return store.DecodeJSON(raw)
	case string:
		return store.DecodeJSON([]byte(raw))
	}
	return nil, fmt.Errorf("unexpected attributes type %T", v)
}

// decodeColumn normalizes driver values: MySQL hands back []byte for text,
// SQLite stores booleans as integers.
func decodeColumn(kind store.FieldKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case store.KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case []byte:
			return strconv.ParseInt(string(n), 10, 64)
		case string:
			return strconv.ParseInt(n, 10, 64)
		}
	case store.KindBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case []byte:
			return strconv.ParseBool(string(b))
		case string:
			return strconv.ParseBool(b)
		}
	default:
		return asString(v), nil
	}
	return nil, fmt.Errorf("unexpected value type %T", v)
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

var _ store.Store = (*Store)(nil)
