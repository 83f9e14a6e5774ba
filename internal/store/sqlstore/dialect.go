package sqlstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mirajehossain/datamigratex/internal/store"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect interface {
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// CreateTable returns the statements that create the table and its indexes.
	CreateTable(spec store.TableSpec) []string
	// LockClause is appended to the read in a read-modify-write transaction.
	LockClause() string
	// IsDuplicate reports whether err is a unique constraint violation.
	IsDuplicate(err error) bool
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case "mysql":
		return MySQL{}, nil
	case "postgres":
		return Postgres{}, nil
	case "sqlite":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported sql dialect %q", name)
}

type MySQL struct{}

func (MySQL) Name() string          { return "mysql" }
func (MySQL) Placeholder(int) string { return "?" }
func (MySQL) LockClause() string     { return " FOR UPDATE" }

func (MySQL) CreateTable(spec store.TableSpec) []string {
	cols := []string{store.KeyField + " VARCHAR(36) NOT NULL PRIMARY KEY"}
	for _, f := range spec.Fields {
		cols = append(cols, f.Name+" "+mysqlType(f.Kind))
	}
	cols = append(cols, attrsColumn+" LONGTEXT")
	for _, f := range spec.Fields {
		switch {
		case f.Unique:
			cols = append(cols, fmt.Sprintf("UNIQUE KEY uniq_%s_%s (%s)", spec.Name, f.Name, f.Name))
		case f.Indexed:
			cols = append(cols, fmt.Sprintf("KEY idx_%s_%s (%s)", spec.Name, f.Name, f.Name))
		}
	}
	return []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		spec.Name, strings.Join(cols, ",\n  "))}
}

func (MySQL) IsDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func mysqlType(k store.FieldKind) string {
	switch k {
	case store.KindText:
		return "LONGTEXT"
	case store.KindInt:
		return "BIGINT"
	case store.KindBool:
		return "BOOLEAN"
	}
	return "VARCHAR(191)"
}

type Postgres struct{}

func (Postgres) Name() string            { return "postgres" }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }
func (Postgres) LockClause() string       { return " FOR UPDATE" }

func (Postgres) CreateTable(spec store.TableSpec) []string {
	cols := []string{store.KeyField + " TEXT PRIMARY KEY"}
	for _, f := range spec.Fields {
		col := f.Name + " " + postgresType(f.Kind)
		if f.Unique {
			col += " UNIQUE"
		}
		cols = append(cols, col)
	}
	cols = append(cols, attrsColumn+" TEXT")
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", spec.Name, strings.Join(cols, ",\n  "))}
	return append(stmts, indexStatements(spec)...)
}

func (Postgres) IsDuplicate(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == "23505"
}

func postgresType(k store.FieldKind) string {
	switch k {
	case store.KindInt:
		return "BIGINT"
	case store.KindBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

type SQLite struct{}

func (SQLite) Name() string          { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) LockClause() string     { return "" }

func (SQLite) CreateTable(spec store.TableSpec) []string {
	cols := []string{store.KeyField + " TEXT PRIMARY KEY"}
	for _, f := range spec.Fields {
		col := f.Name + " " + sqliteType(f.Kind)
		if f.Unique {
			col += " UNIQUE"
		}
		cols = append(cols, col)
	}
	cols = append(cols, attrsColumn+" TEXT")
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", spec.Name, strings.Join(cols, ",\n  "))}
	return append(stmts, indexStatements(spec)...)
}

func (SQLite) IsDuplicate(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		// extended codes disabled on this connection
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

func sqliteType(k store.FieldKind) string {
	switch k {
	case store.KindInt, store.KindBool:
		return "INTEGER"
	}
	return "TEXT"
}

func indexStatements(spec store.TableSpec) []string {
	var out []string
	for _, f := range spec.Fields {
		if f.Indexed && !f.Unique {
			out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", spec.Name, f.Name, spec.Name, f.Name))
		}
	}
	return out
}
