// Package store defines the keyed document store that the migration registry
// and the migration bodies persist through. Backends live in subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// KeyField is the document field that carries the store-assigned key.
const KeyField = "id"

var (
	// ErrNotFound indicates no document matched the lookup.
	ErrNotFound = errors.New("document not found")

	// ErrDuplicate indicates an insert violated a unique field.
	ErrDuplicate = errors.New("duplicate value for unique field")

	// ErrUnknownTable indicates the table was never declared with EnsureTable.
	ErrUnknownTable = errors.New("unknown table")

	// ErrInvalidIdentifier indicates a table or field name is not a safe identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Document is a flat record. Values are strings, integers, booleans or nil.
type Document map[string]any

// Key returns the store-assigned key of the document, or "" when absent.
func (d Document) Key() string {
	k, _ := d[KeyField].(string)
	return k
}

// Store is the storage collaborator consumed by the registry.
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureTable declares a table. Calling it again with the same spec is a no-op.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// Insert adds a document and returns its new key.
	// Returns ErrDuplicate if a unique field value is already taken.
	Insert(ctx context.Context, table string, doc Document) (string, error)

	// Patch overwrites the given fields of the document with key.
	// A nil value clears the field.
	// Returns ErrNotFound if the key does not exist.
	Patch(ctx context.Context, table, key string, fields Document) error

	// FindUnique returns the single document whose field equals value.
	// Returns ErrNotFound if none exists.
	FindUnique(ctx context.Context, table, field string, value any) (Document, error)

	// ScanOrderedBy returns every document in the table ordered by field.
	ScanOrderedBy(ctx context.Context, table, field string, ascending bool) ([]Document, error)
}

// FieldKind is the storage type of a declared field.
type FieldKind int

const (
	KindString FieldKind = iota // short indexed string
	KindText                    // unbounded text
	KindInt
	KindBool
)

// Field declares one column of a table.
type Field struct {
	Name    string
	Kind    FieldKind
	Unique  bool
	Indexed bool
}

// TableSpec declares a table and its fields. The key field is implicit.
type TableSpec struct {
	Name   string
	Fields []Field
}

// Field returns the declared field with the given name.
func (s TableSpec) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// UniqueFields lists the names of fields declared unique.
func (s TableSpec) UniqueFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Unique {
			out = append(out, f.Name)
		}
	}
	return out
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateIdentifier rejects names that are unsafe to interpolate into queries or keys.
func ValidateIdentifier(name string) error {
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Validate checks the table name and every field name.
func (s TableSpec) Validate() error {
	if err := ValidateIdentifier(s.Name); err != nil {
		return err
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if err := ValidateIdentifier(f.Name); err != nil {
			return err
		}
		if f.Name == KeyField {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidIdentifier, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidIdentifier, f.Name)
		}
		seen[f.Name] = true
	}
	return nil
}
