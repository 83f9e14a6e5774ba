package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mirajehossain/datamigratex/internal/store"
)

type table struct {
	spec store.TableSpec
	docs map[string]store.Document // key -> document
	seq  []string                  // keys in insertion order
}

// Store is an in-memory implementation of store.Store.
// It provides thread-safe access to documents using a sync.RWMutex.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

// EnsureTable declares a table. Redeclaring an existing table keeps its documents.
func (s *Store) EnsureTable(ctx context.Context, spec store.TableSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[spec.Name]; ok {
		t.spec = spec
		return nil
	}
	s.tables[spec.Name] = &table{spec: spec, docs: make(map[string]store.Document)}
	return nil
}

// Insert adds a copy of doc under a fresh key.
// Returns store.ErrDuplicate if a unique field value is already taken.
func (s *Store) Insert(ctx context.Context, name string, doc store.Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	if err := t.checkUnique(doc, ""); err != nil {
		return "", err
	}

	key := uuid.New().String()
	cp := clone(doc)
	cp[store.KeyField] = key
	t.docs[key] = cp
	t.seq = append(t.seq, key)

	return key, nil
}

// Patch overwrites fields of the document with key. A nil value removes the field.
// Returns store.ErrNotFound if the document does not exist.
func (s *Store) Patch(ctx context.Context, name, key string, fields store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	doc, ok := t.docs[key]
	if !ok {
		return store.ErrNotFound
	}
	if err := t.checkUnique(fields, key); err != nil {
		return err
	}
	for k, v := range fields {
		if k == store.KeyField {
			continue
		}
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	return nil
}

// FindUnique returns a copy of the first document whose field equals value.
// Returns store.ErrNotFound if none matches.
func (s *Store) FindUnique(ctx context.Context, name, field string, value any) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	for _, key := range t.seq {
		doc := t.docs[key]
		if v, ok := doc[field]; ok && store.Equal(v, value) {
			return clone(doc), nil
		}
	}

	return nil, store.ErrNotFound
}

// ScanOrderedBy returns copies of all documents ordered by field.
// Documents with equal values keep insertion order.
func (s *Store) ScanOrderedBy(ctx context.Context, name, field string, ascending bool) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownTable, name)
	}
	out := make([]store.Document, 0, len(t.seq))
	for _, key := range t.seq {
		out = append(out, clone(t.docs[key]))
	}
	store.SortDocuments(out, field, ascending)

	return out, nil
}

// checkUnique must be called with the lock held. self is the key being
// patched, or "" for an insert.
func (t *table) checkUnique(doc store.Document, self string) error {
	for _, field := range t.spec.UniqueFields() {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		for key, existing := range t.docs {
			if key == self {
				continue
			}
			if store.Equal(existing[field], v) {
				return fmt.Errorf("%w: %s.%s=%v", store.ErrDuplicate, t.spec.Name, field, v)
			}
		}
	}
	return nil
}

func clone(doc store.Document) store.Document {
	cp := make(store.Document, len(doc)+1)
	for k, v := range doc {
		cp[k] = v
	}
	return cp
}

var _ store.Store = (*Store)(nil)
