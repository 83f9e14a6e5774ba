// Package redisstore implements store.Store on Redis. Each document is a JSON
// string; a list keeps insertion order and unique fields get an index key.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mirajehossain/datamigratex/internal/store"
)

// Options configures the Redis connection and key namespace.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store is a Redis implementation of store.Store.
type Store struct {
	client *redis.Client
	prefix string

	mu     sync.RWMutex
	tables map[string]store.TableSpec
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return New(client, opts.Prefix), nil
}

// New wraps an existing client. Keys are namespaced under prefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "datamigratex"
	}
	return &Store{client: client, prefix: prefix, tables: make(map[string]store.TableSpec)}
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) docKey(table, key string) string { return fmt.Sprintf("%s:%s:doc:%s", s.prefix, table, key) }
func (s *Store) listKey(table string) string     { return fmt.Sprintf("%s:%s:keys", s.prefix, table) }
func (s *Store) uniqKey(table, field string, v any) string {
	return fmt.Sprintf("%s:%s:uniq:%s:%v", s.prefix, table, field, v)
}

// EnsureTable records the table spec. Redis needs no schema.
func (s *Store) EnsureTable(ctx context.Context, spec store.TableSpec) error {
	if err := spec.Validate(); err != nil {
		return err
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

// Insert claims every unique value with SETNX before writing the document.
// Returns store.ErrDuplicate if any value is already claimed.
func (s *Store) Insert(ctx context.Context, table string, doc store.Document) (string, error) {
	spec, err := s.spec(table)
	if err != nil {
		return "", err
	}

	key := uuid.New().String()
	body := cloneWithout(doc, store.KeyField)

	var claimed []string
	release := func() {
		if len(claimed) > 0 {
			_ = s.client.Del(ctx, claimed...).Err()
		}
	}
	for _, field := range spec.UniqueFields() {
		v, ok := body[field]
		if !ok || v == nil {
			continue
		}
		uk := s.uniqKey(table, field, v)
		ok, err := s.client.SetNX(ctx, uk, key, 0).Result()
		if err != nil {
			release()
			return "", fmt.Errorf("failed to claim %s: %w", uk, err)
		}
		if !ok {
			release()
			return "", fmt.Errorf("%w: %s.%s=%v", store.ErrDuplicate, table, field, v)
		}
		claimed = append(claimed, uk)
	}

	data, err := store.EncodeJSON(body)
	if err != nil {
		release()
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(table, key), data, 0)
		pipe.RPush(ctx, s.listKey(table), key)
		return nil
	})
	if err != nil {
		release()
		return "", fmt.Errorf("failed to insert into %s: %w", table, err)
	}

	return key, nil
}

// Patch merges fields into the document under an optimistic WATCH.
// A nil value removes the field. Returns store.ErrNotFound if key does not exist.
func (s *Store) Patch(ctx context.Context, table, key string, fields store.Document) error {
	spec, err := s.spec(table)
	if err != nil {
		return err
	}
	dk := s.docKey(table, key)

	var claimed []string
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, dk).Bytes()
		if errors.Is(err, redis.Nil) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", dk, err)
		}
		doc, err := store.DecodeJSON(raw)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", dk, err)
		}

		var stale []string
		for _, field := range spec.UniqueFields() {
			nv, touched := fields[field]
			if !touched || store.Equal(nv, doc[field]) {
				continue
			}
			if nv != nil {
				ok, err := tx.SetNX(ctx, s.uniqKey(table, field, nv), key, 0).Result()
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: %s.%s=%v", store.ErrDuplicate, table, field, nv)
				}
				claimed = append(claimed, s.uniqKey(table, field, nv))
			}
			if old, ok := doc[field]; ok && old != nil {
				stale = append(stale, s.uniqKey(table, field, old))
			}
		}

		for k, v := range fields {
			if k == store.KeyField {
				continue
			}
			if v == nil {
				delete(doc, k)
			} else {
				doc[k] = v
			}
		}
		data, err := store.EncodeJSON(doc)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", dk, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, dk, data, 0)
			if len(stale) > 0 {
				pipe.Del(ctx, stale...)
			}
			return nil
		})
		return err
	}, dk)
	if err != nil && len(claimed) > 0 {
		_ = s.client.Del(context.WithoutCancel(ctx), claimed...).Err()
	}
	return err
}

// FindUnique resolves declared unique fields through their index key and
// falls back to a scan for anything else.
func (s *Store) FindUnique(ctx context.Context, table, field string, value any) (store.Document, error) {
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}

	if f, ok := spec.Field(field); ok && f.Unique {
		key, err := s.client.Get(ctx, s.uniqKey(table, field, value)).Result()
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s.%s: %w", table, field, err)
		}
		return s.get(ctx, table, key)
	}
	if field == store.KeyField {
		return s.get(ctx, table, fmt.Sprint(value))
	}

	docs, err := s.all(ctx, table)
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

// ScanOrderedBy loads every document and sorts them in process.
func (s *Store) ScanOrderedBy(ctx context.Context, table, field string, ascending bool) ([]store.Document, error) {
	if _, err := s.spec(table); err != nil {
		return nil, err
	}
	docs, err := s.all(ctx, table)
	if err != nil {
		return nil, err
	}
	store.SortDocuments(docs, field, ascending)
	return docs, nil
}

func (s *Store) get(ctx context.Context, table, key string) (store.Document, error) {
	raw, err := s.client.Get(ctx, s.docKey(table, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", table, key, err)
	}
	doc, err := store.DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	doc[store.KeyField] = key
	return doc, nil
}

func (s *Store) all(ctx context.Context, table string) ([]store.Document, error) {
	keys, err := s.client.LRange(ctx, s.listKey(table), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	docKeys := make([]string, len(keys))
	for i, k := range keys {
		docKeys[i] = s.docKey(table, k)
	}
	vals, err := s.client.MGet(ctx, docKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", table, err)
	}

	out := make([]store.Document, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		doc, err := store.DecodeJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", docKeys[i], err)
		}
		doc[store.KeyField] = keys[i]
		out = append(out, doc)
	}
	return out, nil
}

func cloneWithout(doc store.Document, drop string) store.Document {
	cp := make(store.Document, len(doc))
	for k, v := range doc {
		if k != drop {
			cp[k] = v
		}
	}
	return cp
}

var _ store.Store = (*Store)(nil)
