package migrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mirajehossain/datamigratex/internal/store"
)

const DefaultRegistryTable = "migrations_registry"

// Registry field names.
const (
	fieldMigrationID = "migration_id"
	fieldName        = "name"
	fieldDescription = "description"
	fieldVersion     = "version"
	fieldAppliedAt   = "applied_at"
	fieldResult      = "result"
	fieldRerun       = "rerun"
	fieldStatus      = "status"
)

// RegistrySpec declares the registry table under the given name.
func RegistrySpec(table string) store.TableSpec {
	return store.TableSpec{
		Name: table,
		Fields: []store.Field{
			{Name: fieldMigrationID, Kind: store.KindString, Unique: true},
			{Name: fieldName, Kind: store.KindString},
			{Name: fieldDescription, Kind: store.KindText},
			{Name: fieldVersion, Kind: store.KindInt, Indexed: true},
			{Name: fieldAppliedAt, Kind: store.KindInt},
			{Name: fieldResult, Kind: store.KindText},
			{Name: fieldRerun, Kind: store.KindBool},
			{Name: fieldStatus, Kind: store.KindString},
		},
	}
}

// Registry records which migrations have been claimed and with what outcome.
type Registry struct {
	st    store.Store
	table string
	now   func() time.Time
}

// NewRegistry declares the registry table on st and returns a Registry over it.
func NewRegistry(ctx context.Context, st store.Store, table string) (*Registry, error) {
	if table == "" {
		table = DefaultRegistryTable
	}
	if err := st.EnsureTable(ctx, RegistrySpec(table)); err != nil {
		return nil, fmt.Errorf("failed to ensure registry table: %w", err)
	}
	return &Registry{st: st, table: table, now: time.Now}, nil
}

// Table returns the registry table name.
func (r *Registry) Table() string { return r.table }

// RecordAttempt claims id before its body runs. The claim asserts success
// with a zero duration and status pending. An existing record is left
// untouched and reported as already present.
func (r *Registry) RecordAttempt(ctx context.Context, id, name, description string, version int64) (AttemptResult, error) {
	if _, err := r.st.FindUnique(ctx, r.table, fieldMigrationID, id); err == nil {
		return AttemptResult{AlreadyPresent: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return AttemptResult{}, fmt.Errorf("failed to look up %s: %w", id, err)
	}

	at := r.now().UnixMilli()
	payload, err := json.Marshal(map[string]any{
		"success":   true,
		"message":   fmt.Sprintf("migration %s (%s) applied successfully", id, name),
		"startTime": at,
		"endTime":   at,
		"duration":  0,
	})
	if err != nil {
		return AttemptResult{}, err
	}

	_, err = r.st.Insert(ctx, r.table, store.Document{
		fieldMigrationID: id,
		fieldName:        name,
		fieldDescription: description,
		fieldVersion:     version,
		fieldAppliedAt:   at,
		fieldResult:      string(payload),
		fieldRerun:       false,
		fieldStatus:      string(StatusPending),
	})
	if errors.Is(err, store.ErrDuplicate) {
		// lost the race to another claim
		return AttemptResult{AlreadyPresent: true}, nil
	}
	if err != nil {
		return AttemptResult{}, fmt.Errorf("failed to claim %s: %w", id, err)
	}
	return AttemptResult{}, nil
}

// RecordResult stores the outcome of a successful run. An existing record is
// patched and flagged as a rerun; otherwise a fresh record is inserted.
func (r *Registry) RecordResult(ctx context.Context, id, name, description string, version int64, appliedAt time.Time, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result of %s: %w", id, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		existing, err := r.st.FindUnique(ctx, r.table, fieldMigrationID, id)
		switch {
		case err == nil:
			err = r.st.Patch(ctx, r.table, existing.Key(), store.Document{
				fieldAppliedAt: appliedAt.UnixMilli(),
				fieldResult:    string(payload),
				fieldRerun:     true,
				fieldStatus:    string(StatusSuccess),
			})
			if err != nil {
				return fmt.Errorf("failed to update %s: %w", id, err)
			}
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("failed to look up %s: %w", id, err)
		}

		_, err = r.st.Insert(ctx, r.table, store.Document{
			fieldMigrationID: id,
			fieldName:        name,
			fieldDescription: description,
			fieldVersion:     version,
			fieldAppliedAt:   appliedAt.UnixMilli(),
			fieldResult:      string(payload),
			fieldRerun:       false,
			fieldStatus:      string(StatusSuccess),
		})
		if errors.Is(err, store.ErrDuplicate) {
			continue // inserted concurrently; patch it instead
		}
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", id, err)
		}
		return nil
	}
	return fmt.Errorf("failed to record %s: %w", id, store.ErrDuplicate)
}

// MarkFailed sets the status of an existing record to failed. Nothing else changes.
func (r *Registry) MarkFailed(ctx context.Context, id string) error {
	existing, err := r.st.FindUnique(ctx, r.table, fieldMigrationID, id)
	if err != nil {
		return fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if err := r.st.Patch(ctx, r.table, existing.Key(), store.Document{fieldStatus: string(StatusFailed)}); err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", id, err)
	}
	return nil
}

// ListApplied returns every record ordered by version ascending.
func (r *Registry) ListApplied(ctx context.Context) ([]Record, error) {
	docs, err := r.st.ScanOrderedBy(ctx, r.table, fieldVersion, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list registry: %w", err)
	}
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, decodeRecord(d))
	}
	return out, nil
}

// FindByID returns the record for id. The bool is false when none exists.
func (r *Registry) FindByID(ctx context.Context, id string) (Record, bool, error) {
	doc, err := r.st.FindUnique(ctx, r.table, fieldMigrationID, id)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	return decodeRecord(doc), true, nil
}

// IsApplied reports whether any record exists for id.
func (r *Registry) IsApplied(ctx context.Context, id string) (bool, error) {
	_, ok, err := r.FindByID(ctx, id)
	return ok, err
}

// CurrentVersion returns the highest recorded version, or 0 for an empty registry.
func (r *Registry) CurrentVersion(ctx context.Context) (int64, error) {
	docs, err := r.st.ScanOrderedBy(ctx, r.table, fieldVersion, false)
	if err != nil {
		return 0, fmt.Errorf("failed to read registry version: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	return decodeRecord(docs[0]).Version, nil
}

// CheckPrerequisites reports which of ids have no record. Missing keeps the input order.
func (r *Registry) CheckPrerequisites(ctx context.Context, ids []string) (PrerequisiteCheck, error) {
	return r.checkPrerequisites(ctx, ids, false)
}

// checkPrerequisites with successOnly treats pending and failed records as missing.
func (r *Registry) checkPrerequisites(ctx context.Context, ids []string, successOnly bool) (PrerequisiteCheck, error) {
	records, err := r.ListApplied(ctx)
	if err != nil {
		return PrerequisiteCheck{}, err
	}
	have := recordedIDs(records, successOnly)
	missing := []string{}
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return PrerequisiteCheck{AllApplied: len(missing) == 0, Missing: missing}, nil
}

func recordedIDs(records []Record, successOnly bool) map[string]bool {
	out := make(map[string]bool, len(records))
	for _, rec := range records {
		if successOnly && rec.Status != StatusSuccess {
			continue
		}
		out[rec.MigrationID] = true
	}
	return out
}

func decodeRecord(d store.Document) Record {
	rec := Record{
		Key:         d.Key(),
		MigrationID: asString(d[fieldMigrationID]),
		Name:        asString(d[fieldName]),
		Description: asString(d[fieldDescription]),
		Version:     asInt64(d[fieldVersion]),
		Rerun:       asBool(d[fieldRerun]),
		Status:      Status(asString(d[fieldStatus])),
	}
	if ms := asInt64(d[fieldAppliedAt]); ms != 0 {
		rec.AppliedAt = time.UnixMilli(ms).UTC()
	}
	if raw := asString(d[fieldResult]); raw != "" {
		rec.Result = json.RawMessage(raw)
	}
	if rec.Status == "" {
		// written before status existed
		rec.Status = StatusSuccess
	}
	return rec
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case []byte:
		i, _ := strconv.ParseInt(string(n), 10, 64)
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case []byte:
		ok, _ := strconv.ParseBool(string(b))
		return ok
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	}
	return false
}
