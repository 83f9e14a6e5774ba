package migrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mirajehossain/datamigratex/internal/logger"
	"github.com/mirajehossain/datamigratex/internal/store"
)

// Status is the lifecycle state of a registry record.
type Status string

const (
	StatusPending Status = "pending" // claimed, body not yet confirmed
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Env is handed to every Apply call.
type Env struct {
	// Store is the application data store the migration transforms.
	Store       store.Store
	Log         *logger.Logger
	MigrationID string
}

// ApplyFunc transforms application data. It must tolerate being called again
// after a partial earlier run; nothing it writes is rolled back.
type ApplyFunc func(ctx context.Context, env *Env) (any, error)

// Definition is one compiled-in migration.
type Definition struct {
	ID          string
	Name        string
	Description string
	Version     int64
	RunAfter    []string
	Apply       ApplyFunc
}

// Info strips the body from the definition.
func (d Definition) Info() DefinitionInfo {
	runAfter := d.RunAfter
	if runAfter == nil {
		runAfter = []string{}
	}
	return DefinitionInfo{ID: d.ID, Name: d.Name, Description: d.Description, Version: d.Version, RunAfter: runAfter}
}

// DefinitionInfo is the serializable part of a Definition.
type DefinitionInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     int64    `json:"version"`
	RunAfter    []string `json:"runAfter"`
}

// Record is one registry row.
type Record struct {
	Key         string          `json:"-"`
	MigrationID string          `json:"migrationId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     int64           `json:"version"`
	AppliedAt   time.Time       `json:"appliedAt"`
	Result      json.RawMessage `json:"result,omitempty"`
	Rerun       bool            `json:"rerun"`
	Status      Status          `json:"status"`
}

// AttemptResult reports whether a claim found an existing record.
type AttemptResult struct {
	AlreadyPresent bool `json:"alreadyPresent"`
}

// PrerequisiteCheck lists the requested ids that have no record.
type PrerequisiteCheck struct {
	AllApplied bool     `json:"allApplied"`
	Missing    []string `json:"missing"`
}

// StepResult is the outcome of one migration within a bulk run.
type StepResult struct {
	MigrationID string `json:"migrationId"`
	Name        string `json:"name,omitempty"`
	Version     int64  `json:"version,omitempty"`
	Success     bool   `json:"success"`
	Skipped     bool   `json:"skipped,omitempty"`
	Message     string `json:"message,omitempty"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"durationMs,omitempty"`
}

// RunResult summarizes a bulk run.
type RunResult struct {
	Success       bool         `json:"success"`
	MigrationsRun int          `json:"migrationsRun"`
	Message       string       `json:"message"`
	Results       []StepResult `json:"results"`
}

// TargetedResult is the outcome of running one migration by id.
type TargetedResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PlanState describes what the next bulk run would do with a definition.
type PlanState string

const (
	StateApplied PlanState = "applied"
	StatePending PlanState = "pending"
	StateBlocked PlanState = "blocked"
)

type PlanItem struct {
	DefinitionInfo
	State   PlanState `json:"state"`
	Status  Status    `json:"status,omitempty"` // registry status, when a record exists
	Missing []string  `json:"missing,omitempty"`
}

type Plan struct {
	Items   []PlanItem `json:"items"`
	Pending int        `json:"pending"`
	Blocked int        `json:"blocked"`
}

// Recorder receives per-migration outcomes. internal/metrics implements it.
type Recorder interface {
	ObserveMigration(id, outcome string, took time.Duration)
	SetRegistryVersion(v int64)
}
