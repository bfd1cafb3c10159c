// Package stores defines the contracts of the three independently-failing
// stores a file's accepted records are replicated to: the canonical document
// store, the relational reporting warehouse, and the LIMS instrument
// database. Each store's outcome is isolated; implementations live in the
// subpackages.
package stores

import (
	"context"
	"errors"
	"time"

	"github.com/labforge/sample-ingest/internal/types"
)

// ErrUnavailable marks connection-level failures. Implementations wrap it
// so callers can tell an unreachable store from a write that was refused.
var ErrUnavailable = errors.New("store unavailable")

// ErrUnknownPlateState marks a LIMS plate that exists but carries no
// recognizable state, a fatal inconsistency for that plate only.
var ErrUnknownPlateState = errors.New("plate has no recognizable state")

// ErrPlateCreate and ErrWellUpdate classify which LIMS step refused a
// plate's transaction.
var (
	ErrPlateCreate = errors.New("plate insert failed")
	ErrWellUpdate  = errors.New("well update failed")
)

// Duplicate is a record the canonical store refused because its signature
// {root sample id, RNA id, result, lab id} is already persisted.
// ExistingDateTested carries the stored record's test date so the caller
// can classify the collision.
type Duplicate struct {
	Record             *types.SampleRecord
	ExistingDateTested *time.Time
}

// InsertOutcome is the result of a canonical bulk insert. A partial insert
// is a success for every record that didn't collide.
type InsertOutcome struct {
	Inserted   []*types.SampleRecord
	Duplicates []Duplicate
}

// SourcePlateFailure reports the records of one plate barcode that could
// not be given a source plate UUID.
type SourcePlateFailure struct {
	Barcode  string
	Conflict bool // barcode already claimed by a different lab id
	Records  []*types.SampleRecord
	Err      error
}

// Canonical is the document store holding the authoritative sample, source
// plate, and import records.
type Canonical interface {
	// EnsureSourcePlates assigns a source plate UUID to every record,
	// creating source plate documents as needed. Records whose plate could
	// not be resolved are returned as failures and excluded from ok.
	EnsureSourcePlates(ctx context.Context, records []*types.SampleRecord) (ok []*types.SampleRecord, failures []SourcePlateFailure, err error)

	// InsertSamples bulk-inserts records with no ordering guarantee,
	// assigning each inserted record its canonical id. Uniqueness
	// violations are reported per record, not as an error.
	InsertSamples(ctx context.Context, records []*types.SampleRecord) (*InsertOutcome, error)

	// CreateImport persists the import record for one processed file.
	CreateImport(ctx context.Context, record *types.ImportRecord) error
}

// Warehouse is the relational reporting replica. Upserts are idempotent at
// the row level so replays do not duplicate.
type Warehouse interface {
	UpsertSamples(ctx context.Context, records []*types.SampleRecord) error
}

// WellUpdate is one well's properties for a LIMS plate update.
type WellUpdate struct {
	Index        int // 1..96, row-major A-H x 1-12
	RootSampleID string
	RNAID        string
	LabID        string
	SampleUUID   string
	Pickable     bool
}

// PlateUpdate is the unit of LIMS work: one plate's wells, committed as a
// single transaction.
type PlateUpdate struct {
	Barcode      string
	LabwareClass string
	Wells        []WellUpdate
}

// LIMS is the instrument-tracking database driving automated pipetting.
type LIMS interface {
	// UpdatePlate ensures the plate exists (created in "pending" state) and,
	// if and only if it is pending, upserts its well properties. The whole
	// plate commits or rolls back as one unit.
	UpdatePlate(ctx context.Context, plate *PlateUpdate) error
}
