// Package lims implements the instrument-tracking store on the automation
// system's MySQL database. All access goes through the vendor's stored
// procedures; one plate is one transaction.
package lims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/labforge/sample-ingest/internal/stores"
)

// StatePending is the only plate state wells may be written in. A plate in
// any other recognized state has left the loading stage and is read-only.
const (
	StatePending   = "pending"
	StateStarted   = "started"
	StateCompleted = "completed"
	StateVoided    = "voided"
)

var recognizedStates = map[string]struct{}{
	StatePending:   {},
	StateStarted:   {},
	StateCompleted: {},
	StateVoided:    {},
}

var _ stores.LIMS = (*Store)(nil)

// Store holds the automation database DSN. Constructing a Store performs
// no I/O; UpdatePlate dials per call.
type Store struct {
	DSN string
}

// New builds a store for the given DSN
func New(dsn string) *Store {
	return &Store{DSN: dsn}
}

func (s *Store) connect(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("mysql", s.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}
	return db, nil
}

// UpdatePlate commits one plate's wells as a single transaction. A missing
// plate is created pending; wells are only written while the plate is
// pending, and any step's failure rolls the whole plate back.
func (s *Store) UpdatePlate(ctx context.Context, plate *stores.PlateUpdate) error {
	db, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", stores.ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	state, found, err := plateState(ctx, tx, plate.Barcode)
	if err != nil {
		return fmt.Errorf("reading state of plate %s: %w", plate.Barcode, err)
	}

	if !found {
		if err := createPlate(ctx, tx, plate); err != nil {
			return fmt.Errorf("%w: plate %s: %v", stores.ErrPlateCreate, plate.Barcode, err)
		}
		state = StatePending
	}

	if _, ok := recognizedStates[state]; !ok {
		return fmt.Errorf("%w: plate %s reports %q", stores.ErrUnknownPlateState, plate.Barcode, state)
	}

	if state == StatePending {
		for _, well := range plate.Wells {
			if err := setWell(ctx, tx, plate.Barcode, well); err != nil {
				return fmt.Errorf("%w: plate %s well %d: %v", stores.ErrWellUpdate, plate.Barcode, well.Index, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing plate %s: %w", plate.Barcode, err)
	}
	return nil
}

func plateState(ctx context.Context, tx *sql.Tx, barcode string) (string, bool, error) {
	var state string
	err := tx.QueryRowContext(ctx, `CALL plate_get_property(?, 'plate_state')`, barcode).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return state, true, nil
}

func createPlate(ctx context.Context, tx *sql.Tx, plate *stores.PlateUpdate) error {
	if _, err := tx.ExecContext(ctx, `CALL plate_add(?, ?)`, plate.Barcode, plate.LabwareClass); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `CALL plate_set_property(?, 'plate_state', ?)`, plate.Barcode, StatePending)
	return err
}

type wellProperty struct {
	name  string
	value string
}

func wellProperties(well stores.WellUpdate) []wellProperty {
	return []wellProperty{
		{"root_sample_id", well.RootSampleID},
		{"rna_id", well.RNAID},
		{"lab_id", well.LabID},
		{"lh_sample_uuid", well.SampleUUID},
		{"state", wellState(well.Pickable)},
	}
}

func setWell(ctx context.Context, tx *sql.Tx, barcode string, well stores.WellUpdate) error {
	for _, p := range wellProperties(well) {
		if _, err := tx.ExecContext(ctx, `CALL well_set_property(?, ?, ?, ?)`, barcode, well.Index, p.name, p.value); err != nil {
			return err
		}
	}
	return nil
}

// wellState maps pickability onto the automation system's well states.
func wellState(pickable bool) string {
	if pickable {
		return "pickable"
	}
	return "empty"
}
