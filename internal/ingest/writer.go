package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/labforge/sample-ingest/internal/reporting"
	"github.com/labforge/sample-ingest/internal/stores"
	"github.com/labforge/sample-ingest/internal/telemetry"
	"github.com/labforge/sample-ingest/internal/types"
)

// MultiStoreWriter replicates a file's accepted records into the three
// stores. Each store's outcome is independent: a file can end up partially
// written to zero, one, two, or three stores, and every failure lands in
// the file's aggregator as a typed error.
type MultiStoreWriter struct {
	Canonical stores.Canonical
	Warehouse stores.Warehouse
	LIMS      stores.LIMS

	LabwareClass string
}

// Write attempts, in order: canonical insert, warehouse upsert, LIMS plate
// updates. It returns the records that made it into the canonical store; a
// canonical-store failure invalidates the whole file and skips the other
// two stores.
func (w *MultiStoreWriter) Write(ctx context.Context, fileCtx *FileContext, records []*types.SampleRecord) []*types.SampleRecord {
	if len(records) == 0 {
		return nil
	}

	inserted := w.writeCanonical(ctx, fileCtx, records)
	if inserted == nil {
		return nil
	}

	w.writeWarehouse(ctx, fileCtx, inserted)
	w.writeLIMS(ctx, fileCtx, inserted)

	return inserted
}

func (w *MultiStoreWriter) writeCanonical(ctx context.Context, fileCtx *FileContext, records []*types.SampleRecord) []*types.SampleRecord {
	ok, plateFailures, err := w.Canonical.EnsureSourcePlates(ctx, records)
	if err != nil {
		telemetry.StoreFailures.WithLabelValues("canonical").Inc()
		fileCtx.Errors.Addf(reporting.CodeCanonicalConnection, "assigning source plates for %s: %v", fileCtx.FileName, err)
		return nil
	}
	for _, failure := range plateFailures {
		if failure.Conflict {
			fileCtx.Errors.Addf(reporting.CodePlateBarcodeLabConflict,
				"plate %s is already claimed by a different lab id (%d records dropped)", failure.Barcode, len(failure.Records))
		} else {
			fileCtx.Errors.Addf(reporting.CodeSourcePlateUUID,
				"no source plate uuid for plate %s: %v (%d records dropped)", failure.Barcode, failure.Err, len(failure.Records))
		}
	}
	if len(ok) == 0 {
		return nil
	}

	outcome, err := w.Canonical.InsertSamples(ctx, ok)
	if err != nil {
		telemetry.StoreFailures.WithLabelValues("canonical").Inc()
		code := reporting.CodeCanonicalInsert
		if errors.Is(err, stores.ErrUnavailable) {
			code = reporting.CodeCanonicalConnection
		}
		fileCtx.Errors.Addf(code, "inserting samples from %s: %v", fileCtx.FileName, err)
		return nil
	}

	for _, dup := range outcome.Duplicates {
		if sameDay(dup.Record.DateTested, dup.ExistingDateTested) {
			fileCtx.Errors.Addf(reporting.CodeDuplicateSameDate,
				"line %d: sample %s already imported with the same test date", dup.Record.Line, dup.Record.Signature())
		} else {
			fileCtx.Errors.Addf(reporting.CodeDuplicateConflictingDate,
				"line %d: sample %s already imported with a different test date", dup.Record.Line, dup.Record.Signature())
		}
	}

	return outcome.Inserted
}

func (w *MultiStoreWriter) writeWarehouse(ctx context.Context, fileCtx *FileContext, inserted []*types.SampleRecord) {
	if err := w.Warehouse.UpsertSamples(ctx, inserted); err != nil {
		telemetry.StoreFailures.WithLabelValues("warehouse").Inc()
		code := reporting.CodeWarehouseInsert
		if errors.Is(err, stores.ErrUnavailable) {
			code = reporting.CodeWarehouseConnection
		}
		fileCtx.Errors.Addf(code, "writing %s to the warehouse: %v", fileCtx.FileName, err)
	}
}

func (w *MultiStoreWriter) writeLIMS(ctx context.Context, fileCtx *FileContext, inserted []*types.SampleRecord) {
	for _, plate := range GroupByPlate(inserted, w.LabwareClass) {
		err := w.LIMS.UpdatePlate(ctx, plate)
		if err == nil {
			continue
		}
		telemetry.StoreFailures.WithLabelValues("lims").Inc()

		if errors.Is(err, stores.ErrUnavailable) {
			// unreachable store: no point trying the remaining plates
			fileCtx.Errors.Addf(reporting.CodeLIMSConnection, "connecting to the LIMS for %s: %v", fileCtx.FileName, err)
			return
		}

		// a failed plate rolls back and is logged, other plates continue
		code := reporting.CodeLIMSTransaction
		switch {
		case errors.Is(err, stores.ErrUnknownPlateState):
			code = reporting.CodeLIMSPlateState
		case errors.Is(err, stores.ErrPlateCreate):
			code = reporting.CodeLIMSPlateInsert
		case errors.Is(err, stores.ErrWellUpdate):
			code = reporting.CodeLIMSWellUpdate
		}
		fileCtx.Errors.Addf(code, "updating plate %s: %v", plate.Barcode, err)
	}
}

// GroupByPlate groups records into per-plate LIMS updates, preserving the
// order plates first appear in the file. Wells without a valid coordinate
// are skipped with a log entry; pickability follows the filtered-positive
// verdict and the must-sequence flag.
func GroupByPlate(records []*types.SampleRecord, labwareClass string) []*stores.PlateUpdate {
	var plates []*stores.PlateUpdate
	byBarcode := make(map[string]*stores.PlateUpdate)

	for _, record := range records {
		plate, ok := byBarcode[record.PlateBarcode]
		if !ok {
			plate = &stores.PlateUpdate{Barcode: record.PlateBarcode, LabwareClass: labwareClass}
			byBarcode[record.PlateBarcode] = plate
			plates = append(plates, plate)
		}

		index, ok := types.WellIndex(record.Coordinate)
		if !ok {
			log.Warn().
				Str("plate", record.PlateBarcode).
				Str("coordinate", record.Coordinate).
				Msg("Coordinate maps to no well index, skipping well")
			continue
		}

		plate.Wells = append(plate.Wells, stores.WellUpdate{
			Index:        index,
			RootSampleID: record.RootSampleID,
			RNAID:        record.RNAID,
			LabID:        record.LabID,
			SampleUUID:   record.SampleUUID.String(),
			Pickable:     Pickable(record),
		})
	}

	return plates
}

// Pickable reports whether a sample's well is eligible for selection by the
// LIMS automation. Preferentially-sequence alone does not qualify.
func Pickable(record *types.SampleRecord) bool {
	return record.FilteredPositive || record.MustSequence
}

func sameDay(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
