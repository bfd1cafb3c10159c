package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/sample-ingest/internal/reporting"
	"github.com/labforge/sample-ingest/internal/stores"
	"github.com/labforge/sample-ingest/internal/types"
)

type fakeCanonical struct {
	plateFailures []stores.SourcePlateFailure
	plateErr      error
	insertErr     error
	importErr     error
	duplicates    func(records []*types.SampleRecord) []stores.Duplicate

	inserted []*types.SampleRecord
	imports  []*types.ImportRecord
}

func (f *fakeCanonical) EnsureSourcePlates(_ context.Context, records []*types.SampleRecord) ([]*types.SampleRecord, []stores.SourcePlateFailure, error) {
	if f.plateErr != nil {
		return nil, nil, f.plateErr
	}
	dropped := make(map[*types.SampleRecord]struct{})
	for _, failure := range f.plateFailures {
		for _, r := range failure.Records {
			dropped[r] = struct{}{}
		}
	}
	var ok []*types.SampleRecord
	for _, r := range records {
		if _, gone := dropped[r]; !gone {
			ok = append(ok, r)
		}
	}
	return ok, f.plateFailures, nil
}

func (f *fakeCanonical) InsertSamples(_ context.Context, records []*types.SampleRecord) (*stores.InsertOutcome, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	outcome := &stores.InsertOutcome{}
	if f.duplicates != nil {
		outcome.Duplicates = f.duplicates(records)
	}
	refused := make(map[*types.SampleRecord]struct{})
	for _, d := range outcome.Duplicates {
		refused[d.Record] = struct{}{}
	}
	for _, r := range records {
		if _, gone := refused[r]; !gone {
			outcome.Inserted = append(outcome.Inserted, r)
		}
	}
	f.inserted = outcome.Inserted
	return outcome, nil
}

func (f *fakeCanonical) CreateImport(_ context.Context, record *types.ImportRecord) error {
	if f.importErr != nil {
		return f.importErr
	}
	f.imports = append(f.imports, record)
	return nil
}

type fakeWarehouse struct {
	err      error
	upserted []*types.SampleRecord
}

func (f *fakeWarehouse) UpsertSamples(_ context.Context, records []*types.SampleRecord) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, records...)
	return nil
}

type fakeLIMS struct {
	errs   map[string]error // per plate barcode
	plates []*stores.PlateUpdate
}

func (f *fakeLIMS) UpdatePlate(_ context.Context, plate *stores.PlateUpdate) error {
	if err := f.errs[plate.Barcode]; err != nil {
		return err
	}
	f.plates = append(f.plates, plate)
	return nil
}

func sampleOnPlate(root, plate, coordinate string) *types.SampleRecord {
	return &types.SampleRecord{
		SampleUUID:   uuid.New(),
		RootSampleID: root,
		RNAID:        plate + "_" + coordinate,
		Result:       types.ResultPositive,
		LabID:        "TE",
		PlateBarcode: plate,
		Coordinate:   coordinate,
	}
}

func newWriter(canonical *fakeCanonical, warehouse *fakeWarehouse, lims *fakeLIMS) *MultiStoreWriter {
	return &MultiStoreWriter{
		Canonical:    canonical,
		Warehouse:    warehouse,
		LIMS:         lims,
		LabwareClass: "Bio-Rad 96 Well Plate 200ul",
	}
}

func TestWriteAllStores(t *testing.T) {
	canonical := &fakeCanonical{}
	warehouse := &fakeWarehouse{}
	lims := &fakeLIMS{}
	writer := newWriter(canonical, warehouse, lims)

	ctx := newTestContext(t)
	records := []*types.SampleRecord{
		sampleOnPlate("R1", "TS1", "A1"),
		sampleOnPlate("R2", "TS1", "B7"),
		sampleOnPlate("R3", "TS2", "H12"),
	}

	inserted := writer.Write(context.Background(), ctx, records)
	require.Len(t, inserted, 3)
	assert.Len(t, warehouse.upserted, 3)
	require.Len(t, lims.plates, 2)
	assert.Equal(t, "TS1", lims.plates[0].Barcode)
	assert.Len(t, lims.plates[0].Wells, 2)
	assert.Equal(t, 19, lims.plates[0].Wells[1].Index, "B7 is well 19")
	assert.False(t, ctx.Errors.HasFatal())
}

func TestWriteCanonicalFailureSkipsOtherStores(t *testing.T) {
	tests := []struct {
		name string
		prep func(*fakeCanonical)
		code reporting.Code
	}{
		{
			"source plate assignment unavailable",
			func(c *fakeCanonical) { c.plateErr = stores.ErrUnavailable },
			reporting.CodeCanonicalConnection,
		},
		{
			"insert refused",
			func(c *fakeCanonical) { c.insertErr = errors.New("document too large") },
			reporting.CodeCanonicalInsert,
		},
		{
			"insert unreachable",
			func(c *fakeCanonical) { c.insertErr = stores.ErrUnavailable },
			reporting.CodeCanonicalConnection,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			canonical := &fakeCanonical{}
			tc.prep(canonical)
			warehouse := &fakeWarehouse{}
			lims := &fakeLIMS{}
			writer := newWriter(canonical, warehouse, lims)

			ctx := newTestContext(t)
			inserted := writer.Write(context.Background(), ctx, []*types.SampleRecord{sampleOnPlate("R1", "TS1", "A1")})

			assert.Nil(t, inserted)
			assert.Empty(t, warehouse.upserted, "canonical failure stops the fan-out")
			assert.Empty(t, lims.plates)
			assert.Equal(t, 1, ctx.Errors.Count(tc.code))
		})
	}
}

func TestWritePlateFailuresDropOnlyTheirRecords(t *testing.T) {
	bad := sampleOnPlate("R1", "TS1", "A1")
	good := sampleOnPlate("R2", "TS2", "A2")

	canonical := &fakeCanonical{
		plateFailures: []stores.SourcePlateFailure{
			{Barcode: "TS1", Conflict: true, Records: []*types.SampleRecord{bad}},
		},
	}
	warehouse := &fakeWarehouse{}
	lims := &fakeLIMS{}
	writer := newWriter(canonical, warehouse, lims)

	ctx := newTestContext(t)
	inserted := writer.Write(context.Background(), ctx, []*types.SampleRecord{bad, good})

	require.Len(t, inserted, 1)
	assert.Equal(t, "R2", inserted[0].RootSampleID)
	assert.Equal(t, 1, ctx.Errors.Count(reporting.CodePlateBarcodeLabConflict))
}

func TestWriteDuplicateClassification(t *testing.T) {
	dayOne := time.Date(2020, 5, 10, 9, 0, 0, 0, time.UTC)
	dayOneLater := time.Date(2020, 5, 10, 18, 30, 0, 0, time.UTC)
	dayTwo := time.Date(2020, 5, 11, 9, 0, 0, 0, time.UTC)

	sameDaySample := sampleOnPlate("R1", "TS1", "A1")
	sameDaySample.DateTested = &dayOne
	conflicting := sampleOnPlate("R2", "TS1", "A2")
	conflicting.DateTested = &dayOne

	canonical := &fakeCanonical{
		duplicates: func([]*types.SampleRecord) []stores.Duplicate {
			return []stores.Duplicate{
				{Record: sameDaySample, ExistingDateTested: &dayOneLater},
				{Record: conflicting, ExistingDateTested: &dayTwo},
			}
		},
	}
	writer := newWriter(canonical, &fakeWarehouse{}, &fakeLIMS{})

	ctx := newTestContext(t)
	inserted := writer.Write(context.Background(), ctx, []*types.SampleRecord{
		sameDaySample, conflicting, sampleOnPlate("R3", "TS1", "A3"),
	})

	require.Len(t, inserted, 1, "refused records are not replicated onward")
	assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeDuplicateSameDate))
	assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeDuplicateConflictingDate))
}

func TestWriteWarehouseFailureDoesNotStopLIMS(t *testing.T) {
	canonical := &fakeCanonical{}
	warehouse := &fakeWarehouse{err: stores.ErrUnavailable}
	lims := &fakeLIMS{}
	writer := newWriter(canonical, warehouse, lims)

	ctx := newTestContext(t)
	inserted := writer.Write(context.Background(), ctx, []*types.SampleRecord{sampleOnPlate("R1", "TS1", "A1")})

	require.Len(t, inserted, 1)
	assert.Len(t, lims.plates, 1, "warehouse and LIMS fail independently")
	assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeWarehouseConnection))
}

func TestWriteLIMSFailureClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code reporting.Code
	}{
		{"unknown plate state", stores.ErrUnknownPlateState, reporting.CodeLIMSPlateState},
		{"plate insert refused", stores.ErrPlateCreate, reporting.CodeLIMSPlateInsert},
		{"well update refused", stores.ErrWellUpdate, reporting.CodeLIMSWellUpdate},
		{"other transaction failure", errors.New("deadlock"), reporting.CodeLIMSTransaction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lims := &fakeLIMS{errs: map[string]error{"TS1": tc.err}}
			writer := newWriter(&fakeCanonical{}, &fakeWarehouse{}, lims)

			ctx := newTestContext(t)
			inserted := writer.Write(context.Background(), ctx, []*types.SampleRecord{
				sampleOnPlate("R1", "TS1", "A1"),
				sampleOnPlate("R2", "TS2", "A1"),
			})

			require.Len(t, inserted, 2)
			require.Len(t, lims.plates, 1, "other plates keep going after one plate fails")
			assert.Equal(t, "TS2", lims.plates[0].Barcode)
			assert.Equal(t, 1, ctx.Errors.Count(tc.code))
		})
	}

	t.Run("unreachable store stops remaining plates", func(t *testing.T) {
		lims := &fakeLIMS{errs: map[string]error{"TS1": stores.ErrUnavailable}}
		writer := newWriter(&fakeCanonical{}, &fakeWarehouse{}, lims)

		ctx := newTestContext(t)
		writer.Write(context.Background(), ctx, []*types.SampleRecord{
			sampleOnPlate("R1", "TS1", "A1"),
			sampleOnPlate("R2", "TS2", "A1"),
		})

		assert.Empty(t, lims.plates)
		assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeLIMSConnection))
	})
}

func TestGroupByPlate(t *testing.T) {
	mustSeq := sampleOnPlate("R4", "TS1", "C3")
	mustSeq.Result = types.ResultNegative
	mustSeq.MustSequence = true

	prefOnly := sampleOnPlate("R5", "TS1", "C4")
	prefOnly.Result = types.ResultNegative
	prefOnly.PreferentiallySequence = true

	filtered := sampleOnPlate("R1", "TS1", "A1")
	filtered.FilteredPositive = true

	records := []*types.SampleRecord{
		filtered,
		sampleOnPlate("R2", "TS2", "B2"),
		mustSeq,
		prefOnly,
		sampleOnPlate("R6", "TS1", "X9"),
	}

	plates := GroupByPlate(records, "class-a")
	require.Len(t, plates, 2)
	assert.Equal(t, "TS1", plates[0].Barcode, "plates keep first-appearance order")
	assert.Equal(t, "class-a", plates[0].LabwareClass)

	require.Len(t, plates[0].Wells, 3, "the invalid coordinate well is skipped")
	assert.True(t, plates[0].Wells[0].Pickable, "filtered positive is pickable")
	assert.True(t, plates[0].Wells[1].Pickable, "must sequence is pickable")
	assert.False(t, plates[0].Wells[2].Pickable, "preferentially sequence alone is not")
	assert.Equal(t, 1, plates[0].Wells[0].Index)
}

func TestSameDay(t *testing.T) {
	a := time.Date(2020, 5, 10, 1, 0, 0, 0, time.UTC)
	b := time.Date(2020, 5, 10, 23, 59, 0, 0, time.UTC)
	c := time.Date(2020, 5, 11, 0, 0, 0, 0, time.UTC)

	assert.True(t, sameDay(&a, &b))
	assert.False(t, sameDay(&a, &c))
	assert.True(t, sameDay(nil, nil), "two absent dates count as the same day")
	assert.False(t, sameDay(&a, nil))
}
