package ingest

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/reporting"
	"github.com/labforge/sample-ingest/internal/types"
)

// Inclusive bounds a CHn-Cq value must lie within
var (
	CqLowerBound = decimal.NewFromInt(0)
	CqUpperBound = decimal.NewFromInt(100)
)

// dateTestedLayouts are the accepted Date Tested formats
var dateTestedLayouts = []string{
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04",
}

// FileContext carries the per-file mutable state threaded through row
// validation: the error aggregator and the dedup index, both created fresh
// for every file.
type FileContext struct {
	Centre   *centres.Config
	FileName string
	FileDate *time.Time
	Errors   *reporting.Aggregator
	Dedup    *DedupIndex
	Now      func() time.Time
}

// NewFileContext builds the arena for one file
func NewFileContext(cfg *centres.Config, fileName string, now func() time.Time) *FileContext {
	if now == nil {
		now = time.Now
	}
	return &FileContext{
		Centre:   cfg,
		FileName: fileName,
		FileDate: types.FileNameDate(fileName),
		Errors:   reporting.NewAggregator(),
		Dedup:    NewDedupIndex(),
		Now:      now,
	}
}

// ValidateRow runs the ordered validation/derivation steps over one parsed
// row and returns the normalized record, or nil when the row is rejected.
// Every rejection is recorded on the file's aggregator with its typed
// error; a fully blank row is a debug-level skip, not an error.
func ValidateRow(ctx *FileContext, row types.RawRow, line int) *types.SampleRecord {
	// structural
	if row.IsBlank() {
		ctx.Errors.Addf(reporting.CodeBlankRow, "line %d is blank", line)
		return nil
	}
	rootSampleID := strings.TrimSpace(row[types.FieldRootSampleID])
	if rootSampleID == "" {
		ctx.Errors.Addf(reporting.CodeMissingRootSampleID, "line %d has no value for %s", line, types.FieldRootSampleID)
		return nil
	}
	rawResult := strings.TrimSpace(row[types.FieldResult])
	if rawResult == "" {
		ctx.Errors.Addf(reporting.CodeMissingResult, "line %d has no value for %s (root sample id %s)", line, types.FieldResult, rootSampleID)
		return nil
	}
	barcodeValue := strings.TrimSpace(row[ctx.Centre.BarcodeField])
	if barcodeValue == "" {
		ctx.Errors.Addf(reporting.CodeMissingBarcodeField, "line %d has no value for %s (root sample id %s)", line, ctx.Centre.BarcodeField, rootSampleID)
		return nil
	}

	// projection: only recognized columns move onto the record
	record := &types.SampleRecord{
		RootSampleID: rootSampleID,
		ViralPrepID:  strings.TrimSpace(row[types.FieldViralPrepID]),
		RNAID:        strings.TrimSpace(row[types.FieldRNAID]),
		RNAPCRID:     strings.TrimSpace(row[types.FieldRNAPCRID]),
		Result:       types.Result(rawResult),
	}
	if record.RNAID == "" {
		record.RNAID = barcodeValue
	}

	record.LabID = strings.TrimSpace(row[types.FieldLabID])
	if record.LabID == "" && ctx.Centre.AddLabID {
		record.LabID = ctx.Centre.DefaultLabID
		ctx.Errors.Addf(reporting.CodeLabIDDefaulted, "line %d: %s defaulted to %s", line, types.FieldLabID, ctx.Centre.DefaultLabID)
	}

	if raw := strings.TrimSpace(row[types.FieldDateTested]); raw != "" {
		parsed, ok := parseDateTested(raw)
		if !ok {
			ctx.Errors.Addf(reporting.CodeUnknownDateFormat, "line %d: unparseable %s %q", line, types.FieldDateTested, raw)
			return nil
		}
		record.DateTested = parsed
	}

	rawCqs := projectChannels(ctx, record, row, line)

	// duplicate check against earlier rows of this file
	sig := record.Signature()
	if first, ok := ctx.Dedup.Register(sig, line); !ok {
		ctx.Errors.Addf(reporting.CodeDuplicateRow, "line %d duplicates line %d (%s)", line, first, sig)
		return nil
	}

	// numeric conversion
	for n, raw := range rawCqs {
		if raw == "" {
			continue
		}
		cq, err := decimal.NewFromString(raw)
		if err != nil {
			_, _, field := types.ChannelFields(n + 1)
			ctx.Errors.Addf(reporting.CodeInvalidCq, "line %d: %s value %q is not a number", line, field, raw)
			return nil
		}
		record.Channels[n].Cq = &cq
	}

	// enumeration checks
	if !types.IsValidResult(rawResult) {
		ctx.Errors.Addf(reporting.CodeInvalidResult, "line %d: invalid %s value %q", line, types.FieldResult, rawResult)
		return nil
	}
	for n := 0; n < types.ChannelCount; n++ {
		targetField, resultField, _ := types.ChannelFields(n + 1)
		if t := record.Channels[n].Target; t != nil && !types.IsValidChannelTarget(*t) {
			ctx.Errors.Addf(reporting.CodeInvalidChannelTarget, "line %d: invalid %s value %q", line, targetField, *t)
			return nil
		}
		if r := record.Channels[n].Result; r != nil && !types.IsValidChannelResult(*r) {
			ctx.Errors.Addf(reporting.CodeInvalidChannelResult, "line %d: invalid %s value %q", line, resultField, *r)
			return nil
		}
	}

	// range check
	for n := 0; n < types.ChannelCount; n++ {
		cq := record.Channels[n].Cq
		if cq == nil {
			continue
		}
		if cq.LessThan(CqLowerBound) || cq.GreaterThan(CqUpperBound) {
			_, _, field := types.ChannelFields(n + 1)
			ctx.Errors.Addf(reporting.CodeCqOutOfRange, "line %d: %s value %s outside [%s, %s]", line, field, cq, CqLowerBound, CqUpperBound)
			return nil
		}
	}

	// cross-field consistency
	if record.Result == types.ResultPositive {
		anyPresent, anyPositive := false, false
		for n := 0; n < types.ChannelCount; n++ {
			if r := record.Channels[n].Result; r != nil {
				anyPresent = true
				if *r == string(types.ResultPositive) {
					anyPositive = true
				}
			}
		}
		if anyPresent && !anyPositive {
			ctx.Errors.Addf(reporting.CodePositiveChannelMismatch, "line %d: result is Positive but no channel result is Positive (root sample id %s)", line, rootSampleID)
			return nil
		}
	}

	// derivation
	m := ctx.Centre.BarcodeRegex.FindStringSubmatch(barcodeValue)
	if m == nil {
		ctx.Errors.Addf(reporting.CodeBarcodeFormat, "line %d: %s value %q does not match the expected format (root sample id %s)", line, ctx.Centre.BarcodeField, barcodeValue, rootSampleID)
		return nil
	}
	if m[1] == "" {
		ctx.Errors.Addf(reporting.CodeEmptyPlateBarcode, "line %d: %s value %q has an empty plate barcode (root sample id %s)", line, ctx.Centre.BarcodeField, barcodeValue, rootSampleID)
		return nil
	}

	now := ctx.Now()
	record.PlateBarcode = m[1]
	record.Coordinate = types.UnpadCoordinate(m[2])
	record.Source = ctx.Centre.Name
	record.SourceFile = ctx.FileName
	record.FileDate = ctx.FileDate
	record.Line = line
	record.SampleUUID = uuid.New()
	record.CreatedAt = now
	record.UpdatedAt = now

	return record
}

// projectChannels copies the recognized channel columns onto the record and
// logs any column that is neither required nor a channel column. Unexpected
// columns never reject the row. Cq values stay raw strings here; the
// numeric conversion step parses them.
func projectChannels(ctx *FileContext, record *types.SampleRecord, row types.RawRow, line int) [types.ChannelCount]string {
	recognized := make(map[string]struct{})
	for _, h := range RequiredHeaders(ctx.Centre) {
		recognized[h] = struct{}{}
	}
	recognized[types.FieldLabID] = struct{}{}
	recognized[ctx.Centre.BarcodeField] = struct{}{}

	var rawCqs [types.ChannelCount]string
	for n := 0; n < types.ChannelCount; n++ {
		targetField, resultField, cqField := types.ChannelFields(n + 1)
		recognized[targetField] = struct{}{}
		recognized[resultField] = struct{}{}
		recognized[cqField] = struct{}{}

		if v := strings.TrimSpace(row[targetField]); v != "" {
			record.Channels[n].Target = &v
		}
		if v := strings.TrimSpace(row[resultField]); v != "" {
			record.Channels[n].Result = &v
		}
		rawCqs[n] = strings.TrimSpace(row[cqField])
	}

	for column := range row {
		if _, ok := recognized[column]; !ok {
			ctx.Errors.Addf(reporting.CodeUnexpectedColumn, "line %d: unexpected column %q", line, column)
		}
	}

	return rawCqs
}

func parseDateTested(raw string) (*time.Time, bool) {
	for _, layout := range dateTestedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, true
		}
	}
	return nil, false
}
