package ingest

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/reporting"
	"github.com/labforge/sample-ingest/internal/types"
)

var fixedNow = time.Date(2020, 5, 10, 15, 0, 0, 0, time.UTC)

func newTestContext(t *testing.T) *FileContext {
	t.Helper()
	cfg, err := centres.Get("test")
	require.NoError(t, err)
	return NewFileContext(cfg, "TEST_sanger_report_200510_1400.csv", func() time.Time { return fixedNow })
}

func validRow() types.RawRow {
	return types.RawRow{
		types.FieldRootSampleID: "R00000001",
		types.FieldViralPrepID:  "VP1",
		types.FieldRNAID:        "TS789_B07",
		types.FieldRNAPCRID:     "PCR1",
		types.FieldResult:       "Positive",
		types.FieldDateTested:   "2020-05-10 14:01:00 UTC",
		types.FieldLabID:        "AP",
		"CH1-Target":            "ORF1ab",
		"CH1-Result":            "Positive",
		"CH1-Cq":                "21.45",
	}
}

func TestValidateRowAccepted(t *testing.T) {
	ctx := newTestContext(t)

	record := ValidateRow(ctx, validRow(), 2)
	require.NotNil(t, record)

	assert.Equal(t, "R00000001", record.RootSampleID)
	assert.Equal(t, "TS789_B07", record.RNAID)
	assert.Equal(t, types.ResultPositive, record.Result)
	assert.Equal(t, "AP", record.LabID)
	assert.Equal(t, "TS789", record.PlateBarcode)
	assert.Equal(t, "B7", record.Coordinate, "coordinate is unpadded")
	assert.Equal(t, "Test Centre", record.Source)
	assert.Equal(t, "TEST_sanger_report_200510_1400.csv", record.SourceFile)
	assert.Equal(t, 2, record.Line)
	assert.NotZero(t, record.SampleUUID)
	assert.Equal(t, fixedNow, record.CreatedAt)

	require.NotNil(t, ctx.FileDate)
	assert.Equal(t, time.Date(2020, 5, 10, 14, 0, 0, 0, time.UTC), *ctx.FileDate)

	require.NotNil(t, record.DateTested)
	require.NotNil(t, record.Channels[0].Cq)
	assert.Equal(t, "21.45", record.Channels[0].Cq.String())
	assert.Nil(t, record.Channels[1].Target)

	assert.False(t, ctx.Errors.HasFatal())
}

func TestValidateRowStructural(t *testing.T) {
	t.Run("blank row is a silent skip", func(t *testing.T) {
		ctx := newTestContext(t)
		record := ValidateRow(ctx, types.RawRow{types.FieldRootSampleID: "  ", types.FieldResult: ""}, 2)
		assert.Nil(t, record)
		assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeBlankRow))
		assert.False(t, ctx.Errors.HasFatal(), "a blank row never fails the file")
	})

	tests := []struct {
		name  string
		strip string
		code  reporting.Code
	}{
		{"missing root sample id", types.FieldRootSampleID, reporting.CodeMissingRootSampleID},
		{"missing result", types.FieldResult, reporting.CodeMissingResult},
		{"missing barcode field", types.FieldRNAID, reporting.CodeMissingBarcodeField},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newTestContext(t)
			row := validRow()
			row[tc.strip] = ""
			assert.Nil(t, ValidateRow(ctx, row, 2))
			assert.Equal(t, 1, ctx.Errors.Count(tc.code))
			assert.True(t, ctx.Errors.HasFatal())
		})
	}
}

func TestValidateRowLabIDDefault(t *testing.T) {
	ctx := newTestContext(t)
	row := validRow()
	row[types.FieldLabID] = ""

	record := ValidateRow(ctx, row, 2)
	require.NotNil(t, record)
	assert.Equal(t, "TE", record.LabID)
	assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeLabIDDefaulted))
	assert.False(t, ctx.Errors.HasFatal(), "defaulting is informational")
}

func TestValidateRowDateTested(t *testing.T) {
	t.Run("absent date is allowed", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		delete(row, types.FieldDateTested)
		record := ValidateRow(ctx, row, 2)
		require.NotNil(t, record)
		assert.Nil(t, record.DateTested)
	})

	t.Run("unparseable date rejects the row", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		row[types.FieldDateTested] = "next tuesday"
		assert.Nil(t, ValidateRow(ctx, row, 2))
		assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeUnknownDateFormat))
	})
}

func TestValidateRowCq(t *testing.T) {
	tests := []struct {
		name     string
		cq       string
		accepted bool
		code     reporting.Code
	}{
		{"decimal in range", "24.5", true, ""},
		{"lower bound inclusive", "0", true, ""},
		{"upper bound inclusive", "100", true, ""},
		{"not a number", "abc", false, reporting.CodeInvalidCq},
		{"below range", "-1", false, reporting.CodeCqOutOfRange},
		{"above range", "100.01", false, reporting.CodeCqOutOfRange},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newTestContext(t)
			row := validRow()
			row["CH1-Cq"] = tc.cq

			record := ValidateRow(ctx, row, 2)
			if !tc.accepted {
				assert.Nil(t, record)
				assert.Equal(t, 1, ctx.Errors.Count(tc.code))
				return
			}
			require.NotNil(t, record)
			require.NotNil(t, record.Channels[0].Cq)
			assert.Equal(t, tc.cq, record.Channels[0].Cq.String())
		})
	}
}

func TestValidateRowEnums(t *testing.T) {
	tests := []struct {
		name   string
		column string
		value  string
		code   reporting.Code
	}{
		{"invalid result", types.FieldResult, "positive", reporting.CodeInvalidResult},
		{"invalid channel target", "CH1-Target", "RdRp gene", reporting.CodeInvalidChannelTarget},
		{"invalid channel result", "CH1-Result", "detected", reporting.CodeInvalidChannelResult},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := newTestContext(t)
			row := validRow()
			row[tc.column] = tc.value
			assert.Nil(t, ValidateRow(ctx, row, 2))
			assert.Equal(t, 1, ctx.Errors.Count(tc.code))
		})
	}

	t.Run("limit of detection result is accepted", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		row[types.FieldResult] = "limit of detection"
		row["CH1-Result"] = "Negative"
		assert.NotNil(t, ValidateRow(ctx, row, 2))
	})
}

func TestValidateRowPositiveChannelConsistency(t *testing.T) {
	t.Run("positive result needs one positive channel when channels report", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		row["CH1-Result"] = "Negative"
		row["CH2-Result"] = "Negative"
		assert.Nil(t, ValidateRow(ctx, row, 2))
		assert.Equal(t, 1, ctx.Errors.Count(reporting.CodePositiveChannelMismatch))
	})

	t.Run("positive result with no channel results stands alone", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		delete(row, "CH1-Result")
		assert.NotNil(t, ValidateRow(ctx, row, 2))
	})

	t.Run("one positive channel suffices", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		row["CH1-Result"] = "Negative"
		row["CH2-Result"] = "Positive"
		assert.NotNil(t, ValidateRow(ctx, row, 2))
	})
}

func TestValidateRowBarcodeDerivation(t *testing.T) {
	t.Run("unmatched format", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		row[types.FieldRNAID] = "TS789-B07"
		assert.Nil(t, ValidateRow(ctx, row, 2))
		assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeBarcodeFormat))
	})

	t.Run("empty plate barcode", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		row[types.FieldRNAID] = "_A1"
		assert.Nil(t, ValidateRow(ctx, row, 2))
		assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeEmptyPlateBarcode))
	})

	t.Run("unpadded coordinate passes through", func(t *testing.T) {
		ctx := newTestContext(t)
		row := validRow()
		row[types.FieldRNAID] = "TS789_H12"
		record := ValidateRow(ctx, row, 2)
		require.NotNil(t, record)
		assert.Equal(t, "H12", record.Coordinate)
	})
}

func TestValidateRowDuplicates(t *testing.T) {
	ctx := newTestContext(t)

	first := ValidateRow(ctx, validRow(), 2)
	require.NotNil(t, first)

	second := ValidateRow(ctx, validRow(), 3)
	assert.Nil(t, second, "exact repeat of an earlier row is dropped")
	assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeDuplicateRow))

	changed := validRow()
	changed[types.FieldResult] = "Negative"
	changed["CH1-Result"] = "Negative"
	third := ValidateRow(ctx, changed, 4)
	assert.NotNil(t, third, "a differing signature field makes a distinct row")
}

func TestValidateRowUnexpectedColumn(t *testing.T) {
	ctx := newTestContext(t)
	row := validRow()
	row["Operator Initials"] = "JB"

	record := ValidateRow(ctx, row, 2)
	require.NotNil(t, record, "unexpected columns never reject the row")
	assert.Equal(t, 1, ctx.Errors.Count(reporting.CodeUnexpectedColumn))
	assert.False(t, ctx.Errors.HasFatal())
}

func TestValidateRowRNAIDFallback(t *testing.T) {
	cfg := &centres.Config{
		Name:         "Other Field Centre",
		Prefix:       "OF",
		DefaultLabID: "OF",
		BarcodeField: "RNA-PCR ID",
		BarcodeRegex: centresTestRegex(t),
		AddLabID:     true,
	}
	ctx := NewFileContext(cfg, "OF_sanger_report_200510_1400.csv", func() time.Time { return fixedNow })

	row := validRow()
	delete(row, types.FieldRNAID)
	row[types.FieldRNAPCRID] = "TS789_B07"

	record := ValidateRow(ctx, row, 2)
	require.NotNil(t, record)
	assert.Equal(t, "TS789_B07", record.RNAID, "RNA id falls back to the barcode field value")
}

func centresTestRegex(t *testing.T) *regexp.Regexp {
	t.Helper()
	cfg, err := centres.Get("test")
	require.NoError(t, err)
	return cfg.BarcodeRegex
}
