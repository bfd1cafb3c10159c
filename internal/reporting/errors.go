// Package reporting defines the typed error taxonomy for file ingestion and
// the per-file aggregator that turns logged occurrences into the import
// report shown to operators.
package reporting

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Severity levels for typed errors. Only SeverityError and above send a
// file to the errors archive.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	}
	return "unknown"
}

func (s Severity) zerologLevel() zerolog.Level {
	switch s {
	case SeverityDebug:
		return zerolog.DebugLevel
	case SeverityInfo:
		return zerolog.InfoLevel
	case SeverityWarning:
		return zerolog.WarnLevel
	case SeverityError:
		return zerolog.ErrorLevel
	case SeverityCritical:
		return zerolog.FatalLevel
	}
	return zerolog.NoLevel
}

// Code identifies one category of the error taxonomy
type Code string

const (
	// structural
	CodeBlankRow             Code = "blank_row"
	CodeMissingRootSampleID  Code = "missing_root_sample_id"
	CodeMissingResult        Code = "missing_result"
	CodeMissingBarcodeField  Code = "missing_barcode_field"
	// schema
	CodeMissingHeaders   Code = "missing_headers"
	CodeUnexpectedColumn Code = "unexpected_column"
	CodeLabIDDefaulted   Code = "lab_id_defaulted"
	// format
	CodeBarcodeFormat     Code = "barcode_format"
	CodeEmptyPlateBarcode Code = "empty_plate_barcode"
	CodeInvalidCq         Code = "invalid_cq"
	CodeCqOutOfRange      Code = "cq_out_of_range"
	CodeUnknownDateFormat Code = "unknown_date_format"
	CodeInvalidFileDate   Code = "invalid_file_date"
	// semantic
	CodeInvalidResult          Code = "invalid_result"
	CodeInvalidChannelTarget   Code = "invalid_channel_target"
	CodeInvalidChannelResult   Code = "invalid_channel_result"
	CodePositiveChannelMismatch Code = "positive_channel_mismatch"
	// duplication
	CodeDuplicateRow             Code = "duplicate_row"
	CodeDuplicateSameDate        Code = "duplicate_same_date"
	CodeDuplicateConflictingDate Code = "duplicate_conflicting_date"
	// canonical store
	CodeCanonicalConnection Code = "canonical_connection"
	CodeCanonicalInsert     Code = "canonical_insert"
	CodeImportRecord        Code = "import_record"
	// warehouse
	CodeWarehouseConnection Code = "warehouse_connection"
	CodeWarehouseInsert     Code = "warehouse_insert"
	// LIMS
	CodeLIMSConnection  Code = "lims_connection"
	CodeLIMSTransaction Code = "lims_transaction"
	CodeLIMSPlateInsert Code = "lims_plate_insert"
	CodeLIMSWellUpdate  Code = "lims_well_update"
	CodeLIMSPlateState  Code = "lims_plate_state"
	// cross-store data integrity
	CodeSourcePlateUUID         Code = "source_plate_uuid"
	CodePlateBarcodeLabConflict Code = "plate_barcode_lab_conflict"
	// file level
	CodeFileUnreadable Code = "file_unreadable"
)

type definition struct {
	severity    Severity
	description string
}

var definitions = map[Code]definition{
	CodeBlankRow:            {SeverityDebug, "blank row"},
	CodeMissingRootSampleID: {SeverityError, "missing root sample id"},
	CodeMissingResult:       {SeverityError, "missing result"},
	CodeMissingBarcodeField: {SeverityError, "missing barcode field"},

	CodeMissingHeaders:   {SeverityCritical, "missing required header"},
	CodeUnexpectedColumn: {SeverityWarning, "unexpected column"},
	CodeLabIDDefaulted:   {SeverityInfo, "lab id defaulted"},

	CodeBarcodeFormat:     {SeverityError, "barcode field format"},
	CodeEmptyPlateBarcode: {SeverityError, "empty plate barcode"},
	CodeInvalidCq:         {SeverityError, "unparseable Cq value"},
	CodeCqOutOfRange:      {SeverityError, "out of range Cq value"},
	CodeUnknownDateFormat: {SeverityError, "unknown date format"},
	CodeInvalidFileDate:   {SeverityWarning, "file name date"},

	CodeInvalidResult:           {SeverityError, "invalid result value"},
	CodeInvalidChannelTarget:    {SeverityError, "invalid channel target value"},
	CodeInvalidChannelResult:    {SeverityError, "invalid channel result value"},
	CodePositiveChannelMismatch: {SeverityError, "positive result without positive channel"},

	CodeDuplicateRow:             {SeverityError, "duplicate row in file"},
	CodeDuplicateSameDate:        {SeverityWarning, "duplicate of previously imported sample"},
	CodeDuplicateConflictingDate: {SeverityError, "duplicate with conflicting test date"},

	CodeCanonicalConnection: {SeverityCritical, "canonical store connection"},
	CodeCanonicalInsert:     {SeverityError, "canonical store insert"},
	CodeImportRecord:        {SeverityError, "import record creation"},

	CodeWarehouseConnection: {SeverityError, "warehouse connection"},
	CodeWarehouseInsert:     {SeverityError, "warehouse insert"},

	CodeLIMSConnection:  {SeverityError, "LIMS connection"},
	CodeLIMSTransaction: {SeverityError, "LIMS transaction"},
	CodeLIMSPlateInsert: {SeverityError, "LIMS plate insert"},
	CodeLIMSWellUpdate:  {SeverityError, "LIMS well update"},
	CodeLIMSPlateState:  {SeverityError, "LIMS plate state"},

	CodeSourcePlateUUID:         {SeverityError, "source plate uuid assignment"},
	CodePlateBarcodeLabConflict: {SeverityError, "plate barcode claimed by two lab ids"},

	CodeFileUnreadable: {SeverityCritical, "unreadable file"},
}

// SeverityOf returns the fixed severity of a code
func SeverityOf(code Code) Severity {
	if d, ok := definitions[code]; ok {
		return d.severity
	}
	return SeverityError
}

// DescriptionOf returns the human template of a code
func DescriptionOf(code Code) string {
	if d, ok := definitions[code]; ok {
		return d.description
	}
	return string(code)
}

// maxExamples caps how many per-occurrence details are retained per code
const maxExamples = 5

type bucket struct {
	count    int
	examples []string
}

// Aggregator collects typed error occurrences for one file. It is created
// fresh per file and threaded explicitly through the pipeline, never shared.
type Aggregator struct {
	buckets map[Code]*bucket
	order   []Code
	highest Severity
}

// NewAggregator creates an empty per-file aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		buckets: make(map[Code]*bucket),
		highest: SeverityDebug,
	}
}

// Add records one occurrence of code with a per-occurrence detail, logging
// it at the severity-mapped level. No rejection is ever silently dropped.
func (a *Aggregator) Add(code Code, detail string) {
	sev := SeverityOf(code)

	// zerolog fatal would exit; cap log level at error, severity is kept
	level := sev.zerologLevel()
	if level > zerolog.ErrorLevel {
		level = zerolog.ErrorLevel
	}
	log.WithLevel(level).
		Str("code", string(code)).
		Str("severity", sev.String()).
		Msg(detail)

	b, ok := a.buckets[code]
	if !ok {
		b = &bucket{}
		a.buckets[code] = b
		a.order = append(a.order, code)
	}
	b.count++
	if len(b.examples) < maxExamples {
		b.examples = append(b.examples, detail)
	}
	if sev > a.highest {
		a.highest = sev
	}
}

// Addf records one occurrence with a formatted detail
func (a *Aggregator) Addf(code Code, format string, args ...interface{}) {
	a.Add(code, fmt.Sprintf(format, args...))
}

// Count returns the number of occurrences recorded for code
func (a *Aggregator) Count(code Code) int {
	if b, ok := a.buckets[code]; ok {
		return b.count
	}
	return 0
}

// CountAtLeast returns the number of occurrences at or above the given
// severity.
func (a *Aggregator) CountAtLeast(sev Severity) int {
	total := 0
	for code, b := range a.buckets {
		if SeverityOf(code) >= sev {
			total += b.count
		}
	}
	return total
}

// HasFatal reports whether any error- or critical-severity occurrence was
// recorded. It alone decides the archive destination of the file.
func (a *Aggregator) HasFatal() bool {
	return a.highest >= SeverityError
}

// Report renders the per-code summaries in first-seen order: one total line
// per code followed by its retained examples.
func (a *Aggregator) Report() []string {
	var out []string
	for _, code := range a.order {
		b := a.buckets[code]
		out = append(out, fmt.Sprintf("Total number of %s errors (%s): %d", DescriptionOf(code), code, b.count))
		out = append(out, b.examples...)
	}
	return out
}
