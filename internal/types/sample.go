package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Result represents the overall test result reported for a sample
type Result string

const (
	ResultPositive         Result = "Positive"
	ResultNegative         Result = "Negative"
	ResultVoid             Result = "Void"
	ResultLimitOfDetection Result = "limit of detection"
	ResultInconclusive     Result = "Inconclusive"
)

// AllowedResults contains every value accepted in the Result column
var AllowedResults = []Result{
	ResultPositive,
	ResultNegative,
	ResultVoid,
	ResultLimitOfDetection,
	ResultInconclusive,
}

// IsValidResult reports whether s is an accepted Result value
func IsValidResult(s string) bool {
	for _, r := range AllowedResults {
		if string(r) == s {
			return true
		}
	}
	return false
}

// AllowedChannelTargets contains every value accepted in a CHn-Target column
var AllowedChannelTargets = []string{"ORF1ab", "N gene", "S gene", "MS2"}

// AllowedChannelResults contains every value accepted in a CHn-Result column
var AllowedChannelResults = []string{"Positive", "Negative", "Inconclusive", "Void"}

// IsValidChannelTarget reports whether s is an accepted CHn-Target value
func IsValidChannelTarget(s string) bool {
	for _, t := range AllowedChannelTargets {
		if t == s {
			return true
		}
	}
	return false
}

// IsValidChannelResult reports whether s is an accepted CHn-Result value
func IsValidChannelResult(s string) bool {
	for _, r := range AllowedChannelResults {
		if r == s {
			return true
		}
	}
	return false
}

// Column headers as they appear in centre files. Headers are
// whitespace-normalized and matched case-insensitively on read.
const (
	FieldRootSampleID = "Root Sample ID"
	FieldViralPrepID  = "Viral Prep ID"
	FieldRNAID        = "RNA ID"
	FieldRNAPCRID     = "RNA-PCR ID"
	FieldResult       = "Result"
	FieldDateTested   = "Date Tested"
	FieldLabID        = "Lab ID"
)

// ChannelCount is the number of optional PCR channel column triples (CH1..CH4)
const ChannelCount = 4

// ChannelFields returns the Target/Result/Cq header names for channel n (1-based)
func ChannelFields(n int) (target, result, cq string) {
	return fmt.Sprintf("CH%d-Target", n), fmt.Sprintf("CH%d-Result", n), fmt.Sprintf("CH%d-Cq", n)
}

// RawRow is one CSV line keyed by normalized column header
type RawRow map[string]string

// IsBlank reports whether every cell in the row is empty or whitespace
func (r RawRow) IsBlank() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// NormalizeHeader trims and collapses whitespace in a column header
func NormalizeHeader(h string) string {
	return strings.Join(strings.Fields(h), " ")
}

// Channel holds the optional per-channel PCR readings of a sample
type Channel struct {
	Target *string
	Result *string
	Cq     *decimal.Decimal
}

// SampleRecord is the canonical unit moving through the pipeline: one
// validated, normalized row ready to be replicated to the stores.
type SampleRecord struct {
	SampleUUID      uuid.UUID
	RootSampleID    string
	ViralPrepID     string
	RNAID           string
	RNAPCRID        string
	Result          Result
	DateTested      *time.Time
	LabID           string
	PlateBarcode    string
	Coordinate      string // unpadded, e.g. "A1"
	Source          string // centre name
	SourceFile      string
	FileDate        *time.Time
	Line            int
	SourcePlateUUID string
	CanonicalID     string // id assigned by the canonical store on insert

	FilteredPositive        bool
	FilteredPositiveVersion string
	FilteredPositiveAt      time.Time

	MustSequence           bool
	PreferentiallySequence bool

	Channels [ChannelCount]Channel

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Signature returns the identity tuple used for duplicate detection
func (s *SampleRecord) Signature() RowSignature {
	return RowSignature{
		RootSampleID: s.RootSampleID,
		RNAID:        s.RNAID,
		Result:       string(s.Result),
		LabID:        s.LabID,
	}
}

// RowSignature is the ordered tuple identifying a row for deduplication.
// Two rows with an identical signature are duplicates regardless of any
// other fields.
type RowSignature struct {
	RootSampleID string
	RNAID        string
	Result       string
	LabID        string
}

func (s RowSignature) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", s.RootSampleID, s.RNAID, s.Result, s.LabID)
}

const (
	plateRows    = 8  // A..H
	plateColumns = 12 // 1..12
)

// WellIndex maps a row-major plate coordinate ("A1".."H12") to its 1..96
// well index. Returns false for coordinates outside the plate.
func WellIndex(coordinate string) (int, bool) {
	c := UnpadCoordinate(strings.TrimSpace(coordinate))
	if len(c) < 2 {
		return 0, false
	}
	row := int(c[0] - 'A')
	if row < 0 || row >= plateRows {
		return 0, false
	}
	col, err := strconv.Atoi(c[1:])
	if err != nil || col < 1 || col > plateColumns {
		return 0, false
	}
	return row*plateColumns + col, true
}

// UnpadCoordinate strips a leading zero from the column part ("A01" -> "A1")
func UnpadCoordinate(c string) string {
	if len(c) == 3 && c[1] == '0' {
		return c[:1] + c[2:]
	}
	return c
}

// PadCoordinate zero-pads the column part to two digits ("A1" -> "A01")
func PadCoordinate(c string) string {
	if len(c) == 2 {
		return c[:1] + "0" + c[1:]
	}
	return c
}

// fileDatePattern matches the `..._{yymmdd}_{HHMM}...` timestamp embedded in
// centre file names.
var fileDatePattern = regexp.MustCompile(`_(\d{6})_(\d{4})`)

const fileDateLayout = "060102 1504"

// FileNameDate extracts the timestamp embedded in a centre file name, or
// nil when the name carries none.
func FileNameDate(filename string) *time.Time {
	m := fileDatePattern.FindStringSubmatch(filename)
	if m == nil {
		return nil
	}
	t, err := time.Parse(fileDateLayout, m[1]+" "+m[2])
	if err != nil {
		return nil
	}
	return &t
}

// ImportRecord summarizes the processing of one centre file. Created once
// per processed file, never mutated.
type ImportRecord struct {
	CentreName      string
	FileName        string
	Date            time.Time
	NumberOfRecords int
	Errors          []string
}
