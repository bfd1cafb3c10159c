// Package classify implements the versioned filtered-positive rule: the
// derived verdict that a sample should be prioritized for downstream
// sequencing. Historical versions stay selectable so older records can be
// reclassified under the rule that was current when they were imported.
package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/labforge/sample-ingest/internal/types"
)

// Version identifies one member of the closed set of rule versions
type Version string

const (
	// VersionV0 flags any sample whose result begins with "positive"
	VersionV0 Version = "v0"
	// VersionV1 additionally excludes control samples
	VersionV1 Version = "v1"
	// VersionV2 additionally requires Ct evidence: at least one surveillance
	// channel at or below the threshold, or no surveillance channels at all
	VersionV2 Version = "v2"

	// CurrentVersion is the rule applied to newly ingested samples
	CurrentVersion = VersionV2
)

// Versions lists every known rule version
var Versions = []Version{VersionV0, VersionV1, VersionV2}

// ParseVersion resolves a stored version identifier to a rule version
func ParseVersion(s string) (Version, error) {
	for _, v := range Versions {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown filtered-positive rule version: %q", s)
}

// controlPrefixes mark QC samples, which are never flagged
var controlPrefixes = []string{"CBIQA_"}

// surveillanceChannels are the channels whose Cq values carry Ct evidence
// (CH1..CH3; CH4 is the internal control target)
var surveillanceChannels = []int{0, 1, 2}

// ctThreshold is the inclusive Cq bound below which a channel supports the
// positive call
var ctThreshold = decimal.NewFromInt(30)

// Classifier evaluates one rule version
type Classifier struct {
	version Version
}

// New returns a classifier for the given rule version
func New(version Version) Classifier {
	return Classifier{version: version}
}

// Version returns the rule version this classifier evaluates
func (c Classifier) Version() Version {
	return c.version
}

// IsFilteredPositive applies the rule version to a sample. Pure: it reads
// the record and never mutates it.
func (c Classifier) IsFilteredPositive(record *types.SampleRecord) bool {
	switch c.version {
	case VersionV0:
		return resultPositive(record)
	case VersionV1:
		return resultPositive(record) && !isControl(record)
	default:
		return v2(record)
	}
}

// Apply stores the verdict, the rule version that produced it, and the
// decision timestamp on the record.
func (c Classifier) Apply(record *types.SampleRecord, now time.Time) {
	record.FilteredPositive = c.IsFilteredPositive(record)
	record.FilteredPositiveVersion = string(c.version)
	record.FilteredPositiveAt = now
}

func v2(record *types.SampleRecord) bool {
	if !resultPositive(record) || isControl(record) {
		return false
	}

	evidence := false
	for _, n := range surveillanceChannels {
		cq := record.Channels[n].Cq
		if cq == nil {
			continue
		}
		evidence = true
		if cq.LessThanOrEqual(ctThreshold) {
			return true
		}
	}
	// no Ct evidence to contradict positivity
	return !evidence
}

func resultPositive(record *types.SampleRecord) bool {
	return strings.HasPrefix(strings.ToLower(string(record.Result)), "positive")
}

func isControl(record *types.SampleRecord) bool {
	for _, p := range controlPrefixes {
		if strings.HasPrefix(record.RootSampleID, p) {
			return true
		}
	}
	return false
}
