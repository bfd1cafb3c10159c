package ingest

import "github.com/labforge/sample-ingest/internal/types"

// DedupIndex is the per-file set of row signatures used to drop exact
// repeats within one file. File-scoped: a fresh index is created for every
// file and never shared.
type DedupIndex struct {
	seen map[types.RowSignature]int // signature -> line of first occurrence
}

// NewDedupIndex creates an empty per-file index
func NewDedupIndex() *DedupIndex {
	return &DedupIndex{seen: make(map[types.RowSignature]int)}
}

// Register records a signature at the given line. It returns the line of
// the first occurrence and false when the signature was already present;
// only the first row with a signature is kept.
func (d *DedupIndex) Register(sig types.RowSignature, line int) (int, bool) {
	if first, ok := d.seen[sig]; ok {
		return first, false
	}
	d.seen[sig] = line
	return line, true
}

// Len returns the number of distinct signatures registered
func (d *DedupIndex) Len() int {
	return len(d.seen)
}
