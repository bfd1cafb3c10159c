// Package csv reads centre result files into header-keyed rows. The format
// is fixed (comma-separated, quoted, first row = header) so the standard
// library reader does the parsing; this package adds charset normalization
// and header canonicalization.
package csv

import (
	"bytes"
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/labforge/sample-ingest/internal/parsers/charset"
	"github.com/labforge/sample-ingest/internal/types"
)

// knownHeaders maps a case-folded header to its canonical spelling so that
// rows can be keyed consistently regardless of the centre's casing.
var knownHeaders = buildKnownHeaders()

func buildKnownHeaders() map[string]string {
	canonical := []string{
		types.FieldRootSampleID,
		types.FieldViralPrepID,
		types.FieldRNAID,
		types.FieldRNAPCRID,
		types.FieldResult,
		types.FieldDateTested,
		types.FieldLabID,
	}
	for n := 1; n <= types.ChannelCount; n++ {
		target, result, cq := types.ChannelFields(n)
		canonical = append(canonical, target, result, cq)
	}

	m := make(map[string]string, len(canonical))
	for _, h := range canonical {
		m[strings.ToLower(h)] = h
	}
	return m
}

// CanonicalHeader normalizes whitespace in a header and, when it matches a
// known column case-insensitively, returns the canonical spelling.
func CanonicalHeader(h string) string {
	h = types.NormalizeHeader(h)
	if canonical, ok := knownHeaders[strings.ToLower(h)]; ok {
		return canonical
	}
	return h
}

// Row is one data line together with its physical line number in the
// file, so diagnostics stay accurate when the reader skips empty lines.
type Row struct {
	Line   int
	Values types.RawRow
}

// Read parses file content into the normalized header list and one Row per
// data line. Short lines leave their trailing columns absent; headers are
// whitespace- and case-normalized; line numbers are 1-based physical
// positions.
func Read(content []byte) ([]string, []Row, error) {
	decoded, err := charset.ToUTF8(content)
	if err != nil {
		return nil, nil, fmt.Errorf("decoding file content: %w", err)
	}

	reader := stdcsv.NewReader(bytes.NewReader(decoded))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("parsing csv: %w", err)
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = CanonicalHeader(h)
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("parsing csv: %w", err)
		}
		line, _ := reader.FieldPos(0)

		row := make(types.RawRow, len(headers))
		for i, h := range headers {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, Row{Line: line, Values: row})
	}

	return headers, rows, nil
}
