package ingest

import (
	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/types"
)

// RequiredHeaders returns the headers a centre file must carry. Lab ID is
// only required when the centre does not default it.
func RequiredHeaders(cfg *centres.Config) []string {
	required := []string{
		types.FieldRootSampleID,
		types.FieldViralPrepID,
		types.FieldRNAID,
		types.FieldRNAPCRID,
		types.FieldResult,
		types.FieldDateTested,
	}
	if !cfg.AddLabID {
		required = append(required, types.FieldLabID)
	}
	return required
}

// OptionalHeaders returns the recognized channel headers
func OptionalHeaders() []string {
	var optional []string
	for n := 1; n <= types.ChannelCount; n++ {
		target, result, cq := types.ChannelFields(n)
		optional = append(optional, target, result, cq)
	}
	return optional
}

// MissingHeaders returns the required headers absent from a file's header
// row. Any missing header is a file-level critical error: the file is
// rejected wholesale with zero records written.
func MissingHeaders(headers []string, cfg *centres.Config) []string {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[h] = struct{}{}
	}

	var missing []string
	for _, h := range RequiredHeaders(cfg) {
		if _, ok := present[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing
}
