package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/classify"
	"github.com/labforge/sample-ingest/internal/parsers/csv"
	"github.com/labforge/sample-ingest/internal/reporting"
	"github.com/labforge/sample-ingest/internal/storage"
	"github.com/labforge/sample-ingest/internal/telemetry"
	"github.com/labforge/sample-ingest/internal/types"
)

// CentreFile processes one eligible file for a centre: header check, row
// pipeline, store writes, archive, import record.
type CentreFile struct {
	Centre     *centres.Config
	Name       string
	Content    []byte
	Writer     *MultiStoreWriter
	Archive    *storage.Archive
	Classifier classify.Classifier
	Now        func() time.Time
}

// Process runs the whole per-file state machine over the file's content.
// It always archives the file and always produces exactly one import
// record, whatever happened in between. The boolean reports whether the
// file ended up in the errors archive.
func (f *CentreFile) Process(ctx context.Context) (*types.ImportRecord, bool) {
	if f.Now == nil {
		f.Now = time.Now
	}
	fileCtx := NewFileContext(f.Centre, f.Name, f.Now)
	if fileCtx.FileDate == nil {
		fileCtx.Errors.Addf(reporting.CodeInvalidFileDate, "file name %s carries no timestamp", f.Name)
	}

	accepted := f.parseRows(fileCtx, f.Content)

	inserted := f.Writer.Write(ctx, fileCtx, accepted)
	telemetry.SamplesInserted.WithLabelValues(f.Centre.Name).Add(float64(len(inserted)))

	// destination depends only on logged severities, not on stored counts
	dest := storage.DirSuccesses
	outcome := "success"
	if fileCtx.Errors.HasFatal() {
		dest = storage.DirErrors
		outcome = "error"
	}
	if _, err := f.Archive.Store(dest, f.Name, f.Content, f.Now()); err != nil {
		log.Error().Err(err).Str("file", f.Name).Str("destination", dest).Msg("Failed to archive file")
	}
	telemetry.FilesProcessed.WithLabelValues(f.Centre.Name, outcome).Inc()

	record := &types.ImportRecord{
		CentreName:      f.Centre.Name,
		FileName:        f.Name,
		Date:            f.Now(),
		NumberOfRecords: len(inserted),
		Errors:          fileCtx.Errors.Report(),
	}
	if err := f.Writer.Canonical.CreateImport(ctx, record); err != nil {
		// too late for the report itself, the log is the only trace
		log.Error().Err(err).
			Str("file", f.Name).
			Str("code", string(reporting.CodeImportRecord)).
			Msg("Failed to create import record")
	}

	log.Info().
		Str("centre", f.Centre.Name).
		Str("file", f.Name).
		Int("inserted", record.NumberOfRecords).
		Str("archive", dest).
		Msg("File processed")

	return record, fileCtx.Errors.HasFatal()
}

// parseRows runs the header check and the row pipeline, returning the
// accepted, classified records.
func (f *CentreFile) parseRows(fileCtx *FileContext, content []byte) []*types.SampleRecord {
	headers, rows, err := csv.Read(content)
	if err != nil {
		fileCtx.Errors.Addf(reporting.CodeFileUnreadable, "reading %s: %v", f.Name, err)
		return nil
	}

	if missing := MissingHeaders(headers, f.Centre); len(missing) > 0 {
		// a file without its required headers is rejected wholesale
		fileCtx.Errors.Addf(reporting.CodeMissingHeaders, "file %s is missing required headers: %v", f.Name, missing)
		return nil
	}

	var accepted []*types.SampleRecord
	for _, row := range rows {
		record := ValidateRow(fileCtx, row.Values, row.Line)
		if record == nil {
			telemetry.RowsRejected.WithLabelValues(f.Centre.Name).Inc()
			continue
		}
		f.Classifier.Apply(record, f.Now())
		telemetry.RowsAccepted.WithLabelValues(f.Centre.Name).Inc()
		accepted = append(accepted, record)
	}
	return accepted
}
