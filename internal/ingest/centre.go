package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/classify"
	"github.com/labforge/sample-ingest/internal/storage"
	"github.com/labforge/sample-ingest/internal/telemetry"
)

// Centre drives ingestion for one lighthouse centre: it scans the centre's
// working directory, skips files already archived, and runs each remaining
// file through the pipeline in name order.
type Centre struct {
	Config     *centres.Config
	WorkingDir string
	BackupDir  string
	Writer     *MultiStoreWriter
	Classifier classify.Classifier
	Now        func() time.Time
}

// Summary reports what a centre run did.
type Summary struct {
	Centre          string
	FilesProcessed  int
	FilesSkipped    int
	FilesWithErrors int
	RecordsInserted int
}

// Process handles every eligible file in the centre's directory. A panic in
// one centre is contained here so that a run over all centres carries on.
func (c *Centre) Process(ctx context.Context) (summary *Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("centre", c.Config.Name).Interface("panic", r).Msg("Centre processing panicked")
			err = fmt.Errorf("processing centre %s: %v", c.Config.Name, r)
		}
	}()

	if c.Now == nil {
		c.Now = time.Now
	}

	archive, err := storage.NewArchive(c.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("preparing archive for %s: %w", c.Config.Name, err)
	}

	names, err := c.listFiles()
	if err != nil {
		return nil, err
	}

	summary = &Summary{Centre: c.Config.Name}
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(c.WorkingDir, name))
		if err != nil {
			log.Error().Err(err).Str("centre", c.Config.Name).Str("file", name).Msg("Failed to read file")
			summary.FilesWithErrors++
			continue
		}

		state := ResolveFileState(c.Config, archive, name, content)
		if state != StateNotYetProcessed {
			log.Debug().
				Str("centre", c.Config.Name).
				Str("file", name).
				Stringer("state", state).
				Msg("Skipping file")
			telemetry.FilesProcessed.WithLabelValues(c.Config.Name, "skipped").Inc()
			summary.FilesSkipped++
			continue
		}

		file := &CentreFile{
			Centre:     c.Config,
			Name:       name,
			Content:    content,
			Writer:     c.Writer,
			Archive:    archive,
			Classifier: c.Classifier,
			Now:        c.Now,
		}
		record, failed := file.Process(ctx)
		summary.FilesProcessed++
		summary.RecordsInserted += record.NumberOfRecords
		if failed {
			summary.FilesWithErrors++
		}
	}

	log.Info().
		Str("centre", c.Config.Name).
		Int("processed", summary.FilesProcessed).
		Int("skipped", summary.FilesSkipped).
		Int("with_errors", summary.FilesWithErrors).
		Int("inserted", summary.RecordsInserted).
		Msg("Centre run complete")

	return summary, nil
}

// listFiles returns the names in the working directory that match the
// centre's file name patterns, in lexicographic order.
func (c *Centre) listFiles() ([]string, error) {
	entries, err := os.ReadDir(c.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c.WorkingDir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if c.Config.Accepts(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
