package ingest

import (
	"github.com/rs/zerolog/log"

	"github.com/labforge/sample-ingest/internal/centres"
	"github.com/labforge/sample-ingest/internal/storage"
)

// FileState classifies a centre file before processing. The five states are
// the single canonical set; Blacklisted and both Processed states are
// terminal skips.
type FileState int

const (
	StateUnchecked FileState = iota
	StateBlacklisted
	StateNotYetProcessed
	StateProcessedWithError
	StateProcessedWithSuccess
)

func (s FileState) String() string {
	switch s {
	case StateBlacklisted:
		return "blacklisted"
	case StateNotYetProcessed:
		return "not yet processed"
	case StateProcessedWithError:
		return "processed with error"
	case StateProcessedWithSuccess:
		return "processed with success"
	default:
		return "unchecked"
	}
}

// ResolveFileState is the idempotency gate: it decides whether a file is
// new, blacklisted, or already archived as success or error, by content
// checksum comparison against the archived copies. Read-only.
func ResolveFileState(cfg *centres.Config, archive *storage.Archive, filename string, content []byte) FileState {
	// blacklist is a name check, cheaper than hashing
	if cfg.Ignored(filename) {
		return StateBlacklisted
	}

	checksum := storage.Checksum(content)

	if matchArchived(archive, storage.DirErrors, filename, checksum) {
		return StateProcessedWithError
	}
	if matchArchived(archive, storage.DirSuccesses, filename, checksum) {
		return StateProcessedWithSuccess
	}
	return StateNotYetProcessed
}

func matchArchived(archive *storage.Archive, dir, filename, checksum string) bool {
	for _, entry := range archive.List(dir) {
		if entry.Checksum != checksum {
			continue
		}
		if entry.OriginalName != filename {
			// same content under another name, possibly renamed upstream;
			// still counts as already processed
			log.Warn().
				Str("file", filename).
				Str("archived_as", entry.OriginalName).
				Str("checksum", checksum).
				Msg("Archived copy has a different original name")
		}
		return true
	}
	return false
}
