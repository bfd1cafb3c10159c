// Package storage implements the per-centre backup archive on the local
// filesystem. Archived copies are the durable idempotency marker: a file
// whose content hash already appears in either archive directory is never
// processed again.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Archive directory names under a centre's backup root
const (
	DirErrors    = "errors"
	DirSuccesses = "successes"
)

const timestampLayout = "060102_1504"

// Archive manages one centre's backup root and its errors/successes
// subdirectories.
type Archive struct {
	root string
}

// NewArchive creates (if needed) the backup root and both archive
// subdirectories for a centre.
func NewArchive(root string) (*Archive, error) {
	for _, dir := range []string{root, filepath.Join(root, DirErrors), filepath.Join(root, DirSuccesses)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating archive directory %s: %w", dir, err)
		}
	}
	return &Archive{root: root}, nil
}

// Root returns the archive's backup root path
func (a *Archive) Root() string {
	return a.root
}

// Entry is one archived file copy, parsed from its on-disk name
// `{yymmdd_HHMM}_{original-name}_{hash}`.
type Entry struct {
	Timestamp    time.Time
	OriginalName string
	Checksum     string
	FileName     string
}

// Store writes a content copy into the given archive directory, named with
// the timestamp, original file name, and content hash.
func (a *Archive) Store(dir, originalName string, content []byte, now time.Time) (string, error) {
	name := entryName(now, originalName, Checksum(content))
	path := filepath.Join(a.root, dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("archiving %s: %w", originalName, err)
	}
	return name, nil
}

// List returns the parsed entries of one archive directory. An unreadable
// directory means nothing has been archived yet; entries whose names don't
// follow the archive pattern are skipped.
func (a *Archive) List(dir string) []Entry {
	items, err := os.ReadDir(filepath.Join(a.root, dir))
	if err != nil {
		return nil
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		if entry, ok := ParseEntryName(item.Name()); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Checksum returns the hex SHA-256 of content, stable across re-downloads
// of identical bytes.
func Checksum(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func entryName(now time.Time, originalName, checksum string) string {
	return fmt.Sprintf("%s_%s_%s", now.Format(timestampLayout), originalName, checksum)
}

// ParseEntryName splits an archived file name into its timestamp, original
// name, and checksum. The original name may itself contain underscores, so
// the checksum is taken from the last separator.
func ParseEntryName(name string) (Entry, bool) {
	if len(name) < len(timestampLayout)+2 {
		return Entry{}, false
	}
	ts, err := time.Parse(timestampLayout, name[:len(timestampLayout)])
	if err != nil || name[len(timestampLayout)] != '_' {
		return Entry{}, false
	}

	rest := name[len(timestampLayout)+1:]
	sep := strings.LastIndex(rest, "_")
	if sep <= 0 {
		return Entry{}, false
	}
	original, checksum := rest[:sep], rest[sep+1:]
	if len(checksum) != sha256.Size*2 {
		return Entry{}, false
	}
	if _, err := hex.DecodeString(checksum); err != nil {
		return Entry{}, false
	}

	return Entry{
		Timestamp:    ts,
		OriginalName: original,
		Checksum:     checksum,
		FileName:     name,
	}, true
}
