// Package baseline manages the approved-SHA index and its on-disk
// snapshot tree under the state directory.
package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soulguard/soulguard/internal/hashio"
)

// LegacyApprovedAt is the sentinel approvedAt value used for entries
// imported from the legacy single-file baseline format.
const LegacyApprovedAt = "legacy"

// CurrentVersion is the schema version written by new indexes.
const CurrentVersion = 1

// FileName is the baseline index's file name under the state directory.
const FileName = "baselines.json"

// ApprovedDir is the snapshot tree's directory name under the state
// directory.
const ApprovedDir = "approved"

// legacyShaFile and legacySoulPath are probed together to detect a
// pre-index single-file baseline.
const (
	legacyShaFile  = "approved.sha256"
	legacySoulPath = "SOUL.md"
)

// Entry is one file's baseline record.
type Entry struct {
	ApprovedAt string `json:"approvedAt"`
	SHA256     string `json:"sha256"`
}

// Index is the on-disk baselines.json schema. Fields are declared in
// lexicographic order of their JSON keys so Save emits sorted keys.
type Index struct {
	Files   map[string]Entry `json:"files"`
	Version int              `json:"version"`
}

func empty() *Index {
	return &Index{Version: CurrentVersion, Files: map[string]Entry{}}
}

func indexPath(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// ApprovedPath returns the on-disk snapshot path for relPath under
// stateDir.
func ApprovedPath(stateDir, relPath string) string {
	return filepath.Join(stateDir, ApprovedDir, filepath.FromSlash(relPath))
}

// Load reads baselines.json if present, else attempts a legacy
// single-file import, else returns an empty index.
func Load(stateDir string) (*Index, error) {
	b, err := os.ReadFile(indexPath(stateDir))
	if err == nil {
		var idx Index
		if err := json.Unmarshal(b, &idx); err != nil {
			return nil, fmt.Errorf("parse baselines: %w", err)
		}
		if idx.Files == nil {
			idx.Files = map[string]Entry{}
		}
		return &idx, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read baselines: %w", err)
	}

	legacyIdx, ok, legacyErr := tryLegacyImport(stateDir)
	if legacyErr != nil {
		return nil, legacyErr
	}
	if ok {
		return legacyIdx, nil
	}
	return empty(), nil
}

func tryLegacyImport(stateDir string) (*Index, bool, error) {
	shaPath := filepath.Join(stateDir, legacyShaFile)
	soulSnapshot := filepath.Join(stateDir, ApprovedDir, legacySoulPath)

	if _, err := os.Stat(shaPath); err != nil {
		return nil, false, nil
	}
	if _, err := os.Stat(soulSnapshot); err != nil {
		return nil, false, nil
	}

	raw, err := os.ReadFile(shaPath)
	if err != nil {
		return nil, false, fmt.Errorf("read legacy baseline: %w", err)
	}
	sha := strings.TrimSpace(string(raw))

	idx := empty()
	idx.Files[legacySoulPath] = Entry{SHA256: sha, ApprovedAt: LegacyApprovedAt}
	return idx, true, nil
}

// Save atomically writes idx to baselines.json under stateDir, sorted
// keys, 2-space indent, trailing newline.
func Save(stateDir string, idx *Index) error {
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baselines: %w", err)
	}
	b = append(b, '\n')
	return hashio.AtomicWriteFile(indexPath(stateDir), b, 0o644)
}

// Set records relPath's approved content: writes the snapshot atomically
// and updates idx in place (caller persists with Save).
func Set(stateDir string, idx *Index, relPath string, content []byte, approvedAt time.Time) error {
	snapPath := ApprovedPath(stateDir, relPath)
	if err := hashio.AtomicWriteFile(snapPath, content, 0o644); err != nil {
		return fmt.Errorf("write snapshot for %s: %w", relPath, err)
	}
	idx.Files[relPath] = Entry{
		SHA256:     hashio.SumBytes(content),
		ApprovedAt: approvedAt.UTC().Format(time.RFC3339),
	}
	return nil
}

// Get returns the baseline entry for relPath, if any.
func Get(idx *Index, relPath string) (Entry, bool) {
	e, ok := idx.Files[relPath]
	return e, ok
}

// SnapshotExists reports whether relPath has an on-disk approved
// snapshot under stateDir.
func SnapshotExists(stateDir, relPath string) bool {
	_, err := os.Stat(ApprovedPath(stateDir, relPath))
	return err == nil
}

// ReadSnapshot reads relPath's approved snapshot bytes.
func ReadSnapshot(stateDir, relPath string) ([]byte, error) {
	return hashio.ReadFile(ApprovedPath(stateDir, relPath))
}

// VerifySnapshotConsistency checks that relPath's recorded SHA matches
// the hash of its on-disk snapshot, if a baseline entry exists for it.
func VerifySnapshotConsistency(stateDir string, idx *Index, relPath string) error {
	entry, ok := Get(idx, relPath)
	if !ok {
		return nil
	}
	b, err := ReadSnapshot(stateDir, relPath)
	if err != nil {
		return fmt.Errorf("snapshot consistency check failed for %s: %w", relPath, err)
	}
	if got := hashio.SumBytes(b); got != entry.SHA256 {
		return fmt.Errorf("snapshot consistency check failed for %s: snapshot sha %s != baseline sha %s", relPath, got, entry.SHA256)
	}
	return nil
}
