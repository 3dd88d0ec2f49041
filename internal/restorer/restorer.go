// Package restorer implements atomic restoration of a drifted file from
// its approved baseline, quarantining the pre-restore bytes first.
package restorer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soulguard/soulguard/internal/baseline"
	"github.com/soulguard/soulguard/internal/hashio"
)

// QuarantineDir is the directory name under the state directory where
// pre-restore copies are kept for forensics.
const QuarantineDir = "quarantine"

// Result reports what a Restore call did.
type Result struct {
	RelPath        string
	QuarantinePath string
}

func quarantinePath(stateDir, relPath string, at time.Time) string {
	ts := at.UTC().Format("20060102T150405Z")
	name := fmt.Sprintf("%s.%s.quarantine", strings.ReplaceAll(filepath.ToSlash(relPath), "/", "_"), ts)
	return filepath.Join(stateDir, QuarantineDir, name)
}

// Restore quarantines the live file's current bytes and atomically
// replaces it with the approved snapshot. The caller is responsible for
// having already confirmed drift and for appending the resulting audit
// record.
func Restore(workspaceRoot, stateDir, relPath string, now time.Time) (Result, error) {
	abs := filepath.Join(workspaceRoot, filepath.FromSlash(relPath))

	if err := hashio.RefuseSymlink(abs); err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Join(stateDir, QuarantineDir), 0o750); err != nil {
		return Result{}, fmt.Errorf("mkdir quarantine: %w", err)
	}

	var qPath string
	current, err := os.ReadFile(abs)
	switch {
	case err == nil:
		qPath = quarantinePath(stateDir, relPath, now)
		if err := hashio.AtomicWriteFile(qPath, current, 0o644); err != nil {
			return Result{}, fmt.Errorf("write quarantine for %s: %w", relPath, err)
		}
	case os.IsNotExist(err):
		// Nothing to quarantine; the file is simply recreated from baseline.
	default:
		return Result{}, fmt.Errorf("read current %s: %w", abs, err)
	}

	approved, err := baseline.ReadSnapshot(stateDir, relPath)
	if err != nil {
		return Result{}, fmt.Errorf("read approved snapshot for %s: %w", relPath, err)
	}
	if err := hashio.AtomicWriteFile(abs, approved, 0o644); err != nil {
		return Result{}, fmt.Errorf("restore %s: %w", abs, err)
	}

	return Result{RelPath: relPath, QuarantinePath: qPath}, nil
}
