// Package drift compares live workspace files against their approved
// baselines and produces unified-diff patch artifacts for anything that
// has changed.
package drift

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/soulguard/soulguard/internal/baseline"
	"github.com/soulguard/soulguard/internal/hashio"
)

// PatchDir is the directory name under the state directory where diff
// artifacts are written.
const PatchDir = "patches"

// Tag distinguishes why a patch was generated.
type Tag string

const (
	TagDrift   Tag = "drift"
	TagApprove Tag = "approve"
)

// Result is the outcome of evaluating one target for drift.
type Result struct {
	RelPath     string
	Drifted     bool
	Missing     bool
	ApprovedSha string
	CurrentSha  string
	PatchPath   string
	Err         string
}

var sanitizeRE = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeComponent sanitizes a relative path into a safe patch filename
// component: path separators become "_", only [A-Za-z0-9_-] survives,
// the result is truncated to 40 characters, and an empty result becomes
// "patch".
func SanitizeComponent(relPath string) string {
	replaced := strings.ReplaceAll(relPath, "/", "_")
	replaced = strings.ReplaceAll(replaced, string(filepath.Separator), "_")
	cleaned := sanitizeRE.ReplaceAllString(replaced, "")
	if len(cleaned) > 40 {
		cleaned = cleaned[:40]
	}
	if cleaned == "" {
		return "patch"
	}
	return cleaned
}

func patchFileName(relPath string, tag Tag, at time.Time) string {
	ts := at.UTC().Format("20060102T150405Z")
	return fmt.Sprintf("%s-%s-%s.patch", ts, SanitizeComponent(relPath), tag)
}

// toDiffText decodes bytes as UTF-8, replacing invalid sequences with the
// Unicode replacement character, and splits on lines for difflib.
func toDiffText(b []byte) []string {
	s := string(b)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return difflib.SplitLines(s)
}

// unifiedDiff renders a unified diff between approved and current text.
func unifiedDiff(relPath string, approved, current []byte) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        toDiffText(approved),
		B:        toDiffText(current),
		FromFile: "approved/" + relPath,
		ToFile:   "current/" + relPath,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(ud)
}

// writePatch renders and atomically persists a unified diff for relPath,
// returning the patch's on-disk path.
func writePatch(stateDir, relPath string, approved, current []byte, tag Tag, at time.Time) (string, error) {
	text, err := unifiedDiff(relPath, approved, current)
	if err != nil {
		return "", fmt.Errorf("generate diff for %s: %w", relPath, err)
	}
	path := filepath.Join(stateDir, PatchDir, patchFileName(relPath, tag, at))
	if err := hashio.AtomicWriteText(path, text, 0o644); err != nil {
		return "", fmt.Errorf("write patch for %s: %w", relPath, err)
	}
	return path, nil
}

// Detect evaluates drift for one non-ignore target.
func Detect(workspaceRoot, stateDir string, idx *baseline.Index, relPath string, now time.Time) (Result, error) {
	res := Result{RelPath: relPath}
	abs := filepath.Join(workspaceRoot, filepath.FromSlash(relPath))

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			res.Drifted = true
			res.Missing = true
			res.Err = fmt.Sprintf("Missing %s", relPath)
			return res, nil
		}
		return Result{}, fmt.Errorf("stat %s: %w", abs, err)
	}

	isLink, err := hashio.IsSymlink(abs)
	if err != nil {
		return Result{}, err
	}
	if isLink {
		res.Drifted = true
		res.Err = fmt.Sprintf("%s: %v", relPath, hashio.ErrSymlink)
		return res, nil
	}

	entry, hasBaseline := baseline.Get(idx, relPath)
	if !hasBaseline || !baseline.SnapshotExists(stateDir, relPath) {
		res.Drifted = true
		res.Err = fmt.Sprintf("Not initialized for %s", relPath)
		return res, nil
	}

	current, err := hashio.ReadFile(abs)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", abs, err)
	}
	currentSha := hashio.SumBytes(current)
	res.ApprovedSha = entry.SHA256
	res.CurrentSha = currentSha

	if currentSha == entry.SHA256 {
		return res, nil
	}

	approved, err := baseline.ReadSnapshot(stateDir, relPath)
	if err != nil {
		return Result{}, fmt.Errorf("read snapshot for %s: %w", relPath, err)
	}
	patchPath, err := writePatch(stateDir, relPath, approved, current, TagDrift, now)
	if err != nil {
		return Result{}, err
	}

	res.Drifted = true
	res.PatchPath = patchPath
	return res, nil
}

// ApproveDiff generates an "approve"-tagged diff between the prior
// approved snapshot (if any) and newContent, used by the approve command
// to keep a forensic trail of what changed. When there is no prior
// snapshot, the diff is taken against empty content.
func ApproveDiff(stateDir, relPath string, newContent []byte, now time.Time) (string, error) {
	var prior []byte
	if baseline.SnapshotExists(stateDir, relPath) {
		var err error
		prior, err = baseline.ReadSnapshot(stateDir, relPath)
		if err != nil {
			return "", err
		}
	}
	return writePatch(stateDir, relPath, prior, newContent, TagApprove, now)
}
