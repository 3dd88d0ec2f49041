// Package policy parses the soulguard policy document and resolves it
// against a workspace root into a concrete, deduplicated set of protected
// targets.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/soulguard/soulguard/internal/hashio"
)

// Mode is the effective handling mode for a protected target.
type Mode string

const (
	ModeRestore Mode = "restore"
	ModeAlert   Mode = "alert"
	ModeIgnore  Mode = "ignore"
)

func (m Mode) valid() bool {
	switch m {
	case ModeRestore, ModeAlert, ModeIgnore:
		return true
	default:
		return false
	}
}

// Entry is one line of the policy document: either a direct path or a
// glob pattern, each carrying an effective mode.
type Entry struct {
	Path    string `json:"path,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Mode    Mode   `json:"mode"`
}

func (e Entry) isPattern() bool { return e.Pattern != "" }

// Document is the on-disk policy.json schema.
type Document struct {
	Version       int     `json:"version"`
	WorkspaceRoot string  `json:"workspaceRoot"`
	Targets       []Entry `json:"targets"`
}

// CurrentVersion is the schema version written by Default and Init.
const CurrentVersion = 1

// Target is one resolved (relPath, mode) pair.
type Target struct {
	RelPath string
	Mode    Mode
}

// FileName is the policy document's file name under the state directory.
const FileName = "policy.json"

// Path returns the on-disk path of the policy document under stateDir.
func Path(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// Load reads and parses policy.json from stateDir.
func Load(stateDir string) (*Document, error) {
	b, err := os.ReadFile(Path(stateDir))
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return &doc, nil
}

// Exists reports whether a policy document is already present.
func Exists(stateDir string) bool {
	_, err := os.Stat(Path(stateDir))
	return err == nil
}

// Save atomically writes doc to policy.json under stateDir, keys in
// struct declaration order, 2-space indent, trailing newline.
func Save(stateDir string, doc *Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	b = append(b, '\n')
	return hashio.AtomicWriteFile(Path(stateDir), b, 0o644)
}

// Default returns the default policy seed: SOUL.md and
// AGENTS.md under restore, USER.md/TOOLS.md/IDENTITY.md/HEARTBEAT.md/
// MEMORY.md under alert, and memory/*.md ignored.
func Default(workspaceRoot string) *Document {
	return &Document{
		Version:       CurrentVersion,
		WorkspaceRoot: workspaceRoot,
		Targets: []Entry{
			{Path: "SOUL.md", Mode: ModeRestore},
			{Path: "AGENTS.md", Mode: ModeRestore},
			{Path: "USER.md", Mode: ModeAlert},
			{Path: "TOOLS.md", Mode: ModeAlert},
			{Path: "IDENTITY.md", Mode: ModeAlert},
			{Path: "HEARTBEAT.md", Mode: ModeAlert},
			{Path: "MEMORY.md", Mode: ModeAlert},
			{Pattern: "memory/*.md", Mode: ModeIgnore},
		},
	}
}

// normalizeRel normalizes a relative path to forward-slash separators.
func normalizeRel(rel string) string {
	return filepath.ToSlash(rel)
}

// Resolve expands doc against workspaceRoot into the effective target
// set: direct entries included verbatim, pattern entries expanded
// via glob bounded to workspaceRoot, invalid modes skipped, duplicates
// resolved last-write-wins, and the result sorted by relPath.
func Resolve(doc *Document, workspaceRoot string) ([]Target, error) {
	byPath := make(map[string]Mode)
	order := make([]string, 0, len(doc.Targets))

	addOrUpdate := func(rel string, mode Mode) {
		rel = normalizeRel(rel)
		if _, exists := byPath[rel]; !exists {
			order = append(order, rel)
		}
		byPath[rel] = mode
	}

	for _, entry := range doc.Targets {
		if !entry.Mode.valid() {
			continue
		}
		if entry.isPattern() {
			matches, err := expandGlob(workspaceRoot, entry.Pattern)
			if err != nil {
				return nil, fmt.Errorf("expand pattern %q: %w", entry.Pattern, err)
			}
			for _, rel := range matches {
				addOrUpdate(rel, entry.Mode)
			}
			continue
		}
		addOrUpdate(entry.Path, entry.Mode)
	}

	targets := make([]Target, 0, len(order))
	for _, rel := range order {
		targets = append(targets, Target{RelPath: rel, Mode: byPath[rel]})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].RelPath < targets[j].RelPath })
	return targets, nil
}

// expandGlob expands pattern relative to workspaceRoot, skipping
// directories, returning relPaths bounded to workspaceRoot (no traversal
// above it).
func expandGlob(workspaceRoot, pattern string) ([]string, error) {
	absPattern := filepath.Join(workspaceRoot, filepath.FromSlash(pattern))
	matches, err := filepath.Glob(absPattern)
	if err != nil {
		return nil, err
	}
	var rels []string
	for _, m := range matches {
		info, err := os.Lstat(m)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(workspaceRoot, m)
		if err != nil {
			continue
		}
		if strings.HasPrefix(rel, "..") {
			continue // outside workspaceRoot; never emitted
		}
		rels = append(rels, normalizeRel(rel))
	}
	return rels, nil
}

// Lookup resolves the effective mode for a single relPath: direct-path
// entries are checked first in policy order, then pattern entries via
// shell-style glob matching, first match wins. This intentionally
// differs from Resolve's last-write-wins semantics.
func Lookup(doc *Document, relPath string) (Mode, bool) {
	relPath = normalizeRel(relPath)

	for _, entry := range doc.Targets {
		if entry.isPattern() || !entry.Mode.valid() {
			continue
		}
		if normalizeRel(entry.Path) == relPath {
			return entry.Mode, true
		}
	}
	for _, entry := range doc.Targets {
		if !entry.isPattern() || !entry.Mode.valid() {
			continue
		}
		matched, err := filepath.Match(filepath.FromSlash(entry.Pattern), filepath.FromSlash(relPath))
		if err == nil && matched {
			return entry.Mode, true
		}
	}
	return "", false
}
