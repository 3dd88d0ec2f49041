// Package output renders soulguard's three result shapes: JSON status,
// a single-line drift summary, and a styled human-readable alert block.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// DriftMarker is the literal token every JSON drift summary line begins
// with.
const DriftMarker = "SOUL_GUARDIAN_DRIFT"

// StatusFile is one target's entry in `status`'s JSON report.
type StatusFile struct {
	Path             string `json:"path"`
	Mode             string `json:"mode"`
	Exists           bool   `json:"exists"`
	IsSymlink        bool   `json:"isSymlink"`
	ApprovedSha      string `json:"approvedSha,omitempty"`
	CurrentSha       string `json:"currentSha,omitempty"`
	ApprovedSnapshot bool   `json:"approvedSnapshot"`
	OK               bool   `json:"ok"`
}

// Status is the full payload of the `status` command.
type Status struct {
	GeneratedAt   string       `json:"generatedAt"`
	WorkspaceRoot string       `json:"workspaceRoot"`
	StateDir      string       `json:"stateDir"`
	Files         []StatusFile `json:"files"`
}

// WriteStatusJSON marshals a Status as indented JSON to w.
func WriteStatusJSON(w io.Writer, s Status) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(s)
}

// DriftFile is one target's entry in a drift summary.
type DriftFile struct {
	Path     string `json:"path"`
	Mode     string `json:"mode"`
	Restored bool   `json:"restored"`
	Patch    string `json:"patch,omitempty"`
	Error    string `json:"error,omitempty"`
}

// DriftSummary is the payload of the single-line JSON drift report.
type DriftSummary struct {
	Event string      `json:"event"`
	Count int         `json:"count"`
	Files []DriftFile `json:"files"`
}

// WriteDriftLine writes "SOUL_GUARDIAN_DRIFT <summary-json>\n" to w.
func WriteDriftLine(w io.Writer, summary DriftSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s %s\n", DriftMarker, body)
	return err
}

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	fieldStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	pathStyle   = lipgloss.NewStyle().Bold(true)
)

func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// WriteAlertBlock renders a human-readable multi-line alert: a banner,
// one paragraph per drifted file, and a closing hint.
func WriteAlertBlock(w io.Writer, workspaceRoot string, files []DriftFile, at time.Time) error {
	color := useColor(w)
	style := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	b.WriteString(style(bannerStyle, fmt.Sprintf("⚠ soulguard detected drift in %d file(s) — %s", len(files), at.UTC().Format(time.RFC3339))))
	b.WriteString("\n\n")

	for _, f := range files {
		b.WriteString(style(pathStyle, f.Path))
		b.WriteString(fmt.Sprintf(" (%s)\n", f.Mode))
		if f.Error != "" {
			b.WriteString(style(fieldStyle, "  error: "))
			b.WriteString(f.Error)
			b.WriteString("\n")
		}
		if f.Restored {
			b.WriteString(style(fieldStyle, "  restored from baseline\n"))
		} else {
			b.WriteString(style(fieldStyle, "  left in place (alert mode)\n"))
		}
		if f.Patch != "" {
			b.WriteString(style(fieldStyle, "  diff: "))
			b.WriteString(f.Patch)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(style(fieldStyle, fmt.Sprintf("workspace: %s — run \"soulguard approve\" to accept a change, or \"soulguard restore\" to force recovery.\n", workspaceRoot)))

	_, err := io.WriteString(w, b.String())
	return err
}
