package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soulguard/soulguard/internal/audit"
	"github.com/soulguard/soulguard/internal/baseline"
	"github.com/soulguard/soulguard/internal/policy"
)

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newTestEngine(t *testing.T) (*Engine, string, string) {
	t.Helper()
	ws := t.TempDir()
	state := t.TempDir()
	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return New(ws, state, func() time.Time { return fixedNow }), ws, state
}

func writeWorkspaceFile(t *testing.T, ws, relPath, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(ws, relPath), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func countAuditRecords(t *testing.T, state string) int {
	t.Helper()
	b, err := os.ReadFile(audit.Path(state))
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// after a clean init, check finds no drift.
func TestScenarioCleanInit(t *testing.T) {
	e, ws, _ := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")

	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	res, err := e.Check("tester", "", false)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Drifted {
		t.Fatalf("expected no drift on clean workspace, got %+v", res.Files)
	}
}

// a restore-mode target that drifts gets rewritten back to its baseline on check.
func TestScenarioRestoreModeAutoHeals(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	writeWorkspaceFile(t, ws, "SOUL.md", "MALICIOUS\n")

	res, err := e.Check("cron", "", false)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Drifted {
		t.Fatal("expected drift to be detected")
	}

	got, err := os.ReadFile(filepath.Join(ws, "SOUL.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello soul\n" {
		t.Fatalf("expected SOUL.md restored to baseline, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(state, "quarantine", "SOUL.md.*.quarantine"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one quarantine file, got %v", matches)
	}
	q, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(q) != "MALICIOUS\n" {
		t.Fatalf("expected quarantine file to hold pre-restore bytes, got %q", q)
	}
}

// an alert-mode target that drifts is left in place, with drift recorded.
func TestScenarioAlertModeDriftPersists(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	writeWorkspaceFile(t, ws, "USER.md", "user v2\n")

	res, err := e.Check("tester", "", false)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Drifted {
		t.Fatal("expected drift to be detected")
	}

	got, err := os.ReadFile(filepath.Join(ws, "USER.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "user v2\n" {
		t.Fatalf("expected USER.md left untouched, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(state, "quarantine", "USER.md.*.quarantine"))
	if len(matches) != 0 {
		t.Fatalf("expected no quarantine file for an alert-mode target, got %v", matches)
	}

	b, err := os.ReadFile(audit.Path(state))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"event":"drift"`) {
		t.Fatal("expected a drift event in the audit log")
	}
	if strings.Contains(string(b), `"event":"restore"`) {
		t.Fatal("expected no restore event for an alert-mode target")
	}
}

// approving a changed file updates its baseline so a subsequent check is clean.
func TestScenarioApproveThenClean(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}
	writeWorkspaceFile(t, ws, "USER.md", "user v2\n")
	if _, err := e.Check("tester", "", false); err != nil {
		t.Fatalf("check: %v", err)
	}

	if _, err := e.Approve("tester", "accepted v2", []string{"USER.md"}, false); err != nil {
		t.Fatalf("approve: %v", err)
	}

	res, err := e.Check("tester", "", false)
	if err != nil {
		t.Fatalf("check after approve: %v", err)
	}
	if res.Drifted {
		t.Fatalf("expected clean check after approve, got %+v", res.Files)
	}

	idx, err := baseline.Load(state)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := baseline.Get(idx, "USER.md")
	if !ok {
		t.Fatal("expected a baseline entry for USER.md")
	}
	if entry.SHA256 != sha("user v2\n") {
		t.Fatalf("expected approved sha to equal sha of user v2, got %s", entry.SHA256)
	}
}

// mutating a past audit record without recomputing its chain hash must be caught by verify.
func TestScenarioAuditTamperDetection(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}
	writeWorkspaceFile(t, ws, "USER.md", "user v2\n")
	if _, err := e.Check("tester", "", false); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := e.Approve("tester", "accepted v2", []string{"USER.md"}, false); err != nil {
		t.Fatalf("approve: %v", err)
	}

	path := audit.Path(state)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	last := len(lines) - 1

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[last]), &rec); err != nil {
		t.Fatal(err)
	}
	rec["note"] = "tampered"
	mutated, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	lines[last] = string(mutated)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := e.VerifyAudit()
	if err != nil {
		t.Fatalf("verify-audit: %v", err)
	}
	if result.OK {
		t.Fatal("expected verification to fail after tampering")
	}
	if result.LineNumber != len(lines) {
		t.Fatalf("expected failure at line %d, got %d", len(lines), result.LineNumber)
	}
}

// an unrotated legacy audit log gets rotated aside the first time a new record is appended.
func TestScenarioLegacyAuditRotation(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")

	if err := os.MkdirAll(state, 0o750); err != nil {
		t.Fatal(err)
	}
	legacyLine := `{"ts":"2020-01-01T00:00:00Z","event":"init","actor":"legacy","note":""}` + "\n"
	if err := os.WriteFile(audit.Path(state), []byte(legacyLine), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := e.Check("tester", "", false); err != nil {
		t.Fatalf("check: %v", err)
	}

	matches, _ := filepath.Glob(filepath.Join(state, "audit.legacy.*.jsonl"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one rotated legacy log, got %v", matches)
	}

	result, err := e.VerifyAudit()
	if err != nil {
		t.Fatalf("verify-audit: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected the fresh audit log to verify, got %s", result.Message)
	}
}

// running check twice in succession on a clean workspace must not grow the audit log.
func TestInvariantCheckTwiceIdempotent(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := e.Check("tester", "", false); err != nil {
		t.Fatalf("check 1: %v", err)
	}
	before := countAuditRecords(t, state)

	if _, err := e.Check("tester", "", false); err != nil {
		t.Fatalf("check 2: %v", err)
	}
	after := countAuditRecords(t, state)

	if before != after {
		t.Fatalf("expected no new audit records on second clean check, had %d now %d", before, after)
	}
}

// ignore-mode targets never produce drift or audit events, even when changed.
func TestInvariantIgnoreHonored(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	if err := os.MkdirAll(filepath.Join(ws, "memory"), 0o750); err != nil {
		t.Fatal(err)
	}
	writeWorkspaceFile(t, ws, "memory/scratch.md", "ephemeral\n")

	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	writeWorkspaceFile(t, ws, "memory/scratch.md", "changed\n")

	res, err := e.Check("tester", "", false)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, f := range res.Files {
		if f.Path == "memory/scratch.md" {
			t.Fatalf("ignored path should never appear in drift output, got %+v", f)
		}
	}

	b, _ := os.ReadFile(audit.Path(state))
	if strings.Contains(string(b), "memory/scratch.md") {
		t.Fatal("ignored path should never appear in audit log")
	}
}

// a symlinked target is refused outright rather than having its link target read.
func TestInvariantSymlinkRefusal(t *testing.T) {
	e, ws, _ := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	target := filepath.Join(ws, "elsewhere.txt")
	if err := os.WriteFile(target, []byte("secret\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	soulPath := filepath.Join(ws, "SOUL.md")
	if err := os.Remove(soulPath); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, soulPath); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	res, err := e.Check("tester", "", false)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Drifted {
		t.Fatal("expected symlink to be reported as drift")
	}
	found := false
	for _, f := range res.Files {
		if f.Path == "SOUL.md" {
			found = true
			if !strings.Contains(f.Error, "symlink") {
				t.Fatalf("expected symlink error, got %q", f.Error)
			}
		}
	}
	if !found {
		t.Fatal("expected SOUL.md in drift results")
	}
}

// Round-trip law: write V, approve, modify to V', restore, bytes equal V.
func TestRoundTripApproveThenRestore(t *testing.T) {
	e, ws, _ := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "version one\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	writeWorkspaceFile(t, ws, "SOUL.md", "version two\n")
	if _, err := e.Approve("tester", "accept v2", []string{"SOUL.md"}, false); err != nil {
		t.Fatalf("approve: %v", err)
	}

	writeWorkspaceFile(t, ws, "SOUL.md", "version three (bad)\n")
	if _, err := e.Restore("tester", "force restore", []string{"SOUL.md"}, false); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(ws, "SOUL.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version two\n" {
		t.Fatalf("expected restore to recover last approved version, got %q", got)
	}
}

func TestApproveRejectsUnknownTarget(t *testing.T) {
	e, ws, _ := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	_, err := e.Approve("tester", "", []string{"NOT_TRACKED.md"}, false)
	if err == nil {
		t.Fatal("expected error approving an unknown target")
	}
	var unknown ErrUnknownTarget
	if !asUnknownTarget(err, &unknown) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func asUnknownTarget(err error, target *ErrUnknownTarget) bool {
	u, ok := err.(ErrUnknownTarget)
	if ok {
		*target = u
	}
	return ok
}

// approve/restore with neither --file nor --all fall back to a default
// of SOUL.md; when that default isn't a usable target, both must fail
// loudly rather than silently touching nothing.
func TestApproveAndRestoreRejectEmptyDefaultSelection(t *testing.T) {
	e, ws, state := newTestEngine(t)
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")

	doc := &policy.Document{
		Version:       policy.CurrentVersion,
		WorkspaceRoot: ws,
		Targets:       []policy.Entry{{Path: "USER.md", Mode: policy.ModeAlert}},
	}
	if err := policy.Save(state, doc); err != nil {
		t.Fatalf("save policy: %v", err)
	}
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	if _, err := e.Approve("tester", "", nil, false); err == nil {
		t.Fatal("expected approve with no selection and no SOUL.md target to fail")
	}
	if _, err := e.Restore("tester", "", nil, false); err == nil {
		t.Fatal("expected restore with no selection and no SOUL.md target to fail")
	}
}

func TestStatusReportsOKAndDrift(t *testing.T) {
	e, ws, _ := newTestEngine(t)
	writeWorkspaceFile(t, ws, "SOUL.md", "hello soul\n")
	writeWorkspaceFile(t, ws, "USER.md", "user v1\n")
	if _, err := e.Init("tester", "initial", false); err != nil {
		t.Fatalf("init: %v", err)
	}

	writeWorkspaceFile(t, ws, "USER.md", "user v2\n")

	st, err := e.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	byPath := map[string]bool{}
	for _, f := range st.Files {
		byPath[f.Path] = f.OK
	}
	if !byPath["SOUL.md"] {
		t.Fatal("expected SOUL.md to be OK")
	}
	if byPath["USER.md"] {
		t.Fatal("expected USER.md to report drift (not OK)")
	}
}

func TestDefaultPolicySeedUsedByInit(t *testing.T) {
	e, _, state := newTestEngine(t)
	if _, err := e.Init("tester", "", false); err != nil {
		t.Fatalf("init: %v", err)
	}
	doc, err := policy.Load(state)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Version != policy.CurrentVersion {
		t.Fatalf("expected default policy to be written, got version %d", doc.Version)
	}
}
