package restorer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soulguard/soulguard/internal/baseline"
)

func TestRestoreQuarantinesAndReplaces(t *testing.T) {
	workspace := t.TempDir()
	stateDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(workspace, "SOUL.md"), []byte("MALICIOUS\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	idx, _ := baseline.Load(stateDir)
	if err := baseline.Set(stateDir, idx, "SOUL.md", []byte("hello soul\n"), time.Now()); err != nil {
		t.Fatal(err)
	}

	res, err := Restore(workspace, stateDir, "SOUL.md", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	restored, err := os.ReadFile(filepath.Join(workspace, "SOUL.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != "hello soul\n" {
		t.Fatalf("expected restored content, got %q", restored)
	}

	quarantined, err := os.ReadFile(res.QuarantinePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(quarantined) != "MALICIOUS\n" {
		t.Fatalf("expected quarantined content to be pre-restore bytes, got %q", quarantined)
	}
}

func TestRestoreMissingFileRecreates(t *testing.T) {
	workspace := t.TempDir()
	stateDir := t.TempDir()

	idx, _ := baseline.Load(stateDir)
	if err := baseline.Set(stateDir, idx, "SOUL.md", []byte("hello soul\n"), time.Now()); err != nil {
		t.Fatal(err)
	}

	res, err := Restore(workspace, stateDir, "SOUL.md", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if res.QuarantinePath != "" {
		t.Fatalf("expected no quarantine for a missing file, got %q", res.QuarantinePath)
	}

	restored, err := os.ReadFile(filepath.Join(workspace, "SOUL.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != "hello soul\n" {
		t.Fatalf("expected recreated content, got %q", restored)
	}
}

func TestRestoreRefusesSymlink(t *testing.T) {
	workspace := t.TempDir()
	stateDir := t.TempDir()

	real := filepath.Join(workspace, "real.md")
	if err := os.WriteFile(real, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(workspace, "SOUL.md")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	idx, _ := baseline.Load(stateDir)
	if err := baseline.Set(stateDir, idx, "SOUL.md", []byte("hello soul\n"), time.Now()); err != nil {
		t.Fatal(err)
	}

	if _, err := Restore(workspace, stateDir, "SOUL.md", time.Now()); err == nil {
		t.Fatal("expected symlink refusal")
	}
}
