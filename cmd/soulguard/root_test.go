package main

import (
	"testing"

	"github.com/spf13/cobra"
)

func newFlagTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	c.Flags().String("state-dir", "", "")
	c.Flags().String("workspace", "", "")
	c.Flags().String("actor", "", "")
	c.Flags().String("note", "", "")
	return c
}

func TestWorkspaceRootExplicit(t *testing.T) {
	c := newFlagTestCmd(t)
	dir := t.TempDir()
	if err := c.Flags().Set("workspace", dir); err != nil {
		t.Fatal(err)
	}
	got, err := workspaceRoot(c)
	if err != nil {
		t.Fatal(err)
	}
	if got != dir {
		t.Fatalf("expected %s, got %s", dir, got)
	}
}

func TestWorkspaceRootDefaultsToCwd(t *testing.T) {
	c := newFlagTestCmd(t)
	cwd := t.TempDir()
	t.Chdir(cwd)
	got, err := workspaceRoot(c)
	if err != nil {
		t.Fatal(err)
	}
	if got != cwd {
		t.Fatalf("expected cwd %s, got %s", cwd, got)
	}
}

func TestStateDirOverride(t *testing.T) {
	c := newFlagTestCmd(t)
	dir := t.TempDir()
	if err := c.Flags().Set("state-dir", dir); err != nil {
		t.Fatal(err)
	}
	if got := stateDir(c); got != dir {
		t.Fatalf("expected override %s, got %s", dir, got)
	}
}

func TestActorFlagOverride(t *testing.T) {
	c := newFlagTestCmd(t)
	if err := c.Flags().Set("actor", "deploy-bot"); err != nil {
		t.Fatal(err)
	}
	if got := actorFlag(c); got != "deploy-bot" {
		t.Fatalf("expected deploy-bot, got %s", got)
	}
}

func TestNoteFlag(t *testing.T) {
	c := newFlagTestCmd(t)
	if err := c.Flags().Set("note", "scheduled run"); err != nil {
		t.Fatal(err)
	}
	if got := noteFlag(c); got != "scheduled run" {
		t.Fatalf("expected note to round-trip, got %s", got)
	}
}
