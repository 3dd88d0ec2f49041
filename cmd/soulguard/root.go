package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/soulguard/soulguard/internal/config"
	"github.com/soulguard/soulguard/internal/engine"
)

var cliConfig = config.New()

var rootCmd = &cobra.Command{
	Use:   "soulguard",
	Short: "Detect and repair unauthorized edits to protected workspace files",
	Long: `soulguard protects a workspace's load-bearing files (agent
instructions, identity files, shared memory) from unauthorized drift. It
maintains an approved baseline per file, periodically checks the
workspace against it, auto-heals restore-mode files, and keeps a
tamper-evident audit trail of everything it does.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("state-dir", "", "directory holding policy, baselines, and audit log (default $HOME/.soulguard)")
	rootCmd.PersistentFlags().String("workspace", "", "workspace root to protect (default current directory)")
	rootCmd.PersistentFlags().Bool("verbose", false, "print progress to stderr")
}

func workspaceRoot(cmd *cobra.Command) (string, error) {
	ws, _ := cmd.Flags().GetString("workspace")
	if ws != "" {
		return filepath.Abs(ws)
	}
	return os.Getwd()
}

func stateDir(cmd *cobra.Command) string {
	sd, _ := cmd.Flags().GetString("state-dir")
	if sd != "" {
		cliConfig.SetStateDir(sd)
	}
	return cliConfig.StateDir()
}

func newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	ws, err := workspaceRoot(cmd)
	if err != nil {
		return nil, err
	}
	return engine.New(ws, stateDir(cmd), time.Now), nil
}

func actorFlag(cmd *cobra.Command) string {
	a, _ := cmd.Flags().GetString("actor")
	if a != "" {
		cliConfig.SetActor(a)
	}
	return cliConfig.Actor()
}

func noteFlag(cmd *cobra.Command) string {
	n, _ := cmd.Flags().GetString("note")
	return n
}
