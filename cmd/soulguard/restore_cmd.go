package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soulguard/soulguard/internal/diag"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Force restore-mode targets back to their approved baseline",
	Run: func(cmd *cobra.Command, _ []string) {
		actor := actorFlag(cmd)
		note := noteFlag(cmd)
		files, _ := cmd.Flags().GetStringArray("file")
		all, _ := cmd.Flags().GetBool("all")
		verbose, _ := cmd.Flags().GetBool("verbose")
		log := diag.New(os.Stderr, verbose)

		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		result, err := eng.Restore(actor, note, files, all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		for _, f := range result.Files {
			if f.Restored {
				log.Logf("restored %s (quarantined pre-restore bytes at %s)", f.RelPath, f.QuarantinePath)
			} else {
				log.Logf("%s already matches baseline", f.RelPath)
			}
		}
	},
}

func init() {
	restoreCmd.Flags().String("actor", "", "identity recorded on audit events")
	restoreCmd.Flags().String("note", "", "free-text note recorded on audit events")
	restoreCmd.Flags().StringArray("file", nil, "relative path to restore (repeatable)")
	restoreCmd.Flags().Bool("all", false, "restore every restore-mode target")
	rootCmd.AddCommand(restoreCmd)
}
