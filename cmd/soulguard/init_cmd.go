package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soulguard/soulguard/internal/diag"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the policy document and baseline snapshots for protected files",
	Run: func(cmd *cobra.Command, _ []string) {
		actor := actorFlag(cmd)
		note := noteFlag(cmd)
		forcePolicy, _ := cmd.Flags().GetBool("force-policy")
		verbose, _ := cmd.Flags().GetBool("verbose")
		log := diag.New(os.Stderr, verbose)

		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		result, err := eng.Init(actor, note, forcePolicy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		if result.PolicyWritten {
			log.Logf("wrote default policy")
		}
		for _, f := range result.Files {
			switch {
			case f.Baselined:
				log.Logf("baselined %s", f.RelPath)
			case f.Skipped:
				log.Logf("skipped %s: %s", f.RelPath, f.SkipReason)
			}
		}
	},
}

func init() {
	initCmd.Flags().String("actor", "", "identity recorded on audit events")
	initCmd.Flags().String("note", "", "free-text note recorded on audit events")
	initCmd.Flags().Bool("force-policy", false, "overwrite the policy document with the default seed")
	rootCmd.AddCommand(initCmd)
}
