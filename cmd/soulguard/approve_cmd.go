package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soulguard/soulguard/internal/diag"
)

var approveCmd = &cobra.Command{
	Use:   "approve",
	Short: "Accept the current content of one or more targets as the new baseline",
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

		result, err := eng.Approve(actor, note, files, all)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		for _, f := range result.Files {
			log.Logf("approved %s (%s)", f.RelPath, f.ApprovedSha)
		}
	},
}

func init() {
	approveCmd.Flags().String("actor", "", "identity recorded on audit events")
	approveCmd.Flags().String("note", "", "free-text note recorded on audit events")
	approveCmd.Flags().StringArray("file", nil, "relative path to approve (repeatable)")
	approveCmd.Flags().Bool("all", false, "approve every non-ignore target")
	rootCmd.AddCommand(approveCmd)
}
