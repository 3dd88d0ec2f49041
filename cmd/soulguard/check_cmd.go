package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soulguard/soulguard/internal/output"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate every protected target for drift and auto-heal restore-mode files",
	Run: func(cmd *cobra.Command, _ []string) {
		actor := actorFlag(cmd)
		note := noteFlag(cmd)
		noRestore, _ := cmd.Flags().GetBool("no-restore")
		format, _ := cmd.Flags().GetString("output-format")
		if format == "" {
			format = cliConfig.OutputFormat()
		}

		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		result, err := eng.Check(actor, note, noRestore)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		if !result.Drifted {
			os.Exit(0)
		}

		switch format {
		case "alert":
			if err := output.WriteAlertBlock(os.Stdout, eng.WorkspaceRoot, result.Files, time.Now()); err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				os.Exit(1)
			}
		default:
			summary := output.DriftSummary{Event: output.DriftMarker, Count: len(result.Files), Files: result.Files}
			if err := output.WriteDriftLine(os.Stdout, summary); err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				os.Exit(1)
			}
		}
		os.Exit(2)
	},
}

func init() {
	checkCmd.Flags().String("actor", "", "identity recorded on audit events")
	checkCmd.Flags().String("note", "", "free-text note recorded on audit events")
	checkCmd.Flags().Bool("no-restore", false, "report drift without restoring restore-mode targets")
	checkCmd.Flags().String("output-format", "", "json or alert (default json)")
	rootCmd.AddCommand(checkCmd)
}
