package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verifyAuditCmd = &cobra.Command{
	Use:   "verify-audit",
	Short: "Replay the audit log's hash chain and report whether it is intact",
	Run: func(cmd *cobra.Command, _ []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		result, err := eng.VerifyAudit()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		if !result.OK {
			fmt.Fprintf(os.Stderr, "ERROR: %s\n", result.Message)
			os.Exit(1)
		}
		fmt.Println(result.Message)
	},
}

func init() {
	rootCmd.AddCommand(verifyAuditCmd)
}
