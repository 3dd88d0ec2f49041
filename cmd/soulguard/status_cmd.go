package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/soulguard/soulguard/internal/output"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current state of every protected target as JSON",
	Run: func(cmd *cobra.Command, _ []string) {
		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		st, err := eng.Status()
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		if err := output.WriteStatusJSON(os.Stdout, st); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
