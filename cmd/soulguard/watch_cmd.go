package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soulguard/soulguard/internal/output"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run check on a fixed interval until interrupted",
	Long: `watch runs check repeatedly with a fixed sleep between ticks. It is
a trivial sequential loop, not an event-driven watcher: there is no
filesystem notification and no internal parallelism, so a single
interrupt (SIGINT/SIGTERM) always lands between ticks.`,
	Run: func(cmd *cobra.Command, _ []string) {
		actor := actorFlag(cmd)
		note := noteFlag(cmd)
		interval, _ := cmd.Flags().GetInt("interval")
		if interval <= 0 {
			interval = 30
		}

		eng, err := newEngine(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			os.Exit(1)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		ticker := time.NewTicker(time.Duration(interval) * time.Second)
		defer ticker.Stop()

		for {
			result, err := eng.Check(actor, note, false)
			if err != nil {
				fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
				os.Exit(1)
			}
			if result.Drifted {
				if err := output.WriteAlertBlock(os.Stdout, eng.WorkspaceRoot, result.Files, time.Now()); err != nil {
					fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
					os.Exit(1)
				}
			}

			select {
			case <-sigChan:
				os.Exit(0)
			case <-ticker.C:
			}
		}
	},
}

func init() {
	watchCmd.Flags().String("actor", "", "identity recorded on audit events")
	watchCmd.Flags().String("note", "", "free-text note recorded on audit events")
	watchCmd.Flags().Int("interval", 30, "seconds between checks")
	rootCmd.AddCommand(watchCmd)
}
