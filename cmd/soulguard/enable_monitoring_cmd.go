package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var enableMonitoringCmd = &cobra.Command{
	Use:   "enable-monitoring",
	Short: "Print the scheduler commands that would run check periodically",
	Long: `enable-monitoring does not install anything. It prints the
cron and systemd-timer invocations an operator can copy to run "check"
on a schedule, using the same binary and state directory as this
invocation.`,
	Run: func(cmd *cobra.Command, _ []string) {
		bin, err := os.Executable()
		if err != nil {
			bin = "soulguard"
		}
		sd := stateDir(cmd)

		fmt.Printf("# cron (every 5 minutes)\n")
		fmt.Printf("*/5 * * * * %s check --state-dir %s >>/var/log/soulguard.log 2>&1\n\n", bin, sd)
		fmt.Printf("# systemd timer unit (OnUnitActiveSec=5min)\n")
		fmt.Printf("ExecStart=%s check --state-dir %s\n", bin, sd)
	},
}

func init() {
	rootCmd.AddCommand(enableMonitoringCmd)
}
