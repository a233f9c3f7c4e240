package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cycleDaemon bool

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a retention cycle over every target",
	Long: `Cycle backs up every configured target into the hourly tier, promotes
artifacts into daily/weekly/monthly/yearly tiers when their boundaries
are crossed, and prunes each tier down to its keep-count. A failure on
one target is recorded and the cycle moves on to the next.

With --daemon the process stays up and runs a cycle at the top of every
hour until SIGINT or SIGTERM, finishing the cycle in flight before
exiting.

Examples:
  # One cycle, then exit (cron-friendly)
  dumpkeep cycle

  # Long-running scheduler
  dumpkeep cycle --daemon`,
	Args: cobra.NoArgs,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)

	cycleCmd.Flags().BoolVar(&cycleDaemon, "daemon", false, "stay up and run a cycle every hour")
}

func runCycle(cmd *cobra.Command, args []string) error {
	a, out, err := newApp(cmd)
	if err != nil {
		return err
	}

	if cycleDaemon {
		return a.RunCycleDaemon(cmd.Context())
	}

	report, err := a.RunCycleOnce(cmd.Context())
	if err != nil {
		return err
	}

	out.CycleReport(report)

	if failures := report.Failures(); failures > 0 {
		return fmt.Errorf("%d of %d targets failed", failures, len(report.Targets))
	}
	return nil
}
