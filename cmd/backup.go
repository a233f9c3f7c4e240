package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"dumpkeep/internal/backup"
)

// Backup flags
var backupTier string

var backupCmd = &cobra.Command{
	Use:   "backup [target]",
	Short: "Produce a one-off backup",
	Long: `Produce a backup of one target, or of every configured target, and
store it in the requested tier. A one-off backup never promotes between
tiers and never prunes; that only happens in scheduled cycles.

Examples:
  # Back up every configured target into the hourly tier
  dumpkeep backup

  # Back up one target
  dumpkeep backup orders

  # Store the artifact in the daily tier instead
  dumpkeep backup orders --tier daily`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVar(&backupTier, "tier", string(backup.TierHourly), "tier to store the artifact in (hourly, daily, weekly, monthly, yearly)")
}

func runBackup(cmd *cobra.Command, args []string) error {
	tier := backup.Tier(backupTier)
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", backupTier)
	}

	a, out, err := newApp(cmd)
	if err != nil {
		return err
	}

	targets := a.TargetNames()
	if len(args) == 1 {
		targets = args
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets configured")
	}

	failed := 0
	for _, name := range targets {
		result, err := a.ProduceNow(cmd.Context(), name, tier)
		if err != nil {
			out.Errorf("Backup of %s failed: %v", name, err)
			failed++
			continue
		}
		out.ArtifactStored(result.Dump, result.Artifact)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d backups failed", failed, len(targets))
	}
	return nil
}
