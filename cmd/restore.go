package cmd

import (
	"github.com/spf13/cobra"

	"dumpkeep/internal/confirmation"
)

var (
	restoreYes      bool
	restoreDatabase string
)

// restoreCmd groups the restore subcommands
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a target from a stored artifact",
	Long: `Restore replays a stored artifact against a database.

verify replays into a disposable database and drops it afterwards, drop
replaces the real target database, and table restores a single table.
In every mode the artifact may be a bare filename (searched across all
tiers), an absolute path, or omitted to use the newest hourly artifact.`,
}

var restoreVerifyCmd = &cobra.Command{
	Use:   "verify <target> [artifact]",
	Short: "Replay an artifact into an ephemeral database",
	Long: `Verify replays the artifact into a disposable database named
verify_<target>_<timestamp> and drops it afterwards, whether or not the
replay succeeded. The real target database is never touched.

Examples:
  # Verify the newest hourly artifact
  dumpkeep restore verify orders

  # Verify a specific artifact by filename
  dumpkeep restore verify orders orders_20240301T120000Z.sql.gz`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestoreVerify,
}

var restoreDropCmd = &cobra.Command{
	Use:   "drop <target> [artifact]",
	Short: "Drop and recreate the target database from an artifact",
	Long: `Drop replaces the target database with the contents of the artifact.
Rows written since the artifact was taken are lost and cannot be
recovered by this tool.

The prompt requires typing the target name back; --yes skips the prompt
for scripted use.

Examples:
  # Restore the newest hourly artifact, with confirmation prompt
  dumpkeep restore drop orders

  # Restore a specific artifact into a different database, no prompt
  dumpkeep restore drop orders orders_20240301T120000Z.sql.gz --database orders_staging --yes`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRestoreDrop,
}

var restoreTableCmd = &cobra.Command{
	Use:   "table <target> <table> [artifact]",
	Short: "Restore a single table from an artifact",
	Long: `Table extracts one table's statements from the artifact and replays
them against the target database. Only that table is dropped and
recreated; the rest of the database is left alone.

Examples:
  # Restore the customers table from the newest hourly artifact
  dumpkeep restore table orders customers

  # Restore from a specific artifact
  dumpkeep restore table orders customers orders_20240301T120000Z.sql.gz`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRestoreTable,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.AddCommand(restoreVerifyCmd)
	restoreCmd.AddCommand(restoreDropCmd)
	restoreCmd.AddCommand(restoreTableCmd)

	restoreDropCmd.Flags().BoolVar(&restoreYes, "yes", false, "skip the typed confirmation prompt")
	restoreDropCmd.Flags().StringVar(&restoreDatabase, "database", "", "restore into this database instead of the target's own")
}

func runRestoreVerify(cmd *cobra.Command, args []string) error {
	a, out, err := newApp(cmd)
	if err != nil {
		return err
	}

	artifact := ""
	if len(args) > 1 {
		artifact = args[1]
	}

	result, err := a.VerifyRestore(cmd.Context(), args[0], artifact)
	if err != nil {
		return err
	}

	out.RestoreSummary(result)
	return nil
}

func runRestoreDrop(cmd *cobra.Command, args []string) error {
	a, out, err := newApp(cmd)
	if err != nil {
		return err
	}

	approved, err := confirmation.NewService().ConfirmDestructiveRestore(args[0], restoreDatabase, restoreYes)
	if err != nil {
		return err
	}
	if !approved {
		out.Warning("Restore aborted")
		return nil
	}

	artifact := ""
	if len(args) > 1 {
		artifact = args[1]
	}

	result, err := a.DestructiveRestore(cmd.Context(), args[0], artifact, restoreDatabase)
	if err != nil {
		return err
	}

	out.RestoreSummary(result)
	return nil
}

func runRestoreTable(cmd *cobra.Command, args []string) error {
	a, out, err := newApp(cmd)
	if err != nil {
		return err
	}

	artifact := ""
	if len(args) > 2 {
		artifact = args[2]
	}

	result, err := a.RestoreTable(cmd.Context(), args[0], artifact, args[1])
	if err != nil {
		return err
	}

	out.RestoreSummary(result)
	return nil
}
