package cmd

import (
	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables <target> [artifact]",
	Short: "List the tables inside a stored artifact",
	Long: `Tables reads an artifact and lists the tables whose CREATE TABLE
statements it contains, in dump order. The database is not contacted.

Examples:
  # Tables in the newest hourly artifact
  dumpkeep tables orders

  # Tables in a specific artifact
  dumpkeep tables orders orders_20240301T120000Z.sql.gz`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTables,
}

func init() {
	rootCmd.AddCommand(tablesCmd)
}

func runTables(cmd *cobra.Command, args []string) error {
	a, out, err := newApp(cmd)
	if err != nil {
		return err
	}

	artifact := ""
	if len(args) > 1 {
		artifact = args[1]
	}

	list, err := a.ListTables(args[0], artifact)
	if err != nil {
		return err
	}

	out.TableNames(list.Artifact, list.Tables)
	return nil
}
