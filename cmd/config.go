package cmd

import (
	"github.com/spf13/cobra"

	"dumpkeep/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dumpkeep configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a commented starter configuration file",
	Long: `Init writes a starter dumpkeep.yaml with every setting present and
commented, ready to edit. It refuses to overwrite an existing file
unless --force is given.

Examples:
  # Write ./dumpkeep.yaml
  dumpkeep config init

  # Write somewhere else, replacing what is there
  dumpkeep config init /etc/dumpkeep/dumpkeep.yaml --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.ConfigName + ".yaml"
	if len(args) > 0 {
		path = args[0]
	}

	if err := config.WriteExample(path, configForce); err != nil {
		return err
	}

	newDisplay().Successf("Wrote starter configuration to %s", path)
	return nil
}
