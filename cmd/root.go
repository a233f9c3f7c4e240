package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dumpkeep/internal/app"
	"dumpkeep/internal/config"
	"dumpkeep/internal/display"
	"dumpkeep/internal/logging"
)

var cfgFile string

// Global flag variables
var (
	verbose bool
	quiet   bool
	logFile string
	noColor bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dumpkeep",
	Short: "Tiered database backups with verified restores",
	Long: `Dumpkeep dumps configured databases on a schedule, stores the dumps as
compressed and optionally encrypted artifacts in tiered directories
(hourly, daily, weekly, monthly, yearly), prunes every tier to its
retention policy, and restores or verifies artifacts on demand.

Examples:
  # One-off backup of every configured target into the hourly tier
  dumpkeep backup

  # Back up a single target into the daily tier
  dumpkeep backup orders --tier daily

  # Check that the newest hourly artifact restores cleanly
  dumpkeep restore verify orders

  # Destructive restore of a named artifact, skipping the confirmation
  dumpkeep restore drop orders orders_20260511T090000Z.sql.gz --yes

  # List the tables stored in the newest artifact
  dumpkeep tables orders

  # Run one backup cycle, or keep running one per hour
  dumpkeep cycle
  dumpkeep cycle --daemon

  # Write a commented starter configuration
  dumpkeep config init`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default dumpkeep.yaml in . or $HOME/.dumpkeep)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file in addition to the terminal")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// loadConfig reads and validates the configuration for one invocation
func loadConfig() (*config.Config, error) {
	v := viper.New()
	config.Init(v, cfgFile)
	if err := v.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file")); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}
	return cfg, nil
}

// newLogger builds the logger from the loaded configuration and the
// verbosity flags. Logs go to stderr so result output stays clean.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := cfg.LoggerConfig(verbose, quiet)
	return logging.NewLogger(logging.Config{
		Level:   logging.LogLevel(lc.Level),
		Format:  lc.Format,
		Output:  os.Stderr,
		LogFile: lc.File,
	})
}

// newDisplay builds the terminal renderer from the global flags
func newDisplay() *display.Service {
	return display.NewService(display.Config{NoColor: noColor, Quiet: quiet})
}

// newApp wires the full service graph for one command invocation
func newApp(cmd *cobra.Command) (*app.App, *display.Service, error) {
	out := newDisplay()

	cfg, err := loadConfig()
	if err != nil {
		return nil, out, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, out, err
	}

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, out, err
	}
	return a, out, nil
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// versionCmd prints build information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dumpkeep version %s\n", version)
		fmt.Printf("Built: %s\n", buildTime)
		fmt.Printf("Commit: %s\n", gitCommit)
		fmt.Printf("Go version: %s\n", goVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
