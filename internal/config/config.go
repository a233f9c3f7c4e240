// Package config loads, validates and materializes the dumpkeep
// configuration file. The YAML file is read through viper so that every
// setting can also arrive via DUMPKEEP_* environment variables, and
// validation collects every problem instead of stopping at the first one.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/database"
	"dumpkeep/internal/uploader"
)

const (
	// ConfigName is the basename of the configuration file (dumpkeep.yaml)
	ConfigName = "dumpkeep"

	// EnvPrefix is the prefix for environment variable overrides
	EnvPrefix = "DUMPKEEP"

	// DefaultPromotionHour is the wall-clock hour at which scheduled cycles
	// promote the fresh hourly artifact into the longer tiers.
	DefaultPromotionHour = 0

	// DefaultDiskFloorMB is the free-space floor below which cycles log a
	// low-disk warning.
	DefaultDiskFloorMB = 500
)

// scratchDirName is the hidden directory under the backup root used for
// staging when no scratch_root is configured.
const scratchDirName = ".scratch"

// targetNameRegex restricts target names to characters that are safe inside
// artifact filenames and directory names.
var targetNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// LoggingConfig controls the logrus-backed logger. AuditFile, when set,
// receives one JSON line per named operation in addition to the normal log.
type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	File      string `mapstructure:"file" yaml:"file,omitempty"`
	AuditFile string `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
}

// TargetConfig is the on-disk form of one backup target. Exactly one of
// Locator and LocatorEnv must be set; LocatorEnv names an environment
// variable holding the connection URL and is resolved at load time.
type TargetConfig struct {
	Name        string                   `mapstructure:"name" yaml:"name"`
	Engine      string                   `mapstructure:"engine" yaml:"engine"`
	Locator     string                   `mapstructure:"locator" yaml:"locator,omitempty"`
	LocatorEnv  string                   `mapstructure:"locator_env" yaml:"locator_env,omitempty"`
	Compression string                   `mapstructure:"compression" yaml:"compression,omitempty"`
	Retention   *backup.RetentionPolicy  `mapstructure:"retention" yaml:"retention,omitempty"`
	Encryption  *backup.EncryptionConfig `mapstructure:"encryption" yaml:"encryption,omitempty"`
	VerifyHour  *int                     `mapstructure:"verify_hour" yaml:"verify_hour,omitempty"`
}

// Config is the root of dumpkeep.yaml.
type Config struct {
	BackupRoot    string                    `mapstructure:"backup_root" yaml:"backup_root"`
	ScratchRoot   string                    `mapstructure:"scratch_root" yaml:"scratch_root,omitempty"`
	PromotionHour int                       `mapstructure:"promotion_hour" yaml:"promotion_hour"`
	DiskFloorMB   int64                     `mapstructure:"disk_floor_mb" yaml:"disk_floor_mb"`
	Targets       []TargetConfig            `mapstructure:"targets" yaml:"targets"`
	Replication   uploader.Config           `mapstructure:"replication" yaml:"replication,omitempty"`
	Notifications backup.NotificationConfig `mapstructure:"notifications" yaml:"notifications,omitempty"`
	Logging       LoggingConfig             `mapstructure:"logging" yaml:"logging,omitempty"`
}

// ValidationError describes one problem with the configuration
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors collects every configuration problem found in one pass
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add appends a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Init primes a viper instance with the config file search paths, the
// environment binding and the defaults. An explicit file pins the location;
// otherwise dumpkeep.yaml is searched in the working directory and in
// $HOME/.dumpkeep.
func Init(v *viper.Viper, explicitFile string) {
	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+ConfigName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("promotion_hour", DefaultPromotionHour)
	v.SetDefault("disk_floor_mb", DefaultDiskFloorMB)
	v.SetDefault("logging.level", "normal")
	v.SetDefault("logging.format", "text")
}

// Load reads the configuration from a primed viper instance, fills defaults
// and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no %s.yaml found in the search paths: %w", ConfigName, err)
		}
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyDefaults fills fields whose defaults derive from other fields
func (c *Config) applyDefaults() {
	if c.ScratchRoot == "" && c.BackupRoot != "" {
		c.ScratchRoot = filepath.Join(c.BackupRoot, scratchDirName)
	}
}

// Validate checks the whole configuration and returns every problem found
// as a single ValidationErrors value.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.BackupRoot == "" {
		errs.Add("backup_root", "backup root directory is required", nil)
	}
	if c.PromotionHour < 0 || c.PromotionHour > 23 {
		errs.Add("promotion_hour", "promotion hour must be between 0 and 23", c.PromotionHour)
	}
	if c.DiskFloorMB < 0 {
		errs.Add("disk_floor_mb", "disk floor cannot be negative", c.DiskFloorMB)
	}
	if len(c.Targets) == 0 {
		errs.Add("targets", "at least one target is required", nil)
	}

	seen := make(map[string]bool, len(c.Targets))
	for i := range c.Targets {
		c.Targets[i].validate(&errs, fmt.Sprintf("targets[%d]", i))
		name := c.Targets[i].Name
		if name != "" {
			if seen[name] {
				errs.Add(fmt.Sprintf("targets[%d].name", i), "duplicate target name", name)
			}
			seen[name] = true
		}
	}

	c.validateReplication(&errs)
	c.validateNotifications(&errs)
	c.Logging.validate(&errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (t *TargetConfig) validate(errs *ValidationErrors, prefix string) {
	structural := true

	if t.Name == "" {
		errs.Add(prefix+".name", "target name is required", nil)
		structural = false
	} else if !targetNameRegex.MatchString(t.Name) {
		errs.Add(prefix+".name", "target name may only contain letters, digits, dots, underscores and hyphens", t.Name)
		structural = false
	}

	switch {
	case t.Locator != "" && t.LocatorEnv != "":
		errs.Add(prefix, "locator and locator_env are mutually exclusive", nil)
		structural = false
	case t.Locator == "" && t.LocatorEnv == "":
		errs.Add(prefix, "a locator or locator_env is required", nil)
		structural = false
	}

	if t.VerifyHour != nil && (*t.VerifyHour < 0 || *t.VerifyHour > 23) {
		errs.Add(prefix+".verify_hour", "verify hour must be between 0 and 23", *t.VerifyHour)
	}

	if enc := t.Encryption; enc != nil && enc.Enabled {
		if enc.PassphraseFile == "" && len(enc.Recipients) == 0 {
			errs.Add(prefix+".encryption", "encryption requires a passphrase file or at least one recipient", nil)
		}
		for j, r := range enc.Recipients {
			if r.Name == "" || r.KeyFile == "" {
				errs.Add(fmt.Sprintf("%s.encryption.recipients[%d]", prefix, j), "recipient name and key_file are required", r.Name)
			}
		}
	}

	if !structural {
		return
	}
	if _, err := t.materialize(); err != nil {
		errs.Add(prefix, err.Error(), t.Name)
	}
}

func (c *Config) validateReplication(errs *ValidationErrors) {
	if c.Replication.Mirror != nil && c.Replication.Mirror.Path == "" {
		errs.Add("replication.mirror.path", "mirror path is required", nil)
	}
	if s3 := c.Replication.S3; s3 != nil {
		if err := s3.Validate(); err != nil {
			errs.Add("replication.s3", err.Error(), nil)
		}
	}
	if gcs := c.Replication.GCS; gcs != nil {
		if err := gcs.Validate(); err != nil {
			errs.Add("replication.gcs", err.Error(), nil)
		}
	}
	if azure := c.Replication.Azure; azure != nil {
		if err := azure.Validate(); err != nil {
			errs.Add("replication.azure", err.Error(), nil)
		}
	}
}

func (c *Config) validateNotifications(errs *ValidationErrors) {
	n := c.Notifications
	if !n.Enabled {
		return
	}
	if n.Webhook == nil && n.File == nil {
		errs.Add("notifications", "notifications are enabled but no channel is configured", nil)
	}
	if n.Webhook != nil && n.Webhook.URL == "" {
		errs.Add("notifications.webhook.url", "webhook URL is required", nil)
	}
	if n.File != nil && n.File.Path == "" {
		errs.Add("notifications.file.path", "notification file path is required", nil)
	}
	switch n.MinSeverity {
	case "", backup.SeverityInfo, backup.SeverityWarning, backup.SeverityCritical:
	default:
		errs.Add("notifications.min_severity", "minimum severity must be info, warning or critical", n.MinSeverity)
	}
}

func (l *LoggingConfig) validate(errs *ValidationErrors) {
	switch l.Level {
	case "", "quiet", "normal", "verbose", "debug":
	default:
		errs.Add("logging.level", "log level must be quiet, normal, verbose or debug", l.Level)
	}
	switch l.Format {
	case "", "text", "json":
	default:
		errs.Add("logging.format", "log format must be text or json", l.Format)
	}
}

// materialize converts the on-disk target form into a backup.Target,
// resolving locator indirection and applying the per-target defaults.
func (t *TargetConfig) materialize() (*backup.Target, error) {
	engine, err := database.ParseEngine(t.Engine)
	if err != nil {
		return nil, err
	}

	raw := t.Locator
	if t.LocatorEnv != "" {
		raw = os.Getenv(t.LocatorEnv)
		if raw == "" {
			return nil, fmt.Errorf("environment variable %s is unset or empty", t.LocatorEnv)
		}
	}
	locator, err := database.ParseLocator(engine, raw)
	if err != nil {
		return nil, err
	}

	retention := backup.DefaultRetentionPolicy
	if t.Retention != nil {
		retention = *t.Retention
	}

	compression := backup.CompressionTypeGzip
	if t.Compression != "" {
		compression, err = backup.ParseCompressionType(t.Compression)
		if err != nil {
			return nil, err
		}
	}

	return &backup.Target{
		Name:        t.Name,
		Engine:      engine,
		Locator:     locator,
		Retention:   retention,
		Compression: compression,
		Encryption:  t.Encryption,
		VerifyHour:  t.VerifyHour,
	}, nil
}

// BackupTargets materializes every configured target. On a validated
// configuration this cannot fail unless the environment changed since load.
func (c *Config) BackupTargets() ([]*backup.Target, error) {
	targets := make([]*backup.Target, 0, len(c.Targets))
	for i := range c.Targets {
		target, err := c.Targets[i].materialize()
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", c.Targets[i].Name, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// Target materializes the named target
func (c *Config) Target(name string) (*backup.Target, error) {
	for i := range c.Targets {
		if c.Targets[i].Name == name {
			return c.Targets[i].materialize()
		}
	}
	return nil, fmt.Errorf("target %s is not configured", name)
}

// LoggerConfig translates the logging section into the logger's own
// configuration type. Verbose and quiet override the configured level.
func (c *Config) LoggerConfig(verbose, quiet bool) LoggingConfig {
	cfg := c.Logging
	if verbose {
		cfg.Level = "verbose"
	}
	if quiet {
		cfg.Level = "quiet"
	}
	return cfg
}
