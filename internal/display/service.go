// Package display renders operation results for the terminal. It owns color
// and TTY detection; everything else in the program returns structured
// results and leaves formatting here and to cmd.
package display

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/dump"
	"dumpkeep/internal/restore"
	"dumpkeep/internal/scheduler"
)

// Config controls how a Service writes its output
type Config struct {
	// Writer receives all output; defaults to stdout
	Writer io.Writer
	// NoColor forces plain text even on capable terminals
	NoColor bool
	// Quiet suppresses status decoration, keeping data and errors
	Quiet bool
}

// Service writes status messages and result renderings
type Service struct {
	writer io.Writer
	colors ColorSystem
	theme  ColorTheme
	quiet  bool
}

// NewService creates a display service
func NewService(cfg Config) *Service {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	theme := DefaultColorTheme()
	return &Service{
		writer: cfg.Writer,
		colors: NewColorSystem(theme, cfg.NoColor),
		theme:  theme,
		quiet:  cfg.Quiet,
	}
}

// Success prints a success status line
func (s *Service) Success(message string) {
	if s.quiet {
		return
	}
	fmt.Fprintf(s.writer, "%s %s\n", s.colors.Colorize("[OK]", s.theme.Success), message)
}

// Successf prints a formatted success status line
func (s *Service) Successf(format string, args ...interface{}) {
	s.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning status line
func (s *Service) Warning(message string) {
	if s.quiet {
		return
	}
	fmt.Fprintf(s.writer, "%s %s\n", s.colors.Colorize("[WARN]", s.theme.Warning), message)
}

// Warningf prints a formatted warning status line
func (s *Service) Warningf(format string, args ...interface{}) {
	s.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error status line. Errors print even in quiet mode.
func (s *Service) Error(message string) {
	fmt.Fprintf(s.writer, "%s %s\n", s.colors.Colorize("[ERROR]", s.theme.Error), message)
}

// Errorf prints a formatted error status line
func (s *Service) Errorf(format string, args ...interface{}) {
	s.Error(fmt.Sprintf(format, args...))
}

// Info prints an informational status line
func (s *Service) Info(message string) {
	if s.quiet {
		return
	}
	fmt.Fprintf(s.writer, "%s %s\n", s.colors.Colorize("[INFO]", s.theme.Info), message)
}

// Infof prints a formatted informational status line
func (s *Service) Infof(format string, args ...interface{}) {
	s.Info(fmt.Sprintf(format, args...))
}

// Printf writes raw output, bypassing quiet suppression
func (s *Service) Printf(format string, args ...interface{}) {
	fmt.Fprintf(s.writer, format, args...)
}

// NewTable creates a table bound to this service's color settings
func (s *Service) NewTable(headers ...string) *Table {
	return NewTable(s.colors, s.theme, headers...)
}

// ArtifactStored renders the outcome of a one-off backup
func (s *Service) ArtifactStored(result *dump.DumpResult, artifact *backup.Artifact) {
	s.Successf("Backed up %s to %s/%s", artifact.Target, artifact.Tier, artifact.Filename)
	if s.quiet {
		return
	}
	fmt.Fprintf(s.writer, "  strategy:  %s\n", result.Strategy)
	if result.ToolVersion != "" {
		fmt.Fprintf(s.writer, "  tool:      %s\n", result.ToolVersion)
	}
	fmt.Fprintf(s.writer, "  size:      %s\n", FormatBytes(artifact.SizeBytes))
	if artifact.Compressed {
		fmt.Fprintf(s.writer, "  compressed: %s\n", artifact.Compression)
	}
	if artifact.Encrypted {
		fmt.Fprintf(s.writer, "  encrypted: yes\n")
	}
	fmt.Fprintf(s.writer, "  checksum:  %s\n", shortChecksum(artifact.Checksum))
	fmt.Fprintf(s.writer, "  duration:  %s\n", formatDuration(result.Duration))
}

// CycleReport renders the per-target outcomes of one backup cycle
func (s *Service) CycleReport(report *scheduler.CycleReport) {
	table := s.NewTable("TARGET", "STATUS", "STRATEGY", "SIZE", "PRUNED", "PROMOTED", "DURATION")
	table.AlignRight(3, 4)

	for i := range report.Targets {
		outcome := &report.Targets[i]
		status := s.colors.Colorize("ok", s.theme.Success)
		if outcome.Failed() {
			status = s.colors.Colorize("failed", s.theme.Error)
		} else if outcome.Verified != nil && !*outcome.Verified {
			status = s.colors.Colorize("unverified", s.theme.Warning)
		}

		size := "-"
		if outcome.SizeBytes > 0 {
			size = FormatBytes(outcome.SizeBytes)
		}
		promoted := "-"
		if len(outcome.Promoted) > 0 {
			promoted = strings.Join(outcome.Promoted, ",")
		}
		table.AddRow(outcome.Target, status, orDash(outcome.Strategy), size,
			fmt.Sprintf("%d", outcome.Pruned), promoted, formatDuration(outcome.Duration))
	}
	s.Printf("%s", table.Render())

	if failures := report.Failures(); failures > 0 {
		s.Errorf("Cycle %s finished in %s with %d of %d targets failed",
			report.ID, formatDuration(report.Duration), failures, len(report.Targets))
		for i := range report.Targets {
			if report.Targets[i].Failed() {
				s.Errorf("  %s: %s", report.Targets[i].Target, report.Targets[i].Error)
			}
		}
		return
	}
	s.Successf("Cycle %s finished in %s, %d targets",
		report.ID, formatDuration(report.Duration), len(report.Targets))
}

// RestoreSummary renders a finished restore
func (s *Service) RestoreSummary(result *restore.Result) {
	switch result.Mode {
	case restore.ModeVerify:
		s.Successf("Verified %s against an ephemeral database (%d tables)", result.Artifact, result.Tables)
	case restore.ModeTable:
		s.Successf("Restored table into %s from %s", result.Database, result.Artifact)
	default:
		s.Successf("Restored %s from %s", result.Database, result.Artifact)
	}
	if s.quiet {
		return
	}
	fmt.Fprintf(s.writer, "  strategy:   %s\n", result.Strategy)
	fmt.Fprintf(s.writer, "  statements: %d executed, %d failed, %d skipped\n",
		result.Executed, result.Failed, result.Skipped)
	fmt.Fprintf(s.writer, "  duration:   %s\n", formatDuration(result.Duration))
	if result.Failed > 0 {
		s.Warningf("%d statements failed; the restore continued past them", result.Failed)
	}
}

// TableNames renders the tables found in an artifact's dump
func (s *Service) TableNames(artifact string, tables []string) {
	s.Infof("%d tables in %s", len(tables), artifact)
	for _, table := range tables {
		fmt.Fprintf(s.writer, "%s\n", table)
	}
}

// CheckSummary renders an artifact integrity scan
func (s *Service) CheckSummary(report *backup.CheckReport) {
	if report.ArtifactsChecked == 0 {
		s.Info("No artifacts to check")
		return
	}

	targets := make([]string, 0, len(report.BytesByTarget))
	for target := range report.BytesByTarget {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	table := s.NewTable("TARGET", "BYTES")
	table.AlignRight(1)
	for _, target := range targets {
		table.AddRow(target, FormatBytes(report.BytesByTarget[target]))
	}
	s.Printf("%s", table.Render())

	if report.Healthy() {
		s.Successf("%d artifacts checked, %s, no problems",
			report.ArtifactsChecked, FormatBytes(report.TotalBytes))
		return
	}
	for _, problem := range report.Problems {
		s.Errorf("%s/%s %s: %s (%s)",
			problem.Target, problem.Tier, problem.File, problem.Kind, problem.Detail)
	}
	s.Errorf("%d problems across %d artifacts", len(report.Problems), report.ArtifactsChecked)
}

// FormatBytes renders a byte count in binary units
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return d.Round(10 * time.Millisecond).String()
	}
	return d.Round(time.Millisecond).String()
}

func shortChecksum(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
