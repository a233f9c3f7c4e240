// Package dump produces raw SQL dumps for configured backup targets. The
// producer tries an ordered list of named strategies: the engine-native dump
// tool first, then a driver-level reconstruction. A preflight connection
// failure aborts before any strategy runs, since both strategies need the
// same credentials.
package dump

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/database"
	"dumpkeep/internal/logging"
)

// StrategyStatus is the outcome classification of one dump strategy
type StrategyStatus string

const (
	// StrategySucceeded means the strategy produced the dump
	StrategySucceeded StrategyStatus = "succeeded"
	// StrategySkipped means the strategy could not run here (tool missing)
	StrategySkipped StrategyStatus = "skipped"
	// StrategyFailed means the strategy ran and failed
	StrategyFailed StrategyStatus = "failed"
)

// StrategyOutcome records how one strategy fared during a Produce call
type StrategyOutcome struct {
	Name   string         `json:"name"`
	Status StrategyStatus `json:"status"`
	Detail string         `json:"detail,omitempty"`
}

// DumpResult describes a successful dump
type DumpResult struct {
	Target       string            `json:"target"`
	Strategy     string            `json:"strategy"`
	ToolVersion  string            `json:"tool_version,omitempty"`
	BytesWritten int64             `json:"bytes_written"`
	Duration     time.Duration     `json:"duration"`
	Outcomes     []StrategyOutcome `json:"outcomes"`
}

// strategy is one named way of producing a dump. Attempt returns a
// ToolUnavailable error when the strategy cannot run here at all, any other
// error when it ran and failed.
type strategy interface {
	name() string
	attempt(ctx context.Context, target *backup.Target, conn database.Conn, outputPath string) (toolVersion string, err error)
}

// Producer turns one backup target into a raw SQL dump file
type Producer struct {
	connector  database.Connector
	strategies []strategy
	logger     *logging.Logger
}

// NewProducer creates a dump producer. A nil runner uses real subprocess
// execution.
func NewProducer(connector database.Connector, runner ToolRunner, logger *logging.Logger) *Producer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if runner == nil {
		runner = NewExecToolRunner(logger)
	}
	return &Producer{
		connector: connector,
		strategies: []strategy{
			&toolStrategy{runner: runner},
			&driverStrategy{dumper: NewDriverDumper(logger)},
		},
		logger: logger,
	}
}

// Produce writes a raw SQL dump of the target's database to outputPath and
// reports which strategy produced it. On total failure no partial file is
// left behind.
func (p *Producer) Produce(ctx context.Context, target *backup.Target, outputPath string) (*DumpResult, error) {
	startTime := time.Now()
	p.logger.WithFields(map[string]interface{}{
		"target": target.Name,
		"engine": target.Engine.String(),
	}).Info("Producing dump")

	conn, err := p.connector.Open(ctx, target.Locator, target.Locator.Database)
	if err != nil {
		return nil, backup.NewConnectionError(fmt.Sprintf("preflight connection for target %s failed", target.Name), err).
			WithContext("target", target.Name)
	}
	defer conn.Close()
	if err := conn.Ping(ctx); err != nil {
		return nil, backup.NewConnectionError(fmt.Sprintf("preflight ping for target %s failed", target.Name), err).
			WithContext("target", target.Name)
	}

	result := &DumpResult{Target: target.Name}
	for _, s := range p.strategies {
		version, err := s.attempt(ctx, target, conn, outputPath)
		if err == nil {
			result.Strategy = s.name()
			result.ToolVersion = version
			result.Duration = time.Since(startTime)
			if info, statErr := os.Stat(outputPath); statErr == nil {
				result.BytesWritten = info.Size()
			}
			result.Outcomes = append(result.Outcomes, StrategyOutcome{Name: s.name(), Status: StrategySucceeded})
			p.logger.LogDumpCompleted(target.Name, s.name(), result.BytesWritten, result.Duration, nil)
			return result, nil
		}

		outcome := StrategyOutcome{Name: s.name(), Status: StrategyFailed, Detail: err.Error()}
		if backup.IsKind(err, backup.BackupErrorTypeToolUnavailable) {
			outcome.Status = StrategySkipped
			p.logger.WithFields(map[string]interface{}{
				"target":   target.Name,
				"strategy": s.name(),
			}).Debugf("Dump strategy skipped: %v", err)
		} else {
			p.logger.WithFields(map[string]interface{}{
				"target":   target.Name,
				"strategy": s.name(),
			}).Warnf("Dump strategy failed: %v", err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	os.Remove(outputPath)
	exhausted := backup.NewFallbackExhaustedError(fmt.Sprintf("all dump strategies failed for target %s", target.Name), nil).
		WithContext("target", target.Name)
	for _, o := range result.Outcomes {
		exhausted = exhausted.WithContext("strategy_"+o.Name, string(o.Status)+": "+o.Detail)
	}
	p.logger.LogDumpCompleted(target.Name, "", 0, time.Since(startTime), exhausted)
	return nil, exhausted
}

// toolStrategy shells out to the engine-native dump tool
type toolStrategy struct {
	runner ToolRunner
}

func (s *toolStrategy) name() string { return "tool" }

func (s *toolStrategy) attempt(ctx context.Context, target *backup.Target, conn database.Conn, outputPath string) (string, error) {
	toolName, args, extraEnv := target.Locator.DumpCommand(outputPath)
	if _, err := s.runner.LookPath(toolName); err != nil {
		return "", backup.NewToolUnavailableError(fmt.Sprintf("%s not found on PATH", toolName), err)
	}

	version, err := s.runner.Version(ctx, toolName)
	if err != nil {
		version = ""
	}

	if err := s.runner.Run(ctx, toolName, args, extraEnv); err != nil {
		return "", backup.NewToolExecutionError(fmt.Sprintf("%s exited with an error", toolName), err)
	}
	return version, nil
}

// driverStrategy reconstructs the dump over the already-open connection
type driverStrategy struct {
	dumper *DriverDumper
}

func (s *driverStrategy) name() string { return "driver" }

func (s *driverStrategy) attempt(ctx context.Context, target *backup.Target, conn database.Conn, outputPath string) (string, error) {
	file, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create dump file: %w", err)
	}

	w := bufio.NewWriter(file)
	if err := s.dumper.Dump(ctx, conn, target, w); err != nil {
		file.Close()
		return "", err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to flush dump file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close dump file: %w", err)
	}
	return FallbackToolVersion, nil
}
