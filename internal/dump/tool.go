package dump

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"dumpkeep/internal/logging"
)

// stderrExcerptLimit caps how much tool stderr is carried into an error
// message.
const stderrExcerptLimit = 500

// ToolRunner abstracts subprocess execution of the engine-native dump tools
// so the producer can be tested without mysqldump or pg_dump installed.
type ToolRunner interface {
	// LookPath resolves the tool binary, failing when it is missing or not
	// executable.
	LookPath(name string) (string, error)
	// Run executes the tool and waits for it, returning an error carrying a
	// stderr excerpt on non-zero exit.
	Run(ctx context.Context, name string, args []string, extraEnv []string) error
	// Version reports the first line of the tool's --version output.
	Version(ctx context.Context, name string) (string, error)
}

// ExecToolRunner runs dump tools as real subprocesses
type ExecToolRunner struct {
	logger *logging.Logger
}

// NewExecToolRunner creates a subprocess-backed tool runner
func NewExecToolRunner(logger *logging.Logger) *ExecToolRunner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &ExecToolRunner{logger: logger}
}

// LookPath resolves the tool binary on PATH
func (r *ExecToolRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes the tool and waits for it. Credentials for pg_dump travel in
// extraEnv rather than argv.
func (r *ExecToolRunner) Run(ctx context.Context, name string, args []string, extraEnv []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	startTime := time.Now()
	err := cmd.Run()
	r.logger.WithFields(map[string]interface{}{
		"tool":     name,
		"duration": time.Since(startTime).String(),
		"success":  err == nil,
	}).Debug("Dump tool finished")

	if err != nil {
		excerpt := strings.TrimSpace(stderr.String())
		if len(excerpt) > stderrExcerptLimit {
			excerpt = excerpt[:stderrExcerptLimit] + "..."
		}
		if excerpt != "" {
			return fmt.Errorf("%s failed: %w (stderr: %s)", name, err, excerpt)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// Version reports the first line of the tool's --version output
func (r *ExecToolRunner) Version(ctx context.Context, name string) (string, error) {
	out, err := exec.CommandContext(ctx, name, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to read %s version: %w", name, err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}
