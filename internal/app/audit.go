package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dumpkeep/internal/logging"
)

// OperationLog ties every named operation of one process run together under
// a shared run ID. Besides the normal log it can append one JSON line per
// operation start and finish to an audit file, so that restores and manual
// backups leave a machine-readable trail.
type OperationLog struct {
	logger *logging.Logger
	audit  *logrus.Logger
	runID  string
}

// NewOperationLog creates an operation log. An empty auditFile disables the
// audit trail; the normal log is always written.
func NewOperationLog(logger *logging.Logger, auditFile string) (*OperationLog, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	ol := &OperationLog{
		logger: logger,
		runID:  uuid.New().String(),
	}

	if auditFile != "" {
		if dir := filepath.Dir(auditFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create audit log directory: %w", err)
			}
		}
		file, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log file: %w", err)
		}

		audit := logrus.New()
		audit.SetOutput(file)
		audit.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
		audit.SetLevel(logrus.InfoLevel)
		ol.audit = audit
	}

	return ol, nil
}

// RunID returns the identifier shared by every operation of this process run
func (ol *OperationLog) RunID() string {
	return ol.runID
}

// Begin logs the start of a named operation and returns the function that
// records its end. Details become structured fields on both the normal log
// and the audit lines.
func (ol *OperationLog) Begin(operation string, details map[string]interface{}) func(error) {
	startTime := time.Now()

	fields := map[string]interface{}{
		"run_id":    ol.runID,
		"operation": operation,
	}
	for k, v := range details {
		fields[k] = v
	}

	ol.logger.WithFields(fields).Info("Operation started")
	ol.record(operation, "started", "", nil, details)

	return func(err error) {
		duration := time.Since(startTime)
		entry := ol.logger.WithFields(fields).WithField("duration", duration.String())
		if err != nil {
			entry.WithField("error", err.Error()).Error("Operation failed")
			ol.record(operation, "failed", duration.String(), err, details)
			return
		}
		entry.Info("Operation completed")
		ol.record(operation, "completed", duration.String(), nil, details)
	}
}

// record appends one line to the audit file, if one is configured
func (ol *OperationLog) record(operation, status, duration string, err error, details map[string]interface{}) {
	if ol.audit == nil {
		return
	}

	fields := logrus.Fields{
		"run_id":    ol.runID,
		"operation": operation,
		"status":    status,
	}
	if duration != "" {
		fields["duration"] = duration
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if len(details) > 0 {
		fields["details"] = details
	}

	ol.audit.WithFields(fields).Info("operation")
}
