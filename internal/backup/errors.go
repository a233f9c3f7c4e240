package backup

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// BackupError represents errors that occur during backup and restore operations
type BackupError struct {
	Type    BackupErrorType        `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// BackupErrorType represents different types of backup and restore errors
type BackupErrorType string

const (
	// BackupErrorTypeConnection means the target was unreachable before any
	// dump work started. Producers treat it as fatal for the target and do
	// not try fallback strategies.
	BackupErrorTypeConnection BackupErrorType = "CONNECTION_ERROR"

	// BackupErrorTypeToolUnavailable means the external dump tool is not
	// installed or not on PATH.
	BackupErrorTypeToolUnavailable BackupErrorType = "TOOL_UNAVAILABLE"

	// BackupErrorTypeToolExecution means the external dump tool started but
	// exited unsuccessfully.
	BackupErrorTypeToolExecution BackupErrorType = "TOOL_EXECUTION_ERROR"

	// BackupErrorTypeFallbackExhausted means every dump strategy failed
	BackupErrorTypeFallbackExhausted BackupErrorType = "FALLBACK_EXHAUSTED"

	BackupErrorTypeValidation  BackupErrorType = "VALIDATION_ERROR"
	BackupErrorTypeCompression BackupErrorType = "COMPRESSION_ERROR"
	BackupErrorTypeEncryption  BackupErrorType = "ENCRYPTION_ERROR"
	BackupErrorTypeStorage     BackupErrorType = "STORAGE_ERROR"

	// BackupErrorTypeRestoreExecution means one or more statements failed
	// during a restore without the session being lost.
	BackupErrorTypeRestoreExecution BackupErrorType = "RESTORE_EXECUTION_ERROR"

	// BackupErrorTypeTableNotFound means the requested table does not appear
	// in the dump at all, as opposed to appearing with zero rows.
	BackupErrorTypeTableNotFound BackupErrorType = "TABLE_NOT_FOUND_ERROR"

	// BackupErrorTypeConnectionLost means the database session dropped
	// mid-restore. Execution halts immediately rather than skipping ahead.
	BackupErrorTypeConnectionLost BackupErrorType = "CONNECTION_LOST_ERROR"
)

// NewBackupError creates a new BackupError
func NewBackupError(errorType BackupErrorType, message string, cause error) *BackupError {
	return &BackupError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *BackupError) WithContext(key string, value interface{}) *BackupError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Common error constructors
func NewConnectionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConnection, message, cause)
}

func NewToolUnavailableError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeToolUnavailable, message, cause)
}

func NewToolExecutionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeToolExecution, message, cause)
}

func NewFallbackExhaustedError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeFallbackExhausted, message, cause)
}

func NewValidationError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeValidation, message, cause)
}

func NewCompressionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeCompression, message, cause)
}

func NewEncryptionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeEncryption, message, cause)
}

func NewStorageError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeStorage, message, cause)
}

func NewRestoreExecutionError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeRestoreExecution, message, cause)
}

func NewTableNotFoundError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeTableNotFound, message, cause)
}

func NewConnectionLostError(message string, cause error) *BackupError {
	return NewBackupError(BackupErrorTypeConnectionLost, message, cause)
}

// KindOf returns the BackupErrorType carried by err, or an empty string when
// err is not a BackupError.
func KindOf(err error) BackupErrorType {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Type
	}
	return ""
}

// IsKind reports whether err is a BackupError of the given type
func IsKind(err error, errorType BackupErrorType) bool {
	return KindOf(err) == errorType
}

// connectionLossMarkers are driver message fragments that indicate the
// session itself died rather than a single statement failing.
var connectionLossMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"invalid connection",
	"bad connection",
	"server has gone away",
	"unexpected eof",
	"server closed",
	"terminating connection",
	"connection timed out",
}

// IsConnectionLost reports whether err indicates a dropped database session.
// It recognizes both classified BackupErrors and raw driver errors.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, BackupErrorTypeConnectionLost) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	message := strings.ToLower(err.Error())
	for _, marker := range connectionLossMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
