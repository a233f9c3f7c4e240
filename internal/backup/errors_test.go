package backup

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackupError_Error(t *testing.T) {
	t.Run("Without cause", func(t *testing.T) {
		err := NewValidationError("dump contains no recognizable SQL statements", nil)
		assert.Equal(t, "VALIDATION_ERROR: dump contains no recognizable SQL statements", err.Error())
	})

	t.Run("With cause", func(t *testing.T) {
		cause := errors.New("disk full")
		err := NewStorageError("failed to write artifact", cause)
		assert.Equal(t, "STORAGE_ERROR: failed to write artifact (caused by: disk full)", err.Error())
	})
}

func TestBackupError_Unwrap(t *testing.T) {
	cause := os.ErrNotExist
	err := NewStorageError("failed to read metadata sidecar", cause)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestBackupError_WithContext(t *testing.T) {
	err := NewToolExecutionError("pg_dump exited with status 1", nil).
		WithContext("target", "orders").
		WithContext("tool", "pg_dump")

	assert.Equal(t, "orders", err.Context["target"])
	assert.Equal(t, "pg_dump", err.Context["tool"])
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected BackupErrorType
	}{
		{"Direct", NewConnectionError("cannot reach database", nil), BackupErrorTypeConnection},
		{"Wrapped once", fmt.Errorf("producing dump: %w", NewToolUnavailableError("pg_dump not found", nil)), BackupErrorTypeToolUnavailable},
		{"Wrapped twice", fmt.Errorf("cycle: %w", fmt.Errorf("target orders: %w", NewFallbackExhaustedError("all strategies failed", nil))), BackupErrorTypeFallbackExhausted},
		{"Plain error", errors.New("something else"), BackupErrorType("")},
		{"Nil", nil, BackupErrorType("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestIsKind(t *testing.T) {
	err := NewTableNotFoundError("table users not present in dump", nil)
	assert.True(t, IsKind(err, BackupErrorTypeTableNotFound))
	assert.False(t, IsKind(err, BackupErrorTypeConnection))
	assert.False(t, IsKind(nil, BackupErrorTypeTableNotFound))
	assert.False(t, IsKind(errors.New("plain"), BackupErrorTypeTableNotFound))
}

func TestIsConnectionLost(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"Nil", nil, false},
		{"Connection lost kind", NewConnectionLostError("server went away mid-restore", nil), true},
		{"Bad conn sentinel", driver.ErrBadConn, true},
		{"Wrapped bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"EOF", io.EOF, true},
		{"Unexpected EOF", io.ErrUnexpectedEOF, true},
		{"Net op error", &net.OpError{Op: "read", Err: errors.New("connection reset by peer")}, true},
		{"MySQL gone away text", errors.New("Error 2006: MySQL server has gone away"), true},
		{"Postgres termination text", errors.New("pq: terminating connection due to administrator command"), true},
		{"Connection refused text", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"Broken pipe text", errors.New("write: broken pipe"), true},
		{"Syntax error", errors.New("ERROR: syntax error at or near \"FROM\""), false},
		{"Constraint violation", errors.New("duplicate key value violates unique constraint"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsConnectionLost(tt.err))
		})
	}
}
