package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

func TestClassifier_MySQLErrors(t *testing.T) {
	classifier := NewClassifier()

	tests := []struct {
		name     string
		mysqlErr *mysql.MySQLError
		want     Classification
	}{
		{
			name:     "access denied",
			mysqlErr: &mysql.MySQLError{Number: 1045, Message: "Access denied"},
			want:     ClassConnection,
		},
		{
			name:     "database access denied",
			mysqlErr: &mysql.MySQLError{Number: 1044, Message: "Access denied for user to database"},
			want:     ClassConnection,
		},
		{
			name:     "unknown database",
			mysqlErr: &mysql.MySQLError{Number: 1049, Message: "Unknown database"},
			want:     ClassConnection,
		},
		{
			name:     "cannot connect",
			mysqlErr: &mysql.MySQLError{Number: 2003, Message: "Can't connect to MySQL server"},
			want:     ClassConnection,
		},
		{
			name:     "server has gone away",
			mysqlErr: &mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"},
			want:     ClassConnectionLost,
		},
		{
			name:     "lost connection during query",
			mysqlErr: &mysql.MySQLError{Number: 2013, Message: "Lost connection to MySQL server during query"},
			want:     ClassConnectionLost,
		},
		{
			name:     "syntax error stays statement-level",
			mysqlErr: &mysql.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"},
			want:     ClassStatement,
		},
		{
			name:     "duplicate entry stays statement-level",
			mysqlErr: &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"},
			want:     ClassStatement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifier.Classify(tt.mysqlErr); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifier_PostgresErrors(t *testing.T) {
	classifier := NewClassifier()

	tests := []struct {
		name string
		code pq.ErrorCode
		want Classification
	}{
		{"invalid password", "28P01", ClassConnection},
		{"invalid authorization", "28000", ClassConnection},
		{"invalid catalog name", "3D000", ClassConnection},
		{"connection failure", "08006", ClassConnectionLost},
		{"admin shutdown", "57P01", ClassConnectionLost},
		{"syntax error stays statement-level", "42601", ClassStatement},
		{"undefined table stays statement-level", "42P01", ClassStatement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &pq.Error{Code: tt.code, Message: tt.name}
			if got := classifier.Classify(err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifier_Sentinels(t *testing.T) {
	classifier := NewClassifier()

	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"bad conn", driver.ErrBadConn, ClassConnectionLost},
		{"conn done", sql.ErrConnDone, ClassConnectionLost},
		{"invalid conn", mysql.ErrInvalidConn, ClassConnectionLost},
		{"eof", io.EOF, ClassConnectionLost},
		{"unexpected eof", io.ErrUnexpectedEOF, ClassConnectionLost},
		{"context canceled", context.Canceled, ClassConnectionLost},
		{"context deadline", context.DeadlineExceeded, ClassConnectionLost},
		{"plain error", errors.New("some failure"), ClassStatement},
		{"wrapped bad conn", fmt.Errorf("exec failed: %w", driver.ErrBadConn), ClassConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifier.Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifier_NetworkErrors(t *testing.T) {
	classifier := NewClassifier()

	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if got := classifier.Classify(dialErr); got != ClassConnection {
		t.Errorf("dial error: Classify() = %v, want %v", got, ClassConnection)
	}

	readErr := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	if got := classifier.Classify(readErr); got != ClassConnectionLost {
		t.Errorf("read error: Classify() = %v, want %v", got, ClassConnectionLost)
	}
}

func TestClassifier_NilError(t *testing.T) {
	classifier := NewClassifier()
	if got := classifier.Classify(nil); got != ClassStatement {
		t.Errorf("Classify(nil) = %v, want %v", got, ClassStatement)
	}
}

func TestIsConnectionError(t *testing.T) {
	if !IsConnectionError(&mysql.MySQLError{Number: 1045}) {
		t.Error("Expected access denied to be a connection error")
	}
	if IsConnectionError(errors.New("boring")) {
		t.Error("Expected plain error not to be a connection error")
	}
	if IsConnectionError(nil) {
		t.Error("Expected nil not to be a connection error")
	}
}

func TestIsConnectionLost(t *testing.T) {
	if !IsConnectionLost(driver.ErrBadConn) {
		t.Error("Expected ErrBadConn to be a lost connection")
	}
	if IsConnectionLost(&mysql.MySQLError{Number: 1064}) {
		t.Error("Expected syntax error not to be a lost connection")
	}
}

func TestClassificationString(t *testing.T) {
	if ClassConnection.String() != "connection" {
		t.Errorf("unexpected name %q", ClassConnection.String())
	}
	if ClassConnectionLost.String() != "connection_lost" {
		t.Errorf("unexpected name %q", ClassConnectionLost.String())
	}
	if ClassStatement.String() != "statement" {
		t.Errorf("unexpected name %q", ClassStatement.String())
	}
}

func TestGracefulShutdownHandler(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	var order []int
	handler.RegisterShutdownFunc(func() error {
		order = append(order, 1)
		return nil
	})
	handler.RegisterShutdownFunc(func() error {
		order = append(order, 2)
		return errors.New("cleanup hiccup, must not stop the rest")
	})
	handler.RegisterShutdownFunc(func() error {
		order = append(order, 3)
		return nil
	})

	handler.Trigger()

	done := make(chan struct{})
	go func() {
		handler.WaitForShutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return")
	}

	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("Expected reverse-order execution [3 2 1], got %v", order)
	}
}

func TestGracefulShutdownHandlerTriggerTwice(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	count := 0
	handler.RegisterShutdownFunc(func() error {
		count++
		return nil
	})

	handler.Trigger()
	handler.Trigger()
	handler.WaitForShutdown()

	if count != 1 {
		t.Errorf("Expected shutdown funcs to run once, ran %d times", count)
	}
}
