package errors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Classification buckets a database error by how the caller must react to it.
type Classification int

const (
	// ClassStatement is a statement-level failure; execution of remaining
	// statements may continue.
	ClassStatement Classification = iota
	// ClassConnection means a connection could not be established at all
	// (bad credentials, unknown database, unreachable host).
	ClassConnection
	// ClassConnectionLost means an established connection dropped
	// mid-operation; statement execution must halt immediately.
	ClassConnectionLost
)

// String returns the classification name
func (c Classification) String() string {
	switch c {
	case ClassConnection:
		return "connection"
	case ClassConnectionLost:
		return "connection_lost"
	default:
		return "statement"
	}
}

// Classifier inspects driver errors from both supported engines and decides
// whether they are statement-level, connection-establishment, or lost-connection
// failures.
type Classifier struct{}

// NewClassifier creates a new error classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify analyzes a database error and returns its classification.
// Unrecognized errors classify as statement-level, which is the safe default
// for the restore loop: it keeps going instead of aborting a recoverable run.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return ClassStatement
	}

	// Driver-agnostic sentinels for a dead session
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassConnectionLost
	}

	// A canceled or timed-out context cannot make further round-trips either
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassConnectionLost
	}

	if cls, ok := c.classifyMySQL(err); ok {
		return cls
	}
	if cls, ok := c.classifyPostgres(err); ok {
		return cls
	}
	if cls, ok := c.classifyNetwork(err); ok {
		return cls
	}

	return ClassStatement
}

// classifyMySQL maps server-side MySQL error numbers
func (c *Classifier) classifyMySQL(err error) (Classification, bool) {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return 0, false
	}

	switch mysqlErr.Number {
	case 1044, 1045: // access denied to database / for user
		return ClassConnection, true
	case 1049: // unknown database
		return ClassConnection, true
	case 2002, 2003: // cannot connect through socket / to host
		return ClassConnection, true
	case 2006, 2013: // server has gone away / lost during query
		return ClassConnectionLost, true
	case 1152, 1184: // aborted connection
		return ClassConnectionLost, true
	default:
		return ClassStatement, true
	}
}

// classifyPostgres maps SQLSTATE classes from lib/pq
func (c *Classifier) classifyPostgres(err error) (Classification, bool) {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return 0, false
	}

	switch pqErr.Code.Class() {
	case "08": // connection exception
		return ClassConnectionLost, true
	case "28": // invalid authorization
		return ClassConnection, true
	case "3D": // invalid catalog name
		return ClassConnection, true
	case "57": // operator intervention (admin shutdown, crash shutdown)
		return ClassConnectionLost, true
	default:
		return ClassStatement, true
	}
}

// classifyNetwork maps raw network failures that escape the drivers
func (c *Classifier) classifyNetwork(err error) (Classification, bool) {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return ClassConnection, true
		}
		return ClassConnectionLost, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassConnectionLost, true
	}

	return 0, false
}

var defaultClassifier = NewClassifier()

// IsConnectionError reports whether err is a connection-establishment failure
func IsConnectionError(err error) bool {
	return err != nil && defaultClassifier.Classify(err) == ClassConnection
}

// IsConnectionLost reports whether err indicates a dropped connection
func IsConnectionLost(err error) bool {
	return err != nil && defaultClassifier.Classify(err) == ClassConnectionLost
}

// GracefulShutdownHandler runs registered cleanup functions when an
// interruption signal arrives. The daemon registers "stop the schedule and
// drain the running cycle" here, which gives the finish-current-cycle-then-exit
// behavior.
type GracefulShutdownHandler struct {
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	done          chan struct{}
	once          sync.Once
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		shutdownFuncs: make([]func() error, 0),
		signalChan:    make(chan os.Signal, 1),
		done:          make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown.
// Functions run in reverse registration order.
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start begins listening for SIGINT and SIGTERM
func (gsh *GracefulShutdownHandler) Start() {
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-gsh.signalChan
		gsh.shutdown()
	}()
}

// Trigger runs the shutdown sequence without a signal, for callers that
// finish on their own.
func (gsh *GracefulShutdownHandler) Trigger() {
	gsh.shutdown()
}

// Stop stops listening for signals
func (gsh *GracefulShutdownHandler) Stop() {
	signal.Stop(gsh.signalChan)
}

// WaitForShutdown blocks until the shutdown sequence has completed
func (gsh *GracefulShutdownHandler) WaitForShutdown() {
	<-gsh.done
}

func (gsh *GracefulShutdownHandler) shutdown() {
	gsh.once.Do(func() {
		defer close(gsh.done)

		for i := len(gsh.shutdownFuncs) - 1; i >= 0; i-- {
			if err := gsh.shutdownFuncs[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	})
}
