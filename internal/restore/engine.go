// Package restore replays stored artifacts into live databases. Three modes
// share one execution core: verify restores into a disposable database that
// is always dropped afterwards, destructive restores drop and recreate the
// real target database, and table restores replay the slice of the dump
// belonging to a single table.
package restore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/database"
	"dumpkeep/internal/logging"
	"dumpkeep/internal/sqltext"
)

// Mode names a restore flavor
type Mode string

const (
	// ModeVerify restores into an ephemeral database and drops it
	ModeVerify Mode = "verify"
	// ModeDestructive drops and recreates the real target database
	ModeDestructive Mode = "destructive"
	// ModeTable restores a single table into the target database
	ModeTable Mode = "table"
)

// maxLoggedStatementErrors caps per-statement error logging during the
// fallback path so a broken dump cannot flood the log.
const maxLoggedStatementErrors = 5

// Result describes a finished restore
type Result struct {
	Mode     Mode          `json:"mode"`
	Target   string        `json:"target"`
	Database string        `json:"database"`
	Artifact string        `json:"artifact"`
	Strategy string        `json:"strategy"`
	Executed int           `json:"statements_executed"`
	Failed   int           `json:"statements_failed"`
	Skipped  int           `json:"statements_skipped"`
	Tables   int           `json:"tables_verified,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Engine replays artifacts against live servers
type Engine struct {
	connector database.Connector
	extractor *sqltext.Extractor
	logger    *logging.Logger

	// VerifyQuery overrides the engine-default verification query run after
	// a verify-mode restore. It must return a single integer.
	VerifyQuery string
}

// NewEngine creates a restore engine
func NewEngine(connector database.Connector, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Engine{
		connector: connector,
		extractor: sqltext.NewExtractor(),
		logger:    logger,
	}
}

// Verify restores the artifact into a uniquely named ephemeral database,
// runs the verification query, and drops the database again no matter how
// far execution got.
func (e *Engine) Verify(ctx context.Context, target *backup.Target, artifactPath string) (*Result, error) {
	startTime := time.Now()
	script, err := e.decode(target, artifactPath)
	if err != nil {
		return nil, err
	}

	verifyDB := verifyDatabaseName(target.Name, time.Now().UTC())
	admin, err := e.connector.OpenAdmin(ctx, target.Locator)
	if err != nil {
		return nil, backup.NewConnectionError("failed to open admin connection", err).
			WithContext("target", target.Name).WithContext("stage", "connecting")
	}
	defer admin.Close()

	if execErr := admin.ExecuteStatement(ctx, target.Engine.CreateDatabaseSQL(verifyDB)); execErr != nil {
		return nil, backup.NewRestoreExecutionError(fmt.Sprintf("failed to create verification database %s", verifyDB), execErr).
			WithContext("target", target.Name)
	}

	// The drop must run regardless of what happens below, including caller
	// cancellation, so it gets its own context.
	defer func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if dropErr := admin.ExecuteStatement(dropCtx, target.Engine.DropDatabaseSQL(verifyDB)); dropErr != nil {
			e.logger.Errorf("Failed to drop verification database %s: %v", verifyDB, dropErr)
		} else {
			e.logger.WithField("database", verifyDB).Debug("Dropped verification database")
		}
	}()

	conn, connErr := e.connector.Open(ctx, target.Locator, verifyDB)
	if connErr != nil {
		return nil, backup.NewConnectionError(fmt.Sprintf("failed to connect to verification database %s", verifyDB), connErr).
			WithContext("target", target.Name).WithContext("stage", "connecting")
	}
	defer conn.Close()

	outcome, execErr := e.execute(ctx, conn, script)
	if execErr != nil {
		e.logger.LogRestoreCompleted(verifyDB, string(ModeVerify), outcome.Executed, outcome.Failed, time.Since(startTime), execErr)
		return nil, execErr
	}

	tables, queryErr := conn.QuerySingleInt(ctx, e.verificationQuery(target.Engine))
	if queryErr != nil {
		err = backup.NewRestoreExecutionError("verification query failed", queryErr).
			WithContext("target", target.Name).WithContext("database", verifyDB)
		e.logger.LogRestoreCompleted(verifyDB, string(ModeVerify), outcome.Executed, outcome.Failed, time.Since(startTime), err)
		return nil, err
	}

	result := &Result{
		Mode:     ModeVerify,
		Target:   target.Name,
		Database: verifyDB,
		Artifact: filepath.Base(artifactPath),
		Strategy: outcome.Strategy,
		Executed: outcome.Executed,
		Failed:   outcome.Failed,
		Skipped:  outcome.Skipped,
		Tables:   tables,
		Duration: time.Since(startTime),
	}
	e.logger.WithFields(map[string]interface{}{
		"target":   target.Name,
		"database": verifyDB,
		"tables":   tables,
	}).Info("Verification restore succeeded")
	e.logger.LogRestoreCompleted(verifyDB, string(ModeVerify), outcome.Executed, outcome.Failed, result.Duration, nil)
	return result, nil
}

// Destructive drops and recreates the target database (or an explicit
// override) and replays the artifact into it. There is no rollback: a
// partially applied restore is a terminal state reported to the caller.
func (e *Engine) Destructive(ctx context.Context, target *backup.Target, artifactPath string, databaseOverride string) (*Result, error) {
	startTime := time.Now()
	script, err := e.decode(target, artifactPath)
	if err != nil {
		return nil, err
	}

	dbName := target.Locator.Database
	if databaseOverride != "" {
		dbName = databaseOverride
	}

	admin, err := e.connector.OpenAdmin(ctx, target.Locator)
	if err != nil {
		return nil, backup.NewConnectionError("failed to open admin connection", err).
			WithContext("target", target.Name).WithContext("stage", "connecting")
	}
	defer admin.Close()

	if err := admin.ExecuteStatement(ctx, target.Engine.DropDatabaseSQL(dbName)); err != nil {
		return nil, backup.NewRestoreExecutionError(fmt.Sprintf("failed to drop database %s", dbName), err).
			WithContext("target", target.Name)
	}
	if err := admin.ExecuteStatement(ctx, target.Engine.CreateDatabaseSQL(dbName)); err != nil {
		return nil, backup.NewRestoreExecutionError(fmt.Sprintf("failed to recreate database %s", dbName), err).
			WithContext("target", target.Name)
	}

	conn, err := e.connector.Open(ctx, target.Locator, dbName)
	if err != nil {
		return nil, backup.NewConnectionError(fmt.Sprintf("failed to connect to database %s", dbName), err).
			WithContext("target", target.Name).WithContext("stage", "connecting")
	}
	defer conn.Close()

	outcome, execErr := e.execute(ctx, conn, script)
	e.logger.LogRestoreCompleted(dbName, string(ModeDestructive), outcome.Executed, outcome.Failed, time.Since(startTime), execErr)
	if execErr != nil {
		return nil, execErr
	}

	return &Result{
		Mode:     ModeDestructive,
		Target:   target.Name,
		Database: dbName,
		Artifact: filepath.Base(artifactPath),
		Strategy: outcome.Strategy,
		Executed: outcome.Executed,
		Failed:   outcome.Failed,
		Skipped:  outcome.Skipped,
		Duration: time.Since(startTime),
	}, nil
}

// RestoreTable extracts one table's DDL and rows from the artifact, drops
// that table in the target database, and replays only the extracted slice.
func (e *Engine) RestoreTable(ctx context.Context, target *backup.Target, artifactPath string, table string) (*Result, error) {
	startTime := time.Now()
	script, err := e.decode(target, artifactPath)
	if err != nil {
		return nil, err
	}

	tableRange, err := e.extractor.Extract(script, table, target.Engine)
	if err != nil {
		if errors.Is(err, sqltext.ErrTableNotFound) {
			return nil, backup.NewTableNotFoundError(fmt.Sprintf("table %s not found in artifact %s", table, filepath.Base(artifactPath)), err).
				WithContext("target", target.Name)
		}
		return nil, err
	}

	conn, err := e.connector.Open(ctx, target.Locator, target.Locator.Database)
	if err != nil {
		return nil, backup.NewConnectionError(fmt.Sprintf("failed to connect to database %s", target.Locator.Database), err).
			WithContext("target", target.Name).WithContext("stage", "connecting")
	}
	defer conn.Close()

	if err := conn.ExecuteStatement(ctx, target.Engine.DropTableSQL(table)); err != nil {
		return nil, backup.NewRestoreExecutionError(fmt.Sprintf("failed to drop table %s", table), err).
			WithContext("target", target.Name)
	}

	outcome, execErr := e.execute(ctx, conn, tableRange.SQL())
	e.logger.LogRestoreCompleted(target.Locator.Database, string(ModeTable), outcome.Executed, outcome.Failed, time.Since(startTime), execErr)
	if execErr != nil {
		return nil, execErr
	}

	return &Result{
		Mode:     ModeTable,
		Target:   target.Name,
		Database: target.Locator.Database,
		Artifact: filepath.Base(artifactPath),
		Strategy: outcome.Strategy,
		Executed: outcome.Executed,
		Failed:   outcome.Failed,
		Skipped:  outcome.Skipped,
		Duration: time.Since(startTime),
	}, nil
}

// ListTables decodes the artifact and reports the tables its dump defines,
// in the order they appear. No database connection is involved.
func (e *Engine) ListTables(target *backup.Target, artifactPath string) ([]string, error) {
	script, err := e.decode(target, artifactPath)
	if err != nil {
		return nil, err
	}
	return e.extractor.ListTables(script), nil
}

// decode turns a stored artifact back into SQL text: decrypt if the payload
// carries the encryption envelope, decompress per the filename suffix, then
// re-run the marker check that gated the artifact's creation.
func (e *Engine) decode(target *backup.Target, artifactPath string) (string, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", backup.NewStorageError(fmt.Sprintf("failed to read artifact %s", artifactPath), err).
			WithContext("stage", "decoding")
	}

	if backup.IsEncryptedPayload(data) {
		encryptor := backup.NewEncryptor(target.Encryption, e.logger)
		if !encryptor.Enabled() {
			return "", backup.NewEncryptionError(fmt.Sprintf("artifact %s is encrypted but target %s has no encryption configured", filepath.Base(artifactPath), target.Name), nil).
				WithContext("stage", "decoding")
		}
		data, err = encryptor.Decrypt(data)
		if err != nil {
			return "", err
		}
	}

	if algorithm := backup.CompressionFromFilename(artifactPath); algorithm != backup.CompressionTypeNone {
		compressor, err := backup.NewCompressor(algorithm)
		if err != nil {
			return "", err
		}
		var out bytes.Buffer
		if err := compressor.Decompress(&out, bytes.NewReader(data)); err != nil {
			return "", err
		}
		data = out.Bytes()
	}

	if !sqltext.HasSQLMarkers(data) {
		return "", backup.NewValidationError(fmt.Sprintf("artifact %s does not decode to SQL text", filepath.Base(artifactPath)), nil).
			WithContext("stage", "decoding")
	}
	return string(data), nil
}

// execOutcome is the execution core's accounting
type execOutcome struct {
	Strategy string
	Executed int
	Failed   int
	Skipped  int
}

// execute replays the script, bulk first and statement-by-statement on bulk
// failure. Privilege statements are skipped, statement errors are counted
// and survived, a lost connection halts immediately.
func (e *Engine) execute(ctx context.Context, conn database.Conn, script string) (*execOutcome, error) {
	if err := conn.ExecuteScript(ctx, script); err == nil {
		return &execOutcome{Strategy: "bulk"}, nil
	} else if backup.IsConnectionLost(err) {
		return &execOutcome{Strategy: "bulk"}, backup.NewConnectionLostError("connection lost during bulk execution", err)
	} else {
		e.logger.Warnf("Bulk execution failed, retrying statement by statement: %v", err)
	}

	outcome := &execOutcome{Strategy: "statements"}
	var firstErr error
	for _, stmt := range sqltext.SplitStatements(script) {
		if sqltext.IsPrivilegeStatement(stmt) {
			outcome.Skipped++
			e.logger.WithField("statement", statementExcerpt(stmt)).Debug("Skipping privilege statement")
			continue
		}

		if err := conn.ExecuteStatement(ctx, stmt); err != nil {
			if backup.IsConnectionLost(err) {
				return outcome, backup.NewConnectionLostError("connection lost during statement execution", err).
					WithContext("executed", outcome.Executed).
					WithContext("failed", outcome.Failed)
			}
			outcome.Failed++
			if firstErr == nil {
				firstErr = err
			}
			if outcome.Failed <= maxLoggedStatementErrors {
				e.logger.Warnf("Statement failed (%s): %v", statementExcerpt(stmt), err)
			}
			continue
		}
		outcome.Executed++
	}

	if outcome.Failed > maxLoggedStatementErrors {
		e.logger.Warnf("%d further statement errors suppressed", outcome.Failed-maxLoggedStatementErrors)
	}
	if outcome.Executed == 0 && outcome.Failed > 0 {
		return outcome, backup.NewRestoreExecutionError(fmt.Sprintf("all %d executable statements failed", outcome.Failed), firstErr)
	}
	return outcome, nil
}

func (e *Engine) verificationQuery(engine database.Engine) string {
	if e.VerifyQuery != "" {
		return e.VerifyQuery
	}
	return engine.TableCountQuery()
}

// verifyDatabaseName derives the ephemeral database name. Uniqueness rests
// on the timestamp suffix only; concurrent verify restores of the same
// target within one second would collide.
func verifyDatabaseName(target string, now time.Time) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, target)
	return fmt.Sprintf("verify_%s_%s", sanitized, now.Format("20060102T150405"))
}

func statementExcerpt(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if len(stmt) > 80 {
		return stmt[:80] + "..."
	}
	return stmt
}
