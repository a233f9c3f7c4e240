package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dumpkeep/internal/logging"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
)

// Conn is an open connection to one database on one server
type Conn interface {
	// Ping verifies the server is reachable
	Ping(ctx context.Context) error
	// ServerVersion reports the server version string
	ServerVersion(ctx context.Context) (string, error)
	// ExecuteScript replays a multi-statement SQL script in one round trip
	ExecuteScript(ctx context.Context, script string) error
	// ExecuteStatement executes a single SQL statement
	ExecuteStatement(ctx context.Context, stmt string) error
	// QuerySingleInt runs a query returning one integer value
	QuerySingleInt(ctx context.Context, query string) (int, error)
	// ListTables lists base table names in the connected database
	ListTables(ctx context.Context) ([]string, error)
	// DB exposes the underlying pool for row-level work
	DB() *sql.DB
	// Close releases the connection pool
	Close() error
}

// Connector opens engine connections. The production implementation dials
// through database/sql; tests substitute fakes.
type Connector interface {
	// Open connects to the named database on the locator's server
	Open(ctx context.Context, loc *Locator, database string) (Conn, error)
	// OpenAdmin connects at server level for CREATE/DROP DATABASE work
	OpenAdmin(ctx context.Context, loc *Locator) (Conn, error)
}

// Service implements Conn on top of database/sql
type Service struct {
	engine Engine
	db     *sql.DB
	logger *logging.Logger
}

// SQLConnector implements Connector using the registered mysql and postgres
// drivers.
type SQLConnector struct {
	connectionTimeout time.Duration
	logger            *logging.Logger
}

// NewConnector creates a connector with default settings
func NewConnector(logger *logging.Logger) *SQLConnector {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &SQLConnector{
		connectionTimeout: 30 * time.Second,
		logger:            logger,
	}
}

// Open connects to the named database on the locator's server
func (c *SQLConnector) Open(ctx context.Context, loc *Locator, database string) (Conn, error) {
	return c.open(ctx, loc, database, loc.DSNFor(database))
}

// OpenAdmin connects at server level for CREATE/DROP DATABASE work
func (c *SQLConnector) OpenAdmin(ctx context.Context, loc *Locator) (Conn, error) {
	return c.open(ctx, loc, loc.Engine.maintenanceDatabase(), loc.AdminDSN())
}

func (c *SQLConnector) open(ctx context.Context, loc *Locator, database, dsn string) (Conn, error) {
	startTime := time.Now()

	db, err := sql.Open(loc.Engine.DriverName(), dsn)
	if err != nil {
		c.logger.LogDatabaseConnection(loc.Host, database, false, time.Since(startTime), err)
		return nil, fmt.Errorf("failed to open %s connection: %w", loc.Engine, err)
	}

	// Connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, c.connectionTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		c.logger.LogDatabaseConnection(loc.Host, database, false, time.Since(startTime), err)
		return nil, fmt.Errorf("failed to reach %s server at %s:%s: %w", loc.Engine, loc.Host, loc.Port, err)
	}

	c.logger.LogDatabaseConnection(loc.Host, database, true, time.Since(startTime), nil)
	return &Service{engine: loc.Engine, db: db, logger: c.logger}, nil
}

// Ping verifies the server is still reachable
func (s *Service) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// ServerVersion reports the server version string
func (s *Service) ServerVersion(ctx context.Context) (string, error) {
	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to get server version: %w", err)
	}
	s.logger.WithField("version", version).Debug("Retrieved server version")
	return version, nil
}

// ExecuteScript replays a multi-statement SQL script in one round trip.
// MySQL connections are opened with multiStatements enabled; PostgreSQL
// accepts a multi-statement string through the simple query protocol.
func (s *Service) ExecuteScript(ctx context.Context, script string) error {
	startTime := time.Now()
	result, err := s.db.ExecContext(ctx, script)

	var rowsAffected int64
	if result != nil {
		rowsAffected, _ = result.RowsAffected()
	}
	s.logger.LogSQLExecution(script, time.Since(startTime), rowsAffected, err)
	return err
}

// ExecuteStatement executes a single SQL statement
func (s *Service) ExecuteStatement(ctx context.Context, stmt string) error {
	startTime := time.Now()
	result, err := s.db.ExecContext(ctx, stmt)

	var rowsAffected int64
	if result != nil {
		rowsAffected, _ = result.RowsAffected()
	}
	s.logger.LogSQLExecution(stmt, time.Since(startTime), rowsAffected, err)
	return err
}

// QuerySingleInt runs a query returning one integer value
func (s *Service) QuerySingleInt(ctx context.Context, query string) (int, error) {
	var value int
	if err := s.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	return value, nil
}

// ListTables lists base table names in the connected database
func (s *Service) ListTables(ctx context.Context) ([]string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, s.engine.ListTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	return tables, nil
}

// DB exposes the underlying pool for row-level work
func (s *Service) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("Closing database connection")
	return s.db.Close()
}
