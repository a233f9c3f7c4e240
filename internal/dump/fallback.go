package dump

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"dumpkeep/internal/backup"
	"dumpkeep/internal/database"
	"dumpkeep/internal/logging"
)

// FallbackBanner opens every driver-produced dump so readers and tooling can
// tell it apart from native tool output.
const FallbackBanner = "-- dumpkeep fallback dump"

// FallbackToolVersion is recorded as the tool version of driver-produced
// dumps.
const FallbackToolVersion = "driver-fallback"

const pgColumnsQuery = `SELECT column_name, data_type, COALESCE(character_maximum_length, 0), is_nullable, COALESCE(column_default, '')
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`

const pgPrimaryKeyQuery = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = 'public' AND tc.table_name = $1
ORDER BY kcu.ordinal_position`

// DriverDumper reconstructs a dump over a live driver connection when the
// native tool is unavailable or failed. The result is best effort: tables and
// rows only, no triggers, routines or sequences.
type DriverDumper struct {
	logger *logging.Logger
}

// NewDriverDumper creates a driver-level fallback dumper
func NewDriverDumper(logger *logging.Logger) *DriverDumper {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &DriverDumper{logger: logger}
}

// Dump writes a reconstruction of the connected database to w
func (d *DriverDumper) Dump(ctx context.Context, conn database.Conn, target *backup.Target, w io.Writer) error {
	fmt.Fprintf(w, "%s\n-- target: %s\n-- engine: %s\n-- created: %s\n--\n", FallbackBanner, target.Name, target.Engine, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprint(w, "-- Best-effort reconstruction from the information schema. Triggers,\n-- routines and sequences are not included.\n\n")

	tables, err := conn.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		d.logger.WithField("target", target.Name).Warn("Fallback dump found no tables")
	}

	for _, table := range tables {
		if err := d.dumpTable(ctx, conn, target.Engine, table, w); err != nil {
			return fmt.Errorf("failed to dump table %s: %w", table, err)
		}
	}
	return nil
}

func (d *DriverDumper) dumpTable(ctx context.Context, conn database.Conn, engine database.Engine, table string, w io.Writer) error {
	ddl, err := d.tableDDL(ctx, conn, engine, table)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "--\n-- Table %s\n--\n\n", table)
	fmt.Fprintf(w, "%s;\n%s;\n\n", engine.DropTableSQL(table), ddl)

	rowCount, err := d.dumpRows(ctx, conn, engine, table, w)
	if err != nil {
		return err
	}
	if rowCount > 0 {
		fmt.Fprintln(w)
	}
	d.logger.WithFields(map[string]interface{}{
		"table": table,
		"rows":  rowCount,
	}).Debug("Reconstructed table")
	return nil
}

func (d *DriverDumper) tableDDL(ctx context.Context, conn database.Conn, engine database.Engine, table string) (string, error) {
	switch engine {
	case database.EnginePostgres:
		return d.postgresDDL(ctx, conn, engine, table)
	default:
		return d.mysqlDDL(ctx, conn, engine, table)
	}
}

// mysqlDDL reads the server's own statement via SHOW CREATE TABLE
func (d *DriverDumper) mysqlDDL(ctx context.Context, conn database.Conn, engine database.Engine, table string) (string, error) {
	var name, ddl string
	query := "SHOW CREATE TABLE " + engine.QuoteIdentifier(table)
	if err := conn.DB().QueryRowContext(ctx, query).Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("SHOW CREATE TABLE failed: %w", err)
	}
	return ddl, nil
}

// postgresDDL rebuilds a CREATE TABLE statement from the information schema.
// Column types, nullability, defaults and the primary key are preserved;
// other constraints and indexes are not.
func (d *DriverDumper) postgresDDL(ctx context.Context, conn database.Conn, engine database.Engine, table string) (string, error) {
	rows, err := conn.DB().QueryContext(ctx, pgColumnsQuery, table)
	if err != nil {
		return "", fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var defs []string
	for rows.Next() {
		var name, dataType, nullable, columnDefault string
		var maxLen int
		if err := rows.Scan(&name, &dataType, &maxLen, &nullable, &columnDefault); err != nil {
			return "", fmt.Errorf("failed to scan column: %w", err)
		}

		def := engine.QuoteIdentifier(name) + " " + dataType
		if maxLen > 0 && (dataType == "character varying" || dataType == "character") {
			def += fmt.Sprintf("(%d)", maxLen)
		}
		if nullable == "NO" {
			def += " NOT NULL"
		}
		if columnDefault != "" {
			def += " DEFAULT " + columnDefault
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("error iterating columns: %w", err)
	}
	if len(defs) == 0 {
		return "", fmt.Errorf("table %s has no columns in information_schema", table)
	}

	pk, err := d.postgresPrimaryKey(ctx, conn, engine, table)
	if err != nil {
		return "", err
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}

	return "CREATE TABLE " + engine.QuoteIdentifier(table) + " (\n  " + strings.Join(defs, ",\n  ") + "\n)", nil
}

func (d *DriverDumper) postgresPrimaryKey(ctx context.Context, conn database.Conn, engine database.Engine, table string) ([]string, error) {
	rows, err := conn.DB().QueryContext(ctx, pgPrimaryKeyQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key column: %w", err)
		}
		columns = append(columns, engine.QuoteIdentifier(name))
	}
	return columns, rows.Err()
}

// dumpRows emits one INSERT statement per row, keeping each statement on a
// single line so table extraction can collect them.
func (d *DriverDumper) dumpRows(ctx context.Context, conn database.Conn, engine database.Engine, table string, w io.Writer) (int, error) {
	rows, err := conn.DB().QueryContext(ctx, "SELECT * FROM "+engine.QuoteIdentifier(table))
	if err != nil {
		return 0, fmt.Errorf("failed to read rows: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to read columns: %w", err)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = engine.QuoteIdentifier(c)
	}
	columnList := strings.Join(quoted, ", ")
	qualified := engine.QuoteIdentifier(table)

	values := make([]interface{}, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	count := 0
	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return count, fmt.Errorf("failed to scan row: %w", err)
		}
		literals := make([]string, len(values))
		for i, v := range values {
			literals[i] = sqlLiteral(engine, v)
		}
		fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n", qualified, columnList, strings.Join(literals, ", "))
		count++
	}
	return count, rows.Err()
}

// sqlLiteral renders one scanned value as a SQL literal for the engine
func sqlLiteral(engine database.Engine, v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return "'" + engine.EscapeString(string(val)) + "'"
	case string:
		return "'" + engine.EscapeString(val) + "'"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return "'" + val.UTC().Format("2006-01-02 15:04:05") + "'"
	default:
		return "'" + engine.EscapeString(fmt.Sprintf("%v", val)) + "'"
	}
}
