package sqltext

import (
	"errors"
	"strings"

	"dumpkeep/internal/database"
)

// ErrTableNotFound is returned by Extract when the dump contains no CREATE
// TABLE statement for the requested table. It is distinct from a table that
// exists with zero data statements.
var ErrTableNotFound = errors.New("table not found in dump")

// TableRange is the slice of a dump belonging to one table: its creation
// statement plus every data-insertion statement scoped to it.
type TableRange struct {
	Table      string
	Definition string
	Inserts    []string
}

// Statements returns the range as executable statements, definition first
func (r *TableRange) Statements() []string {
	statements := make([]string, 0, len(r.Inserts)+1)
	statements = append(statements, r.Definition)
	statements = append(statements, r.Inserts...)
	return statements
}

// SQL returns the full range as one script
func (r *TableRange) SQL() string {
	return strings.Join(r.Statements(), "\n")
}

// Extractor locates one table's DDL and data inside dump text.
//
// It is a line heuristic, not a parser: parentheses and statement
// terminators are counted without tracking string-literal or quoted-identifier
// content, so a ')' or ';' embedded in row data can corrupt the detected
// span. The trade is deliberate; dumps produced by mysqldump, pg_dump and
// the fallback dumper keep DDL and data on well-behaved lines.
type Extractor struct{}

// NewExtractor creates a table extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract scans dump text for the named table and returns its range. The
// scan is a single forward pass: find the CREATE TABLE line, close the DDL
// span when parenthesis depth returns to zero on a terminated line, then
// collect INSERT statements for the same table until a CREATE TABLE for a
// different table appears.
func (e *Extractor) Extract(dumpText, table string, engine database.Engine) (*TableRange, error) {
	candidates := nameCandidates(engine, table)
	lines := strings.Split(dumpText, "\n")

	start := -1
	for i, line := range lines {
		if tableTokenAfter(line, "CREATE TABLE ", candidates) {
			start = i
			break
		}
	}
	if start == -1 {
		return nil, ErrTableNotFound
	}

	result := &TableRange{Table: table}

	// DDL span: accumulate until depth closes on a terminated line
	depth := 0
	var ddl []string
	i := start
	for ; i < len(lines); i++ {
		line := lines[i]
		depth += strings.Count(line, "(") - strings.Count(line, ")")
		ddl = append(ddl, line)
		if depth <= 0 && endsStatement(line) {
			i++
			break
		}
	}
	result.Definition = strings.Join(ddl, "\n")

	// Data span: collect this table's INSERT statements, stop at the next
	// table's DDL.
	for ; i < len(lines); i++ {
		line := lines[i]

		if strings.Contains(line, "CREATE TABLE ") && !tableTokenAfter(line, "CREATE TABLE ", candidates) {
			break
		}

		if tableTokenAfter(line, "INSERT INTO ", candidates) {
			var stmt []string
			for ; i < len(lines); i++ {
				stmt = append(stmt, lines[i])
				if endsStatement(lines[i]) {
					break
				}
			}
			result.Inserts = append(result.Inserts, strings.Join(stmt, "\n"))
		}
	}

	return result, nil
}

// ListTables returns the names of every table a dump creates, in order of
// appearance.
func (e *Extractor) ListTables(dumpText string) []string {
	var tables []string
	seen := make(map[string]bool)

	for _, line := range strings.Split(dumpText, "\n") {
		idx := strings.Index(line, "CREATE TABLE ")
		if idx == -1 {
			continue
		}
		rest := strings.TrimPrefix(line[idx+len("CREATE TABLE "):], "IF NOT EXISTS ")
		name := parseTableName(rest)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}

	return tables
}

// endsStatement reports whether a line closes a statement
func endsStatement(line string) bool {
	return strings.HasSuffix(strings.TrimRight(line, " \t\r"), ";")
}

// nameCandidates lists the token spellings a dump may use for a table name:
// quoted, bare, and (for postgres) schema-qualified forms.
func nameCandidates(engine database.Engine, table string) []string {
	candidates := []string{
		engine.QuoteIdentifier(table),
		table,
	}
	if engine == database.EnginePostgres {
		candidates = append(candidates,
			"public."+table,
			`public.`+engine.QuoteIdentifier(table),
			`"public".`+engine.QuoteIdentifier(table),
		)
	}
	return candidates
}

// tableTokenAfter reports whether line contains keyword followed by one of
// the candidate table tokens ending at an identifier boundary.
func tableTokenAfter(line, keyword string, candidates []string) bool {
	idx := strings.Index(line, keyword)
	if idx == -1 {
		return false
	}
	rest := strings.TrimPrefix(line[idx+len(keyword):], "IF NOT EXISTS ")
	for _, cand := range candidates {
		if !strings.HasPrefix(rest, cand) {
			continue
		}
		tail := rest[len(cand):]
		if tail == "" || !isIdentChar(tail[0]) {
			return true
		}
	}
	return false
}

// parseTableName reads one possibly quoted, possibly schema-qualified table
// identifier and returns its final component without quoting.
func parseTableName(s string) string {
	var name string
	for {
		component, rest := parseIdentifier(s)
		if component == "" {
			return name
		}
		name = component
		if strings.HasPrefix(rest, ".") {
			s = rest[1:]
			continue
		}
		return name
	}
}

// parseIdentifier reads a single identifier component, honoring backtick and
// double-quote delimiters with doubled-character escapes.
func parseIdentifier(s string) (string, string) {
	if s == "" {
		return "", ""
	}

	if s[0] == '`' || s[0] == '"' {
		quote := s[0]
		var b strings.Builder
		i := 1
		for i < len(s) {
			if s[i] == quote {
				if i+1 < len(s) && s[i+1] == quote {
					b.WriteByte(quote)
					i += 2
					continue
				}
				return b.String(), s[i+1:]
			}
			b.WriteByte(s[i])
			i++
		}
		return b.String(), ""
	}

	i := 0
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
