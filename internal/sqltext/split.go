package sqltext

import "strings"

// SplitStatements splits a SQL script into individual statements, honoring
// single- and double-quoted regions and backslash escapes so that a ';'
// inside string data never splits a statement. Empty statements are dropped;
// a trailing unterminated statement is kept.
func SplitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	inSingle := false
	inDouble := false
	escaped := false

	for i := 0; i < len(script); i++ {
		c := script[i]
		current.WriteByte(c)

		if escaped {
			escaped = false
			continue
		}

		switch c {
		case '\\':
			if inSingle || inDouble {
				escaped = true
			}
		case '\'':
			if !inDouble {
				inSingle = !inSingle
			}
		case '"':
			if !inSingle {
				inDouble = !inDouble
			}
		case ';':
			if !inSingle && !inDouble {
				stmt := strings.TrimSpace(current.String())
				if stmt != "" && stmt != ";" {
					statements = append(statements, stmt)
				}
				current.Reset()
			}
		}
	}

	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}

	return statements
}

// privilegePrefixes are the statement heads treated as privilege or role
// management. Restore targets rarely share the source's security principals,
// so these are skipped instead of executed.
var privilegePrefixes = []string{
	"CREATE USER",
	"CREATE ROLE",
	"ALTER ROLE",
	"GRANT",
	"REVOKE",
	"SET PASSWORD",
}

// IsPrivilegeStatement reports whether a statement manages users, roles, or
// grants. Leading comment lines are ignored before matching.
func IsPrivilegeStatement(stmt string) bool {
	head := strings.ToUpper(statementHead(stmt))
	for _, prefix := range privilegePrefixes {
		if strings.HasPrefix(head, prefix) {
			rest := head[len(prefix):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' {
				return true
			}
		}
	}
	return false
}

// statementHead returns the first non-comment content of a statement
func statementHead(stmt string) string {
	for {
		stmt = strings.TrimLeft(stmt, " \t\r\n")
		if strings.HasPrefix(stmt, "--") || strings.HasPrefix(stmt, "#") {
			if idx := strings.IndexByte(stmt, '\n'); idx != -1 {
				stmt = stmt[idx+1:]
				continue
			}
			return ""
		}
		return stmt
	}
}
