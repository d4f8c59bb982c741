package db

import (
	"embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/subway-rt/poller/internal/config"
)

// schemaFS holds one schema file per dialect. The files are the single source
// of truth for the realtime tables; EnsureSchema runs them statement by statement.
//
//go:embed schema/*.sql
var schemaFS embed.FS

// Dialect selects driver, placeholder style and schema
type Dialect string

const (
	Postgres Dialect = config.DriverPostgres
	SQLite   Dialect = config.DriverSQLite
	MySQL    Dialect = config.DriverMySQL
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var createTableRegex = regexp.MustCompile(`(?i)CREATE\s+TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?(\w+)`)

// driverName is the database/sql driver registered for the dialect
func (d Dialect) driverName() (string, error) {
	switch d {
	case Postgres:
		return "pgx", nil
	case SQLite:
		return "sqlite", nil
	case MySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", string(d))
	}
}

// Rebind rewrites ? placeholders into the dialect's style
func (d Dialect) Rebind(query string) string {
	if d != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// QuoteIdentifier validates and quotes a table or column name
func (d Dialect) QuoteIdentifier(name string) (string, error) {
	if !identifierRegex.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	if d == MySQL {
		return "`" + name + "`", nil
	}
	return `"` + name + `"`, nil
}

// SchemaStatements returns the dialect's CREATE TABLE statements in order
func (d Dialect) SchemaStatements() ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + string(d) + ".sql")
	if err != nil {
		return nil, fmt.Errorf("no schema for dialect %q: %w", string(d), err)
	}
	return splitStatements(string(raw)), nil
}

func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// statementTable extracts the table name from a CREATE TABLE statement
func statementTable(stmt string) string {
	if m := createTableRegex.FindStringSubmatch(stmt); m != nil {
		return m[1]
	}
	return ""
}
