// Package sqlstate keeps the migration engine state in a SQL database, for
// deployments that keep bookkeeping outside the document store.
package sqlstate

import (
	"fmt"
	"strings"

	"github.com/rediwo/redi-migrate/types"
)

// Dialect captures what the state store needs to know about a SQL backend.
type Dialect struct {
	Type types.DriverType
	// DriverName is the database/sql driver name.
	DriverName string
	// TextType holds JSON payloads.
	TextType string
	// ForUpdate is appended to the lock read inside a transaction.
	ForUpdate string
	// SingleConn limits the pool to one connection.
	SingleConn  bool
	quote       func(string) string
	placeholder func(int) string
}

// QuoteIdentifier quotes a table or column name.
func (d Dialect) QuoteIdentifier(name string) string { return d.quote(name) }

// GetPlaceholder returns the bind placeholder for the 1-based index.
func (d Dialect) GetPlaceholder(index int) string { return d.placeholder(index) }

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if d.placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func question(int) string { return "?" }

var (
	SQLite = Dialect{
		Type:        types.DriverSQLite,
		DriverName:  "sqlite3",
		TextType:    "TEXT",
		SingleConn:  true,
		quote:       func(name string) string { return fmt.Sprintf(`"%s"`, name) },
		placeholder: question,
	}
	PostgreSQL = Dialect{
		Type:        types.DriverPostgreSQL,
		DriverName:  "postgres",
		TextType:    "TEXT",
		ForUpdate:   " FOR UPDATE",
		quote:       func(name string) string { return fmt.Sprintf(`"%s"`, name) },
		placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	}
	MySQL = Dialect{
		Type:        types.DriverMySQL,
		DriverName:  "mysql",
		TextType:    "LONGTEXT",
		ForUpdate:   " FOR UPDATE",
		quote:       func(name string) string { return fmt.Sprintf("`%s`", name) },
		placeholder: question,
	}
)
