package db

import (
	"strconv"
	"strings"
	"time"
)

// Driver names accepted for the target database.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
)

// SQLite has no datetime type; Django stores text and drops the fraction when
// it is zero. Cutoffs are bound in the same shape so they compare as strings.
const (
	sqliteTimeLayout      = "2006-01-02 15:04:05.000000"
	sqliteTimeLayoutWhole = "2006-01-02 15:04:05"
)

// Dialect hides the SQL differences between the supported target databases.
type Dialect struct {
	Driver string
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d.Driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count comma-separated markers starting at position start.
func (d Dialect) Placeholders(start, count int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// TimeArg converts t to the bind value compared against history dates.
func (d Dialect) TimeArg(t time.Time) any {
	if d.Driver != DriverSQLite {
		return t
	}
	t = t.UTC().Truncate(time.Microsecond)
	if t.Nanosecond() == 0 {
		return t.Format(sqliteTimeLayoutWhole)
	}
	return t.Format(sqliteTimeLayout)
}

// TablesQuery lists user tables in the current schema.
func (d Dialect) TablesQuery() string {
	if d.Driver == DriverSQLite {
		return `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
}

// ColumnsQuery lists the columns of one table (bound as the only parameter)
// in declaration order.
func (d Dialect) ColumnsQuery() string {
	if d.Driver == DriverSQLite {
		return `SELECT name FROM pragma_table_info(?) ORDER BY cid`
	}
	return `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = ` + d.Placeholder(1) + `
		ORDER BY ordinal_position`
}

// ParseTime converts a scanned history date into a time.Time. Text values use
// the layouts Django and the drivers write; unknown values give the zero time.
func ParseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	}
	return time.Time{}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
