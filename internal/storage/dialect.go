package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type dialect struct {
	name      string
	sqlDriver string
	gooseName string
	numbered  bool
	textTimes bool
}

var dialects = map[string]dialect{
	DriverSQLite:   {name: DriverSQLite, sqlDriver: "sqlite", gooseName: "sqlite3", textTimes: true},
	DriverPostgres: {name: DriverPostgres, sqlDriver: "pgx", gooseName: "postgres", numbered: true},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[strings.ToLower(name)]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders to $n for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) timeArg(t time.Time) any {
	t = t.UTC()
	if d.textTimes {
		return t.Format(timeLayout)
	}
	return t
}

func (d dialect) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return d.timeArg(*t)
}

// dbTime scans timestamps stored either natively or as text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var textTimeLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("scan time: unsupported type %T", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range textTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognized format %q", s)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
