package db

import (
	"fmt"
	"time"
)

// timeLayout is fixed-width so TEXT columns sort in time order. Microseconds
// match what timestamptz keeps.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// dbNow is the current time at the precision both dialects store.
func dbNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// dbTime scans a timestamp column: RFC3339 TEXT in SQLite, timestamptz in
// PostgreSQL. NULL and the empty string leave Valid false.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(value any) error {
	*t = dbTime{}
	var s string
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T as a timestamp", value)
	}
	if s == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	t.Time, t.Valid = parsed.UTC(), true
	return nil
}

// Ptr returns nil for NULL.
func (t dbTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
