package sqltypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Layouts accepted when a timestamp comes back as text. SQLite's
// CURRENT_TIMESTAMP produces the second one; go-sqlite3 writes the first.
var layouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

const StorageLayout = "2006-01-02 15:04:05"

func ParseTime(s string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("sqltypes.ParseTime: could not parse %q with any known layout", s)
}

// FormatTime renders t the way CURRENT_TIMESTAMP would.
func FormatTime(t time.Time) string {
	return t.UTC().Format(StorageLayout)
}

func scanTime(src interface{}) (*time.Time, error) {
	switch src := src.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &src, nil
	case []byte:
		t, err := ParseTime(string(src))
		if err != nil {
			return nil, err
		}
		return &t, nil
	case string:
		t, err := ParseTime(src)
		if err != nil {
			return nil, err
		}
		return &t, nil
	case int64:
		t := time.Unix(src, 0).UTC()
		return &t, nil
	default:
		return nil, fmt.Errorf("could not scan input type of %T", src)
	}
}

type TimeScanner struct {
	Value *time.Time
}

func (t *TimeScanner) Scan(src interface{}) error {
	v, err := scanTime(src)
	if err != nil {
		return fmt.Errorf("sqltypes.TimeScanner: %w", err)
	}

	if v == nil {
		*t.Value = time.Time{}
		return nil
	}

	*t.Value = *v

	return nil
}

type TimePointerScanner struct {
	Value **time.Time
}

func (t *TimePointerScanner) Scan(src interface{}) error {
	v, err := scanTime(src)
	if err != nil {
		return fmt.Errorf("sqltypes.TimePointerScanner: %w", err)
	}

	*t.Value = v

	return nil
}

type JSONStringSlice []string

func (s JSONStringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}

	d, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("sqltypes.JSONStringSlice: %w", err)
	}

	return string(d), nil
}

func (s *JSONStringSlice) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		if len(src) == 0 {
			*s = nil
			return nil
		}
		if err := json.Unmarshal(src, s); err != nil {
			return fmt.Errorf("sqltypes.JSONStringSlice: could not decode input (%T) as JSON: %w", src, err)
		}
		return nil
	case string:
		if src == "" {
			*s = nil
			return nil
		}
		if err := json.Unmarshal([]byte(src), s); err != nil {
			return fmt.Errorf("sqltypes.JSONStringSlice: could not decode input (%T) as JSON: %w", src, err)
		}
		return nil
	default:
		return fmt.Errorf("sqltypes.JSONStringSlice: could not scan input type of %T", src)
	}
}
