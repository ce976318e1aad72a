package ptr

import (
	"strings"
	"time"
)

func String(v string) *string     { return &v }
func Int(v int) *int              { return &v }
func Time(v time.Time) *time.Time { return &v }

func StringValue(v *string) string {
	if v == nil {
		return ""
	}

	return *v
}

// Blank is true for nil and for strings that are only whitespace.
func Blank(v *string) bool {
	return v == nil || strings.TrimSpace(*v) == ""
}
