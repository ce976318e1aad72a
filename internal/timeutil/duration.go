package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a configuration-friendly duration. It reads either Go syntax
// ("1500ms", "10s") or an ISO-8601 day-time duration ("PT10S"), and writes Go
// syntax.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))

	switch {
	case s == "" || s == "0":
		*d = 0
		return nil
	case strings.HasPrefix(s, "P") || strings.HasPrefix(s, "-P"):
		v, err := ParseISODuration(s)
		if err != nil {
			return fmt.Errorf("timeutil.Duration.UnmarshalText: %w", err)
		}
		*d = Duration(v)
		return nil
	default:
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("timeutil.Duration.UnmarshalText: %w", err)
		}
		*d = Duration(v)
		return nil
	}
}

var isoDurationUnits = map[byte]time.Duration{
	'D': time.Hour * 24,
	'H': time.Hour,
	'M': time.Minute,
	'S': time.Second,
}

// ParseISODuration reads the day-time subset of ISO-8601 durations, e.g.
// "P1DT2H", "PT1.5S" or "-PT10M". Only seconds may be fractional.
func ParseISODuration(s string) (time.Duration, error) {
	sign := time.Duration(1)
	if strings.HasPrefix(s, "-") {
		sign = -1
		s = s[1:]
	}

	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("timeutil.ParseISODuration: %q: missing 'P' designator", s)
	}
	s = s[1:]

	if s == "" {
		return 0, fmt.Errorf("timeutil.ParseISODuration: no components")
	}

	var total time.Duration
	inTime := false
	last := byte(0)

	for s != "" {
		if s[0] == 'T' {
			if inTime {
				return 0, fmt.Errorf("timeutil.ParseISODuration: repeated 'T' designator")
			}
			inTime = true
			s = s[1:]
			continue
		}

		i := strings.IndexAny(s, "DHMS")
		if i <= 0 {
			return 0, fmt.Errorf("timeutil.ParseISODuration: invalid component %q", s)
		}

		unit := s[i]
		switch {
		case unit == 'D' && inTime, unit != 'D' && !inTime:
			return 0, fmt.Errorf("timeutil.ParseISODuration: component '%c' in the wrong section", unit)
		case last != 0 && isoDurationUnits[unit] >= isoDurationUnits[last]:
			return 0, fmt.Errorf("timeutil.ParseISODuration: component '%c' out of order", unit)
		}

		f, err := strconv.ParseFloat(s[:i], 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("timeutil.ParseISODuration: invalid number for '%c': %q", unit, s[:i])
		}
		if unit != 'S' && f != float64(int64(f)) {
			return 0, fmt.Errorf("timeutil.ParseISODuration: component '%c' can not be fractional", unit)
		}

		total += time.Duration(f * float64(isoDurationUnits[unit]))
		last = unit
		s = s[i+1:]
	}

	return sign * total, nil
}
