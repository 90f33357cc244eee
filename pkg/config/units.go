package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to accept extended units (d, w) in YAML.
// Retention windows read nicer as "30d" than "720h".
type Duration time.Duration

// Common durations.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

var durationUnits = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  Day,
	"w":  Week,
}

// ParseDuration parses a duration string. Strings without d/w units are
// handed to the standard library.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}

	// Scan (number, unit) pairs: "1w2d12h" and the like.
	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && (unicode.IsDigit(rune(rest[i])) || rest[i] == '.') {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid duration format: %s", s)
		}
		val, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in duration: %s", rest[:i])
		}

		j := i
		for j < len(rest) && !unicode.IsDigit(rune(rest[j])) && rest[j] != '.' {
			j++
		}
		base, ok := durationUnits[rest[i:j]]
		if !ok {
			return 0, fmt.Errorf("unknown unit: %s", rest[i:j])
		}

		total += time.Duration(val * float64(base))
		rest = rest[j:]
	}

	return total, nil
}
