package recurrence

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TimeOfDay is a local wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (or "HH:MM:SS", seconds dropped).
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("recurrence: invalid time of day %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) != 2 || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("recurrence: invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("recurrence: invalid minute in %q", value)
	}
	if len(parts) == 3 {
		second, err := strconv.Atoi(parts[2])
		if err != nil || len(parts[2]) != 2 || second < 0 || second > 59 {
			return 0, fmt.Errorf("recurrence: invalid second in %q", value)
		}
	}
	return TimeOfDay(hour*60 + minute), nil
}

// MustParseTimeOfDay is ParseTimeOfDay for literals; it panics on bad input.
func MustParseTimeOfDay(value string) TimeOfDay {
	tod, err := ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return tod
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Minutes returns the offset from midnight in minutes.
func (t TimeOfDay) Minutes() int { return int(t) }

// String formats the value as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Scan accepts the "HH:MM[:SS]" text form stored by the sqlite layer.
func (t *TimeOfDay) Scan(v any) error {
	switch x := v.(type) {
	case string:
		parsed, err := ParseTimeOfDay(x)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	case []byte:
		return t.Scan(string(x))
	case int64:
		*t = TimeOfDay(x)
		return nil
	case nil:
		*t = 0
		return nil
	default:
		return fmt.Errorf("recurrence: unsupported Scan type %T", v)
	}
}

// Value stores the time as "HH:MM".
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String(), nil
}

// MarshalJSON encodes the time as "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes "HH:MM[:SS]".
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
