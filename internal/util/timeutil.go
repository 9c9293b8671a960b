package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Engine time units, longest suffix first so "ms" wins over "s".
var timeUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"nanos", time.Nanosecond},
	{"micros", time.Microsecond},
	{"ms", time.Millisecond},
	{"d", 24 * time.Hour},
	{"h", time.Hour},
	{"m", time.Minute},
	{"s", time.Second},
}

// ParseTimeUnit parses an engine time value such as "1m", "30s" or "500ms".
// Only whole numbers are accepted, as the engine does.
func ParseTimeUnit(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	for _, u := range timeUnits {
		num, ok := strings.CutSuffix(s, u.suffix)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid time value %q", s)
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid time value %q: missing unit", s)
}
