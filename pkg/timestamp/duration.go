package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DurationNever marks a TTL that never elapses. Callers treat a zero
// duration paired with never=true from ParseTTL("NEVER") as "no expiry".
const DurationNever = time.Duration(0)

// Named duration aliases accepted in rule definitions. These match the
// vocabulary used by rule authors for entity and tag expiration.
var durationAliases = map[string]time.Duration{
	"ONE_MINUTE":   time.Minute,
	"FIVE_MINUTES": 5 * time.Minute,
	"ONE_HOUR":     time.Hour,
	"FOUR_HOURS":   4 * time.Hour,
	"ONE_DAY":      24 * time.Hour,
	"EIGHT_DAYS":   8 * 24 * time.Hour,
	"THIRTY_DAYS":  30 * 24 * time.Hour,
}

// ParseTTL parses a TTL expression from a rule definition. Accepted forms:
//
//   - named alias: FOUR_HOURS, EIGHT_DAYS, THIRTY_DAYS, NEVER, ...
//   - duration literal: P5M (5 minutes), PT30S, P1D, P1DT12H
//   - Go duration string: 5m, 1h30m
//
// The literal form follows the rule-authoring convention where M always
// means minutes (monitoring TTLs are never months), so P5M and PT5M are
// equivalent. For NEVER the returned duration is zero and never is true.
// An empty string is invalid: callers that allow an absent TTL must check
// before parsing.
func ParseTTL(s string) (d time.Duration, never bool, err error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, false, fmt.Errorf("empty ttl expression")
	}

	upper := strings.ToUpper(trimmed)
	if upper == "NEVER" {
		return DurationNever, true, nil
	}
	if alias, ok := durationAliases[upper]; ok {
		return alias, false, nil
	}
	if strings.HasPrefix(upper, "P") {
		d, err := parseDurationLiteral(upper)
		if err != nil {
			return 0, false, err
		}
		return d, false, nil
	}
	d, err = time.ParseDuration(trimmed)
	if err != nil {
		return 0, false, fmt.Errorf("invalid ttl expression %q: %w", s, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("ttl cannot be negative: %q", s)
	}
	return d, false, nil
}

var durationUnits = map[byte]time.Duration{
	'W': 7 * 24 * time.Hour,
	'D': 24 * time.Hour,
	'H': time.Hour,
	'M': time.Minute,
	'S': time.Second,
}

// parseDurationLiteral parses the P-prefixed duration form used in rule
// files: P[nW][nD][T][nH][nM][nS]. The T separator is accepted and
// ignored; M is always minutes.
func parseDurationLiteral(s string) (time.Duration, error) {
	body := strings.ReplaceAll(strings.TrimPrefix(s, "P"), "T", "")
	if body == "" {
		return 0, fmt.Errorf("invalid duration literal %q", s)
	}

	var total time.Duration
	start := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= '0' && c <= '9' {
			continue
		}
		unit, ok := durationUnits[c]
		if !ok || i == start {
			return 0, fmt.Errorf("invalid duration literal %q", s)
		}
		n, err := strconv.ParseInt(body[start:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration literal %q: %w", s, err)
		}
		total += time.Duration(n) * unit
		start = i + 1
	}
	if start != len(body) {
		return 0, fmt.Errorf("invalid duration literal %q: missing unit", s)
	}
	return total, nil
}
