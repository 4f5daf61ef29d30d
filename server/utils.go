// Generic data manipulation utilities.

package main

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// parseISODuration converts an ISO 8601 duration ("PT10S", "P1DT2H") into
// milliseconds. Negative durations and fields after a fractional value are
// rejected.
func parseISODuration(val string) (int64, error) {
	if len(val) < 2 || val[0] != 'P' {
		return 0, errors.New("invalid duration " + val)
	}

	var millis int64
	inTime := false
	start := 1
	frac := false
	for i := 1; i < len(val); i++ {
		c := val[i]
		if c == 'T' {
			if inTime {
				return 0, errors.New("invalid duration " + val)
			}
			inTime = true
			start = i + 1
			continue
		}
		if c >= '0' && c <= '9' || c == '.' {
			continue
		}

		if frac {
			// Only the last field may carry a fraction.
			return 0, errors.New("invalid duration " + val)
		}
		num, err := strconv.ParseFloat(val[start:i], 64)
		if err != nil || num < 0 {
			return 0, errors.New("invalid duration " + val)
		}
		frac = num != float64(int64(num))

		var unit float64
		switch {
		case c == 'W' && !inTime:
			unit = 7 * 24 * 3600 * 1000
		case c == 'D' && !inTime:
			unit = 24 * 3600 * 1000
		case c == 'Y' && !inTime:
			unit = 365 * 24 * 3600 * 1000
		case c == 'M' && !inTime:
			unit = 30 * 24 * 3600 * 1000
		case c == 'H' && inTime:
			unit = 3600 * 1000
		case c == 'M' && inTime:
			unit = 60 * 1000
		case c == 'S' && inTime:
			unit = 1000
		default:
			return 0, errors.New("invalid duration " + val)
		}
		millis += int64(num * unit)
		start = i + 1
	}

	if start != len(val) {
		// Trailing digits with no designator.
		return 0, errors.New("invalid duration " + val)
	}

	return millis, nil
}

// formatISODuration renders milliseconds as an ISO 8601 duration string.
func formatISODuration(millis int64) string {
	if millis <= 0 {
		return "PT0S"
	}

	var b strings.Builder
	b.WriteByte('P')
	if days := millis / (24 * 3600 * 1000); days > 0 {
		b.WriteString(strconv.FormatInt(days, 10))
		b.WriteByte('D')
		millis -= days * 24 * 3600 * 1000
	}
	if millis == 0 {
		return b.String()
	}

	b.WriteByte('T')
	if hours := millis / (3600 * 1000); hours > 0 {
		b.WriteString(strconv.FormatInt(hours, 10))
		b.WriteByte('H')
		millis -= hours * 3600 * 1000
	}
	if mins := millis / (60 * 1000); mins > 0 {
		b.WriteString(strconv.FormatInt(mins, 10))
		b.WriteByte('M')
		millis -= mins * 60 * 1000
	}
	if millis > 0 {
		sec := float64(millis) / 1000
		b.WriteString(strconv.FormatFloat(sec, 'f', -1, 64))
		b.WriteByte('S')
	}
	return b.String()
}

// parseISOTime converts an ISO 8601 timestamp into unix milliseconds.
func parseISOTime(val string) (int64, error) {
	ts, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return 0, err
	}
	return ts.UnixMilli(), nil
}

// formatISOTime renders unix milliseconds as an ISO 8601 timestamp.
func formatISOTime(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(time.RFC3339)
}

// timeNowMillis returns current wall time as unix milliseconds.
func timeNowMillis() int64 {
	return time.Now().UnixMilli()
}

// wsScheme converts an http(s) URL into the corresponding ws(s) URL.
func wsScheme(httpURL string) string {
	if strings.HasPrefix(httpURL, "https://") {
		return "wss://" + httpURL[len("https://"):]
	}
	if strings.HasPrefix(httpURL, "http://") {
		return "ws://" + httpURL[len("http://"):]
	}
	return httpURL
}
