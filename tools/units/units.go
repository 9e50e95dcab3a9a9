// Package units translates between canonical internal units (bits per
// second, seconds) and the compact notations used in device configuration
// such as "10M/20M" and "1d2h30m".
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	kilo = 1_000
	mega = 1_000_000
	giga = 1_000_000_000
)

// ParseWarning reports a device field that could not be parsed. It is never
// fatal: the accompanying value is zero and the caller keeps going.
type ParseWarning struct {
	Field string
	Input string
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("cannot parse %s %q", w.Field, w.Input)
}

// ParseBandwidth parses an integer mantissa with an optional k/M/G suffix
// (case-insensitive). Malformed input yields 0 and a *ParseWarning.
func ParseBandwidth(text string) (int64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, &ParseWarning{Field: "bandwidth", Input: text}
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		multiplier = kilo
	case 'm', 'M':
		multiplier = mega
	case 'g', 'G':
		multiplier = giga
	}
	if multiplier != 1 {
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil || value < 0 || value > math.MaxInt64/multiplier {
		return 0, &ParseWarning{Field: "bandwidth", Input: text}
	}
	return value * multiplier, nil
}

// FormatBandwidth renders bps with the largest unit whose integer quotient
// is at least 1. The division truncates, so 1_500_000 renders as "1M" and
// re-parses as 1_000_000. Devices configured through this package therefore
// only ever see whole multiples of the chosen unit.
func FormatBandwidth(bps int64) string {
	switch {
	case bps/giga >= 1:
		return strconv.FormatInt(bps/giga, 10) + "G"
	case bps/mega >= 1:
		return strconv.FormatInt(bps/mega, 10) + "M"
	case bps/kilo >= 1:
		return strconv.FormatInt(bps/kilo, 10) + "k"
	}
	return strconv.FormatInt(bps, 10)
}

// ParseRateLimit parses "<upload>/<download>[ <burst...>]". Only the first
// whitespace-separated token is read. Any failure yields (0, 0) and a
// *ParseWarning.
func ParseRateLimit(text string) (upload, download int64, err error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, 0, &ParseWarning{Field: "rate-limit", Input: text}
	}

	parts := strings.Split(fields[0], "/")
	if len(parts) != 2 {
		return 0, 0, &ParseWarning{Field: "rate-limit", Input: text}
	}

	upload, err = ParseBandwidth(parts[0])
	if err != nil {
		return 0, 0, &ParseWarning{Field: "rate-limit", Input: text}
	}
	download, err = ParseBandwidth(parts[1])
	if err != nil {
		return 0, 0, &ParseWarning{Field: "rate-limit", Input: text}
	}
	return upload, download, nil
}

// FormatRateLimit renders the device rate-limit notation, upload first.
func FormatRateLimit(upload, download int64) string {
	return FormatBandwidth(upload) + "/" + FormatBandwidth(download)
}

var durationUnits = []struct {
	suffix  byte
	seconds int64
}{
	{'d', 86400},
	{'h', 3600},
	{'m', 60},
	{'s', 1},
}

// ParseDuration accumulates d/h/m/s components, in that order, any of them
// optional. A bare number is seconds and the empty string is 0. Malformed
// input yields 0 and a *ParseWarning.
func ParseDuration(text string) (int64, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, &ParseWarning{Field: "duration", Input: text}
		}
		return n, nil
	}

	var total int64
	next := 0
	for s != "" {
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 || i == len(s) {
			return 0, &ParseWarning{Field: "duration", Input: text}
		}

		n, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return 0, &ParseWarning{Field: "duration", Input: text}
		}

		matched := false
		for next < len(durationUnits) {
			u := durationUnits[next]
			next++
			if u.suffix == s[i] {
				if n > (math.MaxInt64-total)/u.seconds {
					return 0, &ParseWarning{Field: "duration", Input: text}
				}
				total += n * u.seconds
				matched = true
				break
			}
		}
		if !matched {
			return 0, &ParseWarning{Field: "duration", Input: text}
		}
		s = s[i+1:]
	}
	return total, nil
}

// FormatDuration renders seconds as "1d2h30m", omitting zero components.
// Zero renders as "0s".
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return "0s"
	}

	var b strings.Builder
	for _, u := range durationUnits {
		if n := seconds / u.seconds; n > 0 {
			b.WriteString(strconv.FormatInt(n, 10))
			b.WriteByte(u.suffix)
			seconds -= n * u.seconds
		}
	}
	return b.String()
}
