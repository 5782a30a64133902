// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"math"
	"strings"
)

// ParseIntOrDefault reads the leading base-10 integer of s the way the settings
// page and the phone runtime do: leading whitespace is skipped, an optional sign
// is honoured, and parsing stops at the first non-digit ("1abc" is 1, "1.9" is 1).
// When no digit is found, or the value does not fit an int32, def is returned.
func ParseIntOrDefault(s string, def int) int {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var n int64
	digits := 0
	for digits < len(s) && s[digits] >= '0' && s[digits] <= '9' {
		n = n*10 + int64(s[digits]-'0')
		if n > math.MaxInt32 {
			return def
		}
		digits++
	}
	if digits == 0 {
		return def
	}
	if neg {
		n = -n
	}
	return int(n)
}
