// Copyright (C) 2025 tempstore authors.
// See LICENSE for copying information.

package engine

import "strconv"

// FormatExpiry renders a second count as a human expiry string. The
// rounding cascade (+30 into minutes, +30 into hours, +12 into days)
// and the unit cutoffs are pinned by the test suite; they are contracts,
// not styling.
func FormatExpiry(seconds int64) string {
	if seconds <= 0 {
		return "expired"
	}
	return "expires in " + formatApproximate(seconds)
}

func formatApproximate(n int64) string {
	if n < 60 {
		return formatUnit(n, "second")
	}
	n = (n + 30) / 60
	if n < 60 {
		return formatUnit(n, "minute")
	}
	n = (n + 30) / 60
	if n < 24 {
		return formatUnit(n, "hour")
	}
	n = (n + 12) / 24
	return formatUnit(n, "day")
}

func formatUnit(n int64, unit string) string {
	s := strconv.FormatInt(n, 10) + " " + unit
	if n > 1 {
		s += "s"
	}
	return s
}
