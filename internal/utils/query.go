// Package utils provides small helpers for reading query parameters. They
// know nothing about rooms or messages.
package utils

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNotInteger is returned by Int64Param for values that are not base-10
// integers.
var ErrNotInteger = errors.New("not an integer")

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty or
// not an integer.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("", 10)  // 10
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Int64Param parses an optional int64 query value. Unlike AtoiDefault a
// malformed value is an error: a cursor such as "since" must not silently
// fall back to the start of history.
func Int64Param(s string, def int64) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

// ClampInt bounds n to [lo, hi]. A non-positive hi disables the upper bound.
func ClampInt(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if hi > 0 && n > hi {
		return hi
	}
	return n
}
