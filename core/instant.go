package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Layouts that parse but carry no zone information.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseInstant parses an RFC 3339 instant. Text without an explicit zone
// offset is rejected with ErrInvalidInstant rather than assumed to be UTC.
func ParseInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidInstant)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if _, nerr := time.Parse(layout, s); nerr == nil {
			return time.Time{}, fmt.Errorf("%w: %q has no zone offset", ErrInvalidInstant, s)
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidInstant, s, err)
}

// MaxMinutes is the largest whole-minute count a time.Duration can hold.
const MaxMinutes = math.MaxInt64 / int64(time.Minute)

// Minutes converts a caller-supplied minute count to a duration, rejecting
// counts whose product would overflow instead of wrapping.
func Minutes(n int64) (time.Duration, error) {
	if n > MaxMinutes || n < -MaxMinutes {
		return 0, fmt.Errorf("%w: %d minutes is out of range", ErrInvalidWindow, n)
	}
	return time.Duration(n) * time.Minute, nil
}
