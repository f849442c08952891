package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ElementSet is a two-line element set identifying one orbiting body and
// encoding its orbit at a reference epoch. Values are treated as immutable
// once loaded into a catalog.
type ElementSet struct {
	Name    string
	NoradID int // 0 when the feed did not carry a parseable catalog number

	Line1 string
	Line2 string

	// Epoch is the reference instant encoded in Line1 (UTC).
	Epoch time.Time
}

// ID returns a stable identity for the element set, preferring the NORAD
// catalog number and falling back to the name.
func (e ElementSet) ID() string {
	if e.NoradID > 0 {
		return strconv.Itoa(e.NoradID)
	}
	return e.Name
}

// EpochAge reports how far at lies from the element set's epoch. The result
// is always non-negative; a zero Epoch yields zero.
func (e ElementSet) EpochAge(at time.Time) time.Duration {
	if e.Epoch.IsZero() {
		return 0
	}
	d := at.Sub(e.Epoch)
	if d < 0 {
		d = -d
	}
	return d
}

// ParseElementSet builds an ElementSet from a name and the two element
// lines, extracting the catalog number and epoch from line 1. The lines
// themselves are kept verbatim (trailing whitespace trimmed).
func ParseElementSet(name, line1, line2 string) (ElementSet, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")
	if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return ElementSet{}, fmt.Errorf("element lines must start with \"1 \" and \"2 \"")
	}
	if len(line1) < 32 {
		return ElementSet{}, fmt.Errorf("line 1 too short (%d chars)", len(line1))
	}

	noradStr := strings.TrimSpace(line1[2:7])
	noradID, err := strconv.Atoi(noradStr)
	if err != nil {
		return ElementSet{}, fmt.Errorf("invalid catalog number %q: %w", noradStr, err)
	}

	epoch, err := ParseEpoch(line1)
	if err != nil {
		return ElementSet{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = noradStr
	}

	return ElementSet{
		Name:    name,
		NoradID: noradID,
		Line1:   line1,
		Line2:   line2,
		Epoch:   epoch,
	}, nil
}

// ParseEpoch extracts the YYDDD.DDDDDDDD epoch from columns 19-32 of line 1.
// Years 57-99 map to 19xx, 00-56 to 20xx.
func ParseEpoch(line1 string) (time.Time, error) {
	if len(line1) < 32 {
		return time.Time{}, fmt.Errorf("line 1 too short for epoch (%d chars)", len(line1))
	}
	s := strings.TrimSpace(line1[18:32])
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %v out of range", dayOfYear)
	}

	// Day 1.0 is Jan 1 00:00.
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
