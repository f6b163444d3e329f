package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeFilter is the per-record time window predicate. Absolute start
// and end bound an inclusive range; offset keeps only records newer
// than now-offset. Absolute bounds and the relative offset are
// mutually exclusive, which config validation enforces.
type TimeFilter struct {
	Start  *time.Time
	End    *time.Time
	Offset time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewTimeFilter builds a filter from RFC 3339 start/end strings and a
// relative offset string such as "90d" or "6h". Empty strings leave
// the corresponding bound unset.
func NewTimeFilter(start, end, offset string) (*TimeFilter, error) {
	f := &TimeFilter{now: time.Now}
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, fmt.Errorf("invalid start time %q: %w", start, err)
		}
		t = t.UTC()
		f.Start = &t
	}
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, fmt.Errorf("invalid end time %q: %w", end, err)
		}
		t = t.UTC()
		f.End = &t
	}
	if offset != "" {
		d, err := ParseOffset(offset)
		if err != nil {
			return nil, err
		}
		f.Offset = d
	}
	return f, nil
}

// Enabled reports whether any bound is configured. A disabled filter
// passes every record, including those without a parseable timestamp.
func (f *TimeFilter) Enabled() bool {
	return f != nil && (f.Start != nil || f.End != nil || f.Offset > 0)
}

// Keep applies the window to a parsed event time. Boundary times are
// included.
func (f *TimeFilter) Keep(ts time.Time) bool {
	if !f.Enabled() {
		return true
	}
	if f.Start != nil && ts.Before(*f.Start) {
		return false
	}
	if f.End != nil && ts.After(*f.End) {
		return false
	}
	if f.Offset > 0 && ts.Before(f.now().Add(-f.Offset)) {
		return false
	}
	return true
}

// ParseOffset parses a relative recency offset: an integer followed by
// y (365 days), M (30 days), d, h or m.
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid time offset %q", s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid time offset %q", s)
	}
	day := 24 * time.Hour
	switch s[len(s)-1] {
	case 'y':
		return time.Duration(n) * 365 * day, nil
	case 'M':
		return time.Duration(n) * 30 * day, nil
	case 'd':
		return time.Duration(n) * day, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid time offset unit in %q", s)
	}
}
