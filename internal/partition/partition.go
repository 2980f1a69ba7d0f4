// Package partition maps event timestamps to time-bucketed partition names.
//
// Every function here is pure: no I/O, no clocks, no shared state. Timestamps
// are normalized to UTC before bucketing so the same instant always lands in
// the same partition regardless of the producer's location.
package partition

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Granularity is the width of one partition bucket.
type Granularity int

const (
	Daily Granularity = iota
	Hourly
	Weekly
	Monthly
)

// DefaultPrefix is the partition prefix used when none is configured.
const DefaultPrefix = "audit-log-"

// ErrUnknownGranularity is returned by ParseGranularity.
var ErrUnknownGranularity = errors.New("unknown partition granularity")

func (g Granularity) String() string {
	switch g {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Valid reports whether g is one of the known granularities.
func (g Granularity) Valid() bool {
	return g >= Daily && g <= Monthly
}

// ParseGranularity accepts the names produced by String, case-insensitively.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly":
		return Hourly, nil
	case "", "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	default:
		return Daily, fmt.Errorf("%w: %q", ErrUnknownGranularity, s)
	}
}

// Policy names partitions as Prefix followed by the timestamp bucket.
type Policy struct {
	Prefix      string
	Granularity Granularity
}

// For returns the partition that holds events stamped ts.
func (p Policy) For(ts time.Time) string {
	return p.Prefix + p.bucket(p.floor(ts))
}

// Pattern matches every partition produced by p.
func (p Policy) Pattern() string {
	return p.Prefix + "*"
}

// Between lists the partitions overlapping the closed range [from, to] in
// chronological order. It reports false when more than max partitions would be
// needed; callers should fall back to Pattern in that case.
func (p Policy) Between(from, to time.Time, max int) ([]string, bool) {
	if to.Before(from) {
		return nil, true
	}
	out := make([]string, 0, 8)
	for cur := p.floor(from); !cur.After(to); cur = p.next(cur) {
		if len(out) == max {
			return nil, false
		}
		out = append(out, p.Prefix+p.bucket(cur))
	}
	return out, true
}

func (p Policy) floor(ts time.Time) time.Time {
	ts = ts.UTC()
	switch p.Granularity {
	case Hourly:
		return ts.Truncate(time.Hour)
	case Weekly:
		day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	}
}

func (p Policy) next(start time.Time) time.Time {
	switch p.Granularity {
	case Hourly:
		return start.Add(time.Hour)
	case Weekly:
		return start.AddDate(0, 0, 7)
	case Monthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func (p Policy) bucket(start time.Time) string {
	switch p.Granularity {
	case Hourly:
		return start.Format("2006.01.02.15")
	case Weekly:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%04d.w%02d", year, week)
	case Monthly:
		return start.Format("2006.01")
	default:
		return start.Format("2006.01.02")
	}
}
