package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Budget window
// =============================================================================

// Period is an inclusive range of calendar days [Start, End]. Label is the
// normalized period string it was parsed from.
type Period struct {
	Label string
	Start time.Time
	End   time.Time
}

// Contains returns true if the day of t is within the period.
func (p Period) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.Format(DateLayout) + ", " + p.End.Format(DateLayout) + "]"
}

// DateLayout is the wire format for ledger dates.
const DateLayout = "2006-01-02"

// ParsePeriod derives the window of a budget period:
//
//	"2025"    → 2025-01-01 .. 2025-12-31
//	"2025-Q2" → 2025-04-01 .. 2025-06-30
//	"2025-03" → 2025-03-01 .. 2025-03-31
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	bad := fmt.Errorf("%w: %q (want YYYY, YYYY-Q#, or YYYY-MM)", ErrInvalidPeriod, s)

	year, rest, hasRest := strings.Cut(s, "-")
	if len(year) != 4 {
		return Period{}, bad
	}
	y, err := strconv.Atoi(year)
	if err != nil || y < 1 {
		return Period{}, bad
	}
	if !hasRest {
		return Period{Label: year, Start: StartOfYear(y), End: EndOfYear(y)}, nil
	}

	if strings.HasPrefix(strings.ToUpper(rest), "Q") {
		q, err := strconv.Atoi(rest[1:])
		if err != nil || len(rest) != 2 || q < 1 || q > 4 {
			return Period{}, bad
		}
		start := StartOfMonth(y, time.Month((q-1)*3+1))
		return Period{Label: fmt.Sprintf("%s-Q%d", year, q), Start: start, End: start.AddDate(0, 3, -1)}, nil
	}

	m, err := strconv.Atoi(rest)
	if err != nil || len(rest) != 2 || m < 1 || m > 12 {
		return Period{}, bad
	}
	return Period{Label: year + "-" + rest, Start: StartOfMonth(y, time.Month(m)), End: EndOfMonth(y, time.Month(m))}, nil
}

// =============================================================================
// CALENDAR HELPERS
// =============================================================================

func StartOfYear(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func EndOfYear(year int) time.Time {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

func StartOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func EndOfMonth(year int, month time.Month) time.Time {
	return StartOfMonth(year, month).AddDate(0, 1, -1)
}

// ParseDate parses a YYYY-MM-DD ledger date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, invalid("date", "expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}
