package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Interval is a resolved due window. Ambiguous ranges keep both bounds;
// single-point intervals keep one (Earliest == Latest); both nil means
// the recommendation carried no resolvable timeframe.
type Interval struct {
	Earliest *time.Time
	Latest   *time.Time
}

// Unspecified reports whether no bound could be resolved.
func (iv Interval) Unspecified() bool {
	return iv.Earliest == nil && iv.Latest == nil
}

var (
	reRange  = regexp.MustCompile(`(?i)(\d+)\s*(?:-|–|to)\s*(\d+)\s*(day|week|month|year)s?`)
	rePoint  = regexp.MustCompile(`(?i)(?:in\s+)?(\d+)\s*(day|week|month|year)s?`)
	reWithin = regexp.MustCompile(`(?i)within\s+(\d+)\s*(day|week|month|year)s?`)
)

// ResolveInterval parses a textual timeframe ("in 3 months", "6-12
// months", "within 30 days", "annual") into concrete dates relative to
// the report date. With no report date the interval stays unspecified:
// guessing an anchor would fabricate a due date. Forms handled, tried in
// order: explicit range, "within N", single point, annual.
func ResolveInterval(timeframe string, reportDate *time.Time) Interval {
	tf := strings.TrimSpace(timeframe)
	if tf == "" || reportDate == nil {
		return Interval{}
	}
	base := *reportDate

	if m := reRange.FindStringSubmatch(tf); m != nil {
		lo := addUnits(base, atoi(m[1]), m[3])
		hi := addUnits(base, atoi(m[2]), m[3])
		return Interval{Earliest: &lo, Latest: &hi}
	}
	if m := reWithin.FindStringSubmatch(tf); m != nil {
		hi := addUnits(base, atoi(m[1]), m[2])
		return Interval{Earliest: &base, Latest: &hi}
	}
	if m := rePoint.FindStringSubmatch(tf); m != nil {
		d := addUnits(base, atoi(m[1]), m[2])
		return Interval{Earliest: &d, Latest: &d}
	}
	switch strings.ToLower(tf) {
	case "annual", "annually", "yearly", "one year":
		d := base.AddDate(1, 0, 0)
		return Interval{Earliest: &d, Latest: &d}
	}
	return Interval{}
}

func addUnits(base time.Time, n int, unit string) time.Time {
	switch strings.ToLower(unit) {
	case "day":
		return base.AddDate(0, 0, n)
	case "week":
		return base.AddDate(0, 0, 7*n)
	case "month":
		return base.AddDate(0, n, 0)
	default: // year
		return base.AddDate(n, 0, 0)
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
