// Package timerange parses the natural-language and ISO-8601 time range
// grammar accepted by recall_by_time into a concrete [Start, End) window.
package timerange

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/merr"
)

// Range is a half-open interval: inclusive of Start, exclusive of End.
type Range struct {
	Start time.Time
	End   time.Time
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Parse resolves expr against now (the process's local timezone at call
// time) into a concrete Range. Months are handled via calendar arithmetic
// since their length is not fixed.
func Parse(expr string, now time.Time) (Range, error) {
	raw := strings.ToLower(strings.TrimSpace(expr))
	if raw == "" {
		return Range{}, merr.New(merr.KindInvalidTimeExpr, "empty time expression")
	}

	if strings.Contains(raw, "..") {
		return parseAbsoluteRange(raw, now.Location())
	}

	today := startOfDay(now)

	switch raw {
	case "today":
		return Range{Start: today, End: today.AddDate(0, 0, 1)}, nil
	case "yesterday":
		return Range{Start: today.AddDate(0, 0, -1), End: today}, nil
	case "this week":
		start := startOfWeek(today)
		return Range{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case "last week":
		// Rolling 7-day window ending today, not the previous calendar
		// Monday-Sunday block: "last week" must still cover today and
		// yesterday.
		return Range{Start: today.AddDate(0, 0, -7), End: today.AddDate(0, 0, 1)}, nil
	}

	if wd, ok := matchWeekday(raw, today); ok {
		return wd, nil
	}

	if r, ok, err := matchLastN(raw, today); ok || err != nil {
		return r, err
	}

	if r, ok, err := matchNAgo(raw, today); ok || err != nil {
		return r, err
	}

	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, now.Location()); err == nil {
		return Range{Start: t, End: t.Add(time.Second)}, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, now.Location()); err == nil {
		return Range{Start: t, End: t.AddDate(0, 0, 1)}, nil
	}

	return Range{}, merr.New(merr.KindInvalidTimeExpr, fmt.Sprintf("unrecognized time expression %q", expr))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfWeek treats Monday as the first day of the week.
func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func parseAbsoluteRange(raw string, loc *time.Location) (Range, error) {
	parts := strings.SplitN(raw, "..", 2)
	if len(parts) != 2 {
		return Range{}, merr.New(merr.KindInvalidTimeExpr, "malformed absolute range")
	}
	start, err := parseISODate(strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return Range{}, err
	}
	end, err := parseISODate(strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return Range{}, err
	}
	// End bound of a range literal is inclusive of that calendar day, so
	// the half-open window extends one day past the parsed end date.
	return Range{Start: start, End: end.AddDate(0, 0, 1)}, nil
}

func parseISODate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, merr.New(merr.KindInvalidTimeExpr, fmt.Sprintf("invalid ISO-8601 date %q", s))
}

// matchWeekday handles "monday" (most recent occurrence, which is today
// when today is that weekday) and "last tuesday" (the most recent
// occurrence strictly before today).
func matchWeekday(raw string, today time.Time) (Range, bool) {
	fields := strings.Fields(raw)
	var name string
	last := false
	switch len(fields) {
	case 1:
		name = fields[0]
	case 2:
		if fields[0] != "last" {
			return Range{}, false
		}
		name = fields[1]
		last = true
	default:
		return Range{}, false
	}
	wd, ok := weekdays[name]
	if !ok {
		return Range{}, false
	}
	delta := (int(today.Weekday()) - int(wd) + 7) % 7
	if delta == 0 && last {
		delta = 7
	}
	day := today.AddDate(0, 0, -delta)
	return Range{Start: day, End: day.AddDate(0, 0, 1)}, true
}

// matchLastN handles "last N days|weeks|months".
func matchLastN(raw string, today time.Time) (Range, bool, error) {
	fields := strings.Fields(raw)
	if len(fields) != 3 || fields[0] != "last" {
		return Range{}, false, nil
	}
	return spanFromToday(fields[1], fields[2], today)
}

// matchNAgo handles "N days|weeks|months ago", interpreted as a window from
// N units before today through the end of today, matching "last N units"
// semantics.
func matchNAgo(raw string, today time.Time) (Range, bool, error) {
	fields := strings.Fields(raw)
	if len(fields) != 3 || fields[2] != "ago" {
		return Range{}, false, nil
	}
	return spanFromToday(fields[0], fields[1], today)
}

func spanFromToday(countStr, unit string, today time.Time) (Range, bool, error) {
	n, err := strconv.Atoi(countStr)
	if err != nil || n <= 0 {
		return Range{}, true, merr.New(merr.KindInvalidTimeExpr, fmt.Sprintf("invalid count %q", countStr))
	}
	end := today.AddDate(0, 0, 1)
	switch strings.TrimSuffix(unit, "s") {
	case "day":
		return Range{Start: today.AddDate(0, 0, -n), End: end}, true, nil
	case "week":
		return Range{Start: today.AddDate(0, 0, -7*n), End: end}, true, nil
	case "month":
		return Range{Start: today.AddDate(0, -n, 0), End: end}, true, nil
	default:
		return Range{}, true, merr.New(merr.KindInvalidTimeExpr, fmt.Sprintf("unrecognized unit %q", unit))
	}
}
