package timerange

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string, now time.Time) Range {
	t.Helper()
	r, err := Parse(expr, now)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	return r
}

func TestTodayYesterday(t *testing.T) {
	now := time.Date(2026, 8, 1, 15, 30, 0, 0, time.UTC)
	today := mustParse(t, "today", now)
	if !today.Start.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("today.Start = %v", today.Start)
	}
	if !today.End.Equal(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("today.End = %v", today.End)
	}

	yesterday := mustParse(t, "yesterday", now)
	if !yesterday.Start.Equal(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("yesterday.Start = %v", yesterday.Start)
	}
	if !yesterday.End.Equal(today.Start) {
		t.Fatal("yesterday.End should equal today.Start")
	}
}

func TestLastNDays(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	r := mustParse(t, "last 7 days", now)
	wantStart := time.Date(2026, 7, 25, 0, 0, 0, 0, time.UTC)
	if !r.Start.Equal(wantStart) {
		t.Fatalf("Start = %v, want %v", r.Start, wantStart)
	}
}

func TestNDaysAgoEquivalentToLastN(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	a := mustParse(t, "last 10 days", now)
	b := mustParse(t, "10 days ago", now)
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		t.Fatalf("expected equivalent ranges, got %v vs %v", a, b)
	}
}

func TestAbsoluteRangeInclusiveEnd(t *testing.T) {
	r := mustParse(t, "2025-01-01..2025-01-31", time.Now())
	if r.Start.Format("2006-01-02") != "2025-01-01" {
		t.Fatalf("Start = %v", r.Start)
	}
	if r.End.Format("2006-01-02") != "2025-02-01" {
		t.Fatalf("End = %v, want day after range end (exclusive bound)", r.End)
	}
}

func TestInvalidExpressionErrors(t *testing.T) {
	if _, err := Parse("not a time", time.Now()); err == nil {
		t.Fatal("expected error for unrecognized expression")
	}
	if _, err := Parse("", time.Now()); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestThisWeekLastWeekMondayStart(t *testing.T) {
	// 2026-08-01 is a Saturday.
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	this := mustParse(t, "this week", now)
	if this.Start.Weekday() != time.Monday {
		t.Fatalf("this week Start weekday = %v, want Monday", this.Start.Weekday())
	}
	// "last week" is a rolling 7-day window that still covers today.
	last := mustParse(t, "last week", now)
	if !last.End.Equal(time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("last week should end at the end of today")
	}
}
