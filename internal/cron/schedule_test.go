package cron

import (
	"testing"
	"time"
)

func TestParseIntervalSchedule(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		expr string
		want time.Duration
	}{
		{"every:30s", 30 * time.Second},
		{"every:5m", 5 * time.Minute},
		{"every:2h", 2 * time.Hour},
		{"every:1d", 24 * time.Hour},
	}
	for _, c := range cases {
		next := ParseSchedule(c.expr).Next(now)
		if got := next.Sub(now); got != c.want {
			t.Errorf("ParseSchedule(%q).Next: got +%v, want +%v", c.expr, got, c.want)
		}
	}
}

func TestParseScheduleFallback(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, expr := range []string{
		"",
		"garbage",
		"every:xyz",
		"every:-5m",
		"every:10w",
		"cron:not a real cron",
		"cron:1 2 3",
		"cron:a b c d e",
	} {
		next := ParseSchedule(expr).Next(now)
		if got := next.Sub(now); got != fallbackDelay {
			t.Errorf("ParseSchedule(%q).Next: got +%v, want fallback +%v", expr, got, fallbackDelay)
		}
	}
}

func TestCronExprDaily(t *testing.T) {
	// 08:00 every day; asked at 12:00, next fire is 08:00 tomorrow.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := ParseSchedule("cron:0 8 * * *").Next(now)

	want := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCronExprSameDay(t *testing.T) {
	// Asked at 07:30, today's 08:00 is still ahead.
	now := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)
	next := ParseSchedule("cron:0 8 * * *").Next(now)

	want := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCronExprNeverSameMinute(t *testing.T) {
	// Exactly at a matching minute, the next fire is the following match.
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	next := ParseSchedule("cron:0 8 * * *").Next(now)

	want := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCronExprDayOfWeek(t *testing.T) {
	// 2025-06-01 is a Sunday (0); next Monday (1) at 09:00.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := ParseSchedule("cron:0 9 * * 1").Next(now)

	want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
	if next.Weekday() != time.Monday {
		t.Errorf("expected Monday, got %v", next.Weekday())
	}
}

func TestCronExprSevenMeansSunday(t *testing.T) {
	// dow 7 normalizes to Sunday.
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC) // Monday
	next := ParseSchedule("cron:0 10 * * 7").Next(now)

	if next.Weekday() != time.Sunday {
		t.Errorf("dow 7 should fire on Sunday, got %v", next.Weekday())
	}
}

func TestCronExprUnreachableWithinHorizon(t *testing.T) {
	// February 30th never matches; the scan gives up and falls back a day.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next := ParseSchedule("cron:0 8 30 2 *").Next(now)

	want := now.Add(24 * time.Hour)
	if !next.Equal(want) {
		t.Errorf("unreachable expr should fall back to +24h: got %v, want %v", next, want)
	}
}
