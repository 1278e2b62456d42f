package cron

import (
	"strconv"
	"strings"
	"time"
)

// Schedule computes the next execution time for a job. Parsing never fails:
// schedules that cannot be understood degrade to a fixed safety interval so a
// stored job can never wedge the scheduler.
type Schedule interface {
	Next(now time.Time) time.Time
}

const (
	// fallbackDelay is applied to unparseable schedules.
	fallbackDelay = time.Hour
	// cronScanHorizon bounds the minute-by-minute scan for cron expressions.
	cronScanHorizon = 7 * 24 * time.Hour
)

// ParseSchedule understands two forms:
//
//	every:<N><unit>          fixed interval, unit one of s, m, h, d
//	cron:<min> <hour> <dom> <month> <dow>   five fields, integer or *
//
// Anything else yields a schedule that fires one hour out.
func ParseSchedule(expr string) Schedule {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "every:"):
		if iv, ok := parseInterval(strings.TrimPrefix(expr, "every:")); ok {
			return intervalSchedule{interval: iv}
		}
	case strings.HasPrefix(expr, "cron:"):
		if ce, ok := parseCronExpr(strings.TrimPrefix(expr, "cron:")); ok {
			return ce
		}
	}
	return intervalSchedule{interval: fallbackDelay}
}

type intervalSchedule struct {
	interval time.Duration
}

func (s intervalSchedule) Next(now time.Time) time.Time {
	return now.Add(s.interval)
}

func parseInterval(spec string) (time.Duration, bool) {
	if len(spec) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	var unit time.Duration
	switch spec[len(spec)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// cronField matches either any value or exactly one integer.
type cronField struct {
	any   bool
	value int
}

func (f cronField) matches(v int) bool {
	return f.any || f.value == v
}

type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCronExpr(spec string) (cronSchedule, bool) {
	fields := strings.Fields(spec)
	if len(fields) != 5 {
		return cronSchedule{}, false
	}
	parsed := make([]cronField, 5)
	for i, raw := range fields {
		if raw == "*" {
			parsed[i] = cronField{any: true}
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return cronSchedule{}, false
		}
		if i == 4 {
			// Both 0 and 7 mean Sunday.
			v %= 7
		}
		parsed[i] = cronField{value: v}
	}
	return cronSchedule{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, true
}

// Next scans forward minute by minute from the next whole minute. The scan is
// bounded; an expression that never matches inside the horizon (for example an
// impossible date) falls back to a day out.
func (s cronSchedule) Next(now time.Time) time.Time {
	t := now.Truncate(time.Minute).Add(time.Minute)
	limit := now.Add(cronScanHorizon)
	for !t.After(limit) {
		if s.matchesAt(t) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return now.Add(24 * time.Hour)
}

func (s cronSchedule) matchesAt(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dom.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dow.matches(int(t.Weekday()))
}
