package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression:
// "minute hour day-of-month month day-of-week". Fields accept "*", single
// values, ranges "a-b", lists "a,b" and steps "*/n" or "a-b/n".
type Schedule struct {
	minute, hour, dom, month, dow cronField
}

type cronField struct {
	any bool
	set map[int]bool
}

func (f cronField) matches(v int) bool { return f.any || f.set[v] }

var fieldBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseSchedule parses expr.
func ParseSchedule(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("cron %q: want 5 fields, got %d", expr, len(parts))
	}
	var fields [5]cronField
	for i, p := range parts {
		b := fieldBounds[i]
		f, err := parseField(p, b.min, b.max)
		if err != nil {
			return Schedule{}, fmt.Errorf("cron %q: %s: %w", expr, b.name, err)
		}
		fields[i] = f
	}
	return Schedule{minute: fields[0], hour: fields[1], dom: fields[2], month: fields[3], dow: fields[4]}, nil
}

func parseField(s string, lo, hi int) (cronField, error) {
	if s == "*" {
		return cronField{any: true}, nil
	}
	f := cronField{set: map[int]bool{}}
	for _, item := range strings.Split(s, ",") {
		rng, step := item, 1
		if i := strings.IndexByte(item, '/'); i >= 0 {
			n, err := strconv.Atoi(item[i+1:])
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("bad step in %q", item)
			}
			rng, step = item[:i], n
		}

		from, to := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("bad range %q", item)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("bad range %q", item)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("bad value %q", item)
			}
			from, to = v, v
			if step > 1 {
				to = hi
			}
		}
		if from < lo || to > hi || from > to {
			return cronField{}, fmt.Errorf("%q outside %d-%d", item, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.set[v] = true
		}
	}
	return f, nil
}

// Matches reports whether t (to the minute) is a trigger time. As in cron,
// when both day fields are restricted either one matching is enough.
func (s Schedule) Matches(t time.Time) bool {
	if !s.minute.matches(t.Minute()) || !s.hour.matches(t.Hour()) || !s.month.matches(int(t.Month())) {
		return false
	}
	dom, dow := s.dom.matches(t.Day()), s.dow.matches(int(t.Weekday()))
	if !s.dom.any && !s.dow.any {
		return dom || dow
	}
	return dom && dow
}

// Next returns the first trigger strictly after after, searching up to a
// year ahead minute by minute.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(1, 0, 1)
	for t.Before(limit) {
		if s.Matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("cron: no trigger within a year of %s", after.Format(time.RFC3339))
}
