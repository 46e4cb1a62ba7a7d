package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type PeriodKind string

const (
	PeriodToday  PeriodKind = "today"
	PeriodWeek   PeriodKind = "week"
	PeriodMonth  PeriodKind = "month"
	PeriodYear   PeriodKind = "year"
	PeriodAll    PeriodKind = "all"
	PeriodCustom PeriodKind = "custom"
)

var ErrInvalidPeriod = errors.New("invalid period")

// Period is a reporting window selector. Start and End are only set for PeriodCustom.
type Period struct {
	Kind  PeriodKind
	Start time.Time
	End   time.Time
}

func Today() Period { return Period{Kind: PeriodToday} }
func Week() Period  { return Period{Kind: PeriodWeek} }
func Month() Period { return Period{Kind: PeriodMonth} }
func Year() Period  { return Period{Kind: PeriodYear} }
func AllTime() Period {
	return Period{Kind: PeriodAll}
}

func Custom(start time.Time, end time.Time) (Period, error) {
	if start.IsZero() || end.IsZero() {
		return Period{}, fmt.Errorf("%w: custom period needs start and end", ErrInvalidPeriod)
	}
	if start.After(end) {
		return Period{}, fmt.Errorf("%w: start is after end", ErrInvalidPeriod)
	}
	return Period{Kind: PeriodCustom, Start: start, End: end}, nil
}

// ParsePeriod builds a Period from its wire form. startRaw and endRaw are only read
// for "custom"; they are RFC3339 timestamps or YYYY-MM-DD dates taken in loc, and a
// bare end date covers that whole day.
func ParsePeriod(kind string, startRaw string, endRaw string, loc *time.Location) (Period, error) {
	switch PeriodKind(strings.ToLower(strings.TrimSpace(kind))) {
	case "", PeriodToday:
		return Today(), nil
	case PeriodWeek:
		return Week(), nil
	case PeriodMonth:
		return Month(), nil
	case PeriodYear:
		return Year(), nil
	case PeriodAll:
		return AllTime(), nil
	case PeriodCustom:
		start, _, err := parseTimestamp(startRaw, loc)
		if err != nil {
			return Period{}, fmt.Errorf("%w: startDate: %v", ErrInvalidPeriod, err)
		}
		end, dateOnly, err := parseTimestamp(endRaw, loc)
		if err != nil {
			return Period{}, fmt.Errorf("%w: endDate: %v", ErrInvalidPeriod, err)
		}
		if dateOnly {
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return Custom(start, end)
	default:
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, kind)
	}
}

// Resolve returns the inclusive [start, end] window for the period as of now.
// Calendar boundaries are taken in now's location.
func (p Period) Resolve(now time.Time) (time.Time, time.Time) {
	loc := now.Location()
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)

	switch p.Kind {
	case PeriodToday, "":
		return midnight, now
	case PeriodWeek:
		// ISO weeks start on Monday.
		offset := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset), now
	case PeriodMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), now
	case PeriodYear:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), now
	case PeriodCustom:
		return p.Start, p.End
	default:
		return time.Time{}, now
	}
}

func (p Period) String() string {
	if p.Kind == "" {
		return string(PeriodToday)
	}
	return string(p.Kind)
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, errors.New("missing timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, false, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
