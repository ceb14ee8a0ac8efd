// Package recurrence expands schedule rules into calendar dates.
//
// Every function here is pure: the same rule and window always produce the
// same sorted, duplicate-free dates. Both the calendar view and the
// materialization path go through Expand so they can never disagree.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"ferdy/internal/model"
)

const (
	defaultMaxOccurrences = 5000
)

var (
	ErrInvalidRule = errors.New("recurrence: invalid rule")
)

// isoWeekdays maps ISO weekday numbers (Monday=1) to rrule weekdays.
var isoWeekdays = [...]rrule.Weekday{
	1: rrule.MO,
	2: rrule.TU,
	3: rrule.WE,
	4: rrule.TH,
	5: rrule.FR,
	6: rrule.SA,
	7: rrule.SU,
}

// Day truncates t to its civil date, returned as midnight UTC.
// The year/month/day are read in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Expand returns the dates in [from, to] (both inclusive, civil days) on
// which rule fires. Results are midnight UTC values, sorted and unique.
//
// Inactive rules yield nothing. A rule that fails Validate yields nothing and
// the validation error.
func Expand(rule model.ScheduleRule, from, to time.Time) ([]time.Time, error) {
	if !rule.IsActive {
		return nil, nil
	}
	start, end := Day(from), Day(to)
	if end.Before(start) {
		return nil, errors.New("recurrence: window end is before window start")
	}
	if err := Validate(rule); err != nil {
		return nil, err
	}

	var dates []time.Time
	switch rule.Frequency {
	case model.FrequencySpecific:
		dates = expandSpecific(rule, start, end)
	default:
		opt, err := rruleOption(rule, start, end)
		if err != nil {
			return nil, err
		}
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		dates = r.Between(start, end, true)
	}

	dates = sortUnique(dates)
	if len(dates) > defaultMaxOccurrences {
		dates = dates[:defaultMaxOccurrences]
	}
	return dates, nil
}

// Validate reports whether rule is well formed for its frequency.
func Validate(rule model.ScheduleRule) error {
	switch rule.Frequency {
	case model.FrequencyDaily:
		return nil
	case model.FrequencyWeekly:
		if len(rule.DaysOfWeek) == 0 {
			return fmt.Errorf("%w: weekly rule %s has no days of week", ErrInvalidRule, rule.ID)
		}
		for _, d := range rule.DaysOfWeek {
			if d < 1 || d > 7 {
				return fmt.Errorf("%w: rule %s day of week %d outside 1..7", ErrInvalidRule, rule.ID, d)
			}
		}
		return nil
	case model.FrequencyMonthly:
		if rule.UsesNthWeekday() {
			if rule.NthWeek > 5 {
				return fmt.Errorf("%w: rule %s nth week %d outside 1..5", ErrInvalidRule, rule.ID, rule.NthWeek)
			}
			if rule.Weekday > 7 {
				return fmt.Errorf("%w: rule %s weekday %d outside 1..7", ErrInvalidRule, rule.ID, rule.Weekday)
			}
			return nil
		}
		if len(rule.DayOfMonth) == 0 {
			return fmt.Errorf("%w: monthly rule %s has neither day of month nor nth weekday", ErrInvalidRule, rule.ID)
		}
		for _, d := range rule.DayOfMonth {
			if d < 1 || d > 31 {
				return fmt.Errorf("%w: rule %s day of month %d outside 1..31", ErrInvalidRule, rule.ID, d)
			}
		}
		return nil
	case model.FrequencySpecific:
		if rule.StartDate == nil {
			return fmt.Errorf("%w: specific rule %s has no start date", ErrInvalidRule, rule.ID)
		}
		if rule.EndDate != nil && Day(*rule.EndDate).Before(Day(*rule.StartDate)) {
			return fmt.Errorf("%w: rule %s end date is before start date", ErrInvalidRule, rule.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: rule %s has unknown frequency %q", ErrInvalidRule, rule.ID, rule.Frequency)
	}
}

// rruleOption builds the RFC 5545 equivalent of a daily/weekly/monthly rule.
func rruleOption(rule model.ScheduleRule, start, end time.Time) (rrule.ROption, error) {
	opt := rrule.ROption{
		Dtstart: start,
		Until:   end,
		Wkst:    rrule.MO,
	}
	switch rule.Frequency {
	case model.FrequencyDaily:
		opt.Freq = rrule.DAILY
	case model.FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range rule.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, isoWeekdays[d])
		}
	case model.FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		if rule.UsesNthWeekday() {
			// A month without an Nth such weekday simply has no match.
			opt.Byweekday = []rrule.Weekday{isoWeekdays[rule.Weekday].Nth(rule.NthWeek)}
		} else {
			// Days past the end of a month never match; they are not clamped.
			opt.Bymonthday = append([]int(nil), rule.DayOfMonth...)
		}
	default:
		return opt, fmt.Errorf("%w: frequency %q is not rrule based", ErrInvalidRule, rule.Frequency)
	}
	return opt, nil
}

// expandSpecific handles the specific date / date range variant.
//
// DaysBefore takes priority over DaysDuring; the two lists are never merged.
func expandSpecific(rule model.ScheduleRule, start, end time.Time) []time.Time {
	s := Day(*rule.StartDate)
	e := s
	if rule.EndDate != nil {
		e = Day(*rule.EndDate)
	}

	inWindow := func(d time.Time) bool {
		return !d.Before(start) && !d.After(end)
	}

	var out []time.Time
	switch {
	case len(rule.DaysBefore) > 0:
		for _, o := range rule.DaysBefore {
			d := s.AddDate(0, 0, -o)
			if inWindow(d) {
				out = append(out, d)
			}
		}
	case len(rule.DaysDuring) > 0:
		for m := monthStart(s); !m.After(e); m = m.AddDate(0, 1, 0) {
			last := daysIn(m.Year(), m.Month())
			for _, v := range rule.DaysDuring {
				if v < 1 || v > last {
					continue
				}
				d := time.Date(m.Year(), m.Month(), v, 0, 0, 0, 0, time.UTC)
				if d.Before(s) || d.After(e) {
					continue
				}
				if inWindow(d) {
					out = append(out, d)
				}
			}
		}
	default:
		from, to := s, e
		if from.Before(start) {
			from = start
		}
		if to.After(end) {
			to = end
		}
		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			out = append(out, d)
		}
	}
	return out
}

func monthStart(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func sortUnique(dates []time.Time) []time.Time {
	if len(dates) == 0 {
		return nil
	}
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		out = append(out, Day(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	n := 1
	for i := 1; i < len(out); i++ {
		if !out[i].Equal(out[n-1]) {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
