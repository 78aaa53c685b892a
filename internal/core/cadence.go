// Package core: cadence math for recurring templates.
//
// These functions are pure; the evaluation date is always passed in so the
// scheduler never reads the wall clock during computation.
package core

// Advance returns the next occurrence after d under the given cadence.
//
// Weekly adds 7 days, biweekly 14. Monthly moves to the first day of the
// calendar month after d, then sets the day to dayOfMonth (1-28, so the
// result always exists).
func Advance(d Date, freq Frequency, dayOfMonth int) (Date, error) {
	switch freq {
	case Weekly:
		return Date{Time: d.AddDate(0, 0, 7)}, nil
	case BiWeekly:
		return Date{Time: d.AddDate(0, 0, 14)}, nil
	case Monthly:
		first := NewDate(d.Year(), d.Month(), 1).AddDate(0, 1, 0)
		return NewDate(first.Year(), int(first.Month()), dayOfMonth), nil
	}
	return Date{}, ErrInvalidFrequency
}

// InitialNextRun computes a template's first next-run date: startDate itself
// when it is not in the past, otherwise the first cadence occurrence on or
// after today.
//
// Weekly and biweekly skips are computed arithmetically so a start date years
// in the past costs the same as one last week; monthly advances once per
// elapsed month.
func InitialNextRun(start Date, freq Frequency, dayOfMonth int, today Date) (Date, error) {
	if !start.Before(today.Time) {
		if err := freq.Validate(); err != nil {
			return Date{}, err
		}
		return start, nil
	}

	switch freq {
	case Weekly, BiWeekly:
		step := 7
		if freq == BiWeekly {
			step = 14
		}
		days := int(today.Sub(start.Time).Hours() / 24)
		next := Date{Time: start.AddDate(0, 0, (days / step) * step)}
		if next.Before(today.Time) {
			next = Date{Time: next.AddDate(0, 0, step)}
		}
		return next, nil
	case Monthly:
		next := start
		for next.Before(today.Time) {
			var err error
			next, err = Advance(next, Monthly, dayOfMonth)
			if err != nil {
				return Date{}, err
			}
		}
		return next, nil
	}
	return Date{}, ErrInvalidFrequency
}

// FirstOfNextMonth returns the first day of the month following (year, month).
func FirstOfNextMonth(year, month int) Date {
	first := NewDate(year, month, 1).AddDate(0, 1, 0)
	return NewDate(first.Year(), int(first.Month()), first.Day())
}
