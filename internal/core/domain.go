package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

const (
	Weekly   Frequency = "weekly"
	BiWeekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// Day-of-month bounds for monthly templates. The upper bound avoids
// undefined month-end behavior (29-31 do not exist in every month).
const (
	MinDayOfMonth = 1
	MaxDayOfMonth = 28
)

type (
	Direction string

	Frequency string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Category is an id-owning entity; Name is resolved via lookup and
	// carried on transactions and templates as a cached denormalization.
	Category struct {
		ID   int64
		Name string
	}

	Transaction struct {
		ID          int64
		Description string
		Amount      Money
		Direction   Direction
		Category    Category
		Date        Date
	}

	// RecurringTemplate is an immutable value; updates return new values.
	// DayOfMonth is zero unless Frequency is Monthly.
	RecurringTemplate struct {
		ID          int64
		Description string
		Amount      Money
		Direction   Direction
		Category    Category
		StartDate   Date
		Frequency   Frequency
		DayOfMonth  int
		NextRun     Date
		Active      bool
	}

	MonthlyBudget struct {
		CategoryID int64
		Year       int
		Month      int
		Amount     Money
	}

	// CarryOverPreviewItem is ephemeral output of a carry-over preview.
	// Amount is always positive when the item is present.
	CarryOverPreviewItem struct {
		CategoryID   int64
		CategoryName string
		Amount       Money
	}

	CarryOverRun struct {
		FromYear  int
		FromMonth int
		Total     Money
		AppliedAt time.Time
	}
)

var (
	ErrInvalidDay           = errors.New("invalid day")
	ErrInvalidMonth         = errors.New("invalid month")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrEmptyDescription     = errors.New("empty description")
	ErrEmptyCategory        = errors.New("empty category")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidFrequency     = errors.New("invalid frequency")
	ErrInvalidDayOfMonth    = errors.New("day of month must be between 1 and 28")
	ErrUnexpectedDayOfMonth = errors.New("day of month is only valid for monthly frequency")
)

// NewDate creates a Date at UTC midnight from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), int(u.Month()), u.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// ISO returns the date formatted as YYYY-MM-DD.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD string into a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (dir Direction) Validate() error {
	switch dir {
	case Income, Expense:
		return nil
	}
	return ErrInvalidDirection
}

func (f Frequency) Validate() error {
	switch f {
	case Weekly, BiWeekly, Monthly:
		return nil
	}
	return ErrInvalidFrequency
}

// ValidMonth reports whether (year, month) names a real calendar month.
func ValidMonth(year, month int) bool {
	return year >= 1 && month >= 1 && month <= 12
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.Direction.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category.Name) == "" {
		return ErrEmptyCategory
	}
	return nil
}

func (rt RecurringTemplate) Validate() error {
	if len(strings.TrimSpace(rt.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(rt.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := rt.Amount.Validate(); err != nil {
		return err
	}
	if err := rt.Direction.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(rt.Category.Name) == "" {
		return ErrEmptyCategory
	}
	if err := rt.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if err := rt.Frequency.Validate(); err != nil {
		return err
	}
	if rt.Frequency == Monthly {
		if rt.DayOfMonth < MinDayOfMonth || rt.DayOfMonth > MaxDayOfMonth {
			return ErrInvalidDayOfMonth
		}
	} else if rt.DayOfMonth != 0 {
		return ErrUnexpectedDayOfMonth
	}
	return nil
}

// WithNextRun returns a copy of the template advanced to the given date.
func (rt RecurringTemplate) WithNextRun(d Date) RecurringTemplate {
	rt.NextRun = d
	return rt
}

// Deactivated returns a copy of the template with the active flag cleared.
func (rt RecurringTemplate) Deactivated() RecurringTemplate {
	rt.Active = false
	return rt
}
