package core

import (
	"errors"
	"testing"
)

func validTemplate() RecurringTemplate {
	return RecurringTemplate{
		Description: "Rent",
		Amount:      Money{Cents: 95000},
		Direction:   Expense,
		Category:    Category{ID: 1, Name: "Housing"},
		StartDate:   NewDate(2025, 1, 1),
		Frequency:   Monthly,
		DayOfMonth:  1,
		Active:      true,
	}
}

func TestRecurringTemplate_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RecurringTemplate)
		wantErr error
	}{
		{
			name:    "valid monthly template",
			mutate:  func(rt *RecurringTemplate) {},
			wantErr: nil,
		},
		{
			name: "valid weekly template without day of month",
			mutate: func(rt *RecurringTemplate) {
				rt.Frequency = Weekly
				rt.DayOfMonth = 0
			},
			wantErr: nil,
		},
		{
			name:    "empty description",
			mutate:  func(rt *RecurringTemplate) { rt.Description = "  " },
			wantErr: ErrEmptyDescription,
		},
		{
			name:    "zero amount",
			mutate:  func(rt *RecurringTemplate) { rt.Amount = Money{} },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			mutate:  func(rt *RecurringTemplate) { rt.Amount = Money{Cents: -100} },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "bad direction",
			mutate:  func(rt *RecurringTemplate) { rt.Direction = "transfer" },
			wantErr: ErrInvalidDirection,
		},
		{
			name:    "empty category",
			mutate:  func(rt *RecurringTemplate) { rt.Category.Name = "" },
			wantErr: ErrEmptyCategory,
		},
		{
			name:    "bad frequency",
			mutate:  func(rt *RecurringTemplate) { rt.Frequency = "daily"; rt.DayOfMonth = 0 },
			wantErr: ErrInvalidFrequency,
		},
		{
			name:    "monthly with day of month 30",
			mutate:  func(rt *RecurringTemplate) { rt.DayOfMonth = 30 },
			wantErr: ErrInvalidDayOfMonth,
		},
		{
			name:    "monthly with day of month 0",
			mutate:  func(rt *RecurringTemplate) { rt.DayOfMonth = 0 },
			wantErr: ErrInvalidDayOfMonth,
		},
		{
			name: "weekly with stray day of month",
			mutate: func(rt *RecurringTemplate) {
				rt.Frequency = Weekly
				rt.DayOfMonth = 5
			},
			wantErr: ErrUnexpectedDayOfMonth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := validTemplate()
			tt.mutate(&rt)
			err := rt.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransaction_Validate(t *testing.T) {
	valid := Transaction{
		Description: "Groceries",
		Amount:      Money{Cents: 4250},
		Direction:   Expense,
		Category:    Category{ID: 2, Name: "Food"},
		Date:        NewDate(2025, 6, 12),
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on valid transaction = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr error
	}{
		{"empty description", func(tx *Transaction) { tx.Description = "" }, ErrEmptyDescription},
		{"non-positive amount", func(tx *Transaction) { tx.Amount.Cents = 0 }, ErrInvalidAmount},
		{"zero date", func(tx *Transaction) { tx.Date = Date{} }, nil},
		{"bad direction", func(tx *Transaction) { tx.Direction = "" }, ErrInvalidDirection},
		{"empty category", func(tx *Transaction) { tx.Category.Name = " " }, ErrEmptyCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mutate(&tx)
			err := tx.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecurringTemplate_ImmutableUpdates(t *testing.T) {
	rt := validTemplate()
	rt.NextRun = NewDate(2025, 7, 1)

	advanced := rt.WithNextRun(NewDate(2025, 8, 1))
	if !rt.NextRun.Equal(NewDate(2025, 7, 1).Time) {
		t.Error("WithNextRun mutated the receiver")
	}
	if !advanced.NextRun.Equal(NewDate(2025, 8, 1).Time) {
		t.Errorf("WithNextRun() next run = %s", advanced.NextRun.ISO())
	}

	off := rt.Deactivated()
	if !rt.Active {
		t.Error("Deactivated mutated the receiver")
	}
	if off.Active {
		t.Error("Deactivated() left active flag set")
	}
}

func TestValidMonth(t *testing.T) {
	tests := []struct {
		year, month int
		want        bool
	}{
		{2025, 1, true},
		{2025, 12, true},
		{2025, 0, false},
		{2025, 13, false},
		{0, 6, false},
	}

	for _, tt := range tests {
		if got := ValidMonth(tt.year, tt.month); got != tt.want {
			t.Errorf("ValidMonth(%d, %d) = %v, want %v", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-06-12")
	if err != nil {
		t.Fatalf("ParseDate() error = %v", err)
	}
	if d.Year() != 2025 || d.Month() != 6 || d.Day() != 12 {
		t.Errorf("ParseDate() = %s", d.ISO())
	}

	if _, err := ParseDate("12/06/2025"); err == nil {
		t.Error("ParseDate() accepted a non-ISO date")
	}
}
