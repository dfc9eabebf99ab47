package service

import (
	"time"

	"github.com/shopspring/decimal"
)

// FinePolicy computes due dates and late fines for the loan ledger. The fine
// is linear in whole days late, never negative, and quantized to two decimal
// places at close time so the frozen value matches what was shown.
type FinePolicy struct {
	periodDays int
	ratePerDay decimal.Decimal
}

// NewFinePolicy builds a policy from the configured loan period and daily
// rate. An unparseable or negative rate falls back to zero, which disables
// fines rather than failing startup.
func NewFinePolicy(periodDays int, ratePerDay string) FinePolicy {
	if periodDays <= 0 {
		periodDays = 14
	}
	rate, err := decimal.NewFromString(ratePerDay)
	if err != nil || rate.IsNegative() {
		rate = decimal.Zero
	}
	return FinePolicy{periodDays: periodDays, ratePerDay: rate}
}

// PeriodDays returns the configured loan period.
func (p FinePolicy) PeriodDays() int {
	return p.periodDays
}

// DueDate returns the calendar day a loan issued on the given day falls due.
func (p FinePolicy) DueDate(issuedOn time.Time) time.Time {
	return issuedOn.AddDate(0, 0, p.periodDays)
}

// DaysLate counts whole calendar days between the due date and the return
// day, clamped at zero. Time-of-day is ignored on both sides.
func (p FinePolicy) DaysLate(dueDate, returnedOn time.Time) int {
	due := truncateToDay(dueDate)
	returned := truncateToDay(returnedOn)
	days := int(returned.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Fine returns the amount owed for a loan returned on the given day.
func (p FinePolicy) Fine(dueDate, returnedOn time.Time) decimal.Decimal {
	days := p.DaysLate(dueDate, returnedOn)
	return p.ratePerDay.Mul(decimal.NewFromInt(int64(days))).Round(2)
}

// Accrued returns the fine a still-open loan would carry if returned on the
// given day. Used for dashboards and overdue reminders, never persisted.
func (p FinePolicy) Accrued(dueDate, asOf time.Time) decimal.Decimal {
	return p.Fine(dueDate, asOf)
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
